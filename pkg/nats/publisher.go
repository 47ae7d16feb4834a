// 文件: pkg/nats/publisher.go
// NATS 发布者
// 本地开发用，替代 Kafka

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn
	own  bool // 连接由本对象创建，Close 时关闭
}

// NewPublisher 连接并创建发布者
func NewPublisher(url string, opts ...nats.Option) (*Publisher, error) {
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Publisher{conn: conn, own: true}, nil
}

// NewPublisherWithConn 复用已有连接
func NewPublisherWithConn(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn}
}

// Publish JSON 编码后发布
func (p *Publisher) Publish(subject string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, b)
}

// PublishRaw 发布原始字节
func (p *Publisher) PublishRaw(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Flush 等待服务端确认已收到之前的消息
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close 关闭
func (p *Publisher) Close() {
	if p.own {
		p.conn.Close()
	}
}
