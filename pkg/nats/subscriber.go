// 文件: pkg/nats/subscriber.go
// NATS 订阅者

package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// MessageHandler 消息处理函数
type MessageHandler func(subject string, data []byte) error

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	own     bool
	subs    []*nats.Subscription
	handler MessageHandler
	log     *logrus.Entry
}

// NewSubscriber 连接并创建订阅者
func NewSubscriber(url string, handler MessageHandler, log *logrus.Entry) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	s := NewSubscriberWithConn(conn, handler, log)
	s.own = true
	return s, nil
}

// NewSubscriberWithConn 复用已有连接
func NewSubscriberWithConn(conn *nats.Conn, handler MessageHandler, log *logrus.Entry) *Subscriber {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Subscriber{
		conn:    conn,
		handler: handler,
		log:     log.WithField("component", "nats"),
	}
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.dispatch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (同组只有一个实例收到)
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) dispatch(msg *nats.Msg) {
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.log.WithError(err).WithField("subject", msg.Subject).Warn("[NATS] handle error")
	}
}

// Close 取消订阅，自己创建的连接一并关闭
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	if s.own {
		s.conn.Close()
	}
	return nil
}

// UnmarshalJSON 反序列化
func UnmarshalJSON[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
