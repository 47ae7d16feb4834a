// 文件: pkg/kafka/producer.go
// Kafka 生产者 (异步)
//
// 事件发布走这里，发送失败只计数+记日志，不阻塞业务

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("kafka producer is closed")

// Message 消息接口
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key (相同 key 保证顺序)
	Value() ([]byte, error) // 消息体
}

// rawMessage topic/key/value 直接构造的消息
type rawMessage struct {
	topic, key string
	value      []byte
}

func (m rawMessage) Topic() string          { return m.topic }
func (m rawMessage) Key() string            { return m.key }
func (m rawMessage) Value() ([]byte, error) { return m.value, nil }

// NewMessage 构造原始消息
func NewMessage(topic, key string, value []byte) Message {
	return rawMessage{topic: topic, key: key, value: value}
}

// =============================================================================
// 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string
	RequiredAcks   int    // 0=不等待, 1=leader, -1=全部副本
	Compression    string // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

// DefaultProducerConfig 默认配置
//
// 期权事件量小、要求不丢: 等全部副本确认
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		RequiredAcks:   -1,
		Compression:    "snappy",
		FlushFrequency: 50 * time.Millisecond,
		FlushMessages:  20,
		MaxRetries:     5,
	}
}

// SaramaConfig 转成 sarama 配置
func (c ProducerConfig) SaramaConfig() *sarama.Config {
	sc := sarama.NewConfig()

	switch c.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch c.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = c.FlushFrequency
	sc.Producer.Flush.Messages = c.FlushMessages
	sc.Producer.Retry.Max = c.MaxRetries
	// 同一实例的事件要有序
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer
// =============================================================================

// Producer 异步生产者
type Producer struct {
	producer sarama.AsyncProducer
	log      *logrus.Entry

	sentCount  atomic.Int64
	errorCount atomic.Int64

	mu     sync.RWMutex // 保护 Input() 与 Close 的并发
	closed bool
	wg     sync.WaitGroup
}

// NewProducer 连接 broker 并创建生产者
func NewProducer(cfg ProducerConfig, log *logrus.Entry) (*Producer, error) {
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.SaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return WrapProducer(ap, log), nil
}

// WrapProducer 包装已有的 sarama.AsyncProducer (测试用 mocks)
func WrapProducer(ap sarama.AsyncProducer, log *logrus.Entry) *Producer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Producer{
		producer: ap,
		log:      log.WithField("component", "kafka"),
	}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

// Send 异步发送
func (p *Producer) Send(ctx context.Context, msg Message) error {
	data, err := msg.Value()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}

	m := &sarama.ProducerMessage{
		Topic: msg.Topic(),
		Key:   sarama.StringEncoder(msg.Key()),
		Value: sarama.ByteEncoder(data),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.producer.Input() <- m:
		p.sentCount.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		p.log.WithError(err.Err).WithField("topic", err.Msg.Topic).Error("[Kafka] send failed")
	}
}

// ProducerStats 统计
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 统计
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭并等待错误通道排空
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.producer.Close()
	p.wg.Wait()
	return err
}
