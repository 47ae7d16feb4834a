// 文件: pkg/event/brokers.go
// 事件发往 Kafka / NATS

package event

import (
	"context"
	"fmt"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/kafka"
)

// =============================================================================
// Kafka
// =============================================================================

// KafkaSender kafka.Producer 的发送能力
type KafkaSender interface {
	Send(ctx context.Context, msg kafka.Message) error
}

// kafkaMessage 给 Event 绑定 topic
type kafkaMessage struct {
	topic string
	*Event
}

func (m kafkaMessage) Topic() string { return m.topic }

// KafkaPublisher 发往 Kafka, key 为实例 ID
type KafkaPublisher struct {
	sender KafkaSender
	topic  string
}

// NewKafkaPublisher 创建
func NewKafkaPublisher(sender KafkaSender, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{sender: sender, topic: topic}
}

// Publish 实现 Publisher
func (p *KafkaPublisher) Publish(ctx context.Context, e *Event) error {
	if err := p.sender.Send(ctx, kafkaMessage{topic: p.topic, Event: e}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", e.Type, err)
	}
	return nil
}

// =============================================================================
// NATS
// =============================================================================

// RawPublisher nats.Publisher 的发布能力
type RawPublisher interface {
	PublishRaw(subject string, data []byte) error
}

// NatsPublisher 发往 NATS
//
// subject 为 "<prefix>.<事件类型>", 订阅方可用 "<prefix>.>" 收全部
type NatsPublisher struct {
	pub    RawPublisher
	prefix string
}

// NewNatsPublisher 创建
func NewNatsPublisher(pub RawPublisher, prefix string) *NatsPublisher {
	if prefix == "" {
		prefix = DefaultTopic
	}
	return &NatsPublisher{pub: pub, prefix: prefix}
}

// Subject 事件对应的 subject
func (p *NatsPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish 实现 Publisher
func (p *NatsPublisher) Publish(ctx context.Context, e *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := e.Value()
	if err != nil {
		return err
	}
	if err := p.pub.PublishRaw(p.Subject(e.Type), data); err != nil {
		return fmt.Errorf("nats publish %s: %w", e.Type, err)
	}
	return nil
}
