// 文件: pkg/kafka/consumer.go
// Kafka 消费者组
//
// 处理失败只记日志并继续，offset 照常提交 (事件只用于审计/镜像)

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // sarama.OffsetNewest / sarama.OffsetOldest
}

// DefaultConsumerConfig 默认配置
func DefaultConsumerConfig(brokers []string, groupID string, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
	}
}

// Handler 消息处理函数
type Handler func(ctx context.Context, topic string, key, value []byte) error

// Consumer 消费者
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler Handler
	log     *logrus.Entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler Handler, log *logrus.Entry) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		handler: handler,
		log:     log.WithField("component", "kafka-consumer"),
	}, nil
}

// Start 后台消费，ctx 取消或 Stop 时退出
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h := &groupHandler{handler: c.handler, log: c.log}
		for {
			if err := c.group.Consume(ctx, c.topics, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.WithError(err).Error("[Kafka] consume error")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.group.Close()
}

type groupHandler struct {
	handler Handler
	log     *logrus.Entry
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler(session.Context(), msg.Topic, msg.Key, msg.Value); err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"topic":  msg.Topic,
				"offset": msg.Offset,
			}).Warn("[Kafka] handle error")
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
