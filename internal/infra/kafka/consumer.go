package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

// MessageHandler processes one consumed message. A returned error is logged and the
// message is still marked; retries and rejecting the affected saga belong to the handler.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error
}

// ConsumerGroup feeds messages of a fixed topic set to a handler.
type ConsumerGroup struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *zap.Logger
}

// NewConsumerGroup joins the configured consumer group. topics are given without prefix.
func NewConsumerGroup(cfg config.KafkaSettings, topics []string, handler MessageHandler, logger *zap.Logger) (*ConsumerGroup, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumerGroup(group, cfg.TopicPrefix, topics, handler, logger), nil
}

func newConsumerGroup(group sarama.ConsumerGroup, prefix string, topics []string, handler MessageHandler, logger *zap.Logger) *ConsumerGroup {
	if logger == nil {
		logger = zap.NewNop()
	}
	full := make([]string, 0, len(topics))
	for _, topic := range topics {
		full = append(full, TopicName(prefix, topic))
	}
	return &ConsumerGroup{group: group, topics: full, handler: handler, logger: logger}
}

// Topics returns the prefixed topic names the group subscribes to.
func (c *ConsumerGroup) Topics() []string {
	return append([]string(nil), c.topics...)
}

// Run consumes until ctx is done or the group is closed.
func (c *ConsumerGroup) Run(ctx context.Context) error {
	go c.logErrors(ctx)

	c.logger.Info("Kafka consumer group started", zap.Strings("topics", c.topics))
	for {
		if err := c.group.Consume(ctx, c.topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("consume: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *ConsumerGroup) logErrors(ctx context.Context) {
	for {
		select {
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			c.logger.Error("Kafka consumer error", zap.Error(err))
		case <-ctx.Done():
			return
		}
	}
}

// Close leaves the group.
func (c *ConsumerGroup) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	return nil
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim implements sarama.ConsumerGroupHandler.
func (c *ConsumerGroup) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handler.HandleMessage(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("Kafka message dropped",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}

var _ sarama.ConsumerGroupHandler = (*ConsumerGroup)(nil)
