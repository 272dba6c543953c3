package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

// BatchPublisher implements port.EventBatchExecutor by writing every resolved event to the
// streams topic, keyed by stream, in one synchronous send.
type BatchPublisher struct {
	producer *Producer
	logger   *zap.Logger
	builder  envelopeBuilder
}

// NewBatchPublisher constructs a Kafka-backed batch executor.
func NewBatchPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *BatchPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchPublisher{
		producer: producer,
		logger:   logger,
		builder:  envelopeBuilder{appCfg: appCfg, now: func() time.Time { return time.Now().UTC() }},
	}
}

// ExecuteBatch implements port.EventBatchExecutor.
func (p *BatchPublisher) ExecuteBatch(ctx context.Context, batchID string, events []domain.ResolvedEvent) error {
	topic := p.producer.TopicName(TopicStreamEvents)
	msgs := make([]*sarama.ProducerMessage, 0, len(events))
	for _, ev := range events {
		encoded, err := domain.EncodeEvent(ev.Event)
		if err != nil {
			return fmt.Errorf("encode batch %s: %w", batchID, err)
		}
		meta := ev.Event.Metadata()
		envelope, err := p.builder.build(ctx, meta.EventID, ev.Event.EventType(), ev.Stream(), meta.Timestamp, encoded)
		if err != nil {
			return err
		}
		envelope.Metadata[HeaderBatchID] = batchID

		msg, err := envelope.message(topic)
		if err != nil {
			return err
		}
		msg.Headers = []sarama.RecordHeader{
			{Key: []byte(HeaderBatchID), Value: []byte(batchID)},
			{Key: []byte(HeaderStream), Value: []byte(ev.Stream())},
			{Key: []byte(HeaderEventType), Value: []byte(ev.Event.EventType())},
		}
		msgs = append(msgs, msg)
	}

	if err := p.producer.SendBatch(ctx, msgs); err != nil {
		return fmt.Errorf("execute batch %s: %w", batchID, err)
	}
	p.logger.Debug("event batch written", zap.String("batch_id", batchID), zap.Int("events", len(msgs)))
	return nil
}

var _ port.EventBatchExecutor = (*BatchPublisher)(nil)
