package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

// Producer wraps Sarama producers with error handling and lifecycle management.
// Batches always go through the sync producer; single messages use the async one when enabled.
type Producer struct {
	producer sarama.AsyncProducer
	sync     sarama.SyncProducer
	logger   *zap.Logger
	cfg      config.KafkaSettings
	errChan  chan error
	done     chan struct{}
}

func newSaramaConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_5_0_0

	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Retry.Max = 3
	saramaConfig.Producer.Return.Errors = true

	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	return saramaConfig
}

// NewProducer initializes the Kafka producers.
func NewProducer(cfg config.KafkaSettings, logger *zap.Logger) (*Producer, error) {
	syncConfig := newSaramaConfig()
	syncConfig.Producer.RequiredAcks = sarama.WaitForAll
	syncConfig.Producer.Return.Successes = true

	syncProducer, err := sarama.NewSyncProducer(cfg.Brokers, syncConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka sync producer: %w", err)
	}

	p := &Producer{
		sync:    syncProducer,
		logger:  logger,
		cfg:     cfg,
		errChan: make(chan error, 256),
		done:    make(chan struct{}),
	}

	if cfg.Async {
		asyncConfig := newSaramaConfig()
		asyncConfig.Producer.Return.Successes = false
		asyncProducer, err := sarama.NewAsyncProducer(cfg.Brokers, asyncConfig)
		if err != nil {
			_ = syncProducer.Close()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		p.producer = asyncProducer
		go p.handleErrors()
	}

	logger.Info("Kafka producer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic_prefix", cfg.TopicPrefix),
		zap.Bool("async", cfg.Async),
	)

	return p, nil
}

// handleErrors monitors the async Errors channel
func (p *Producer) handleErrors() {
	for {
		select {
		case err := <-p.producer.Errors():
			if err != nil {
				p.logger.Error("Kafka producer error",
					zap.Error(err.Err),
					zap.String("topic", err.Msg.Topic),
					zap.Int32("partition", err.Msg.Partition),
					zap.Int64("offset", err.Msg.Offset),
				)
				select {
				case p.errChan <- err.Err:
				default:
					p.logger.Warn("Error channel full, dropping error")
				}
			}
		case <-p.done:
			return
		}
	}
}

// Send writes one message. Without an async producer the call blocks until the broker acks.
func (p *Producer) Send(ctx context.Context, msg *sarama.ProducerMessage) error {
	if p.producer == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, _, err := p.sync.SendMessage(msg); err != nil {
			return fmt.Errorf("send to %s: %w", msg.Topic, err)
		}
		return nil
	}

	select {
	case p.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendBatch writes all messages and waits for the acks.
func (p *Producer) SendBatch(ctx context.Context, msgs []*sarama.ProducerMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := p.sync.SendMessages(msgs); err != nil {
		return fmt.Errorf("send batch of %d messages: %w", len(msgs), err)
	}
	return nil
}

// Errors returns the error channel for external monitoring
func (p *Producer) Errors() <-chan error {
	return p.errChan
}

// Close gracefully closes the producers and waits for pending messages
func (p *Producer) Close() error {
	p.logger.Info("Closing Kafka producer")
	close(p.done)

	var firstErr error
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			firstErr = fmt.Errorf("close kafka producer: %w", err)
		}
	}
	if p.sync != nil {
		if err := p.sync.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close kafka sync producer: %w", err)
		}
	}

	close(p.errChan)
	return firstErr
}

// TopicName returns the full topic name with prefix
func (p *Producer) TopicName(name string) string {
	return TopicName(p.cfg.TopicPrefix, name)
}

// TopicName prefixes name unless it already carries the prefix.
func TopicName(prefix, name string) string {
	if prefix == "" {
		return name
	}

	dotted := fmt.Sprintf("%s.", prefix)
	if strings.HasPrefix(name, dotted) {
		return name
	}

	return fmt.Sprintf("%s%s", dotted, name)
}
