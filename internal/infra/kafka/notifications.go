package kafka

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
)

// Notification event types.
const (
	EventSubmitCommandSuccess = "profiles.command.succeeded"
	EventSubmitCommandFailure = "profiles.command.failed"
	EventValidationTriggered  = "profiles.validation.triggered"
)

// NotificationPublisher implements port.NotificationPublisher using Kafka.
type NotificationPublisher struct {
	producer *Producer
	logger   *zap.Logger
	builder  envelopeBuilder
}

// NewNotificationPublisher constructs a Kafka-backed notification publisher.
func NewNotificationPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *NotificationPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationPublisher{
		producer: producer,
		logger:   logger,
		builder:  envelopeBuilder{appCfg: appCfg, now: func() time.Time { return time.Now().UTC() }},
	}
}

func (p *NotificationPublisher) publish(ctx context.Context, topic, eventType, key string, payload any) error {
	envelope, err := p.builder.build(ctx, "", eventType, key, time.Time{}, payload)
	if err != nil {
		return err
	}
	msg, err := envelope.message(p.producer.TopicName(topic))
	if err != nil {
		return err
	}
	if err := p.producer.Send(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// PublishSubmitCommandSuccess publishes profiles.command.succeeded events.
func (p *NotificationPublisher) PublishSubmitCommandSuccess(ctx context.Context, msg domain.SubmitCommandSuccess) error {
	return p.publish(ctx, TopicCommandSuccess, EventSubmitCommandSuccess, msg.CommandID, msg)
}

// PublishSubmitCommandFailure publishes profiles.command.failed events.
func (p *NotificationPublisher) PublishSubmitCommandFailure(ctx context.Context, msg domain.SubmitCommandFailure) error {
	return p.publish(ctx, TopicCommandFailure, EventSubmitCommandFailure, msg.CommandID, msg)
}

// PublishValidationTriggered asks external validators to vote on a command.
func (p *NotificationPublisher) PublishValidationTriggered(ctx context.Context, msg domain.ValidationTriggered) error {
	return p.publish(ctx, TopicValidationTriggered, EventValidationTriggered, msg.CollectingID, msg)
}

var _ port.NotificationPublisher = (*NotificationPublisher)(nil)
