package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// StubPublisher logs notifications instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly notification publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, key string, payload any) {
	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("key", key),
		zap.Any("payload", payload),
	)
}

// PublishSubmitCommandSuccess logs profiles.command.succeeded events.
func (p *StubPublisher) PublishSubmitCommandSuccess(_ context.Context, msg domain.SubmitCommandSuccess) error {
	p.logEvent(EventSubmitCommandSuccess, msg.CommandID, msg)
	return nil
}

// PublishSubmitCommandFailure logs profiles.command.failed events.
func (p *StubPublisher) PublishSubmitCommandFailure(_ context.Context, msg domain.SubmitCommandFailure) error {
	p.logEvent(EventSubmitCommandFailure, msg.CommandID, msg)
	return nil
}

// PublishValidationTriggered logs profiles.validation.triggered events.
func (p *StubPublisher) PublishValidationTriggered(_ context.Context, msg domain.ValidationTriggered) error {
	p.logEvent(EventValidationTriggered, msg.CollectingID, msg)
	return nil
}

var _ port.NotificationPublisher = (*StubPublisher)(nil)
