package port

import (
	"context"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// EventPublisher writes a domain event to the event store.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.ProfileEvent, pctx domain.PublishContext) error
}

// EventPublisherFactory selects the publisher responsible for an event's runtime type.
type EventPublisherFactory interface {
	GetPublisher(event domain.ProfileEvent) (EventPublisher, error)
}

// EventBatchExecutor writes a set of stream-addressed events as one unit under a batch id.
type EventBatchExecutor interface {
	ExecuteBatch(ctx context.Context, batchID string, events []domain.ResolvedEvent) error
}

// NotificationPublisher answers callers and external validators.
type NotificationPublisher interface {
	PublishSubmitCommandSuccess(ctx context.Context, msg domain.SubmitCommandSuccess) error
	PublishSubmitCommandFailure(ctx context.Context, msg domain.SubmitCommandFailure) error
	PublishValidationTriggered(ctx context.Context, msg domain.ValidationTriggered) error
}

// ProjectionReporter reports the outcome of applying a published event to the read models.
type ProjectionReporter interface {
	ReportProjectionSuccess(ctx context.Context, msg domain.CommandProjectionSuccess) error
	ReportProjectionFailure(ctx context.Context, msg domain.CommandProjectionFailure) error
}
