package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// PublisherRegistry selects publishers by event type, falling back to a default publisher.
type PublisherRegistry struct {
	mu       sync.RWMutex
	byType   map[string]port.EventPublisher
	fallback port.EventPublisher
}

// NewPublisherRegistry constructs a registry. fallback may be nil.
func NewPublisherRegistry(fallback port.EventPublisher) *PublisherRegistry {
	return &PublisherRegistry{byType: make(map[string]port.EventPublisher), fallback: fallback}
}

// Register binds a publisher to an event type, replacing any previous binding.
func (r *PublisherRegistry) Register(eventType string, publisher port.EventPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[eventType] = publisher
}

// GetPublisher implements port.EventPublisherFactory.
func (r *PublisherRegistry) GetPublisher(event domain.ProfileEvent) (port.EventPublisher, error) {
	if event == nil {
		return nil, fmt.Errorf("%w: nil event", domain.ErrPublisherNotFound)
	}
	r.mu.RLock()
	publisher, ok := r.byType[event.EventType()]
	r.mu.RUnlock()
	if ok {
		return publisher, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrPublisherNotFound, event.EventType())
}

// FanoutPublisher publishes an event through several publishers in order and stops at
// the first failure.
type FanoutPublisher []port.EventPublisher

// Publish implements port.EventPublisher.
func (f FanoutPublisher) Publish(ctx context.Context, event domain.ProfileEvent, pctx domain.PublishContext) error {
	for _, publisher := range f {
		if err := publisher.Publish(ctx, event, pctx); err != nil {
			return err
		}
	}
	return nil
}

// FanoutBatchExecutor writes a batch through several executors in order, e.g. the event
// store first and the stream topic second. The first failure stops the fanout.
type FanoutBatchExecutor []port.EventBatchExecutor

// ExecuteBatch implements port.EventBatchExecutor.
func (f FanoutBatchExecutor) ExecuteBatch(ctx context.Context, batchID string, events []domain.ResolvedEvent) error {
	for _, executor := range f {
		if err := executor.ExecuteBatch(ctx, batchID, events); err != nil {
			return err
		}
	}
	return nil
}

var (
	_ port.EventPublisherFactory = (*PublisherRegistry)(nil)
	_ port.EventPublisher        = FanoutPublisher(nil)
	_ port.EventBatchExecutor    = FanoutBatchExecutor(nil)
)
