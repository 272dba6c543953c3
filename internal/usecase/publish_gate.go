package usecase

import "context"

// PublishGate admits one domain event publication at a time so appends to the
// event store keep the order in which sagas executed.
type PublishGate struct {
	slot chan struct{}
}

// NewPublishGate constructs an open gate.
func NewPublishGate() *PublishGate {
	return &PublishGate{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the gate is free or ctx is done.
func (g *PublishGate) Acquire(ctx context.Context) error {
	select {
	case g.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the gate. It must follow a successful Acquire.
func (g *PublishGate) Release() {
	<-g.slot
}

// Do runs fn while holding the gate.
func (g *PublishGate) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn(ctx)
}
