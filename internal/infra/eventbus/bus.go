package eventbus

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("event bus closed")

// Handler receives one delivered event.
type Handler func(ctx context.Context, event domain.ProfileEvent) error

type delivery struct {
	span  trace.SpanContext
	event domain.ProfileEvent
}

// Bus delivers published events to subscribers on a single worker goroutine, in publish order.
type Bus struct {
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
	all      []Handler

	queue     chan delivery
	closed    chan struct{}
	closeOnce sync.Once
}

// New constructs a bus with the given queue capacity.
func New(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[string][]Handler),
		queue:    make(chan delivery, buffer),
		closed:   make(chan struct{}),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("handler subscribed", zap.String("event_type", eventType))
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish implements port.EventPublisher. It returns once the event is queued.
func (b *Bus) Publish(ctx context.Context, event domain.ProfileEvent, _ domain.PublishContext) error {
	d := delivery{span: trace.SpanContextFromContext(ctx), event: event}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	select {
	case b.queue <- d:
		return nil
	case <-b.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run delivers queued events until ctx is done or the bus is closed. Events still queued
// at Close are delivered before Run returns.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case d := <-b.queue:
			b.deliver(ctx, d)
		case <-ctx.Done():
			return
		case <-b.closed:
			for {
				select {
				case d := <-b.queue:
					b.deliver(ctx, d)
				default:
					return
				}
			}
		}
	}
}

// Close stops accepting events.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

func (b *Bus) deliver(ctx context.Context, d delivery) {
	if d.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, d.span)
	}

	b.mu.RLock()
	handlers := append(append([]Handler(nil), b.all...), b.handlers[d.event.EventType()]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, d.event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("event_type", d.event.EventType()),
				zap.String("correlation_id", d.event.Metadata().CorrelationID),
				zap.Error(err),
			)
		}
	}
}

var _ port.EventPublisher = (*Bus)(nil)
