package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// CommandServiceConstructor builds a fresh command service for one saga activity.
type CommandServiceConstructor func() port.CommandService

// CommandRegistry maps command kinds to their service constructors.
type CommandRegistry struct {
	mu       sync.RWMutex
	services map[domain.CommandKind]CommandServiceConstructor
}

// NewCommandRegistry constructs an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{services: make(map[domain.CommandKind]CommandServiceConstructor)}
}

// Register binds a constructor to a command kind. A kind may be registered once.
func (r *CommandRegistry) Register(kind domain.CommandKind, ctor CommandServiceConstructor) error {
	if kind == "" {
		return fmt.Errorf("command kind is required")
	}
	if ctor == nil {
		return fmt.Errorf("command service constructor for %s is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[kind]; exists {
		return fmt.Errorf("command service for %s already registered", kind)
	}
	r.services[kind] = ctor
	return nil
}

// MustRegister is Register for startup wiring.
func (r *CommandRegistry) MustRegister(kind domain.CommandKind, ctor CommandServiceConstructor) {
	if err := r.Register(kind, ctor); err != nil {
		panic(err)
	}
}

// CreateCommandService implements port.CommandServiceFactory.
func (r *CommandRegistry) CreateCommandService(kind domain.CommandKind) (port.CommandService, error) {
	r.mu.RLock()
	ctor, ok := r.services[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCommandServiceNotRegistered, kind)
	}
	svc := ctor()
	if svc == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrCommandServiceNotRegistered, kind)
	}
	return svc, nil
}

// Kinds lists the registered command kinds.
func (r *CommandRegistry) Kinds() []domain.CommandKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]domain.CommandKind, 0, len(r.services))
	for kind := range r.services {
		kinds = append(kinds, kind)
	}
	return kinds
}

// TypedHandlers holds the typed activities of one command kind.
// Modify may be nil when the payload needs no normalization.
type TypedHandlers[T any] struct {
	Modify   func(ctx context.Context, payload T) (T, error)
	Validate func(ctx context.Context, payload T, initiator domain.Initiator) (domain.ValidationResult, error)
	Create   func(ctx context.Context, payload T, meta domain.EventMetadata) (domain.ProfileEvent, error)
}

// TypedCommandService adapts typed handlers to port.CommandService using JSON payloads.
type TypedCommandService[T any] struct {
	kind     domain.CommandKind
	handlers TypedHandlers[T]
	newID    func() string
	now      func() time.Time
}

// NewTypedCommandService constructs the adapter for one command kind.
func NewTypedCommandService[T any](kind domain.CommandKind, handlers TypedHandlers[T], newID func() string, now func() time.Time) *TypedCommandService[T] {
	if newID == nil {
		newID = uuid.NewString
	}
	if now == nil {
		now = time.Now
	}
	return &TypedCommandService[T]{kind: kind, handlers: handlers, newID: newID, now: now}
}

func (s *TypedCommandService[T]) Decode(data json.RawMessage) (any, error) {
	var payload T
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s payload is empty", domain.ErrInvalidPayload, s.kind)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrInvalidPayload, s.kind, err)
	}
	return payload, nil
}

func (s *TypedCommandService[T]) Encode(payload any) (json.RawMessage, error) {
	typed, err := s.cast(payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(typed)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", s.kind, err)
	}
	return data, nil
}

func (s *TypedCommandService[T]) Modify(ctx context.Context, payload any) (any, error) {
	typed, err := s.cast(payload)
	if err != nil {
		return nil, err
	}
	if s.handlers.Modify == nil {
		return typed, nil
	}
	return s.handlers.Modify(ctx, typed)
}

func (s *TypedCommandService[T]) Validate(ctx context.Context, payload any, initiator domain.Initiator) (domain.ValidationResult, error) {
	typed, err := s.cast(payload)
	if err != nil {
		return domain.ValidationResult{}, err
	}
	if s.handlers.Validate == nil {
		return domain.Valid(), nil
	}
	return s.handlers.Validate(ctx, typed, initiator)
}

func (s *TypedCommandService[T]) Create(ctx context.Context, payload any, correlationID, processID string, initiator domain.Initiator) (domain.ProfileEvent, error) {
	typed, err := s.cast(payload)
	if err != nil {
		return nil, err
	}
	if s.handlers.Create == nil {
		return nil, fmt.Errorf("command %s cannot create events", s.kind)
	}
	meta := domain.NewMetadata(s.newID(), correlationID, processID, initiator, s.now())
	return s.handlers.Create(ctx, typed, meta)
}

func (s *TypedCommandService[T]) cast(payload any) (T, error) {
	switch typed := payload.(type) {
	case T:
		return typed, nil
	case *T:
		if typed != nil {
			return *typed, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s expects %T, got %T", domain.ErrInvalidPayload, s.kind, zero, payload)
}

var _ port.CommandServiceFactory = (*CommandRegistry)(nil)
