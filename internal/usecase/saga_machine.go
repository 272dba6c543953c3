package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// ExternalValidation tells per command kind whether the external validation round trip is active.
type ExternalValidation map[domain.CommandKind]bool

// Requires reports whether kind waits for an external validation response.
func (e ExternalValidation) Requires(kind domain.CommandKind) bool {
	return e[kind]
}

// SagaTransition is one state change made while handling a message.
type SagaTransition struct {
	From domain.SagaState
	To   domain.SagaState
}

// SagaDecision is the outcome of handling one message: the next snapshot and the
// effects to dispatch once that snapshot is stored.
type SagaDecision struct {
	Instance    domain.SagaInstance
	Effects     []domain.Effect
	Transitions []SagaTransition
	// Discarded is set when the message does not apply to the saga's current state.
	Discarded bool
}

// SagaMachine computes saga transitions. It never performs side effects itself.
type SagaMachine struct {
	services port.CommandServiceFactory
	external ExternalValidation
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewSagaMachine constructs the command processing state machine.
func NewSagaMachine(services port.CommandServiceFactory, external ExternalValidation) *SagaMachine {
	if external == nil {
		external = ExternalValidation{}
	}
	return &SagaMachine{
		services: services,
		external: external,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithLogger attaches a structured logger.
func (m *SagaMachine) WithLogger(logger *zap.Logger) *SagaMachine {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// WithNow overrides the clock.
func (m *SagaMachine) WithNow(now func() time.Time) *SagaMachine {
	if now != nil {
		m.now = now
	}
	return m
}

// WithIDGenerator overrides correlation id generation.
func (m *SagaMachine) WithIDGenerator(newID func() string) *SagaMachine {
	if newID != nil {
		m.newID = newID
	}
	return m
}

type sagaStep struct {
	instance    domain.SagaInstance
	effects     []domain.Effect
	transitions []SagaTransition
	now         time.Time
}

func (s *sagaStep) moveTo(state domain.SagaState) {
	from := s.instance.CurrentState
	s.instance = s.instance.TransitionTo(state, s.now)
	s.transitions = append(s.transitions, SagaTransition{From: from, To: state})
}

func (s *sagaStep) emit(kind domain.EffectKind, eventType, suffix string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s effect: %w", kind, err)
	}
	s.effects = append(s.effects, domain.Effect{
		ID:            fmt.Sprintf("%s:%s", s.instance.CorrelationID, suffix),
		Kind:          kind,
		CorrelationID: s.instance.CorrelationID,
		Command:       s.instance.Command,
		EventType:     eventType,
		Payload:       data,
		CreatedAt:     s.now,
	})
	return nil
}

func (s *sagaStep) decision() SagaDecision {
	return SagaDecision{Instance: s.instance, Effects: s.effects, Transitions: s.transitions}
}

// Submit starts a saga for a submitted command: modify, then validate, then possibly execute.
func (m *SagaMachine) Submit(ctx context.Context, msg domain.SubmitCommand) (SagaDecision, error) {
	now := m.now().UTC()
	identifier := msg.ID
	if identifier.ID == "" {
		identifier.ID = m.newID()
	}
	initiator := msg.Initiator
	if initiator.Type == "" {
		initiator.Type = domain.InitiatorUnknown
	}

	st := &sagaStep{
		instance: domain.SagaInstance{
			CorrelationID:     identifier.ID,
			CurrentState:      domain.SagaInitial,
			Command:           msg.Command,
			Data:              append(json.RawMessage(nil), msg.Data...),
			CommandIdentifier: identifier,
			Initiator:         initiator,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		now: now,
	}

	if err := m.guard(st, func() error { return m.modify(ctx, st) }); err != nil {
		return SagaDecision{}, err
	}
	return st.decision(), nil
}

// ValidationResponse applies a composite validation response to a waiting or executed saga.
func (m *SagaMachine) ValidationResponse(ctx context.Context, instance domain.SagaInstance, msg domain.ValidationCompositeResponse) (SagaDecision, error) {
	st := &sagaStep{instance: instance, now: m.now().UTC()}
	result := msg.Result()

	switch instance.CurrentState {
	case domain.SagaInternalValidated:
		st.instance = st.instance.WithValidation(result)
		if !result.IsValid {
			if err := m.guard(st, func() error { return m.rejectValidation(st, result) }); err != nil {
				return SagaDecision{}, err
			}
			return st.decision(), nil
		}
		st.moveTo(domain.SagaValidationSucceeded)
	case domain.SagaExecuted:
		st.instance = st.instance.WithValidation(result)
		if !result.IsValid {
			if err := m.guard(st, func() error { return m.rejectValidation(st, result) }); err != nil {
				return SagaDecision{}, err
			}
			return st.decision(), nil
		}
		st.instance.ExecutionRound++
	default:
		return SagaDecision{Instance: instance, Discarded: true}, nil
	}

	if err := m.guard(st, func() error { return m.execute(ctx, st) }); err != nil {
		return SagaDecision{}, err
	}
	return st.decision(), nil
}

// ProjectionSuccess finalizes a saga whose event was projected.
func (m *SagaMachine) ProjectionSuccess(_ context.Context, instance domain.SagaInstance, _ domain.CommandProjectionSuccess) (SagaDecision, error) {
	if !acceptsProjectionResult(instance.CurrentState) {
		return SagaDecision{Instance: instance, Discarded: true}, nil
	}
	st := &sagaStep{instance: instance, now: m.now().UTC()}
	err := m.guard(st, func() error {
		msg := domain.SubmitCommandSuccess{
			Command:      instance.Command,
			CommandID:    instance.CommandIdentifier.ID,
			CollectingID: instance.CommandIdentifier.CollectingID,
			EntityID:     instance.EntityID,
		}
		if err := st.emit(domain.EffectNotifySuccess, "", "success", msg); err != nil {
			return err
		}
		st.moveTo(domain.SagaSuccess)
		return nil
	})
	if err != nil {
		return SagaDecision{}, err
	}
	return st.decision(), nil
}

// ProjectionFailure rejects a saga whose event could not be projected.
func (m *SagaMachine) ProjectionFailure(_ context.Context, instance domain.SagaInstance, msg domain.CommandProjectionFailure) (SagaDecision, error) {
	if !acceptsProjectionResult(instance.CurrentState) {
		return SagaDecision{Instance: instance, Discarded: true}, nil
	}
	message := msg.Message
	if message == "" {
		message = "projection failed"
	}
	st := &sagaStep{instance: instance, now: m.now().UTC()}
	if err := m.guard(st, func() error { return m.rejectWith(st, message, nil) }); err != nil {
		return SagaDecision{}, err
	}
	return st.decision(), nil
}

// PublishFailed rejects an executed saga whose domain event could not be written.
// Failures reported for an older execution round are ignored.
func (m *SagaMachine) PublishFailed(_ context.Context, instance domain.SagaInstance, round int, cause error) (SagaDecision, error) {
	if instance.CurrentState != domain.SagaExecuted || instance.ExecutionRound != round {
		return SagaDecision{Instance: instance, Discarded: true}, nil
	}
	st := &sagaStep{instance: instance, now: m.now().UTC()}
	if err := m.guard(st, func() error { return m.reject(st, cause) }); err != nil {
		return SagaDecision{}, err
	}
	return st.decision(), nil
}

// Fault rejects a saga whose inbound message kept failing after every redelivery.
// Terminal sagas are left alone.
func (m *SagaMachine) Fault(_ context.Context, instance domain.SagaInstance, cause error) (SagaDecision, error) {
	if instance.CurrentState.IsTerminal() {
		return SagaDecision{Instance: instance, Discarded: true}, nil
	}
	if cause == nil {
		cause = errors.New("message processing failed")
	}
	st := &sagaStep{instance: instance, now: m.now().UTC()}
	if err := m.reject(st, cause); err != nil {
		return SagaDecision{}, fmt.Errorf("reject saga %s: %w", instance.CorrelationID, err)
	}
	return st.decision(), nil
}

func acceptsProjectionResult(state domain.SagaState) bool {
	return state == domain.SagaExecuted || state == domain.SagaInternalValidated
}

// guard runs an activity and turns any non-cancellation error into a rejection.
func (m *SagaMachine) guard(st *sagaStep, activity func() error) error {
	err := activity()
	if err == nil {
		return nil
	}
	if isCancellation(err) {
		return err
	}
	m.logger.Warn("saga activity failed",
		zap.String("correlation_id", st.instance.CorrelationID),
		zap.String("command", st.instance.Command.String()),
		zap.String("state", st.instance.CurrentState.String()),
		zap.Error(err),
	)
	if rejectErr := m.reject(st, err); rejectErr != nil {
		return fmt.Errorf("reject saga %s: %w", st.instance.CorrelationID, rejectErr)
	}
	return nil
}

func (m *SagaMachine) modify(ctx context.Context, st *sagaStep) error {
	svc, err := m.services.CreateCommandService(st.instance.Command)
	if err != nil {
		return err
	}
	payload, err := svc.Decode(st.instance.Data)
	if err != nil {
		return err
	}
	modified, err := svc.Modify(ctx, payload)
	if err != nil {
		return fmt.Errorf("modify %s: %w", st.instance.Command, err)
	}
	data, err := svc.Encode(modified)
	if err != nil {
		return err
	}
	st.instance = st.instance.WithData(data)
	if created, ok := modified.(domain.CreateModelPayload); ok {
		st.instance.EntityID = created.CreatedEntityID()
	}
	st.moveTo(domain.SagaSubmitted)

	return m.validate(ctx, st, svc, modified)
}

func (m *SagaMachine) validate(ctx context.Context, st *sagaStep, svc port.CommandService, payload any) error {
	result, err := svc.Validate(ctx, payload, st.instance.Initiator)
	if err != nil {
		return fmt.Errorf("validate %s: %w", st.instance.Command, err)
	}
	st.instance = st.instance.WithValidation(result)

	if !result.IsValid {
		return m.rejectValidation(st, result)
	}

	if m.external.Requires(st.instance.Command) {
		msg := domain.ValidationTriggered{
			CollectingID: st.instance.CorrelationID,
			Command:      st.instance.Command,
			Data:         st.instance.Data,
			Initiator:    st.instance.Initiator,
		}
		if err := st.emit(domain.EffectTriggerValidation, "", "validate", msg); err != nil {
			return err
		}
		st.moveTo(domain.SagaInternalValidated)
		return nil
	}

	st.moveTo(domain.SagaValidationSucceeded)
	return m.execute(ctx, st)
}

func (m *SagaMachine) execute(ctx context.Context, st *sagaStep) error {
	svc, err := m.services.CreateCommandService(st.instance.Command)
	if err != nil {
		return err
	}
	payload, err := svc.Decode(st.instance.Data)
	if err != nil {
		return err
	}

	identifier := st.instance.CommandIdentifier
	processID := identifier.CollectingID
	if processID == "" {
		processID = identifier.ID
	}
	event, err := svc.Create(ctx, payload, st.instance.CorrelationID, processID, st.instance.Initiator)
	if err != nil {
		return fmt.Errorf("create event for %s: %w", st.instance.Command, err)
	}
	if event == nil {
		return fmt.Errorf("create event for %s: no event produced", st.instance.Command)
	}

	envelope, err := domain.EncodeEvent(event)
	if err != nil {
		return err
	}
	request := domain.PublishRequest{
		Event: envelope,
		Context: domain.PublishContext{
			CommandName:  st.instance.Command,
			CommandID:    identifier.ID,
			CollectingID: identifier.CollectingID,
		},
		Round: st.instance.ExecutionRound,
	}
	suffix := fmt.Sprintf("execute:%d", st.instance.ExecutionRound)
	if err := st.emit(domain.EffectPublishEvent, event.EventType(), suffix, request); err != nil {
		return err
	}
	st.moveTo(domain.SagaExecuted)
	return nil
}

func (m *SagaMachine) rejectValidation(st *sagaStep, result domain.ValidationResult) error {
	return m.rejectWith(st, result.Summary(), result.Errors)
}

func (m *SagaMachine) reject(st *sagaStep, cause error) error {
	st.instance = st.instance.WithException(domain.ExceptionInfo{
		Type:    exceptionType(cause),
		Message: cause.Error(),
	})
	return m.rejectWith(st, cause.Error(), st.instance.ValidationErrors())
}

func (m *SagaMachine) rejectWith(st *sagaStep, message string, errs []domain.ValidationError) error {
	st.effects = nil
	msg := domain.SubmitCommandFailure{
		Command:      st.instance.Command,
		CommandID:    st.instance.CommandIdentifier.ID,
		CollectingID: st.instance.CommandIdentifier.CollectingID,
		Message:      message,
		Errors:       errs,
		Exception:    st.instance.Exception,
	}
	if err := st.emit(domain.EffectNotifyFailure, "", "failure", msg); err != nil {
		return err
	}
	st.moveTo(domain.SagaRejected)
	return nil
}

func exceptionType(err error) string {
	switch {
	case errors.Is(err, domain.ErrCommandServiceNotRegistered):
		return "DependencyResolveError"
	case errors.Is(err, domain.ErrInvalidPayload):
		return "InvalidPayloadError"
	case errors.Is(err, domain.ErrPublisherNotFound):
		return "PublisherNotFoundError"
	default:
		root := err
		for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
			root = next
		}
		return fmt.Sprintf("%T", root)
	}
}
