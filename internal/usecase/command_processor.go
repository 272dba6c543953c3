package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
)

const (
	defaultRelayBatchSize = 100
	defaultRelayMinAge    = 5 * time.Second
	defaultPublishLease   = time.Minute
)

// ErrSagaIDRequired indicates a message without a correlation id.
var ErrSagaIDRequired = errors.New("saga correlation id is required")

// CommandProcessorOptions configures the outbox relay.
type CommandProcessorOptions struct {
	RelayBatchSize int
	// RelayMinAge keeps the relay away from effects the live path is still dispatching.
	RelayMinAge time.Duration
	// PublishLease bounds how long a claimed but unfinished publication blocks others.
	// It must exceed the slowest event store write.
	PublishLease time.Duration
}

// CommandProcessor drives sagas: it loads the snapshot, lets the machine decide, stores
// the new snapshot together with its effects, then dispatches the effects.
type CommandProcessor struct {
	sagas        port.SagaRepository
	machine      *SagaMachine
	publishers   port.EventPublisherFactory
	notifier     port.NotificationPublisher
	fingerprints port.FingerprintStore
	gate         *PublishGate
	metrics      SagaMetrics
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time
	opts         CommandProcessorOptions
}

// NewCommandProcessor constructs the processor.
func NewCommandProcessor(sagas port.SagaRepository, machine *SagaMachine, publishers port.EventPublisherFactory, notifier port.NotificationPublisher, fingerprints port.FingerprintStore, gate *PublishGate, opts CommandProcessorOptions) *CommandProcessor {
	if gate == nil {
		gate = NewPublishGate()
	}
	if opts.RelayBatchSize <= 0 {
		opts.RelayBatchSize = defaultRelayBatchSize
	}
	if opts.RelayMinAge <= 0 {
		opts.RelayMinAge = defaultRelayMinAge
	}
	if opts.PublishLease <= 0 {
		opts.PublishLease = defaultPublishLease
	}
	return &CommandProcessor{
		sagas:        sagas,
		machine:      machine,
		publishers:   publishers,
		notifier:     notifier,
		fingerprints: fingerprints,
		gate:         gate,
		metrics:      noopMetrics{},
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/arklim/social-platform-profiles/internal/usecase"),
		now:          time.Now,
		opts:         opts,
	}
}

// WithLogger attaches a structured logger.
func (p *CommandProcessor) WithLogger(logger *zap.Logger) *CommandProcessor {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithMetrics attaches saga metrics.
func (p *CommandProcessor) WithMetrics(metrics SagaMetrics) *CommandProcessor {
	if metrics != nil {
		p.metrics = metrics
	}
	return p
}

// WithNow overrides the clock used by the relay.
func (p *CommandProcessor) WithNow(now func() time.Time) *CommandProcessor {
	if now != nil {
		p.now = now
	}
	return p
}

// Submit starts a saga for the command and returns its correlation id.
// A submission whose correlation id already has a saga is ignored.
func (p *CommandProcessor) Submit(ctx context.Context, msg domain.SubmitCommand) (string, error) {
	ctx, span := p.tracer.Start(ctx, "saga.submit", trace.WithAttributes(
		attribute.String("saga.command", msg.Command.String()),
	))
	defer span.End()

	decision, err := p.machine.Submit(ctx, msg)
	if err != nil {
		recordSpanError(span, err)
		return "", err
	}
	id := decision.Instance.CorrelationID
	span.SetAttributes(attribute.String("saga.correlation_id", id))

	tx, err := p.sagas.Begin(ctx)
	if err != nil {
		recordSpanError(span, err)
		return "", fmt.Errorf("begin saga tx: %w", err)
	}

	existing, err := tx.Load(ctx, id)
	switch {
	case err == nil && existing != nil:
		p.rollback(ctx, tx)
		p.metrics.IncDiscarded("submit")
		p.logger.Info("duplicate command submission ignored",
			zap.String("correlation_id", id),
			zap.String("state", existing.CurrentState.String()),
		)
		return id, nil
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		p.rollback(ctx, tx)
		recordSpanError(span, err)
		return "", fmt.Errorf("load saga %s: %w", id, err)
	}

	if err := p.persist(ctx, tx, nil, decision); err != nil {
		p.rollback(ctx, tx)
		if errors.Is(err, repository.ErrConcurrencyConflict) {
			p.metrics.IncDiscarded("submit")
			return id, nil
		}
		recordSpanError(span, err)
		return "", err
	}
	p.observe(nil, decision)

	if err := p.dispatch(ctx, decision.Effects); err != nil {
		recordSpanError(span, err)
		return id, err
	}
	return id, nil
}

// HandleValidationResponse routes an external validation answer to its saga.
func (p *CommandProcessor) HandleValidationResponse(ctx context.Context, msg domain.ValidationCompositeResponse) error {
	return p.apply(ctx, msg.CollectingID, "validation_response", func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error) {
		return p.machine.ValidationResponse(ctx, instance, msg)
	})
}

// HandleProjectionSuccess finalizes the saga whose event was projected.
func (p *CommandProcessor) HandleProjectionSuccess(ctx context.Context, msg domain.CommandProjectionSuccess) error {
	return p.apply(ctx, msg.ID, "projection_success", func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error) {
		return p.machine.ProjectionSuccess(ctx, instance, msg)
	})
}

// HandleProjectionFailure rejects the saga whose event could not be projected.
func (p *CommandProcessor) HandleProjectionFailure(ctx context.Context, msg domain.CommandProjectionFailure) error {
	return p.apply(ctx, msg.ID, "projection_failure", func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error) {
		return p.machine.ProjectionFailure(ctx, instance, msg)
	})
}

// ReportProjectionSuccess implements port.ProjectionReporter for in-process projections.
func (p *CommandProcessor) ReportProjectionSuccess(ctx context.Context, msg domain.CommandProjectionSuccess) error {
	return p.HandleProjectionSuccess(ctx, msg)
}

// ReportProjectionFailure implements port.ProjectionReporter for in-process projections.
func (p *CommandProcessor) ReportProjectionFailure(ctx context.Context, msg domain.CommandProjectionFailure) error {
	return p.HandleProjectionFailure(ctx, msg)
}

// Fault rejects the saga of a message that could not be handled after every redelivery,
// so the caller is answered instead of the saga stalling mid-flight.
func (p *CommandProcessor) Fault(ctx context.Context, correlationID string, cause error) error {
	return p.apply(ctx, correlationID, "fault", func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error) {
		return p.machine.Fault(ctx, instance, cause)
	})
}

// FailSubmission answers a submission that could not be handled after every redelivery.
// A saga stored before the failure is rejected through Fault; otherwise the failure is
// published directly.
func (p *CommandProcessor) FailSubmission(ctx context.Context, msg domain.SubmitCommand, cause error) error {
	if cause == nil {
		cause = errors.New("command submission failed")
	}
	if id := msg.ID.ID; id != "" {
		_, err := p.sagas.Get(ctx, id)
		switch {
		case err == nil:
			return p.Fault(ctx, id, cause)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("load saga %s: %w", id, err)
		}
	}

	failure := domain.SubmitCommandFailure{
		Command:      msg.Command,
		CommandID:    msg.ID.ID,
		CollectingID: msg.ID.CollectingID,
		Message:      cause.Error(),
		Exception:    &domain.ExceptionInfo{Type: exceptionType(cause), Message: cause.Error()},
	}
	if err := p.notifier.PublishSubmitCommandFailure(ctx, failure); err != nil {
		return fmt.Errorf("publish submission failure: %w", err)
	}
	p.logger.Warn("command submission rejected after redelivery",
		zap.String("command", msg.Command.String()),
		zap.String("command_id", msg.ID.ID),
		zap.Error(cause),
	)
	return nil
}

// ListSagas pages through in-flight sagas.
func (p *CommandProcessor) ListSagas(ctx context.Context, query port.SagaQuery) (int, []domain.SagaInstance, error) {
	return p.sagas.Load(ctx, query)
}

// GetSaga returns one in-flight saga.
func (p *CommandProcessor) GetSaga(ctx context.Context, correlationID string) (*domain.SagaInstance, error) {
	if correlationID == "" {
		return nil, ErrSagaIDRequired
	}
	return p.sagas.Get(ctx, correlationID)
}

// RelayPending dispatches effects left in the outbox, e.g. after a crash between commit and dispatch.
func (p *CommandProcessor) RelayPending(ctx context.Context) (int, error) {
	effects, err := p.sagas.PendingEffects(ctx, p.now().Add(-p.opts.RelayMinAge), p.opts.RelayBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending effects: %w", err)
	}

	relayed := 0
	for _, effect := range effects {
		if err := p.dispatchEffect(ctx, effect); err != nil {
			if isCancellation(err) {
				return relayed, err
			}
			p.logger.Warn("relay effect failed",
				zap.String("effect_id", effect.ID),
				zap.String("kind", string(effect.Kind)),
				zap.Error(err),
			)
			continue
		}
		relayed++
	}
	return relayed, nil
}

// RunRelay calls RelayPending every interval until ctx is done.
func (p *CommandProcessor) RunRelay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			relayed, err := p.RelayPending(ctx)
			if err != nil && !isCancellation(err) {
				p.logger.Error("outbox relay failed", zap.Error(err))
			}
			if relayed > 0 {
				p.logger.Info("outbox effects relayed", zap.Int("count", relayed))
			}
		}
	}
}

type sagaHandler func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error)

func (p *CommandProcessor) apply(ctx context.Context, correlationID, message string, handle sagaHandler) error {
	if correlationID == "" {
		return ErrSagaIDRequired
	}
	ctx, span := p.tracer.Start(ctx, "saga."+message, trace.WithAttributes(
		attribute.String("saga.correlation_id", correlationID),
	))
	defer span.End()

	tx, err := p.sagas.Begin(ctx)
	if err != nil {
		recordSpanError(span, err)
		return fmt.Errorf("begin saga tx: %w", err)
	}

	current, err := tx.Load(ctx, correlationID)
	if errors.Is(err, repository.ErrNotFound) {
		p.rollback(ctx, tx)
		p.metrics.IncDiscarded(message)
		p.logger.Debug("message for unknown saga discarded",
			zap.String("correlation_id", correlationID),
			zap.String("message", message),
		)
		return nil
	}
	if err != nil {
		p.rollback(ctx, tx)
		recordSpanError(span, err)
		return fmt.Errorf("load saga %s: %w", correlationID, err)
	}

	decision, err := handle(ctx, *current)
	if err != nil {
		p.rollback(ctx, tx)
		recordSpanError(span, err)
		return err
	}
	if decision.Discarded {
		p.rollback(ctx, tx)
		p.metrics.IncDiscarded(message)
		p.logger.Debug("message not applicable in current state",
			zap.String("correlation_id", correlationID),
			zap.String("message", message),
			zap.String("state", current.CurrentState.String()),
		)
		return nil
	}

	if err := p.persist(ctx, tx, current, decision); err != nil {
		p.rollback(ctx, tx)
		recordSpanError(span, err)
		return err
	}
	p.observe(current, decision)

	if err := p.dispatch(ctx, decision.Effects); err != nil {
		recordSpanError(span, err)
		return err
	}
	return nil
}

func (p *CommandProcessor) persist(ctx context.Context, tx port.SagaTx, previous *domain.SagaInstance, decision SagaDecision) error {
	instance := decision.Instance
	var err error
	switch {
	case previous == nil && instance.IsFinalized():
	case previous == nil:
		err = tx.Insert(ctx, instance)
	case instance.IsFinalized():
		err = tx.Delete(ctx, instance.CorrelationID, previous.Version)
	default:
		err = tx.Update(ctx, instance, previous.Version)
	}
	if err != nil {
		return fmt.Errorf("store saga %s: %w", instance.CorrelationID, err)
	}

	if len(decision.Effects) > 0 {
		if err := tx.Enqueue(ctx, decision.Effects); err != nil {
			return fmt.Errorf("enqueue effects of saga %s: %w", instance.CorrelationID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit saga %s: %w", instance.CorrelationID, err)
	}
	return nil
}

// rollback is best effort; a failing rollback must not hide the original error.
func (p *CommandProcessor) rollback(ctx context.Context, tx port.SagaTx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("saga tx rollback failed", zap.Error(err))
	}
}

func (p *CommandProcessor) observe(previous *domain.SagaInstance, decision SagaDecision) {
	instance := decision.Instance
	for _, t := range decision.Transitions {
		p.metrics.ObserveTransition(t.From, t.To)
		p.logger.Info("saga transition",
			zap.String("correlation_id", instance.CorrelationID),
			zap.String("command", instance.Command.String()),
			zap.String("from", t.From.String()),
			zap.String("to", t.To.String()),
		)
	}
	if instance.IsFinalized() {
		created := instance.CreatedAt
		if previous != nil {
			created = previous.CreatedAt
		}
		p.metrics.ObserveFinalized(instance.CurrentState, instance.UpdatedAt.Sub(created))
	}
}

// dispatch runs effects in order. Failed effects stay in the outbox for the relay;
// only cancellation stops the loop.
func (p *CommandProcessor) dispatch(ctx context.Context, effects []domain.Effect) error {
	for _, effect := range effects {
		if err := p.dispatchEffect(ctx, effect); err != nil {
			if isCancellation(err) {
				return err
			}
			p.logger.Warn("effect dispatch failed, left for relay",
				zap.String("effect_id", effect.ID),
				zap.String("kind", string(effect.Kind)),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (p *CommandProcessor) dispatchEffect(ctx context.Context, effect domain.Effect) error {
	var err error
	switch effect.Kind {
	case domain.EffectPublishEvent:
		err = p.publishEvent(ctx, effect)
	case domain.EffectTriggerValidation:
		var msg domain.ValidationTriggered
		if err = json.Unmarshal(effect.Payload, &msg); err == nil {
			err = p.notifier.PublishValidationTriggered(ctx, msg)
		}
	case domain.EffectNotifySuccess:
		var msg domain.SubmitCommandSuccess
		if err = json.Unmarshal(effect.Payload, &msg); err == nil {
			err = p.notifier.PublishSubmitCommandSuccess(ctx, msg)
		}
	case domain.EffectNotifyFailure:
		var msg domain.SubmitCommandFailure
		if err = json.Unmarshal(effect.Payload, &msg); err == nil {
			err = p.notifier.PublishSubmitCommandFailure(ctx, msg)
		}
	default:
		err = fmt.Errorf("unknown effect kind %q", effect.Kind)
	}
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", effect.Kind, err)
	}

	if err := p.sagas.DeleteEffect(ctx, effect.ID); err != nil {
		return fmt.Errorf("delete dispatched effect %s: %w", effect.ID, err)
	}
	return nil
}

// publishEvent writes a domain event exactly once per effect fingerprint. The fingerprint
// is leased before the write and marked done after it, so a writer that dies in between
// leaves a lease the relay takes over once it expires. A failed write is fed back to the
// saga, which rejects the command.
func (p *CommandProcessor) publishEvent(ctx context.Context, effect domain.Effect) error {
	var request domain.PublishRequest
	if err := json.Unmarshal(effect.Payload, &request); err != nil {
		return p.publishFailed(ctx, effect, 0, fmt.Errorf("decode publish request: %w", err))
	}

	fingerprint := effect.Fingerprint()
	waitStart := time.Now()
	var published bool
	writeErr := p.gate.Do(ctx, func(ctx context.Context) error {
		p.metrics.ObservePublishWait(time.Since(waitStart))

		claim, err := p.fingerprints.Claim(ctx, fingerprint, p.opts.PublishLease)
		if err != nil {
			return fmt.Errorf("%w: claim %s: %v", errFingerprintUnavailable, fingerprint, err)
		}
		switch claim {
		case port.ClaimCompleted:
			p.logger.Info("domain event already published",
				zap.String("correlation_id", effect.CorrelationID),
				zap.String("fingerprint", fingerprint),
			)
			return nil
		case port.ClaimInFlight:
			return fmt.Errorf("%w: %s", errPublishInFlight, fingerprint)
		}

		if err := p.write(ctx, request); err != nil {
			if releaseErr := p.fingerprints.Release(context.WithoutCancel(ctx), fingerprint); releaseErr != nil {
				p.logger.Warn("release fingerprint failed", zap.String("fingerprint", fingerprint), zap.Error(releaseErr))
			}
			return err
		}
		published = true
		// The event id makes a repeated append a no-op, so a lost done mark is not fatal.
		if err := p.fingerprints.Complete(context.WithoutCancel(ctx), fingerprint); err != nil {
			p.logger.Warn("complete fingerprint failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		}
		return nil
	})

	if writeErr == nil {
		if published {
			p.logger.Info("domain event published",
				zap.String("correlation_id", effect.CorrelationID),
				zap.String("event_type", effect.EventType),
			)
		}
		return nil
	}
	if isCancellation(writeErr) || errors.Is(writeErr, errFingerprintUnavailable) || errors.Is(writeErr, errPublishInFlight) {
		return writeErr
	}
	return p.publishFailed(ctx, effect, request.Round, writeErr)
}

var (
	errFingerprintUnavailable = errors.New("fingerprint store unavailable")
	errPublishInFlight        = errors.New("domain event publication in flight")
)

func (p *CommandProcessor) write(ctx context.Context, request domain.PublishRequest) error {
	event, err := domain.DecodeEvent(request.Event)
	if err != nil {
		return err
	}
	publisher, err := p.publishers.GetPublisher(event)
	if err != nil {
		return err
	}
	if err := publisher.Publish(ctx, event, request.Context); err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType(), err)
	}
	return nil
}

func (p *CommandProcessor) publishFailed(ctx context.Context, effect domain.Effect, round int, cause error) error {
	p.logger.Error("domain event publication failed",
		zap.String("correlation_id", effect.CorrelationID),
		zap.String("event_type", effect.EventType),
		zap.Error(cause),
	)
	return p.apply(ctx, effect.CorrelationID, "publish_failed", func(ctx context.Context, instance domain.SagaInstance) (SagaDecision, error) {
		return p.machine.PublishFailed(ctx, instance, round, cause)
	})
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
