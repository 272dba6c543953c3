package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// maxStepsPerSweep lets a window that already ended be activated and deactivated in one sweep.
const maxStepsPerSweep = 2

// SweepResult summarizes one scheduler sweep.
type SweepResult struct {
	Assignments int
	Transitions int
	Events      int
	Failed      int
}

// AssignmentScheduler activates and deactivates temporary assignments as their windows open and close.
type AssignmentScheduler struct {
	store    port.ProfileStore
	resolver *RelatedEventResolver
	batches  port.EventBatchExecutor
	metrics  SchedulerMetrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// NewAssignmentScheduler constructs the scheduler.
func NewAssignmentScheduler(store port.ProfileStore, resolver *RelatedEventResolver, batches port.EventBatchExecutor) *AssignmentScheduler {
	return &AssignmentScheduler{
		store:    store,
		resolver: resolver,
		batches:  batches,
		metrics:  noopMetrics{},
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/arklim/social-platform-profiles/internal/usecase"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithLogger attaches a structured logger.
func (s *AssignmentScheduler) WithLogger(logger *zap.Logger) *AssignmentScheduler {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithMetrics attaches scheduler metrics.
func (s *AssignmentScheduler) WithMetrics(metrics SchedulerMetrics) *AssignmentScheduler {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// WithNow overrides the clock.
func (s *AssignmentScheduler) WithNow(now func() time.Time) *AssignmentScheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides batch id generation.
func (s *AssignmentScheduler) WithIDGenerator(newID func() string) *AssignmentScheduler {
	if newID != nil {
		s.newID = newID
	}
	return s
}

// Sweep processes every pending temporary assignment inside one profile transaction,
// each in its own savepoint. A failing assignment is rolled back to its savepoint and
// marked ErrorOccurred while the sweep goes on; cancellation and invalid notification
// transitions abort the whole sweep.
func (s *AssignmentScheduler) Sweep(ctx context.Context) (result SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, "assignments.sweep")
	defer span.End()

	started := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil && isCancellation(err):
			outcome = "canceled"
		case err != nil:
			outcome = "error"
		case result.Failed > 0:
			outcome = "partial"
		}
		s.metrics.ObserveSweep(outcome, time.Since(started))
		span.SetAttributes(
			attribute.Int("assignments.count", result.Assignments),
			attribute.Int("assignments.transitions", result.Transitions),
			attribute.Int("assignments.failed", result.Failed),
		)
		if err != nil {
			recordSpanError(span, err)
		}
	}()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("begin sweep tx: %w", err)
	}

	assignments, err := tx.ListTemporaryAssignments(ctx)
	if err != nil {
		s.abort(ctx, tx)
		return result, fmt.Errorf("list temporary assignments: %w", err)
	}
	result.Assignments = len(assignments)
	now := s.now().UTC()

	for _, assignment := range assignments {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.abort(ctx, tx)
			return result, ctxErr
		}

		current, steps, events, procErr := s.processIsolated(ctx, tx, assignment, now)
		result.Transitions += steps
		result.Events += events
		if procErr == nil {
			continue
		}
		if isCancellation(procErr) || errors.Is(procErr, domain.ErrInvalidNotificationTransition) {
			s.abort(ctx, tx)
			return result, procErr
		}

		result.Failed++
		s.metrics.IncAssignmentError()
		s.logger.Warn("temporary assignment failed",
			zap.String("assignment_id", assignment.ID),
			zap.String("profile", assignment.Profile().String()),
			zap.String("target", assignment.Target().String()),
			zap.Error(procErr),
		)
		current.State = domain.AssignmentErrorOccurred
		current.LastErrorMessage = procErr.Error()
		current.UpdatedAt = now
		if saveErr := tx.SaveTemporaryAssignment(ctx, current); saveErr != nil {
			s.abort(ctx, tx)
			return result, fmt.Errorf("record failure of assignment %s: %w", assignment.ID, saveErr)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return result, fmt.Errorf("commit sweep tx: %w", err)
	}
	s.metrics.AddAssignmentEvents(result.Events)
	return result, nil
}

// Run sweeps every interval until ctx is done.
func (s *AssignmentScheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := s.Sweep(ctx)
			if err != nil {
				if !isCancellation(err) {
					s.logger.Error("assignment sweep failed", zap.Error(err))
				}
				continue
			}
			if result.Transitions > 0 || result.Failed > 0 {
				s.logger.Info("assignment sweep finished",
					zap.Int("assignments", result.Assignments),
					zap.Int("transitions", result.Transitions),
					zap.Int("events", result.Events),
					zap.Int("failed", result.Failed),
				)
			}
		}
	}
}

// processIsolated runs process inside a savepoint so a failed statement cannot poison
// the sweep transaction for the assignments after it.
func (s *AssignmentScheduler) processIsolated(ctx context.Context, tx port.ProfileTx, assignment domain.TemporaryAssignment, now time.Time) (domain.TemporaryAssignment, int, int, error) {
	sp, err := tx.Savepoint(ctx)
	if err != nil {
		return assignment, 0, 0, fmt.Errorf("open savepoint for assignment %s: %w", assignment.ID, err)
	}

	current, steps, events, err := s.process(ctx, sp, assignment, now)
	if err != nil {
		if rbErr := sp.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("roll back savepoint: %w", rbErr))
		}
		return current, steps, events, err
	}
	if err := sp.Commit(ctx); err != nil {
		return current, steps, events, fmt.Errorf("release savepoint for assignment %s: %w", assignment.ID, err)
	}
	return current, steps, events, nil
}

// process advances one assignment as far as now allows and returns its latest state.
func (s *AssignmentScheduler) process(ctx context.Context, tx port.ProfileTx, assignment domain.TemporaryAssignment, now time.Time) (domain.TemporaryAssignment, int, int, error) {
	current := assignment
	steps, events := 0, 0

	for i := 0; i < maxStepsPerSweep; i++ {
		origin := current.EffectiveState()
		next, changed := current.NextState(now)
		if !changed {
			break
		}

		status, err := domain.UpdateNotificationState(origin, next, current.NotificationStatus)
		if err != nil {
			return current, steps, events, fmt.Errorf("assignment %s: %w", current.ID, err)
		}

		batchID := s.newID()
		batch, err := s.buildBatch(ctx, tx, current, next.IsActive(), batchID, now)
		if err != nil {
			return current, steps, events, fmt.Errorf("create batch for assignment %s: %w", current.ID, err)
		}
		if err := s.batches.ExecuteBatch(ctx, batchID, batch); err != nil {
			return current, steps, events, fmt.Errorf("execute batch %s: %w", batchID, err)
		}

		current.State = next
		current.NotificationStatus = status
		current.LastErrorMessage = ""
		current.UpdatedAt = now
		if err := tx.SaveTemporaryAssignment(ctx, current); err != nil {
			return current, steps, events, fmt.Errorf("save assignment %s: %w", current.ID, err)
		}
		steps++
		events += len(batch)
	}
	return current, steps, events, nil
}

// buildBatch creates the trigger events for the profile, the target and every profile
// below the assigned profile, one per stream, plus client settings for container targets.
func (s *AssignmentScheduler) buildBatch(ctx context.Context, tx port.ProfileTx, assignment domain.TemporaryAssignment, active bool, batchID string, now time.Time) ([]domain.ResolvedEvent, error) {
	descendants, err := s.resolver.Descendants(ctx, tx, assignment.Profile())
	if err != nil {
		return nil, err
	}

	meta := domain.EventMetadata{
		CorrelationID:      assignment.ID,
		ProcessID:          batchID,
		BatchID:            batchID,
		Initiator:          domain.SystemInitiator(),
		VersionInformation: domain.EventVersion,
		Timestamp:          now,
	}

	targets := append([]domain.ObjectIdent{assignment.Profile(), assignment.Target()}, descendants...)
	batch := make([]domain.ResolvedEvent, 0, len(targets))
	byStream := make(map[string]int, len(targets))
	for _, target := range targets {
		eventMeta := meta
		eventMeta.EventID = s.newID()
		resolved := domain.ResolvedEvent{
			Target: target,
			Event: domain.AssignmentConditionTriggered{
				EventBase:        domain.EventBase{Meta: eventMeta},
				ProfileID:        assignment.ProfileID,
				TargetID:         assignment.TargetID,
				TargetObjectType: assignment.TargetType,
				IsActive:         active,
			},
		}
		if idx, ok := byStream[resolved.Stream()]; ok {
			batch[idx] = resolved
			continue
		}
		byStream[resolved.Stream()] = len(batch)
		batch = append(batch, resolved)
	}

	if assignment.TargetType.IsContainer() {
		affected := append(descendants, assignment.Profile())
		settings, err := s.resolver.CreateClientSettingsEvents(ctx, tx, affected, meta)
		if err != nil {
			return nil, err
		}
		batch = append(batch, settings...)
	}
	return batch, nil
}

// abort rolls back best effort; the original error is what the caller sees.
func (s *AssignmentScheduler) abort(ctx context.Context, tx port.ProfileTx) {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("sweep rollback failed", zap.Error(err))
	}
}
