package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// FirstLevelProjector applies published domain events to the profile store, writes the
// events they imply for related streams as one batch and reports the outcome to the saga.
type FirstLevelProjector struct {
	store    port.ProfileStore
	resolver *RelatedEventResolver
	batches  port.EventBatchExecutor
	reporter port.ProjectionReporter
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewFirstLevelProjector constructs the projector. reporter may be nil.
func NewFirstLevelProjector(store port.ProfileStore, resolver *RelatedEventResolver, batches port.EventBatchExecutor, reporter port.ProjectionReporter) *FirstLevelProjector {
	return &FirstLevelProjector{
		store:    store,
		resolver: resolver,
		batches:  batches,
		reporter: reporter,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithLogger attaches a structured logger.
func (p *FirstLevelProjector) WithLogger(logger *zap.Logger) *FirstLevelProjector {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithNow overrides the clock.
func (p *FirstLevelProjector) WithNow(now func() time.Time) *FirstLevelProjector {
	if now != nil {
		p.now = now
	}
	return p
}

// WithIDGenerator overrides batch and assignment id generation.
func (p *FirstLevelProjector) WithIDGenerator(newID func() string) *FirstLevelProjector {
	if newID != nil {
		p.newID = newID
	}
	return p
}

// Project handles one domain event. Projection errors are reported to the saga and
// swallowed; only cancellation and reporting failures are returned.
func (p *FirstLevelProjector) Project(ctx context.Context, event domain.ProfileEvent) error {
	correlationID := event.Metadata().CorrelationID
	err := p.apply(ctx, event)
	if err != nil && isCancellation(err) {
		return err
	}
	if p.reporter == nil || correlationID == "" {
		if err != nil {
			p.logger.Error("projection failed", zap.String("event_type", event.EventType()), zap.Error(err))
		}
		return nil
	}

	if err != nil {
		p.logger.Warn("projection failed",
			zap.String("correlation_id", correlationID),
			zap.String("event_type", event.EventType()),
			zap.Error(err),
		)
		if reportErr := p.reporter.ReportProjectionFailure(ctx, domain.CommandProjectionFailure{ID: correlationID, Message: err.Error()}); reportErr != nil {
			return fmt.Errorf("report projection failure: %w", reportErr)
		}
		return nil
	}
	if reportErr := p.reporter.ReportProjectionSuccess(ctx, domain.CommandProjectionSuccess{ID: correlationID}); reportErr != nil {
		return fmt.Errorf("report projection success: %w", reportErr)
	}
	return nil
}

func (p *FirstLevelProjector) apply(ctx context.Context, event domain.ProfileEvent) (err error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin profile tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				p.logger.Warn("profile tx rollback failed", zap.Error(rbErr))
			}
		}
	}()

	resolved, err := p.project(ctx, tx, event)
	if err != nil {
		return err
	}
	if len(resolved) > 0 {
		batchID := p.newID()
		if err = p.batches.ExecuteBatch(ctx, batchID, stampBatch(resolved, batchID)); err != nil {
			return fmt.Errorf("execute batch %s: %w", batchID, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit profile tx: %w", err)
	}
	return nil
}

func (p *FirstLevelProjector) project(ctx context.Context, tx port.ProfileTx, event domain.ProfileEvent) ([]domain.ResolvedEvent, error) {
	switch e := event.(type) {
	case domain.ProfileCreated:
		if err := tx.SaveProfile(ctx, e.Profile); err != nil {
			return nil, fmt.Errorf("save profile %s: %w", e.Profile.Ident(), err)
		}
		return nil, nil
	case domain.PropertiesChanged:
		return p.propertiesChanged(ctx, tx, e)
	case domain.FunctionChanged:
		if e.Context != domain.ContextSelf {
			return nil, nil
		}
		return p.resolver.CreateFunctionPropertiesChangedEvents(ctx, tx, e.Function.ID, e.FunctionContext, e.Properties, e.Meta)
	case domain.MemberAdded:
		return p.memberAdded(ctx, tx, e)
	case domain.MemberRemoved:
		if err := tx.RemoveEdge(ctx, e.Parent, e.Member); err != nil {
			return nil, fmt.Errorf("remove %s from %s: %w", e.Member, e.Parent, err)
		}
		return p.membershipEvents(ctx, tx, e.Member, e, e.Meta)
	case domain.ClientSettingsSet:
		if err := tx.SaveClientSettings(ctx, e.Profile, e.Settings); err != nil {
			return nil, fmt.Errorf("save client settings of %s: %w", e.Profile, err)
		}
		descendants, err := p.resolver.Descendants(ctx, tx, e.Profile)
		if err != nil {
			return nil, err
		}
		return p.resolver.CreateClientSettingsEvents(ctx, tx, append([]domain.ObjectIdent{e.Profile}, descendants...), e.Meta)
	default:
		p.logger.Debug("event has no first-level projection", zap.String("event_type", event.EventType()))
		return nil, nil
	}
}

func (p *FirstLevelProjector) propertiesChanged(ctx context.Context, tx port.ProfileTx, e domain.PropertiesChanged) ([]domain.ResolvedEvent, error) {
	var events []domain.ResolvedEvent

	switch {
	case e.ObjectType == domain.ObjectFunction:
		return p.resolver.CreateFunctionPropertiesChangedEvents(ctx, tx, e.ID, domain.FunctionContextSelf, e.Properties, e.Meta)
	case e.ObjectType.IsProfile():
		profile, err := tx.GetProfile(ctx, e.Object())
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", e.Object(), err)
		}
		profile.Properties = mergeProperties(profile.Properties, e.Properties)
		profile.UpdatedAt = p.now().UTC()
		if err := tx.SaveProfile(ctx, *profile); err != nil {
			return nil, fmt.Errorf("save profile %s: %w", e.Object(), err)
		}
		related, err := p.resolver.CreateRelatedEvents(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		events = append(events, related...)
	}

	var functionContext domain.FunctionContext
	switch e.ObjectType {
	case domain.ObjectRole:
		functionContext = domain.FunctionContextRole
	case domain.ObjectOrganization:
		functionContext = domain.FunctionContextOrganization
	default:
		return events, nil
	}

	functionIDs, err := p.resolver.LinkedFunctions(ctx, tx, e.Object())
	if err != nil {
		return nil, err
	}
	for _, id := range functionIDs {
		functionEvents, err := p.resolver.CreateFunctionPropertiesChangedEvents(ctx, tx, id, functionContext, e.Properties, e.Meta)
		if err != nil {
			return nil, err
		}
		events = append(events, functionEvents...)
	}
	return events, nil
}

func (p *FirstLevelProjector) memberAdded(ctx context.Context, tx port.ProfileTx, e domain.MemberAdded) ([]domain.ResolvedEvent, error) {
	edge := domain.TreeEdgeRelation{Parent: e.Parent, Child: e.Member, Conditions: e.Conditions}
	if err := tx.AddEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("add %s to %s: %w", e.Member, e.Parent, err)
	}

	if domain.HasTimeWindow(e.Conditions) {
		assignment := p.temporaryAssignment(e)
		if err := tx.SaveTemporaryAssignment(ctx, assignment); err != nil {
			return nil, fmt.Errorf("save temporary assignment %s: %w", assignment.ID, err)
		}
	}
	return p.membershipEvents(ctx, tx, e.Member, e, e.Meta)
}

func (p *FirstLevelProjector) temporaryAssignment(e domain.MemberAdded) domain.TemporaryAssignment {
	var window domain.RangeCondition
	for _, c := range e.Conditions {
		if !c.IsTrivial() {
			window = c
			break
		}
	}
	return domain.TemporaryAssignment{
		ID:                 p.newID(),
		ProfileID:          e.Member.ID,
		ProfileType:        e.Member.Type,
		TargetID:           e.Parent.ID,
		TargetType:         e.Parent.Type,
		State:              domain.AssignmentNotProcessed,
		NotificationStatus: domain.NotificationNotSent,
		Start:              window.Start,
		End:                window.End,
		UpdatedAt:          p.now().UTC(),
	}
}

// membershipEvents copies the membership change onto the member's stream and recalculates
// client settings for the member and everything below it.
func (p *FirstLevelProjector) membershipEvents(ctx context.Context, tx port.ProfileTx, member domain.ObjectIdent, event domain.ProfileEvent, meta domain.EventMetadata) ([]domain.ResolvedEvent, error) {
	copied := meta
	copied.EventID = p.newID()
	events := []domain.ResolvedEvent{{Target: member, Event: domain.WithMetadata(event, copied)}}

	descendants, err := p.resolver.Descendants(ctx, tx, member)
	if err != nil {
		return nil, err
	}
	settings, err := p.resolver.CreateClientSettingsEvents(ctx, tx, append([]domain.ObjectIdent{member}, descendants...), meta)
	if err != nil {
		return nil, err
	}
	return append(events, settings...), nil
}

func stampBatch(events []domain.ResolvedEvent, batchID string) []domain.ResolvedEvent {
	out := make([]domain.ResolvedEvent, len(events))
	for i, ev := range events {
		meta := ev.Event.Metadata()
		meta.BatchID = batchID
		out[i] = domain.ResolvedEvent{Target: ev.Target, Event: domain.WithMetadata(ev.Event, meta)}
	}
	return out
}

func mergeProperties(current, changes map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(changes))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range changes {
		merged[k] = v
	}
	return merged
}
