package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
)

// FunctionGraph is what function propagation needs from a profile transaction.
type FunctionGraph interface {
	port.RelationReader
	port.FunctionRepository
}

// ClientSettingsGraph is what client-settings propagation needs from a profile transaction.
type ClientSettingsGraph interface {
	port.RelationReader
	ClientSettingsOf(ctx context.Context, profile domain.ObjectIdent) ([]domain.ClientSetting, error)
}

// RelatedEventResolver computes the events a change implies for the objects related to it.
// It only reads the graph; edges are evaluated at the resolver's clock.
type RelatedEventResolver struct {
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewRelatedEventResolver constructs a resolver.
func NewRelatedEventResolver() *RelatedEventResolver {
	return &RelatedEventResolver{
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// WithLogger attaches a structured logger.
func (r *RelatedEventResolver) WithLogger(logger *zap.Logger) *RelatedEventResolver {
	if logger != nil {
		r.logger = logger
	}
	return r
}

// WithNow overrides the clock used to evaluate edge conditions.
func (r *RelatedEventResolver) WithNow(now func() time.Time) *RelatedEventResolver {
	if now != nil {
		r.now = now
	}
	return r
}

// WithIDGenerator overrides event id generation.
func (r *RelatedEventResolver) WithIDGenerator(newID func() string) *RelatedEventResolver {
	if newID != nil {
		r.newID = newID
	}
	return r
}

// ResolveContext tells which part of the related object's projection a change of the
// reference object affects. fallback is kept for organization relations without a mapping.
func (r *RelatedEventResolver) ResolveContext(reference domain.ObjectType, related domain.RelatedObject, fallback domain.PropertiesChangedContext) (domain.PropertiesChangedContext, error) {
	switch reference {
	case domain.ObjectGroup:
		return groupContext(related)
	case domain.ObjectUser:
		return userContext(related)
	case domain.ObjectOrganization:
		return organizationContext(related, fallback), nil
	default:
		return domain.ContextNone, fmt.Errorf("%w: reference %s", domain.ErrUnmappedRelation, reference)
	}
}

func groupContext(related domain.RelatedObject) (domain.PropertiesChangedContext, error) {
	if related.Relation == domain.RelationIndirectMember {
		return domain.ContextIndirectMember, nil
	}
	switch related.Object.Type {
	case domain.ObjectGroup, domain.ObjectOrganization:
		switch related.Relation {
		case domain.RelationMemberOf:
			return domain.ContextMembers, nil
		case domain.RelationMember:
			return domain.ContextMemberOf, nil
		}
	case domain.ObjectUser:
		return domain.ContextMemberOf, nil
	case domain.ObjectFunction, domain.ObjectRole:
		return domain.ContextLinkedProfiles, nil
	}
	return domain.ContextNone, fmt.Errorf("%w: group reference, %s related by %s", domain.ErrUnmappedRelation, related.Object.Type, related.Relation)
}

func userContext(related domain.RelatedObject) (domain.PropertiesChangedContext, error) {
	switch related.Object.Type {
	case domain.ObjectGroup, domain.ObjectOrganization:
		return domain.ContextMembers, nil
	case domain.ObjectFunction, domain.ObjectRole:
		return domain.ContextLinkedProfiles, nil
	}
	return domain.ContextNone, fmt.Errorf("%w: user reference, %s related by %s", domain.ErrUnmappedRelation, related.Object.Type, related.Relation)
}

func organizationContext(related domain.RelatedObject, fallback domain.PropertiesChangedContext) domain.PropertiesChangedContext {
	switch related.Relation {
	case domain.RelationMemberOf:
		return domain.ContextMembers
	case domain.RelationMember:
		return domain.ContextMemberOf
	default:
		return fallback
	}
}

// RelatedObjects lists the neighbours of reference through edges active now: parents as
// MemberOf, children as Member, functions and roles as Linked, and non-direct descendants
// of a container as IndirectMember.
func (r *RelatedEventResolver) RelatedObjects(ctx context.Context, graph port.RelationReader, reference domain.ObjectIdent) ([]domain.RelatedObject, error) {
	at := r.now()
	seen := map[domain.ObjectIdent]struct{}{reference: {}}
	var related []domain.RelatedObject

	parents, err := graph.ParentsOf(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load parents of %s: %w", reference, err)
	}
	for _, edge := range parents {
		if !edge.ActiveAt(at) {
			continue
		}
		if _, ok := seen[edge.Parent]; ok {
			continue
		}
		seen[edge.Parent] = struct{}{}
		relation := domain.RelationMemberOf
		if isLinkable(edge.Parent.Type) {
			relation = domain.RelationLinked
		}
		related = append(related, domain.RelatedObject{Object: edge.Parent, Relation: relation})
	}

	children, err := graph.ChildrenOf(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("load children of %s: %w", reference, err)
	}
	var frontier []domain.ObjectIdent
	for _, edge := range children {
		if !edge.ActiveAt(at) {
			continue
		}
		if _, ok := seen[edge.Child]; ok {
			continue
		}
		seen[edge.Child] = struct{}{}
		relation := domain.RelationMember
		if isLinkable(edge.Child.Type) {
			relation = domain.RelationLinked
		} else if edge.Child.Type.IsContainer() {
			frontier = append(frontier, edge.Child)
		}
		related = append(related, domain.RelatedObject{Object: edge.Child, Relation: relation})
	}

	if !reference.Type.IsContainer() {
		return related, nil
	}

	for len(frontier) > 0 {
		var next []domain.ObjectIdent
		for _, node := range frontier {
			edges, err := graph.ChildrenOf(ctx, node)
			if err != nil {
				return nil, fmt.Errorf("load children of %s: %w", node, err)
			}
			for _, edge := range edges {
				if !edge.ActiveAt(at) || !edge.Child.Type.IsProfile() {
					continue
				}
				if _, ok := seen[edge.Child]; ok {
					continue
				}
				seen[edge.Child] = struct{}{}
				related = append(related, domain.RelatedObject{Object: edge.Child, Relation: domain.RelationIndirectMember})
				if edge.Child.Type.IsContainer() {
					next = append(next, edge.Child)
				}
			}
		}
		frontier = next
	}
	return related, nil
}

// CreateRelatedEvents copies a property change onto the stream of every related object,
// tagged with the context the related object sees it in.
func (r *RelatedEventResolver) CreateRelatedEvents(ctx context.Context, graph port.RelationReader, changed domain.PropertiesChanged) ([]domain.ResolvedEvent, error) {
	related, err := r.RelatedObjects(ctx, graph, changed.Object())
	if err != nil {
		return nil, err
	}

	events := make([]domain.ResolvedEvent, 0, len(related))
	for _, rel := range related {
		relatedContext, err := r.ResolveContext(changed.ObjectType, rel, domain.ContextNone)
		if err != nil {
			return nil, fmt.Errorf("resolve context of %s for %s: %w", rel.Object, changed.Object(), err)
		}
		if relatedContext == domain.ContextNone {
			r.logger.Debug("related object without context skipped",
				zap.String("reference", changed.Object().String()),
				zap.String("related", rel.Object.String()),
				zap.String("relation", string(rel.Relation)),
			)
			continue
		}
		events = append(events, domain.ResolvedEvent{
			Target: rel.Object,
			Event: domain.PropertiesChanged{
				EventBase:      domain.EventBase{Meta: r.derive(changed.Meta)},
				ID:             changed.ID,
				ObjectType:     changed.ObjectType,
				Properties:     changed.Properties,
				RelatedContext: relatedContext,
			},
		})
	}
	return events, nil
}

// Descendants returns every profile below root through edges active now, breadth first.
func (r *RelatedEventResolver) Descendants(ctx context.Context, graph port.RelationReader, root domain.ObjectIdent) ([]domain.ObjectIdent, error) {
	at := r.now()
	seen := map[domain.ObjectIdent]struct{}{root: {}}
	frontier := []domain.ObjectIdent{root}
	var out []domain.ObjectIdent

	for len(frontier) > 0 {
		var next []domain.ObjectIdent
		for _, node := range frontier {
			edges, err := graph.ChildrenOf(ctx, node)
			if err != nil {
				return nil, fmt.Errorf("load children of %s: %w", node, err)
			}
			for _, edge := range edges {
				if !edge.ActiveAt(at) || !edge.Child.Type.IsProfile() {
					continue
				}
				if _, ok := seen[edge.Child]; ok {
					continue
				}
				seen[edge.Child] = struct{}{}
				out = append(out, edge.Child)
				next = append(next, edge.Child)
			}
		}
		frontier = next
	}
	return out, nil
}

type functionHolders struct {
	direct   []domain.ObjectIdent
	indirect []domain.ObjectIdent
}

func (r *RelatedEventResolver) functionHolders(ctx context.Context, graph port.RelationReader, function domain.ObjectIdent) (functionHolders, error) {
	at := r.now()
	edges, err := graph.ChildrenOf(ctx, function)
	if err != nil {
		return functionHolders{}, fmt.Errorf("load holders of %s: %w", function, err)
	}

	var holders functionHolders
	seen := map[domain.ObjectIdent]struct{}{function: {}}
	for _, edge := range edges {
		if !edge.ActiveAt(at) || !edge.Child.Type.IsProfile() {
			continue
		}
		if _, ok := seen[edge.Child]; ok {
			continue
		}
		seen[edge.Child] = struct{}{}
		holders.direct = append(holders.direct, edge.Child)
	}

	for _, holder := range holders.direct {
		if !holder.Type.IsContainer() {
			continue
		}
		descendants, err := r.Descendants(ctx, graph, holder)
		if err != nil {
			return functionHolders{}, err
		}
		for _, d := range descendants {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			holders.indirect = append(holders.indirect, d)
		}
	}
	return holders, nil
}

// CreateFunctionPropertiesChangedEvents applies a change to the selected part of a function,
// stores the function and notifies its holders. The function's own event is always created;
// when the holders cannot be loaded the fan-out degrades to no holders.
func (r *RelatedEventResolver) CreateFunctionPropertiesChangedEvents(ctx context.Context, graph FunctionGraph, functionID string, functionContext domain.FunctionContext, properties map[string]any, meta domain.EventMetadata) ([]domain.ResolvedEvent, error) {
	function, err := graph.GetFunction(ctx, functionID)
	if err != nil {
		return nil, fmt.Errorf("load function %s: %w", functionID, err)
	}
	updated, err := function.ApplyProperties(functionContext, properties)
	if err != nil {
		return nil, err
	}
	updated.UpdatedAt = r.now().UTC()
	if err := graph.SaveFunction(ctx, updated); err != nil {
		return nil, fmt.Errorf("save function %s: %w", functionID, err)
	}

	ownContext := domain.ContextSelf
	if functionContext != domain.FunctionContextSelf {
		ownContext = domain.ContextLinkedProfiles
	}
	events := []domain.ResolvedEvent{{
		Target: updated.Ident(),
		Event: domain.PropertiesChanged{
			EventBase:      domain.EventBase{Meta: r.derive(meta)},
			ID:             updated.ID,
			ObjectType:     domain.ObjectFunction,
			Properties:     properties,
			RelatedContext: ownContext,
		},
	}}

	holders := Try(r.functionHolders(ctx, graph, updated.Ident()))
	if holders.Canceled() {
		return nil, holders.Err()
	}
	if err := holders.Err(); err != nil {
		r.logger.Warn("function holders unavailable, skipping fan-out",
			zap.String("function_id", functionID),
			zap.Error(err),
		)
	}
	resolved := holders.ValueOr(functionHolders{})

	appendChanged := func(target domain.ObjectIdent, changedContext domain.PropertiesChangedContext) {
		events = append(events, domain.ResolvedEvent{
			Target: target,
			Event: domain.FunctionChanged{
				EventBase:       domain.EventBase{Meta: r.derive(meta)},
				Function:        updated,
				FunctionContext: functionContext,
				Context:         changedContext,
				Properties:      properties,
			},
		})
	}
	for _, holder := range resolved.direct {
		appendChanged(holder, domain.ContextSecurityAssignments)
	}
	for _, holder := range resolved.indirect {
		appendChanged(holder, domain.ContextIndirectMember)
	}
	return events, nil
}

// LinkedFunctions lists the functions attached to a role or organization through active edges.
func (r *RelatedEventResolver) LinkedFunctions(ctx context.Context, graph port.RelationReader, owner domain.ObjectIdent) ([]string, error) {
	at := r.now()
	edges, err := graph.ChildrenOf(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load functions of %s: %w", owner, err)
	}
	var ids []string
	for _, edge := range edges {
		if edge.Child.Type == domain.ObjectFunction && edge.ActiveAt(at) {
			ids = append(ids, edge.Child.ID)
		}
	}
	return ids, nil
}

// EffectiveClientSettings merges the settings of a profile and its container ancestors;
// the nearest definition of a key wins. The result is sorted by key.
func (r *RelatedEventResolver) EffectiveClientSettings(ctx context.Context, graph ClientSettingsGraph, profile domain.ObjectIdent) ([]domain.ClientSetting, error) {
	at := r.now()
	effective := make(map[string]string)
	seen := map[domain.ObjectIdent]struct{}{profile: {}}
	frontier := []domain.ObjectIdent{profile}

	for len(frontier) > 0 {
		var next []domain.ObjectIdent
		for _, node := range frontier {
			if node.Type.IsContainer() {
				settings, err := graph.ClientSettingsOf(ctx, node)
				if err != nil {
					return nil, fmt.Errorf("load client settings of %s: %w", node, err)
				}
				for _, s := range settings {
					if _, ok := effective[s.Key]; !ok {
						effective[s.Key] = s.Value
					}
				}
			}
			edges, err := graph.ParentsOf(ctx, node)
			if err != nil {
				return nil, fmt.Errorf("load parents of %s: %w", node, err)
			}
			for _, edge := range edges {
				if !edge.ActiveAt(at) || !edge.Parent.Type.IsContainer() {
					continue
				}
				if _, ok := seen[edge.Parent]; ok {
					continue
				}
				seen[edge.Parent] = struct{}{}
				next = append(next, edge.Parent)
			}
		}
		frontier = next
	}

	out := make([]domain.ClientSetting, 0, len(effective))
	for key, value := range effective {
		out = append(out, domain.ClientSetting{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// CreateClientSettingsEvents emits, per profile, one Calculated event for every effective
// setting followed by one Invalidated event listing exactly those keys.
func (r *RelatedEventResolver) CreateClientSettingsEvents(ctx context.Context, graph ClientSettingsGraph, profiles []domain.ObjectIdent, meta domain.EventMetadata) ([]domain.ResolvedEvent, error) {
	var events []domain.ResolvedEvent
	seen := make(map[domain.ObjectIdent]struct{}, len(profiles))

	for _, profile := range profiles {
		if !profile.Type.IsProfile() {
			continue
		}
		if _, ok := seen[profile]; ok {
			continue
		}
		seen[profile] = struct{}{}

		settings, err := r.EffectiveClientSettings(ctx, graph, profile)
		if err != nil {
			return nil, err
		}

		keys := make([]string, 0, len(settings))
		for _, s := range settings {
			keys = append(keys, s.Key)
			events = append(events, domain.ResolvedEvent{
				Target: profile,
				Event: domain.ClientSettingsCalculated{
					EventBase: domain.EventBase{Meta: r.derive(meta)},
					ProfileID: profile.ID,
					Profile:   profile,
					Key:       s.Key,
					Value:     s.Value,
				},
			})
		}
		events = append(events, domain.ResolvedEvent{
			Target: profile,
			Event: domain.ClientSettingsInvalidated{
				EventBase: domain.EventBase{Meta: r.derive(meta)},
				ProfileID: profile.ID,
				Profile:   profile,
				Keys:      keys,
			},
		})
	}
	return events, nil
}

func (r *RelatedEventResolver) derive(meta domain.EventMetadata) domain.EventMetadata {
	meta.EventID = r.newID()
	if meta.VersionInformation == 0 {
		meta.VersionInformation = domain.EventVersion
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = r.now().UTC()
	}
	return meta
}

func isLinkable(t domain.ObjectType) bool {
	return t == domain.ObjectFunction || t == domain.ObjectRole
}
