package domain

import (
	"errors"
	"fmt"
	"time"
)

// ObjectType enumerates the kinds of nodes in the profile graph.
type ObjectType string

const (
	ObjectUser         ObjectType = "User"
	ObjectGroup        ObjectType = "Group"
	ObjectOrganization ObjectType = "Organization"
	ObjectRole         ObjectType = "Role"
	ObjectFunction     ObjectType = "Function"
)

// IsContainer reports whether the object type can have members and client settings.
func (t ObjectType) IsContainer() bool {
	return t == ObjectGroup || t == ObjectOrganization
}

// IsProfile reports whether the object type is a profile (user, group or organization).
func (t ObjectType) IsProfile() bool {
	return t == ObjectUser || t.IsContainer()
}

// ParseObjectType validates an object type name.
func ParseObjectType(value string) (ObjectType, error) {
	switch t := ObjectType(value); t {
	case ObjectUser, ObjectGroup, ObjectOrganization, ObjectRole, ObjectFunction:
		return t, nil
	default:
		return "", fmt.Errorf("unknown object type %q", value)
	}
}

// ObjectIdent identifies a node in the profile graph.
type ObjectIdent struct {
	ID   string     `json:"id"`
	Type ObjectType `json:"type"`
}

func (o ObjectIdent) String() string {
	return fmt.Sprintf("%s/%s", o.Type, o.ID)
}

// Stream returns the name of the event stream that belongs to the object.
func (o ObjectIdent) Stream() string {
	return fmt.Sprintf("%s-%s", o.Type, o.ID)
}

// RangeCondition bounds a relation in time. A nil bound is open.
type RangeCondition struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Contains reports whether at lies inside the range; Start is inclusive and End exclusive.
func (r RangeCondition) Contains(at time.Time) bool {
	if r.Start != nil && at.Before(*r.Start) {
		return false
	}
	if r.End != nil && !at.Before(*r.End) {
		return false
	}
	return true
}

// IsTrivial reports whether the range is unbounded on both sides.
func (r RangeCondition) IsTrivial() bool {
	return r.Start == nil && r.End == nil
}

// TreeEdgeRelation links a parent to a child (the child is a member of the parent).
type TreeEdgeRelation struct {
	Parent     ObjectIdent      `json:"parent"`
	Child      ObjectIdent      `json:"child"`
	Conditions []RangeCondition `json:"conditions,omitempty"`
}

// ActiveAt reports whether any condition of the relation holds at the given time.
// A relation without conditions is always active.
func (e TreeEdgeRelation) ActiveAt(at time.Time) bool {
	if len(e.Conditions) == 0 {
		return true
	}
	for _, c := range e.Conditions {
		if c.Contains(at) {
			return true
		}
	}
	return false
}

// RelationKind describes how a reference object relates to a related object.
type RelationKind string

const (
	// RelationMember: the related object is a direct member of the reference.
	RelationMember RelationKind = "Member"
	// RelationMemberOf: the reference is a direct member of the related object.
	RelationMemberOf RelationKind = "MemberOf"
	// RelationIndirectMember: the related object is a transitive, non-direct member of the reference.
	RelationIndirectMember RelationKind = "IndirectMember"
	// RelationLinked: the related object is a function or role linked to the reference.
	RelationLinked RelationKind = "Linked"
)

// RelatedObject is a neighbour of a reference object together with its relation.
type RelatedObject struct {
	Object   ObjectIdent  `json:"object"`
	Relation RelationKind `json:"relation"`
}

// PropertiesChangedContext tells a consumer which part of its projection a change applies to.
type PropertiesChangedContext string

const (
	ContextNone                PropertiesChangedContext = ""
	ContextSelf                PropertiesChangedContext = "Self"
	ContextMembers             PropertiesChangedContext = "Members"
	ContextMemberOf            PropertiesChangedContext = "MemberOf"
	ContextIndirectMember      PropertiesChangedContext = "IndirectMember"
	ContextLinkedProfiles      PropertiesChangedContext = "LinkedProfiles"
	ContextSecurityAssignments PropertiesChangedContext = "SecurityAssignments"
)

// ErrUnmappedRelation is returned when a relation cannot be translated into a context.
var ErrUnmappedRelation = errors.New("unmapped relation")

// FunctionContext selects which part of a function aggregate a change applies to.
type FunctionContext string

const (
	FunctionContextSelf         FunctionContext = "Self"
	FunctionContextRole         FunctionContext = "Role"
	FunctionContextOrganization FunctionContext = "Organization"
)

// FunctionPart is an embedded copy of a role or organization inside a function.
type FunctionPart struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Function is the aggregate of a role bound to an organization.
type Function struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Properties   map[string]any `json:"properties,omitempty"`
	Role         FunctionPart   `json:"role"`
	Organization FunctionPart   `json:"organization"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Ident returns the graph identity of the function.
func (f Function) Ident() ObjectIdent {
	return ObjectIdent{ID: f.ID, Type: ObjectFunction}
}

// ApplyProperties returns a copy of the function with properties merged into the selected part.
func (f Function) ApplyProperties(context FunctionContext, properties map[string]any) (Function, error) {
	switch context {
	case FunctionContextSelf:
		f.Properties = mergeProperties(f.Properties, properties)
	case FunctionContextRole:
		f.Role.Properties = mergeProperties(f.Role.Properties, properties)
	case FunctionContextOrganization:
		f.Organization.Properties = mergeProperties(f.Organization.Properties, properties)
	default:
		return f, fmt.Errorf("unknown function context %q", context)
	}
	return f, nil
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

// ClientSetting is one effective key/value setting of a profile.
type ClientSetting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Profile is the minimal first-level view of a user, group or organization.
type Profile struct {
	ID         string         `json:"id"`
	Type       ObjectType     `json:"type"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Ident returns the graph identity of the profile.
func (p Profile) Ident() ObjectIdent {
	return ObjectIdent{ID: p.ID, Type: p.Type}
}
