package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventVersion is the fixed schema version written into every event's metadata.
const EventVersion = 1

// ErrPublisherNotFound indicates no publisher is registered for an event type.
var ErrPublisherNotFound = errors.New("event publisher not found")

// EventMetadata is shared by all profile events.
type EventMetadata struct {
	EventID            string    `json:"event_id"`
	CorrelationID      string    `json:"correlation_id,omitempty"`
	ProcessID          string    `json:"process_id,omitempty"`
	BatchID            string    `json:"batch_id,omitempty"`
	Initiator          Initiator `json:"initiator"`
	VersionInformation int       `json:"version_information"`
	Timestamp          time.Time `json:"timestamp"`
}

// ProfileEvent is implemented by every event produced for the profile event store.
type ProfileEvent interface {
	EventType() string
	Metadata() EventMetadata
}

// EventBase carries metadata for concrete events.
type EventBase struct {
	Meta EventMetadata `json:"metadata"`
}

// Metadata implements ProfileEvent.
func (b EventBase) Metadata() EventMetadata {
	return b.Meta
}

// Event type names.
const (
	EventProfileCreated               = "ProfileCreated"
	EventPropertiesChanged            = "PropertiesChanged"
	EventFunctionChanged              = "FunctionChanged"
	EventMemberAdded                  = "MemberAdded"
	EventMemberRemoved                = "MemberRemoved"
	EventClientSettingsCalculated     = "ClientSettingsCalculated"
	EventClientSettingsInvalidated    = "ClientSettingsInvalidated"
	EventAssignmentConditionTriggered = "AssignmentConditionTriggered"
	EventClientSettingsSet            = "ClientSettingsSet"
)

// ProfileCreated is emitted when a user, group or organization is created.
type ProfileCreated struct {
	EventBase
	Profile Profile `json:"profile"`
}

func (ProfileCreated) EventType() string { return EventProfileCreated }

// PropertiesChanged carries changed properties of an entity. RelatedContext is set on the
// derived copies written to related streams.
type PropertiesChanged struct {
	EventBase
	ID             string                   `json:"id"`
	ObjectType     ObjectType               `json:"object_type"`
	Properties     map[string]any           `json:"properties"`
	RelatedContext PropertiesChangedContext `json:"related_context,omitempty"`
}

func (PropertiesChanged) EventType() string { return EventPropertiesChanged }

// Object returns the identity of the changed entity.
func (e PropertiesChanged) Object() ObjectIdent {
	return ObjectIdent{ID: e.ID, Type: e.ObjectType}
}

// FunctionChanged notifies a function holder that the function changed.
type FunctionChanged struct {
	EventBase
	Function        Function                 `json:"function"`
	FunctionContext FunctionContext          `json:"function_context"`
	Context         PropertiesChangedContext `json:"context"`
	Properties      map[string]any           `json:"properties,omitempty"`
}

func (FunctionChanged) EventType() string { return EventFunctionChanged }

// MemberAdded links a member to a container, optionally bounded by conditions.
type MemberAdded struct {
	EventBase
	Parent     ObjectIdent      `json:"parent"`
	Member     ObjectIdent      `json:"member"`
	Conditions []RangeCondition `json:"conditions,omitempty"`
}

func (MemberAdded) EventType() string { return EventMemberAdded }

// MemberRemoved removes a member from a container.
type MemberRemoved struct {
	EventBase
	Parent ObjectIdent `json:"parent"`
	Member ObjectIdent `json:"member"`
}

func (MemberRemoved) EventType() string { return EventMemberRemoved }

// ClientSettingsCalculated carries one effective client setting of a profile.
type ClientSettingsCalculated struct {
	EventBase
	ProfileID string      `json:"profile_id"`
	Profile   ObjectIdent `json:"profile"`
	Key       string      `json:"key"`
	Value     string      `json:"value"`
}

func (ClientSettingsCalculated) EventType() string { return EventClientSettingsCalculated }

// ClientSettingsInvalidated lists the keys that remain valid; all other keys are superseded.
type ClientSettingsInvalidated struct {
	EventBase
	ProfileID string      `json:"profile_id"`
	Profile   ObjectIdent `json:"profile"`
	Keys      []string    `json:"keys"`
}

func (ClientSettingsInvalidated) EventType() string { return EventClientSettingsInvalidated }

// AssignmentConditionTriggered announces activation or deactivation of a temporary assignment.
type AssignmentConditionTriggered struct {
	EventBase
	ProfileID        string     `json:"profile_id"`
	TargetID         string     `json:"target_id"`
	TargetObjectType ObjectType `json:"target_object_type"`
	IsActive         bool       `json:"is_active"`
}

func (AssignmentConditionTriggered) EventType() string { return EventAssignmentConditionTriggered }

// ClientSettingsSet replaces the client settings defined directly on a container profile.
type ClientSettingsSet struct {
	EventBase
	Profile  ObjectIdent     `json:"profile"`
	Settings []ClientSetting `json:"settings"`
}

func (ClientSettingsSet) EventType() string { return EventClientSettingsSet }

// PrimaryStream returns the stream a command-produced event belongs to.
func PrimaryStream(event ProfileEvent) ObjectIdent {
	switch e := event.(type) {
	case ProfileCreated:
		return e.Profile.Ident()
	case PropertiesChanged:
		return e.Object()
	case FunctionChanged:
		return e.Function.Ident()
	case MemberAdded:
		return e.Parent
	case MemberRemoved:
		return e.Parent
	case ClientSettingsCalculated:
		return e.Profile
	case ClientSettingsInvalidated:
		return e.Profile
	case ClientSettingsSet:
		return e.Profile
	default:
		return ObjectIdent{ID: event.Metadata().CorrelationID, Type: ObjectType(event.EventType())}
	}
}

// ResolvedEvent is an event addressed to a specific stream.
type ResolvedEvent struct {
	Target ObjectIdent
	Event  ProfileEvent
}

// Stream returns the target stream name.
func (r ResolvedEvent) Stream() string {
	return r.Target.Stream()
}

// EventEnvelope is the serialized form of a profile event.
type EventEnvelope struct {
	Type     string          `json:"type"`
	Metadata EventMetadata   `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

// EncodeEvent serializes an event into an envelope.
func EncodeEvent(event ProfileEvent) (EventEnvelope, error) {
	if event == nil {
		return EventEnvelope{}, fmt.Errorf("event is nil")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s: %w", event.EventType(), err)
	}
	return EventEnvelope{Type: event.EventType(), Metadata: event.Metadata(), Payload: payload}, nil
}

// RawEvent is a decoded envelope that still carries its payload as JSON.
// It satisfies ProfileEvent so outbox replays can reuse the regular publishers.
type RawEvent struct {
	Type    string
	Meta    EventMetadata
	Payload json.RawMessage
}

func (e RawEvent) EventType() string { return e.Type }

func (e RawEvent) Metadata() EventMetadata { return e.Meta }

// MarshalJSON emits the original payload unchanged.
func (e RawEvent) MarshalJSON() ([]byte, error) {
	if len(e.Payload) == 0 {
		return []byte("null"), nil
	}
	return e.Payload, nil
}

// Raw turns the envelope back into a publishable event.
func (e EventEnvelope) Raw() RawEvent {
	return RawEvent{Type: e.Type, Meta: e.Metadata, Payload: e.Payload}
}

// DecodeEvent restores a concrete event from an envelope; unknown types stay raw.
func DecodeEvent(envelope EventEnvelope) (ProfileEvent, error) {
	var target ProfileEvent
	switch envelope.Type {
	case EventProfileCreated:
		target = &ProfileCreated{}
	case EventPropertiesChanged:
		target = &PropertiesChanged{}
	case EventFunctionChanged:
		target = &FunctionChanged{}
	case EventMemberAdded:
		target = &MemberAdded{}
	case EventMemberRemoved:
		target = &MemberRemoved{}
	case EventClientSettingsCalculated:
		target = &ClientSettingsCalculated{}
	case EventClientSettingsInvalidated:
		target = &ClientSettingsInvalidated{}
	case EventAssignmentConditionTriggered:
		target = &AssignmentConditionTriggered{}
	case EventClientSettingsSet:
		target = &ClientSettingsSet{}
	default:
		return envelope.Raw(), nil
	}
	if err := json.Unmarshal(envelope.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
	}
	return derefEvent(target), nil
}

func derefEvent(event ProfileEvent) ProfileEvent {
	switch e := event.(type) {
	case *ProfileCreated:
		return *e
	case *PropertiesChanged:
		return *e
	case *FunctionChanged:
		return *e
	case *MemberAdded:
		return *e
	case *MemberRemoved:
		return *e
	case *ClientSettingsCalculated:
		return *e
	case *ClientSettingsInvalidated:
		return *e
	case *AssignmentConditionTriggered:
		return *e
	case *ClientSettingsSet:
		return *e
	default:
		return event
	}
}

// WithMetadata returns a copy of the event carrying the given metadata.
func WithMetadata(event ProfileEvent, meta EventMetadata) ProfileEvent {
	switch e := event.(type) {
	case ProfileCreated:
		e.Meta = meta
		return e
	case PropertiesChanged:
		e.Meta = meta
		return e
	case FunctionChanged:
		e.Meta = meta
		return e
	case MemberAdded:
		e.Meta = meta
		return e
	case MemberRemoved:
		e.Meta = meta
		return e
	case ClientSettingsCalculated:
		e.Meta = meta
		return e
	case ClientSettingsInvalidated:
		e.Meta = meta
		return e
	case ClientSettingsSet:
		e.Meta = meta
		return e
	case AssignmentConditionTriggered:
		e.Meta = meta
		return e
	case RawEvent:
		e.Meta = meta
		return e
	default:
		return event
	}
}

// NewMetadata builds event metadata for a command-produced event.
func NewMetadata(eventID, correlationID, processID string, initiator Initiator, at time.Time) EventMetadata {
	return EventMetadata{
		EventID:            eventID,
		CorrelationID:      correlationID,
		ProcessID:          processID,
		Initiator:          initiator,
		VersionInformation: EventVersion,
		Timestamp:          at.UTC(),
	}
}
