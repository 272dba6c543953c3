package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SagaState is the persisted position of a command in the processing state machine.
type SagaState int

const (
	SagaInitial SagaState = iota
	SagaSubmitted
	SagaInternalValidated
	SagaValidationSucceeded
	SagaExecuted
	SagaRejected
	SagaSuccess
)

var sagaStateNames = [...]string{
	SagaInitial:             "Initial",
	SagaSubmitted:           "Submitted",
	SagaInternalValidated:   "InternalValidated",
	SagaValidationSucceeded: "ValidationSucceeded",
	SagaExecuted:            "Executed",
	SagaRejected:            "Rejected",
	SagaSuccess:             "Success",
}

func (s SagaState) String() string {
	if s < 0 || int(s) >= len(sagaStateNames) {
		return fmt.Sprintf("SagaState(%d)", int(s))
	}
	return sagaStateNames[s]
}

// IsTerminal reports whether the state finalizes the saga.
func (s SagaState) IsTerminal() bool {
	return s == SagaRejected || s == SagaSuccess
}

// ParseSagaState resolves a state from its name.
func ParseSagaState(name string) (SagaState, error) {
	for i, n := range sagaStateNames {
		if n == name {
			return SagaState(i), nil
		}
	}
	return SagaInitial, fmt.Errorf("unknown saga state %q", name)
}

// SagaInstance is an immutable snapshot of one in-flight command.
// The With* helpers return modified copies.
type SagaInstance struct {
	CorrelationID     string            `json:"correlation_id"`
	CurrentState      SagaState         `json:"current_state"`
	Command           CommandKind       `json:"command"`
	Data              json.RawMessage   `json:"data,omitempty"`
	CommandIdentifier CommandIdentifier `json:"command_identifier"`
	EntityID          string            `json:"entity_id,omitempty"`
	ValidationResult  *ValidationResult `json:"validation_result,omitempty"`
	Initiator         Initiator         `json:"initiator"`
	Exception         *ExceptionInfo    `json:"exception,omitempty"`
	Version           int64             `json:"version"`
	ExecutionRound    int               `json:"execution_round"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// TransitionTo moves the snapshot to the given state and bumps the version.
func (s SagaInstance) TransitionTo(state SagaState, at time.Time) SagaInstance {
	s.CurrentState = state
	s.Version++
	s.UpdatedAt = at
	return s
}

// WithValidation records a validation result on a copy of the snapshot.
func (s SagaInstance) WithValidation(result ValidationResult) SagaInstance {
	copied := result
	copied.Errors = append([]ValidationError(nil), result.Errors...)
	s.ValidationResult = &copied
	return s
}

// WithException records the fatal error on a copy of the snapshot.
func (s SagaInstance) WithException(info ExceptionInfo) SagaInstance {
	s.Exception = &info
	return s
}

// WithData replaces the serialized payload on a copy of the snapshot.
func (s SagaInstance) WithData(data json.RawMessage) SagaInstance {
	s.Data = append(json.RawMessage(nil), data...)
	return s
}

// IsFinalized reports whether the saga reached a terminal state.
func (s SagaInstance) IsFinalized() bool {
	return s.CurrentState.IsTerminal()
}

// ValidationErrors returns the recorded validation errors, never nil once validation started.
func (s SagaInstance) ValidationErrors() []ValidationError {
	if s.ValidationResult == nil {
		return nil
	}
	return s.ValidationResult.Errors
}

// EffectKind enumerates outbound side effects of a saga transition.
type EffectKind string

const (
	EffectPublishEvent      EffectKind = "publish_event"
	EffectTriggerValidation EffectKind = "trigger_validation"
	EffectNotifySuccess     EffectKind = "notify_success"
	EffectNotifyFailure     EffectKind = "notify_failure"
)

// Effect is a side effect persisted to the outbox together with the snapshot that produced it
// and dispatched only after the snapshot was committed.
type Effect struct {
	ID            string          `json:"id"`
	Kind          EffectKind      `json:"kind"`
	CorrelationID string          `json:"correlation_id"`
	Command       CommandKind     `json:"command"`
	EventType     string          `json:"event_type,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PublishRequest is the outbox payload of a publish_event effect.
type PublishRequest struct {
	Event   EventEnvelope  `json:"event"`
	Context PublishContext `json:"context"`
	Round   int            `json:"round"`
}

// Fingerprint identifies the effect for exactly-once dispatch.
func (e Effect) Fingerprint() string {
	return e.ID
}
