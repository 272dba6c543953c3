package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CommandKind is the discriminator used to look up the command service for a payload.
type CommandKind string

// Built-in command kinds.
const (
	CommandCreateUser               CommandKind = "CreateUser"
	CommandChangeProfileProperties  CommandKind = "ChangeProfileProperties"
	CommandChangeFunctionProperties CommandKind = "ChangeFunctionProperties"
	CommandAddMember                CommandKind = "AddMember"
	CommandRemoveMember             CommandKind = "RemoveMember"
	CommandSetClientSettings        CommandKind = "SetClientSettings"
)

func (k CommandKind) String() string {
	return string(k)
}

var (
	// ErrCommandServiceNotRegistered indicates no command service could be resolved for a command kind.
	ErrCommandServiceNotRegistered = errors.New("command service not registered")
	// ErrInvalidPayload indicates the serialized command payload could not be decoded.
	ErrInvalidPayload = errors.New("invalid command payload")
)

// CommandIdentifier carries the command id and the id grouping commands issued by one user action.
type CommandIdentifier struct {
	ID           string `json:"id"`
	CollectingID string `json:"collecting_id,omitempty"`
}

// InitiatorType describes what issued a command.
type InitiatorType string

const (
	InitiatorUnknown InitiatorType = "unknown"
	InitiatorUser    InitiatorType = "user"
	InitiatorSystem  InitiatorType = "system"
	InitiatorSync    InitiatorType = "sync"
)

// Initiator is carried into the metadata of every event a command produces.
type Initiator struct {
	ID   string        `json:"id,omitempty"`
	Name string        `json:"name,omitempty"`
	Type InitiatorType `json:"type"`
}

// SystemInitiator is used for work the service starts on its own, such as assignment sweeps.
func SystemInitiator() Initiator {
	return Initiator{ID: "system", Name: "profile-service", Type: InitiatorSystem}
}

// ValidationError describes a single failed rule.
type ValidationError struct {
	Member  string `json:"member,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.Member == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Member, e.Message)
}

// ValidationResult is the outcome of a validation step.
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// Valid returns a successful validation result.
func Valid() ValidationResult {
	return ValidationResult{IsValid: true}
}

// Invalid builds a failed validation result from the supplied errors.
func Invalid(errs ...ValidationError) ValidationResult {
	return ValidationResult{IsValid: false, Errors: errs}
}

// InvalidMessages builds a failed validation result from plain messages.
func InvalidMessages(messages ...string) ValidationResult {
	errs := make([]ValidationError, 0, len(messages))
	for _, msg := range messages {
		errs = append(errs, ValidationError{Message: msg})
	}
	return Invalid(errs...)
}

// Messages returns the error messages in order.
func (r ValidationResult) Messages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

// Summary joins all validation messages into a single line.
func (r ValidationResult) Summary() string {
	if r.IsValid {
		return ""
	}
	msgs := r.Messages()
	if len(msgs) == 0 {
		return "validation failed"
	}
	return strings.Join(msgs, "; ")
}

// ExceptionInfo records the last fatal error of a saga.
type ExceptionInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// CreateModelPayload is implemented by payloads that create a new entity and know its id.
type CreateModelPayload interface {
	CreatedEntityID() string
}

// RawPayload is an opaque serialized command payload.
type RawPayload = json.RawMessage
