package domain

import "encoding/json"

// SubmitCommand starts a new command saga.
type SubmitCommand struct {
	Command   CommandKind       `json:"command"`
	Data      json.RawMessage   `json:"data"`
	Initiator Initiator         `json:"initiator"`
	ID        CommandIdentifier `json:"id"`
}

// ValidateCommand asks an external validator to check a payload.
type ValidateCommand struct {
	Command      CommandKind     `json:"command"`
	Data         json.RawMessage `json:"data"`
	Initiator    Initiator       `json:"initiator"`
	CollectingID string          `json:"collecting_id"`
}

// ValidationTriggered is published when a command needs external validation.
// CollectingID is the saga's correlation id so validators can answer the right saga.
type ValidationTriggered struct {
	CollectingID string          `json:"collecting_id"`
	Command      CommandKind     `json:"command"`
	Data         json.RawMessage `json:"data"`
	Initiator    Initiator       `json:"initiator"`
}

// ValidationCompositeResponse is the aggregated answer of external validators.
type ValidationCompositeResponse struct {
	CollectingID string            `json:"collecting_id"`
	IsValid      bool              `json:"is_valid"`
	Errors       []ValidationError `json:"errors,omitempty"`
}

// Result converts the response to a validation result.
func (r ValidationCompositeResponse) Result() ValidationResult {
	return ValidationResult{IsValid: r.IsValid, Errors: append([]ValidationError(nil), r.Errors...)}
}

// CommandProjectionSuccess is reported by the projection subsystem after it applied an event.
type CommandProjectionSuccess struct {
	ID string `json:"id"`
}

// CommandProjectionFailure is reported when a projection could not apply an event.
type CommandProjectionFailure struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// SubmitCommandSuccess is the terminal answer for a processed command.
type SubmitCommandSuccess struct {
	Command      CommandKind `json:"command"`
	CommandID    string      `json:"command_id"`
	CollectingID string      `json:"collecting_id,omitempty"`
	EntityID     string      `json:"entity_id,omitempty"`
}

// SubmitCommandFailure is the terminal answer for a rejected command.
type SubmitCommandFailure struct {
	Command      CommandKind       `json:"command"`
	CommandID    string            `json:"command_id"`
	CollectingID string            `json:"collecting_id,omitempty"`
	Message      string            `json:"message,omitempty"`
	Errors       []ValidationError `json:"errors,omitempty"`
	Exception    *ExceptionInfo    `json:"exception,omitempty"`
}

// PublishContext accompanies every domain event handed to an event publisher.
type PublishContext struct {
	CommandName  CommandKind `json:"command_name"`
	CommandID    string      `json:"command_id"`
	CollectingID string      `json:"collecting_id,omitempty"`
}
