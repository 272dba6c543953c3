package port

import (
	"context"
	"encoding/json"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// CommandService knows the shape of one command kind's payload.
type CommandService interface {
	// Decode turns the serialized payload into the service's typed payload.
	Decode(data json.RawMessage) (any, error)
	// Encode serializes a payload previously returned by Decode or Modify.
	Encode(payload any) (json.RawMessage, error)
	// Modify normalizes the payload before validation, e.g. assigns a new entity id.
	Modify(ctx context.Context, payload any) (any, error)
	Validate(ctx context.Context, payload any, initiator domain.Initiator) (domain.ValidationResult, error)
	// Create materializes the domain event for a validated payload.
	Create(ctx context.Context, payload any, correlationID, processID string, initiator domain.Initiator) (domain.ProfileEvent, error)
}

// CommandServiceFactory resolves a fresh command service per command kind.
type CommandServiceFactory interface {
	CreateCommandService(kind domain.CommandKind) (CommandService, error)
}
