package handlers

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

// ErrorResponse represents a standard error payload.
type ErrorResponse struct {
	Error   string                   `json:"error"`
	TraceID string                   `json:"trace_id,omitempty"`
	Details []domain.ValidationError `json:"details,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// SubmitCommandRequest submits a command for asynchronous processing.
type SubmitCommandRequest struct {
	Command      domain.CommandKind `json:"command" binding:"required"`
	Data         json.RawMessage    `json:"data" binding:"required"`
	ID           string             `json:"id,omitempty" binding:"omitempty,max=128"`
	CollectingID string             `json:"collecting_id,omitempty" binding:"omitempty,max=128"`
	Initiator    *domain.Initiator  `json:"initiator,omitempty"`
}

// SubmitCommandResponse acknowledges an accepted command.
type SubmitCommandResponse struct {
	CorrelationID string `json:"correlation_id"`
}

// SagaResponse is the API view of a saga snapshot.
type SagaResponse struct {
	CorrelationID  string                   `json:"correlation_id"`
	State          string                   `json:"state"`
	Command        domain.CommandKind       `json:"command"`
	CommandID      string                   `json:"command_id"`
	CollectingID   string                   `json:"collecting_id,omitempty"`
	EntityID       string                   `json:"entity_id,omitempty"`
	Initiator      domain.Initiator         `json:"initiator"`
	Validation     *domain.ValidationResult `json:"validation,omitempty"`
	Exception      *domain.ExceptionInfo    `json:"exception,omitempty"`
	Version        int64                    `json:"version"`
	ExecutionRound int                      `json:"execution_round"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

func newSagaResponse(instance domain.SagaInstance) SagaResponse {
	return SagaResponse{
		CorrelationID:  instance.CorrelationID,
		State:          instance.CurrentState.String(),
		Command:        instance.Command,
		CommandID:      instance.CommandIdentifier.ID,
		CollectingID:   instance.CommandIdentifier.CollectingID,
		EntityID:       instance.EntityID,
		Initiator:      instance.Initiator,
		Validation:     instance.ValidationResult,
		Exception:      instance.Exception,
		Version:        instance.Version,
		ExecutionRound: instance.ExecutionRound,
		CreatedAt:      instance.CreatedAt,
		UpdatedAt:      instance.UpdatedAt,
	}
}

// SagaListQuery pages through in-flight sagas.
type SagaListQuery struct {
	Limit   int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset  int    `form:"offset" binding:"omitempty,min=0"`
	OrderBy string `form:"order_by" binding:"omitempty,oneof=created_at updated_at state"`
	Desc    bool   `form:"desc"`
}

// SagaListResponse is one page of sagas.
type SagaListResponse struct {
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Items  []SagaResponse `json:"items"`
}

// ValidationResponseRequest carries the aggregated answer of external validators.
type ValidationResponseRequest struct {
	CollectingID string                   `json:"collecting_id" binding:"required"`
	IsValid      *bool                    `json:"is_valid" binding:"required"`
	Errors       []domain.ValidationError `json:"errors,omitempty"`
}

// ProjectionReportRequest reports the outcome of a projection.
type ProjectionReportRequest struct {
	ID      string `json:"id" binding:"required"`
	Message string `json:"message,omitempty"`
}

// SweepResponse summarizes an assignment sweep.
type SweepResponse struct {
	Assignments int `json:"assignments"`
	Transitions int `json:"transitions"`
	Events      int `json:"events"`
	Failed      int `json:"failed"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness check results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
