package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-profiles/internal/usecase"
)

// AssignmentSweeper runs one temporary assignment sweep.
type AssignmentSweeper interface {
	Sweep(ctx context.Context) (usecase.SweepResult, error)
}

// AssignmentHandler lets operators trigger a sweep outside the schedule.
type AssignmentHandler struct {
	sweeper AssignmentSweeper
}

// NewAssignmentHandler constructs an assignment handler.
func NewAssignmentHandler(sweeper AssignmentSweeper) *AssignmentHandler {
	return &AssignmentHandler{sweeper: sweeper}
}

// RegisterRoutes binds assignment routes to the provided router group.
func (h *AssignmentHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}
	r.POST("/assignments/sweep", h.Sweep)
}

// Sweep godoc
// @Summary Run a temporary assignment sweep
// @Tags Assignments
// @Produce json
// @Success 200 {object} SweepResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/assignments/sweep [post]
func (h *AssignmentHandler) Sweep(c *gin.Context) {
	result, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		RespondWithMappedError(c, err, []ErrorCase{
			{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "sweep timed out"},
		}, http.StatusInternalServerError, "assignment sweep failed")
		return
	}
	c.JSON(http.StatusOK, SweepResponse{
		Assignments: result.Assignments,
		Transitions: result.Transitions,
		Events:      result.Events,
		Failed:      result.Failed,
	})
}
