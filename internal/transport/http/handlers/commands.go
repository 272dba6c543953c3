package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/core/port"
	"github.com/arklim/social-platform-profiles/internal/repository"
	"github.com/arklim/social-platform-profiles/internal/transport/http/middleware"
	"github.com/arklim/social-platform-profiles/internal/usecase"
)

const defaultSagaPageSize = 50

// CommandService is the saga surface the HTTP layer drives.
type CommandService interface {
	Submit(ctx context.Context, msg domain.SubmitCommand) (string, error)
	HandleValidationResponse(ctx context.Context, msg domain.ValidationCompositeResponse) error
	HandleProjectionSuccess(ctx context.Context, msg domain.CommandProjectionSuccess) error
	HandleProjectionFailure(ctx context.Context, msg domain.CommandProjectionFailure) error
	ListSagas(ctx context.Context, query port.SagaQuery) (int, []domain.SagaInstance, error)
	GetSaga(ctx context.Context, correlationID string) (*domain.SagaInstance, error)
}

var commandErrorCases = []ErrorCase{
	{Err: usecase.ErrSagaIDRequired, Status: http.StatusBadRequest, Message: "correlation id is required"},
	{Err: repository.ErrNotFound, Status: http.StatusNotFound, Message: "saga not found"},
	{Err: context.DeadlineExceeded, Status: http.StatusGatewayTimeout, Message: "request timed out"},
}

// CommandHandler accepts commands and exposes saga state.
type CommandHandler struct {
	commands CommandService
}

// NewCommandHandler constructs a command handler.
func NewCommandHandler(commands CommandService) *CommandHandler {
	return &CommandHandler{commands: commands}
}

// RegisterRoutes binds command and saga routes to the provided router group.
func (h *CommandHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/commands", h.SubmitCommand)
	r.GET("/sagas", h.ListSagas)
	r.GET("/sagas/:id", h.GetSaga)
	r.POST("/validation/responses", h.ValidationResponse)
	r.POST("/projections/success", h.ProjectionSuccess)
	r.POST("/projections/failure", h.ProjectionFailure)
}

// SubmitCommand godoc
// @Summary Submit a command
// @Description Starts a command saga. The outcome is published asynchronously.
// @Tags Commands
// @Accept json
// @Produce json
// @Param request body SubmitCommandRequest true "Command"
// @Success 202 {object} SubmitCommandResponse
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/commands [post]
func (h *CommandHandler) SubmitCommand(c *gin.Context) {
	var req SubmitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}
	if strings.TrimSpace(string(req.Command)) == "" {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "command is required"))
		return
	}
	middleware.SetCommandLabel(c, string(req.Command))

	msg := domain.SubmitCommand{
		Command: req.Command,
		Data:    req.Data,
		ID:      domain.CommandIdentifier{ID: req.ID, CollectingID: req.CollectingID},
	}
	if req.Initiator != nil {
		msg.Initiator = *req.Initiator
	}
	// a verified token always wins over the initiator in the body
	if initiator, ok := middleware.GetInitiator(c); ok {
		msg.Initiator = initiator
	}

	id, err := h.commands.Submit(c.Request.Context(), msg)
	if err != nil && id == "" {
		_ = c.Error(err)
		RespondWithMappedError(c, err, commandErrorCases, http.StatusInternalServerError, "failed to submit command")
		return
	}
	if err != nil {
		// the saga is stored; the outbox relay retries the dispatch
		_ = c.Error(err)
	}
	c.JSON(http.StatusAccepted, SubmitCommandResponse{CorrelationID: id})
}

// ListSagas godoc
// @Summary List in-flight sagas
// @Tags Sagas
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Param order_by query string false "created_at, updated_at or state"
// @Param desc query bool false "Descending order"
// @Success 200 {object} SagaListResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/sagas [get]
func (h *CommandHandler) ListSagas(c *gin.Context) {
	var query SagaListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid query parameters"))
		return
	}
	if query.Limit == 0 {
		query.Limit = defaultSagaPageSize
	}

	total, items, err := h.commands.ListSagas(c.Request.Context(), port.SagaQuery{
		Limit:   query.Limit,
		Offset:  query.Offset,
		OrderBy: query.OrderBy,
		Desc:    query.Desc,
	})
	if err != nil {
		_ = c.Error(err)
		RespondWithMappedError(c, err, commandErrorCases, http.StatusInternalServerError, "failed to list sagas")
		return
	}

	resp := SagaListResponse{Total: total, Limit: query.Limit, Offset: query.Offset, Items: make([]SagaResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, newSagaResponse(item))
	}
	c.JSON(http.StatusOK, resp)
}

// GetSaga godoc
// @Summary Get one saga
// @Tags Sagas
// @Produce json
// @Param id path string true "Correlation id"
// @Success 200 {object} SagaResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sagas/{id} [get]
func (h *CommandHandler) GetSaga(c *gin.Context) {
	instance, err := h.commands.GetSaga(c.Request.Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			_ = c.Error(err)
		}
		RespondWithMappedError(c, err, commandErrorCases, http.StatusInternalServerError, "failed to load saga")
		return
	}
	c.JSON(http.StatusOK, newSagaResponse(*instance))
}

// ValidationResponse godoc
// @Summary Deliver an external validation result
// @Tags Commands
// @Accept json
// @Param request body ValidationResponseRequest true "Validation result"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/validation/responses [post]
func (h *CommandHandler) ValidationResponse(c *gin.Context) {
	var req ValidationResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}

	err := h.commands.HandleValidationResponse(c.Request.Context(), domain.ValidationCompositeResponse{
		CollectingID: req.CollectingID,
		IsValid:      *req.IsValid,
		Errors:       req.Errors,
	})
	h.accepted(c, err, "failed to apply validation response")
}

// ProjectionSuccess godoc
// @Summary Report a successful projection
// @Tags Commands
// @Accept json
// @Param request body ProjectionReportRequest true "Projection report"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/projections/success [post]
func (h *CommandHandler) ProjectionSuccess(c *gin.Context) {
	var req ProjectionReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}
	err := h.commands.HandleProjectionSuccess(c.Request.Context(), domain.CommandProjectionSuccess{ID: req.ID})
	h.accepted(c, err, "failed to apply projection report")
}

// ProjectionFailure godoc
// @Summary Report a failed projection
// @Tags Commands
// @Accept json
// @Param request body ProjectionReportRequest true "Projection report"
// @Success 202
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/projections/failure [post]
func (h *CommandHandler) ProjectionFailure(c *gin.Context) {
	var req ProjectionReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid request payload"))
		return
	}
	err := h.commands.HandleProjectionFailure(c.Request.Context(), domain.CommandProjectionFailure{ID: req.ID, Message: req.Message})
	h.accepted(c, err, "failed to apply projection report")
}

func (h *CommandHandler) accepted(c *gin.Context, err error, fallback string) {
	if err != nil {
		_ = c.Error(err)
		RespondWithMappedError(c, err, commandErrorCases, http.StatusInternalServerError, fallback)
		return
	}
	c.Status(http.StatusAccepted)
}
