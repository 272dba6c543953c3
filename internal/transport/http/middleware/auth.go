package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/infra/config"
	"github.com/arklim/social-platform-profiles/internal/infra/security"
)

const initiatorKey = "initiator"

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// InitiatorAuth reads the command initiator from HS256 bearer tokens.
type InitiatorAuth struct {
	tokens   *security.InitiatorTokens
	required bool
}

// NewInitiatorAuth builds the middleware helper. Without a secret tokens are ignored.
func NewInitiatorAuth(cfg config.AuthSettings) *InitiatorAuth {
	return &InitiatorAuth{tokens: security.NewInitiatorTokens(cfg.JWTSecret, cfg.Issuer), required: cfg.Required}
}

// Handler stores the initiator on the gin context. Requests without a token pass unless
// authentication is required; invalid tokens are always rejected.
func (a *InitiatorAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil || !a.tokens.Enabled() {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if a.required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing authorization header"))
				return
			}
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid authorization format: expected 'Bearer <token>'"))
			return
		}

		initiator, err := a.tokens.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			message := "invalid access token"
			if errors.Is(err, security.ErrTokenExpired) {
				message = "access token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, message))
			return
		}

		c.Set(initiatorKey, initiator)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.InitiatorID = initiator.ID
		}
		c.Next()
	}
}

// GetInitiator returns the initiator stored by InitiatorAuth.
func GetInitiator(c *gin.Context) (domain.Initiator, bool) {
	value, exists := c.Get(initiatorKey)
	if !exists {
		return domain.Initiator{}, false
	}
	initiator, ok := value.(domain.Initiator)
	return initiator, ok
}
