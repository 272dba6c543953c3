package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
	"github.com/arklim/social-platform-profiles/internal/infra/security"
)

const (
	authorizationKey = "authorization"
	bearerPrefix     = "bearer "
)

// InitiatorParser maps a bearer token to the command initiator it names.
type InitiatorParser interface {
	Enabled() bool
	Parse(token string) (domain.Initiator, error)
}

// AuthOptions fine-tunes interceptor behaviour.
type AuthOptions struct {
	// AllowPrefixes lists full-method prefixes served without a token, e.g. "/grpc.health.v1.Health/".
	AllowPrefixes []string
	// Required rejects calls that carry no token at all.
	Required bool
	Logger   *zap.Logger
}

// AuthInterceptor reads the command initiator from bearer tokens in call metadata.
type AuthInterceptor struct {
	parser   InitiatorParser
	logger   *zap.Logger
	allow    []string
	required bool
}

// NewAuthInterceptor constructs a new AuthInterceptor instance.
func NewAuthInterceptor(parser InitiatorParser, opts AuthOptions) *AuthInterceptor {
	allow := make([]string, 0, len(opts.AllowPrefixes))
	for _, prefix := range opts.AllowPrefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			allow = append(allow, prefix)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthInterceptor{parser: parser, logger: logger, allow: allow, required: opts.Required}
}

// UnaryServerInterceptor returns a gRPC unary interceptor that attaches the initiator.
func (ai *AuthInterceptor) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if ai == nil || ai.parser == nil || !ai.parser.Enabled() || ai.allowed(info.FullMethod) {
			return handler(ctx, req)
		}

		token, err := tokenFromMetadata(ctx)
		if errors.Is(err, errNoToken) && !ai.required {
			return handler(ctx, req)
		}
		if err != nil {
			ai.logger.Warn("grpc authentication failed", zap.String("method", info.FullMethod), zap.Error(err))
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		initiator, err := ai.parser.Parse(token)
		if err != nil {
			ai.logger.Warn("grpc token validation failed", zap.String("method", info.FullMethod), zap.Error(err))
			if errors.Is(err, security.ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, "access token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "invalid access token")
		}

		return handler(WithInitiator(ctx, initiator), req)
	}
}

func (ai *AuthInterceptor) allowed(method string) bool {
	for _, prefix := range ai.allow {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

type initiatorContextKey struct{}

// WithInitiator returns a derived context carrying the verified initiator.
func WithInitiator(ctx context.Context, initiator domain.Initiator) context.Context {
	return context.WithValue(ctx, initiatorContextKey{}, initiator)
}

// InitiatorFromContext extracts the verified initiator when the call carried a token.
func InitiatorFromContext(ctx context.Context) (domain.Initiator, bool) {
	if ctx == nil {
		return domain.Initiator{}, false
	}
	initiator, ok := ctx.Value(initiatorContextKey{}).(domain.Initiator)
	return initiator, ok
}

var errNoToken = errors.New("authorization token required")

func tokenFromMetadata(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errNoToken
	}

	values := md.Get(authorizationKey)
	if len(values) == 0 || strings.TrimSpace(values[0]) == "" {
		return "", errNoToken
	}

	value := strings.TrimSpace(values[0])
	if len(value) < len(bearerPrefix) || !strings.HasPrefix(strings.ToLower(value), bearerPrefix) {
		return "", errors.New("invalid authorization header")
	}

	token := strings.TrimSpace(value[len(bearerPrefix):])
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}
