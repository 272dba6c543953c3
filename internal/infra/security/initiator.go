package security

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/social-platform-profiles/internal/core/domain"
)

var (
	// ErrTokenExpired indicates the bearer token is past its expiry.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrInvalidToken covers every other verification failure.
	ErrInvalidToken = errors.New("jwt: invalid token")
)

// InitiatorClaims are the bearer token claims that identify who issued a command.
type InitiatorClaims struct {
	Name          string `json:"name,omitempty"`
	InitiatorType string `json:"initiator_type,omitempty"`
	jwt.RegisteredClaims
}

// InitiatorTokens verifies HS256 tokens and maps them to command initiators.
type InitiatorTokens struct {
	secret []byte
	issuer string
}

// NewInitiatorTokens constructs a verifier. issuer is only checked when set.
func NewInitiatorTokens(secret, issuer string) *InitiatorTokens {
	return &InitiatorTokens{secret: []byte(secret), issuer: issuer}
}

// Enabled reports whether a verification secret is configured.
func (t *InitiatorTokens) Enabled() bool {
	return t != nil && len(t.secret) > 0
}

// Parse validates token and returns the initiator it names.
func (t *InitiatorTokens) Parse(token string) (domain.Initiator, error) {
	if !t.Enabled() {
		return domain.Initiator{}, fmt.Errorf("%w: no verification secret configured", ErrInvalidToken)
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	var claims InitiatorClaims
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return domain.Initiator{}, ErrTokenExpired
		}
		return domain.Initiator{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return domain.Initiator{}, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	kind := domain.InitiatorType(claims.InitiatorType)
	switch kind {
	case domain.InitiatorUser, domain.InitiatorSystem, domain.InitiatorSync:
	default:
		kind = domain.InitiatorUser
	}
	return domain.Initiator{ID: claims.Subject, Name: claims.Name, Type: kind}, nil
}

// Sign issues a token for initiator. Used by tooling and tests.
func (t *InitiatorTokens) Sign(initiator domain.Initiator, claims jwt.RegisteredClaims) (string, error) {
	if !t.Enabled() {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}
	claims.Subject = initiator.ID
	if claims.Issuer == "" {
		claims.Issuer = t.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, InitiatorClaims{
		Name:             initiator.Name,
		InitiatorType:    string(initiator.Type),
		RegisteredClaims: claims,
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
