package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "pinabook/internal/errors"
	"pinabook/internal/models"
)

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID string      `json:"user_id"`
	Role   models.Role `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == models.RoleAdmin }

type ctxKey struct{}

func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity attached by the authentication middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// Authenticator resolves a bearer token to an Identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens whose subject is the user ID and
// whose "role" claim is one of affiliate, customer or admin.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

func NewJWTAuthenticator(secret, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), issuer: issuer}
}

func (a *JWTAuthenticator) Authenticate(ctx context.Context, raw string) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Identity{}, apperrors.Unauthorized("missing bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var c claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return Identity{}, apperrors.Unauthorized("invalid token")
	}

	role := models.Role(c.Role)
	if c.Subject == "" || !role.Valid() {
		return Identity{}, apperrors.Unauthorized("invalid claims")
	}
	return Identity{UserID: c.Subject, Role: role}, nil
}

// Issue signs a token for id. Used by the CLI and tests.
func (a *JWTAuthenticator) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	c := claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
