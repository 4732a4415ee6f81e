// Package auth resolves the caller's identity and role once per request and
// carries it through context. Business code never re-derives roles from
// tokens; it only checks the Context value handed to it.
package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleMedico     Role = "medico"
	RoleEnfermera  Role = "enfermera"
	RoleSecretaria Role = "secretaria"
	RoleNone       Role = "none"
)

var (
	ErrUnauthenticated = errors.New("no authenticated user")
	ErrUnauthorized    = errors.New("insufficient role for this operation")
)

// Context is the identity attached to a request. Zero value means
// unauthenticated.
type Context struct {
	UserID uuid.UUID
	Role   Role
}

func (c Context) Authenticated() bool {
	return c.UserID != uuid.Nil && c.Role != "" && c.Role != RoleNone
}

// Require returns ErrUnauthenticated if there is no identity, or
// ErrUnauthorized if the caller's role is not in allowed.
func (c Context) Require(allowed ...Role) error {
	if !c.Authenticated() {
		return ErrUnauthenticated
	}
	for _, role := range allowed {
		if c.Role == role {
			return nil
		}
	}
	return ErrUnauthorized
}

type contextKey struct{}

func WithContext(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext returns the request identity, or a zero Context when the
// request never passed through the auth middleware.
func FromContext(ctx context.Context) Context {
	ac, _ := ctx.Value(contextKey{}).(Context)
	return ac
}

// ParseRole validates a role claim from a token.
func ParseRole(raw string) (Role, bool) {
	switch Role(raw) {
	case RoleAdmin, RoleMedico, RoleEnfermera, RoleSecretaria:
		return Role(raw), true
	default:
		return RoleNone, false
	}
}
