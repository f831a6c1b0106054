package authz

import (
	"context"

	"github.com/google/uuid"
)

// Principal is the already-authenticated identity every relay operation
// assumes: the user plus the device the token was minted for.
type Principal struct {
	UserID   uuid.UUID
	DeviceID uuid.UUID
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// TokenValidator verifies a bearer token and extracts the principal. Both the
// HTTP middleware and the WebSocket handshake go through it.
type TokenValidator interface {
	Validate(token string) (Principal, error)
}
