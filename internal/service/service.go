package service

import (
	"context"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"

	"github.com/google/uuid"
)

// Relationships is the external collaborator that knows whether two users are
// in an established mutual relationship. The friend-invite workflow that
// maintains it lives outside this subsystem.
type Relationships interface {
	AreConnected(ctx context.Context, a, b uuid.UUID) (bool, error)
}

// RelationshipsFunc adapts a plain function to the Relationships interface.
type RelationshipsFunc func(ctx context.Context, a, b uuid.UUID) (bool, error)

func (f RelationshipsFunc) AreConnected(ctx context.Context, a, b uuid.UUID) (bool, error) {
	return f(ctx, a, b)
}

// AllowAll accepts every user pair. Deployments without a friend graph wire
// this in.
var AllowAll = RelationshipsFunc(func(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return true, nil
})

type Service struct {
	store         *store.Store
	relationships Relationships
	now           func() time.Time
}

func New(st *store.Store, rel Relationships) *Service {
	if rel == nil {
		rel = AllowAll
	}
	return &Service{store: st, relationships: rel, now: time.Now}
}
