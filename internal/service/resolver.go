package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"

	"github.com/google/uuid"
)

type ResolveInput struct {
	SelfUserID   uuid.UUID
	SelfDeviceID uuid.UUID
	PeerUserID   uuid.UUID
	PeerDeviceID *uuid.UUID
}

// Resolve finds or creates the unique conversation scoped to the unordered
// device pair {self, peer} between the two users. When the peer device is
// unknown, an existing open conversation (null target) for the user pair is
// reused; otherwise a new open one is created. The created flag tells the
// caller whether a newConversation broadcast is due.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*domain.Conversation, bool, error) {
	if in.SelfUserID == uuid.Nil || in.SelfDeviceID == uuid.Nil || in.PeerUserID == uuid.Nil {
		return nil, false, fmt.Errorf("%w: missing ids", ErrInvalidRequest)
	}
	if in.SelfUserID == in.PeerUserID {
		return nil, false, fmt.Errorf("%w: cannot converse with self", ErrInvalidRequest)
	}

	ok, err := s.relationships.AreConnected(ctx, in.SelfUserID, in.PeerUserID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: users are not connected", ErrNotAuthorized)
	}

	convs := s.store.Conversations()

	if in.PeerDeviceID != nil {
		key := domain.PairKey(in.SelfUserID, in.PeerUserID, in.SelfDeviceID, in.PeerDeviceID)
		conv, err := convs.GetByPairKey(ctx, key)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, false, err
		}
	}

	// An open conversation is never device-restricted and keeps serving the
	// user pair until a device-specific one supersedes it.
	if open, err := convs.FindOpenForUsers(ctx, in.SelfUserID, in.PeerUserID); err == nil {
		return open, false, nil
	} else if !errors.Is(err, store.ErrRecordNotFound) {
		return nil, false, err
	}

	selfDevice := in.SelfDeviceID
	conv := &domain.Conversation{
		ID:                uuid.New(),
		CreatedByDeviceID: &selfDevice,
		TargetDeviceID:    in.PeerDeviceID,
		UserAID:           in.SelfUserID,
		UserBID:           in.PeerUserID,
		PairKey:           domain.PairKey(in.SelfUserID, in.PeerUserID, in.SelfDeviceID, in.PeerDeviceID),
	}

	var inserted bool
	err = s.store.WithTx(ctx, func(tx *store.Store) error {
		var err error
		inserted, err = tx.Conversations().Create(ctx, conv)
		if err != nil || !inserted {
			return err
		}
		return tx.Conversations().AddParticipants(ctx, conv.ID, []uuid.UUID{in.SelfUserID, in.PeerUserID})
	})
	if err != nil {
		return nil, false, err
	}

	// A racing create from the other side collapses onto one row; whoever lost
	// the insert reads the winner back by pair key.
	stored, err := convs.GetByPairKey(ctx, conv.PairKey)
	if err != nil {
		return nil, false, err
	}
	return stored, inserted && stored.ID == conv.ID, nil
}

func (s *Service) GetConversation(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.store.Conversations().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
		}
		return nil, err
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidRequest
	}
	return s.store.Conversations().ListForUser(ctx, userID)
}
