package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"

	"github.com/google/uuid"
)

type SendInput struct {
	ConversationID uuid.UUID
	SenderUserID   uuid.UUID
	SenderDeviceID uuid.UUID
	Ciphertext     string
	Nonce          string
	SequenceIndex  *int64
}

// Send persists one ciphertext record after verifying the caller is a current
// participant and the sending device is the caller's own and not revoked.
// The device id travels to recipients as their key-agreement hint, so a
// foreign device id would poison their decryption. Unauthorized sends leave
// no partial state. The ciphertext and nonce stay opaque; the server checks
// only their presence.
func (s *Service) Send(ctx context.Context, in SendInput) (*domain.Message, error) {
	if in.ConversationID == uuid.Nil || in.SenderUserID == uuid.Nil || in.SenderDeviceID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing ids", ErrInvalidRequest)
	}
	if in.Ciphertext == "" {
		return nil, fmt.Errorf("%w: empty ciphertext", ErrInvalidRequest)
	}

	ok, err := s.store.Conversations().IsParticipant(ctx, in.ConversationID, in.SenderUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", ErrNotAuthorized, in.ConversationID)
	}

	device, err := s.store.Devices().Get(ctx, in.SenderDeviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: unknown sender device", ErrNotAuthorized)
		}
		return nil, err
	}
	if device.UserID != in.SenderUserID {
		return nil, fmt.Errorf("%w: device belongs to another user", ErrNotAuthorized)
	}
	if device.Revoked() {
		return nil, fmt.Errorf("%w: device %s", ErrDeviceRevoked, device.ID)
	}

	msg := &domain.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		SenderUserID:   in.SenderUserID,
		SenderDeviceID: in.SenderDeviceID,
		Ciphertext:     in.Ciphertext,
		Nonce:          in.Nonce,
		SequenceIndex:  in.SequenceIndex,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Service) ListMessages(ctx context.Context, callerID, convID uuid.UUID, limit int, before time.Time) ([]domain.Message, error) {
	ok, err := s.store.Conversations().IsParticipant(ctx, convID, callerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", ErrNotAuthorized, convID)
	}
	return s.store.Messages().ListByConversation(ctx, convID, limit, before)
}

func (s *Service) MarkDelivered(ctx context.Context, callerID, messageID uuid.UUID) error {
	if _, err := s.authorizeReceipt(ctx, callerID, messageID); err != nil {
		return err
	}
	return s.store.Messages().MarkDelivered(ctx, messageID, s.now().UTC())
}

// MarkRead stamps the message read (and delivered, if it was not yet) and
// returns the stored row so its readAt can be broadcast to all participants.
func (s *Service) MarkRead(ctx context.Context, callerID, messageID uuid.UUID) (*domain.Message, error) {
	if _, err := s.authorizeReceipt(ctx, callerID, messageID); err != nil {
		return nil, err
	}
	return s.store.Messages().MarkRead(ctx, messageID, s.now().UTC())
}

// DeleteMessages drops every message in the conversation and reports how many
// went. Only participants may do it.
func (s *Service) DeleteMessages(ctx context.Context, callerID, convID uuid.UUID) (int64, error) {
	ok, err := s.store.Conversations().IsParticipant(ctx, convID, callerID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: not a participant of conversation %s", ErrNotAuthorized, convID)
	}
	return s.store.Messages().DeleteByConversation(ctx, convID)
}

func (s *Service) authorizeReceipt(ctx context.Context, callerID, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.store.Messages().Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: message %s", ErrNotFound, messageID)
		}
		return nil, err
	}
	ok, err := s.store.Conversations().IsParticipant(ctx, msg.ConversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: not a participant of conversation %s", ErrNotAuthorized, msg.ConversationID)
	}
	return msg, nil
}
