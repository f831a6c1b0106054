package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"

	"github.com/google/uuid"
)

type chatFixture struct {
	svc      *service.Service
	alice    uuid.UUID
	bob      uuid.UUID
	aliceDev uuid.UUID
	bobDev   uuid.UUID
	conv     *domain.Conversation
}

func setupChat(t *testing.T) chatFixture {
	t.Helper()
	svc := setupService(t)
	f := chatFixture{
		svc:   svc,
		alice: uuid.New(),
		bob:   uuid.New(),
	}
	f.aliceDev = registerDevice(t, svc, f.alice)
	f.bobDev = registerDevice(t, svc, f.bob)

	conv, _, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID:   f.alice,
		SelfDeviceID: f.aliceDev,
		PeerUserID:   f.bob,
		PeerDeviceID: &f.bobDev,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	f.conv = conv
	return f
}

func (f chatFixture) send(t *testing.T, body string) *domain.Message {
	t.Helper()
	msg, err := f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   f.alice,
		SenderDeviceID: f.aliceDev,
		Ciphertext:     body,
		Nonce:          "bm9uY2U=",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	return msg
}

func TestSendAndList(t *testing.T) {
	f := setupChat(t)

	for i := 0; i < 3; i++ {
		f.send(t, fmt.Sprintf("ct-%d", i))
	}

	msgs, err := f.svc.ListMessages(context.Background(), f.bob, f.conv.ID, 10, time.Time{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	// Newest first.
	if msgs[0].Ciphertext != "ct-2" {
		t.Fatalf("expected newest message first, got %s", msgs[0].Ciphertext)
	}
}

func TestSendValidation(t *testing.T) {
	f := setupChat(t)

	_, err := f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   f.alice,
		SenderDeviceID: f.aliceDev,
	})
	if !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty ciphertext, got %v", err)
	}

	outsider := uuid.New()
	outsiderDev := registerDevice(t, f.svc, outsider)
	_, err = f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   outsider,
		SenderDeviceID: outsiderDev,
		Ciphertext:     "ct",
	})
	if !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for non-participant, got %v", err)
	}
}

func TestSendWithForeignDevice(t *testing.T) {
	f := setupChat(t)

	// Alice is a participant, but names bob's device as the sender. The
	// device id is the recipients' key-agreement hint, so it must be hers.
	_, err := f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   f.alice,
		SenderDeviceID: f.bobDev,
		Ciphertext:     "ct",
	})
	if !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for a foreign sender device, got %v", err)
	}

	// Same for any other registered device that is not hers.
	stranger := registerDevice(t, f.svc, uuid.New())
	_, err = f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   f.alice,
		SenderDeviceID: stranger,
		Ciphertext:     "ct",
	})
	if !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for an unrelated sender device, got %v", err)
	}
}

func TestSendFromRevokedDevice(t *testing.T) {
	f := setupChat(t)

	if err := f.svc.RevokeDevice(context.Background(), f.alice, f.aliceDev); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	_, err := f.svc.Send(context.Background(), service.SendInput{
		ConversationID: f.conv.ID,
		SenderUserID:   f.alice,
		SenderDeviceID: f.aliceDev,
		Ciphertext:     "ct",
	})
	if !errors.Is(err, service.ErrDeviceRevoked) {
		t.Fatalf("expected ErrDeviceRevoked, got %v", err)
	}
}

func TestReceiptsSetOnce(t *testing.T) {
	f := setupChat(t)
	msg := f.send(t, "ct")

	if err := f.svc.MarkDelivered(context.Background(), f.bob, msg.ID); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	first, err := f.svc.MarkRead(context.Background(), f.bob, msg.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if first.DeliveredAt == nil || first.ReadAt == nil {
		t.Fatalf("expected both receipts set, got %+v", first)
	}

	// Receipts are monotonic: later calls never move the timestamps.
	time.Sleep(5 * time.Millisecond)
	second, err := f.svc.MarkRead(context.Background(), f.bob, msg.ID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if !second.DeliveredAt.Equal(*first.DeliveredAt) || !second.ReadAt.Equal(*first.ReadAt) {
		t.Fatalf("receipt timestamps moved on repeat:\n  first:  %v / %v\n  second: %v / %v",
			first.DeliveredAt, first.ReadAt, second.DeliveredAt, second.ReadAt)
	}
}

func TestMarkReadBackfillsDelivered(t *testing.T) {
	f := setupChat(t)
	msg := f.send(t, "ct")

	// Read without a prior delivered receipt.
	read, err := f.svc.MarkRead(context.Background(), f.bob, msg.ID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if read.DeliveredAt == nil {
		t.Fatalf("delivered not backfilled on read")
	}
	if read.ReadAt == nil {
		t.Fatalf("read receipt missing")
	}
	if read.DeliveredAt.After(*read.ReadAt) {
		t.Fatalf("delivered %v trails read %v", read.DeliveredAt, read.ReadAt)
	}
}

func TestReceiptAuthorization(t *testing.T) {
	f := setupChat(t)
	msg := f.send(t, "ct")

	if err := f.svc.MarkDelivered(context.Background(), uuid.New(), msg.ID); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := f.svc.MarkDelivered(context.Background(), f.bob, uuid.New()); !errors.Is(err, service.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessages(t *testing.T) {
	f := setupChat(t)
	f.send(t, "ct-1")
	f.send(t, "ct-2")

	if _, err := f.svc.DeleteMessages(context.Background(), uuid.New(), f.conv.ID); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for outsider, got %v", err)
	}

	deleted, err := f.svc.DeleteMessages(context.Background(), f.bob, f.conv.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", deleted)
	}

	msgs, err := f.svc.ListMessages(context.Background(), f.alice, f.conv.ID, 10, time.Time{})
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty conversation, got %d messages", len(msgs))
	}
}
