package domain_test

import (
	"testing"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"github.com/google/uuid"
)

func TestPairKeyUnordered(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	devA, devB := uuid.New(), uuid.New()

	forward := domain.PairKey(userA, userB, devA, &devB)
	reversed := domain.PairKey(userB, userA, devB, &devA)
	if forward != reversed {
		t.Fatalf("pair key depends on argument order:\n  %s\n  %s", forward, reversed)
	}

	otherDev := uuid.New()
	if forward == domain.PairKey(userA, userB, devA, &otherDev) {
		t.Fatalf("different device pairs produced the same key")
	}
}

func TestPairKeyOpen(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	devA, devB := uuid.New(), uuid.New()

	// The open key ignores the creating device: both sides resolving without
	// a device hint must produce the same key.
	openA := domain.PairKey(userA, userB, devA, nil)
	openB := domain.PairKey(userB, userA, devB, nil)
	if openA != openB {
		t.Fatalf("open keys depend on the creating device:\n  %s\n  %s", openA, openB)
	}
	if openA == domain.PairKey(userA, userB, devA, &devB) {
		t.Fatalf("open key collided with a device-pair key")
	}

	otherUser := uuid.New()
	if openA == domain.PairKey(userA, otherUser, devA, nil) {
		t.Fatalf("open keys for different user pairs collided")
	}
}
