package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"

	"github.com/google/uuid"
)

func TestResolveCreatesOncePerDevicePair(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	aliceDev := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	conv, created, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID:   alice,
		SelfDeviceID: aliceDev,
		PeerUserID:   bob,
		PeerDeviceID: &bobDev,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !created {
		t.Fatalf("expected first resolve to create")
	}

	// Resolving from the other side lands on the same row.
	again, created, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID:   bob,
		SelfDeviceID: bobDev,
		PeerUserID:   alice,
		PeerDeviceID: &aliceDev,
	})
	if err != nil {
		t.Fatalf("resolve reversed: %v", err)
	}
	if created {
		t.Fatalf("reversed resolve must not create a second conversation")
	}
	if again.ID != conv.ID {
		t.Fatalf("device pair mapped to two conversations: %s vs %s", conv.ID, again.ID)
	}
	if len(again.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(again.Participants))
	}
}

func TestResolveDistinctPerDevice(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	alicePhone := registerDevice(t, svc, alice)
	aliceLaptop := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	fromPhone, _, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: alicePhone, PeerUserID: bob, PeerDeviceID: &bobDev,
	})
	if err != nil {
		t.Fatalf("resolve phone: %v", err)
	}
	fromLaptop, created, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: aliceLaptop, PeerUserID: bob, PeerDeviceID: &bobDev,
	})
	if err != nil {
		t.Fatalf("resolve laptop: %v", err)
	}
	if !created {
		t.Fatalf("a different device pair must get its own conversation")
	}
	if fromPhone.ID == fromLaptop.ID {
		t.Fatalf("distinct device pairs collapsed onto one conversation")
	}
}

func TestResolveReusesOpenConversation(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	aliceDev := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	// Peer device unknown: an open conversation is created.
	open, created, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: aliceDev, PeerUserID: bob,
	})
	if err != nil {
		t.Fatalf("resolve open: %v", err)
	}
	if !created {
		t.Fatalf("expected open conversation to be created")
	}
	if open.TargetDeviceID != nil {
		t.Fatalf("open conversation must have no target device")
	}

	// Bob, also without a device hint, lands in the same open conversation.
	reused, created, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: bob, SelfDeviceID: bobDev, PeerUserID: alice,
	})
	if err != nil {
		t.Fatalf("resolve reuse: %v", err)
	}
	if created || reused.ID != open.ID {
		t.Fatalf("open conversation was not reused")
	}

	// An open conversation is never locked, from any device.
	if open.LockedFor(uuid.New()) {
		t.Fatalf("open conversation reported locked")
	}
}

func TestLockedForForeignDevice(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	alicePhone := registerDevice(t, svc, alice)
	aliceLaptop := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	conv, _, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: alicePhone, PeerUserID: bob, PeerDeviceID: &bobDev,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if conv.LockedFor(alicePhone) {
		t.Fatalf("conversation locked for its own creator device")
	}
	if conv.LockedFor(bobDev) {
		t.Fatalf("conversation locked for its target device")
	}
	if !conv.LockedFor(aliceLaptop) {
		t.Fatalf("conversation not locked for a third device")
	}
}

func TestResolveDeniedWithoutRelationship(t *testing.T) {
	svc := setupServiceWithRelationships(t, service.RelationshipsFunc(
		func(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return false, nil },
	))
	alice, bob := uuid.New(), uuid.New()
	aliceDev := registerDevice(t, svc, alice)

	_, _, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: aliceDev, PeerUserID: bob,
	})
	if !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestResolveRejectsSelfChat(t *testing.T) {
	svc := setupService(t)
	alice := uuid.New()
	dev := registerDevice(t, svc, alice)

	_, _, err := svc.Resolve(context.Background(), service.ResolveInput{
		SelfUserID: alice, SelfDeviceID: dev, PeerUserID: alice,
	})
	if !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestResolveConcurrentOpenSingleWinner(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	aliceDev := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	// Both sides resolve without a device hint at once; the open row must
	// collapse onto a single conversation like the device-pair case does.
	const n = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	createdFlags := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := service.ResolveInput{SelfUserID: alice, SelfDeviceID: aliceDev, PeerUserID: bob}
			if i%2 == 1 {
				in = service.ResolveInput{SelfUserID: bob, SelfDeviceID: bobDev, PeerUserID: alice}
			}
			conv, created, err := svc.Resolve(context.Background(), in)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
			createdFlags[i] = created
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("resolver %d: %v", i, err)
		}
	}
	creates := 0
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("racing open resolves produced different conversations")
		}
	}
	for _, c := range createdFlags {
		if c {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected exactly one creator, got %d", creates)
	}
}

func TestResolveConcurrentSingleWinner(t *testing.T) {
	svc := setupService(t)
	alice, bob := uuid.New(), uuid.New()
	aliceDev := registerDevice(t, svc, alice)
	bobDev := registerDevice(t, svc, bob)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	createdCount := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := service.ResolveInput{
				SelfUserID: alice, SelfDeviceID: aliceDev, PeerUserID: bob, PeerDeviceID: &bobDev,
			}
			if i%2 == 1 {
				in = service.ResolveInput{
					SelfUserID: bob, SelfDeviceID: bobDev, PeerUserID: alice, PeerDeviceID: &aliceDev,
				}
			}
			conv, created, err := svc.Resolve(context.Background(), in)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("resolver %d: %v", i, err)
		}
	}
	creates := 0
	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("racing resolvers produced different conversations")
		}
	}
	for _, c := range createdCount {
		if c {
			creates++
		}
	}
	if creates != 1 {
		t.Fatalf("expected exactly one creator, got %d", creates)
	}
}
