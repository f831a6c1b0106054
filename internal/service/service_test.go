package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/service"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupService(t *testing.T) *service.Service {
	return setupServiceWithRelationships(t, service.AllowAll)
}

func setupServiceWithRelationships(t *testing.T, rel service.Relationships) *service.Service {
	t.Helper()

	// A named in-memory database so every connection in the pool sees the
	// same data, isolated per test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Shared-cache sqlite locks tables under concurrent writers; one
	// connection keeps the tests deterministic.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return service.New(st, rel)
}

func registerDevice(t *testing.T, svc *service.Service, userID uuid.UUID) uuid.UUID {
	t.Helper()
	device, err := svc.RegisterDevice(context.Background(), service.RegisterDeviceInput{
		UserID:    userID,
		PublicKey: "pk-" + uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("register device: %v", err)
	}
	return device.ID
}

func TestRegisterDeviceSetsCurrentPointer(t *testing.T) {
	svc := setupService(t)
	userID := uuid.New()

	first := registerDevice(t, svc, userID)
	pointers, err := svc.GetDevicePointers(context.Background(), userID)
	if err != nil {
		t.Fatalf("pointers: %v", err)
	}
	if pointers.CurrentDeviceID == nil || *pointers.CurrentDeviceID != first {
		t.Fatalf("expected current device %s, got %v", first, pointers.CurrentDeviceID)
	}

	// A second registration moves the pointer to the newest device.
	second := registerDevice(t, svc, userID)
	pointers, err = svc.GetDevicePointers(context.Background(), userID)
	if err != nil {
		t.Fatalf("pointers after second device: %v", err)
	}
	if pointers.CurrentDeviceID == nil || *pointers.CurrentDeviceID != second {
		t.Fatalf("expected current device %s, got %v", second, pointers.CurrentDeviceID)
	}

	devices, err := svc.ListUserDevices(context.Background(), userID)
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
}

func TestRegisterDeviceRejectsMissingKey(t *testing.T) {
	svc := setupService(t)
	_, err := svc.RegisterDevice(context.Background(), service.RegisterDeviceInput{
		UserID: uuid.New(),
	})
	if !errors.Is(err, service.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRevokedDeviceStaysListed(t *testing.T) {
	svc := setupService(t)
	userID := uuid.New()
	deviceID := registerDevice(t, svc, userID)

	if err := svc.RevokeDevice(context.Background(), userID, deviceID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	devices, err := svc.ListUserDevices(context.Background(), userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("revoked device vanished from listing")
	}
	if !devices[0].Revoked() {
		t.Fatalf("expected device to report revoked")
	}
	if devices[0].PublicKey == "" {
		t.Fatalf("public key must survive revocation for key agreement")
	}
}

func TestRevokeForeignDeviceDenied(t *testing.T) {
	svc := setupService(t)
	owner := uuid.New()
	deviceID := registerDevice(t, svc, owner)

	err := svc.RevokeDevice(context.Background(), uuid.New(), deviceID)
	if !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSetDefaultDevice(t *testing.T) {
	svc := setupService(t)
	userID := uuid.New()
	deviceID := registerDevice(t, svc, userID)

	if err := svc.SetDefaultDevice(context.Background(), userID, &deviceID); err != nil {
		t.Fatalf("set default: %v", err)
	}
	pointers, err := svc.GetDevicePointers(context.Background(), userID)
	if err != nil {
		t.Fatalf("pointers: %v", err)
	}
	if pointers.DefaultDeviceID == nil || *pointers.DefaultDeviceID != deviceID {
		t.Fatalf("expected default device %s, got %v", deviceID, pointers.DefaultDeviceID)
	}

	// Clearing takes nil.
	if err := svc.SetDefaultDevice(context.Background(), userID, nil); err != nil {
		t.Fatalf("clear default: %v", err)
	}
	pointers, _ = svc.GetDevicePointers(context.Background(), userID)
	if pointers.DefaultDeviceID != nil {
		t.Fatalf("expected default cleared, got %v", pointers.DefaultDeviceID)
	}

	// Another user's device cannot become the default.
	foreign := registerDevice(t, svc, uuid.New())
	if err := svc.SetDefaultDevice(context.Background(), userID, &foreign); !errors.Is(err, service.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}
