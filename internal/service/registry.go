package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/store"

	"github.com/google/uuid"
)

type RegisterDeviceInput struct {
	UserID    uuid.UUID
	Handle    string
	DeviceID  uuid.UUID
	PublicKey string
	Label     string
}

// RegisterDevice stores the device's public key and makes it the user's
// current device. The private half never reaches the server.
func (s *Service) RegisterDevice(ctx context.Context, in RegisterDeviceInput) (domain.Device, error) {
	if in.UserID == uuid.Nil || in.PublicKey == "" {
		return domain.Device{}, fmt.Errorf("%w: missing user id or public key", ErrInvalidRequest)
	}
	if in.DeviceID == uuid.Nil {
		in.DeviceID = uuid.New()
	}
	if in.Handle == "" {
		// Handles come from the auth collaborator; a bare relay deployment
		// falls back to the user id to keep the column unique.
		in.Handle = in.UserID.String()
	}
	device := domain.Device{
		ID:        in.DeviceID,
		UserID:    in.UserID,
		PublicKey: in.PublicKey,
		Label:     in.Label,
	}
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.Users().Ensure(ctx, in.UserID, in.Handle); err != nil {
			return err
		}
		if err := tx.Devices().Upsert(ctx, device); err != nil {
			return err
		}
		return tx.Users().SetCurrentDevice(ctx, in.UserID, device.ID)
	})
	if err != nil {
		return domain.Device{}, err
	}
	return device, nil
}

// ListUserDevices returns all of a user's devices, revoked included.
func (s *Service) ListUserDevices(ctx context.Context, userID uuid.UUID) ([]domain.Device, error) {
	if userID == uuid.Nil {
		return nil, ErrInvalidRequest
	}
	return s.store.Devices().ListByUser(ctx, userID)
}

func (s *Service) GetDevice(ctx context.Context, deviceID uuid.UUID) (*domain.Device, error) {
	device, err := s.store.Devices().Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, deviceID)
		}
		return nil, err
	}
	return device, nil
}

// RevokeDevice tombstones the key; the row and its public key stay behind for
// key agreement against historical ciphertext.
func (s *Service) RevokeDevice(ctx context.Context, callerID, deviceID uuid.UUID) error {
	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return err
	}
	if device.UserID != callerID {
		return fmt.Errorf("%w: device belongs to another user", ErrNotAuthorized)
	}
	return s.store.Devices().Revoke(ctx, deviceID, s.now().UTC())
}

type DevicePointers struct {
	CurrentDeviceID *uuid.UUID
	DefaultDeviceID *uuid.UUID
}

func (s *Service) GetDevicePointers(ctx context.Context, userID uuid.UUID) (DevicePointers, error) {
	user, err := s.store.Users().Get(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return DevicePointers{}, fmt.Errorf("%w: user %s", ErrNotFound, userID)
		}
		return DevicePointers{}, err
	}
	return DevicePointers{
		CurrentDeviceID: user.CurrentDeviceID,
		DefaultDeviceID: user.DefaultDeviceID,
	}, nil
}

// SetDefaultDevice picks the target for offline delivery. Passing nil clears it.
func (s *Service) SetDefaultDevice(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) error {
	if deviceID != nil {
		device, err := s.GetDevice(ctx, *deviceID)
		if err != nil {
			return err
		}
		if device.UserID != userID {
			return fmt.Errorf("%w: device belongs to another user", ErrNotAuthorized)
		}
	}
	return s.store.Users().SetDefaultDevice(ctx, userID, deviceID)
}
