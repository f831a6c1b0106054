package store

import (
	"context"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceStore struct{ db *gorm.DB }

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB} }

func (d *DeviceStore) Upsert(ctx context.Context, device domain.Device) error {
	return d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"user_id":    device.UserID,
				"public_key": device.PublicKey,
				"label":      device.Label,
			}),
		}).
		Create(&device).Error
}

func (d *DeviceStore) Get(ctx context.Context, id uuid.UUID) (*domain.Device, error) {
	var device domain.Device
	if err := d.db.WithContext(ctx).First(&device, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &device, nil
}

// ListByUser returns every device the user has ever registered, revoked ones
// included. Historical ciphertext may still need a revoked device's key.
func (d *DeviceStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Device, error) {
	var devices []domain.Device
	if err := d.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at asc, id asc").
		Find(&devices).Error; err != nil {
		return nil, err
	}
	return devices, nil
}

func (d *DeviceStore) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := d.db.WithContext(ctx).Model(&domain.Device{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at)
	if res.Error != nil {
		return res.Error
	}
	return nil
}
