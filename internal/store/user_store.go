package store

import (
	"context"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserStore struct{ db *gorm.DB }

func (s *Store) Users() *UserStore { return &UserStore{db: s.DB} }

// Ensure inserts the user row if it does not exist yet. Conflicts on the id
// are no-ops; a handle collision with a different user is a real error.
func (u *UserStore) Ensure(ctx context.Context, id uuid.UUID, handle string) error {
	user := domain.User{ID: id, Handle: handle}
	return u.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&user).Error
}

func (u *UserStore) Get(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := u.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &user, nil
}

// SetCurrentDevice records the most recently authenticated device. Called on
// every login, so it must not fail when the pointer is unchanged.
func (u *UserStore) SetCurrentDevice(ctx context.Context, userID, deviceID uuid.UUID) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("current_device_id", deviceID).Error
}

func (u *UserStore) SetDefaultDevice(ctx context.Context, userID uuid.UUID, deviceID *uuid.UUID) error {
	return u.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Update("default_device_id", deviceID).Error
}
