package store

import (
	"context"
	"errors"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("store: record not found")

type Store struct {
	DB *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&domain.User{},
		&domain.Device{},
		&domain.Conversation{},
		&domain.Participant{},
		&domain.Message{},
	)
}

// WithTx runs fn inside a transaction, handing it a Store bound to the
// transactional connection.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{DB: tx})
	})
}
