package store

import (
	"context"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MessageStore struct{ db *gorm.DB }

func (s *Store) Messages() *MessageStore { return &MessageStore{db: s.DB} }

func (m *MessageStore) Create(ctx context.Context, msg *domain.Message) error {
	return m.db.WithContext(ctx).Create(msg).Error
}

func (m *MessageStore) Get(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var msg domain.Message
	if err := m.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &msg, nil
}

// ListByConversation pages backwards in time: pass the oldest CreatedAt seen so
// far as before to fetch the previous page.
func (m *MessageStore) ListByConversation(ctx context.Context, convID uuid.UUID, limit int, before time.Time) ([]domain.Message, error) {
	tx := m.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at desc, id desc")
	if !before.IsZero() {
		tx = tx.Where("created_at < ?", before)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var msgs []domain.Message
	if err := tx.Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// MarkDelivered sets the delivered timestamp once; repeated calls are no-ops.
func (m *MessageStore) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	return m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error
}

// MarkRead sets the read timestamp once, backfilling delivered_at so delivered
// never trails read. Returns the row as stored afterwards.
func (m *MessageStore) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Message, error) {
	if err := m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Update("delivered_at", at).Error; err != nil {
		return nil, err
	}
	if err := m.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at).Error; err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

func (m *MessageStore) DeleteByConversation(ctx context.Context, convID uuid.UUID) (int64, error) {
	res := m.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}
