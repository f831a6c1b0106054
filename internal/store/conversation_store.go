package store

import (
	"context"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationStore struct{ db *gorm.DB }

func (s *Store) Conversations() *ConversationStore { return &ConversationStore{db: s.DB} }

// Create collapses duplicate creation attempts onto the existing record: the
// pair key carries a unique index, so a racing insert from the other side is a
// no-op and the caller re-fetches by key. Returns whether the row was inserted.
func (c *ConversationStore) Create(ctx context.Context, conv *domain.Conversation) (bool, error) {
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).
		Create(conv)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (c *ConversationStore) Get(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.db.WithContext(ctx).
		Preload("Participants").
		First(&conv, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (c *ConversationStore) GetByPairKey(ctx context.Context, pairKey string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := c.db.WithContext(ctx).
		Preload("Participants").
		First(&conv, "pair_key = ?", pairKey).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// FindOpenForUsers returns the oldest conversation between the two users whose
// target device is still unknown, if any. Order-independent in the user pair.
func (c *ConversationStore) FindOpenForUsers(ctx context.Context, userA, userB uuid.UUID) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := c.db.WithContext(ctx).
		Preload("Participants").
		Where("target_device_id IS NULL").
		Where(
			c.db.Where("user_a_id = ? AND user_b_id = ?", userA, userB).
				Or("user_a_id = ? AND user_b_id = ?", userB, userA),
		).
		Order("created_at asc").
		First(&conv).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (c *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	if err := c.db.WithContext(ctx).
		Preload("Participants").
		Where("user_a_id = ? OR user_b_id = ?", userID, userID).
		Order("created_at desc").
		Find(&convs).Error; err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *ConversationStore) AddParticipants(ctx context.Context, convID uuid.UUID, userIDs []uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]domain.Participant, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.Participant{ConversationID: convID, UserID: id})
	}
	return c.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (c *ConversationStore) IsParticipant(ctx context.Context, convID, userID uuid.UUID) (bool, error) {
	var count int64
	if err := c.db.WithContext(ctx).Model(&domain.Participant{}).
		Where("conversation_id = ? AND user_id = ?", convID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
