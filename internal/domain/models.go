package domain

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Handle          string     `gorm:"size:64;uniqueIndex;not null"`
	CurrentDeviceID *uuid.UUID `gorm:"type:uuid"`
	DefaultDeviceID *uuid.UUID `gorm:"type:uuid"`
	CreatedAt       time.Time  `gorm:"not null;autoCreateTime"`
}

// Device is one cryptographic identity bound to one physical client. Revoked
// devices are retained, never deleted: old ciphertext may still require their
// public key for key agreement.
type Device struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	PublicKey string     `gorm:"type:text;not null"`
	Label     string     `gorm:"size:120"`
	CreatedAt time.Time  `gorm:"not null;autoCreateTime"`
	RevokedAt *time.Time
}

func (d Device) Revoked() bool { return d.RevokedAt != nil }

// Conversation is scoped to an unordered pair of devices, not a pair of users.
// TargetDeviceID may be null when the peer's device was unknown at creation
// time; such conversations are open-access and never device-restricted.
type Conversation struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	CreatedByDeviceID *uuid.UUID `gorm:"type:uuid"`
	TargetDeviceID    *uuid.UUID `gorm:"type:uuid"`
	UserAID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	UserBID           uuid.UUID  `gorm:"type:uuid;not null;index"`
	PairKey           string     `gorm:"size:160;uniqueIndex;not null"`
	CreatedAt         time.Time  `gorm:"not null;autoCreateTime"`

	Participants []Participant `gorm:"foreignKey:ConversationID"`
}

type Participant struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime"`
}

// LockedFor reports whether the conversation's ciphertext is unreachable from
// the given device: both device ids are known and neither is the current one.
// A conversation with one or both device ids unset is never locked.
func (c Conversation) LockedFor(deviceID uuid.UUID) bool {
	if c.CreatedByDeviceID == nil || c.TargetDeviceID == nil {
		return false
	}
	return *c.CreatedByDeviceID != deviceID && *c.TargetDeviceID != deviceID
}

// ParticipantIDs returns the owning user pair regardless of whether the
// participant rows were preloaded.
func (c Conversation) ParticipantIDs() []uuid.UUID {
	if len(c.Participants) > 0 {
		ids := make([]uuid.UUID, 0, len(c.Participants))
		for _, p := range c.Participants {
			ids = append(ids, p.UserID)
		}
		return ids
	}
	return []uuid.UUID{c.UserAID, c.UserBID}
}

// Message rows are immutable once created except for the two receipt
// timestamps, which are set once and never reset.
type Message struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	ConversationID uuid.UUID  `gorm:"type:uuid;not null;index:idx_messages_conv_created,priority:1"`
	SenderUserID   uuid.UUID  `gorm:"type:uuid;not null"`
	SenderDeviceID uuid.UUID  `gorm:"type:uuid;not null"`
	Ciphertext     string     `gorm:"type:text;not null"`
	Nonce          string     `gorm:"type:text"`
	SequenceIndex  *int64     `gorm:""`
	CreatedAt      time.Time  `gorm:"not null;index:idx_messages_conv_created,priority:2"`
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}
