package relay

import (
	"encoding/json"
	"time"

	"github.com/Cr0wn-Gh0ul/GhostChannel/internal/domain"
)

// Frame is the JSON envelope on the persistent connection. Ref correlates a
// client request with its ack or error; the server leaves it empty on pushes.
type Frame struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client → server frame types.
const (
	TypeSend               = "send"
	TypeMarkDelivered      = "markDelivered"
	TypeMarkRead           = "markRead"
	TypeRequestOnlineUsers = "requestOnlineUsers"
)

// Server → client frame types.
const (
	TypeAck             = "ack"
	TypeError           = "error"
	TypeNewMessage      = "newMessage"
	TypeMessageRead     = "messageRead"
	TypeUserOnline      = "userOnline"
	TypeUserOffline     = "userOffline"
	TypeOnlineUsers     = "onlineUsers"
	TypeNewConversation = "newConversation"
	TypeMessagesDeleted = "messagesDeleted"
)

type SendPayload struct {
	ConversationID string `json:"conversationId"`
	SenderDeviceID string `json:"senderDeviceId"`
	Ciphertext     string `json:"ciphertext"`
	Nonce          string `json:"nonce,omitempty"`
	SequenceIndex  *int64 `json:"sequenceIndex,omitempty"`
}

type ReceiptPayload struct {
	MessageID string `json:"messageId"`
}

type AckPayload struct {
	MessageID string `json:"messageId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

type PresencePayload struct {
	UserID string `json:"userId"`
}

type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

type MessagesDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessagePayload is the wire view of a stored message. Ciphertext and nonce
// pass through exactly as the sender's engine produced them.
type MessagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderUserID   string     `json:"senderUserId"`
	SenderDeviceID string     `json:"senderDeviceId"`
	Ciphertext     string     `json:"ciphertext"`
	Nonce          string     `json:"nonce,omitempty"`
	SequenceIndex  *int64     `json:"sequenceIndex,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

func messagePayload(m domain.Message) MessagePayload {
	return MessagePayload{
		ID:             m.ID.String(),
		ConversationID: m.ConversationID.String(),
		SenderUserID:   m.SenderUserID.String(),
		SenderDeviceID: m.SenderDeviceID.String(),
		Ciphertext:     m.Ciphertext,
		Nonce:          m.Nonce,
		SequenceIndex:  m.SequenceIndex,
		CreatedAt:      m.CreatedAt,
		DeliveredAt:    m.DeliveredAt,
		ReadAt:         m.ReadAt,
	}
}

type ConversationPayload struct {
	ID                string    `json:"id"`
	CreatedByDeviceID *string   `json:"createdByDeviceId"`
	TargetDeviceID    *string   `json:"targetDeviceId"`
	Participants      []string  `json:"participants"`
	CreatedAt         time.Time `json:"createdAt"`
}

func conversationPayload(c domain.Conversation) ConversationPayload {
	p := ConversationPayload{
		ID:        c.ID.String(),
		CreatedAt: c.CreatedAt,
	}
	if c.CreatedByDeviceID != nil {
		s := c.CreatedByDeviceID.String()
		p.CreatedByDeviceID = &s
	}
	if c.TargetDeviceID != nil {
		s := c.TargetDeviceID.String()
		p.TargetDeviceID = &s
	}
	for _, id := range c.ParticipantIDs() {
		p.Participants = append(p.Participants, id.String())
	}
	return p
}

func mustFrame(frameType, ref string, payload any) Frame {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload shapes are all local structs; marshal cannot fail at runtime
		panic(err)
	}
	return Frame{Type: frameType, Ref: ref, Data: data}
}
