package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageStatus tracks delivery of a direct message
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessageSent:
		return 1
	case MessageDelivered:
		return 2
	case MessageRead:
		return 3
	}
	return 0
}

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool { return s.rank() > 0 }

// Advances reports whether moving from s to next goes forward. A message that
// was read never falls back to delivered.
func (s MessageStatus) Advances(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Message represents a direct message between two users
type Message struct {
	ID         string        `json:"id" gorm:"primaryKey"`
	SenderID   string        `json:"senderId" gorm:"column:sender_id;not null;index:idx_messages_pair,priority:1"`
	ReceiverID string        `json:"receiverId" gorm:"column:receiver_id;not null;index:idx_messages_pair,priority:2"`
	Content    string        `json:"content" gorm:"not null"`
	Status     MessageStatus `json:"status" gorm:"not null;default:'sent'"`
	CreatedAt  time.Time     `json:"createdAt" gorm:"index"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// TableName specifies the table name for Message Model
func (Message) TableName() string {
	return "messages"
}

// BeforeCreate assigns a UUID and the initial status.
func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MessageSent
	}
	return nil
}
