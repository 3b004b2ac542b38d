package models

import (
	"time"
)

// Message belongs to exactly one conversation. Content is stored
// trimmed; the sender is always part of the conversation's participant
// set and always appears in ReadBy from creation.
type Message struct {
	ID             string `gorm:"primaryKey;type:uuid" json:"id"`
	ConversationID string `gorm:"not null;index:idx_messages_conversation_created" json:"conversation_id"`

	SenderID string `gorm:"not null;index" json:"sender_id"`
	Sender   User   `gorm:"foreignKey:SenderID" json:"sender"`

	Content string `gorm:"type:text;not null" json:"content"`

	// Read receipts, set-union semantics: marking a message read twice
	// is a no-op.
	ReadBy []User `gorm:"many2many:message_reads" json:"read_by"`

	CreatedAt time.Time `gorm:"index:idx_messages_conversation_created" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadByUser reports whether userID has read this message. ReadBy must
// be preloaded.
func (m *Message) ReadByUser(userID string) bool {
	for _, u := range m.ReadBy {
		if u.ID == userID {
			return true
		}
	}
	return false
}
