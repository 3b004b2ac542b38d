package models

import (
	"time"
)

// Conversation is a message thread between participants. Direct
// conversations hold exactly two participants and are unique per pair;
// uniqueness is enforced by lookup-before-create in the store, not by a
// database constraint, because group conversations share the table.
type Conversation struct {
	ID      string `gorm:"primaryKey;type:uuid" json:"id"`
	IsGroup bool   `gorm:"default:false" json:"is_group"`
	Name    string `json:"name,omitempty"` // group conversations only

	Participants []User `gorm:"many2many:conversation_participants" json:"participants"`

	// Pointer to the most recent message, used for conversation-list
	// ordering and previews.
	LastMessageID *string  `gorm:"type:uuid" json:"last_message_id,omitempty"`
	LastMessage   *Message `gorm:"foreignKey:LastMessageID" json:"last_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`
}

// HasParticipant reports whether userID belongs to the conversation's
// participant set. Participants must be preloaded.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.ID == userID {
			return true
		}
	}
	return false
}

// OtherParticipantIDs returns every participant except userID.
func (c *Conversation) OtherParticipantIDs(userID string) []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID != userID {
			ids = append(ids, p.ID)
		}
	}
	return ids
}
