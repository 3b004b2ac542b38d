package models

import (
	"time"

	"gorm.io/gorm"
)

// User represents a Driftline account. Registration, sessions and
// profile editing live in the main platform API; the messaging core only
// reads users to resolve message senders and presence state.
type User struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	Username    string `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`

	// Presence cache. The hub's in-memory registry is the source of
	// truth while the process is alive; these columns just let the rest
	// of the platform show a last-known state.
	IsOnline     bool       `gorm:"default:false" json:"is_online"`
	LastActiveAt *time.Time `json:"last_active_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
