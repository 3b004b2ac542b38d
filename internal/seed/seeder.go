// Package seed populates the database with demo users, conversations and
// message history for local development.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/driftline/backend/internal/chat"
	"github.com/driftline/backend/internal/logger"
	"github.com/driftline/backend/internal/models"
)

// Seeder handles database seeding operations
type Seeder struct {
	db    *gorm.DB
	store chat.Store
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db, store: chat.NewStore(db)}
}

// SeedDev seeds the development database with realistic data.
func (s *Seeder) SeedDev() error {
	logger.Log.Info("Creating users...")
	users, err := s.seedUsers(40)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	logger.Log.Info("Creating conversations and messages...")
	if err := s.seedConversations(users, 80, 25); err != nil {
		return fmt.Errorf("failed to seed conversations: %w", err)
	}

	return nil
}

// SeedTest seeds the test database with a small fixed cast plus a bit of
// message history, matching the web client's e2e fixtures.
func (s *Seeder) SeedTest() error {
	specs := []struct {
		username    string
		displayName string
	}{
		{"alice", "Alice Smith"},
		{"bob", "Bob Johnson"},
		{"charlie", "Charlie Brown"},
		{"diana", "Diana Prince"},
		{"eve", "Eve Wilson"},
	}

	logger.Log.Info("Creating test users...")
	var users []models.User
	for _, spec := range specs {
		var user models.User
		err := s.db.Where("username = ?", spec.username).First(&user).Error
		if err == nil {
			users = append(users, user)
			continue
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		user = models.User{
			ID:          uuid.New().String(),
			Username:    spec.username,
			DisplayName: spec.displayName,
			AvatarURL:   gofakeit.ImageURL(256, 256),
		}
		if err := s.db.Create(&user).Error; err != nil {
			return fmt.Errorf("failed to create user %s: %w", spec.username, err)
		}
		users = append(users, user)
	}

	logger.Log.Info("Creating test conversations...")
	return s.seedConversations(users, 4, 10)
}

// Clean removes all seed data (use with caution)
func (s *Seeder) Clean() error {
	tables := []string{
		"message_reads",
		"messages",
		"conversation_participants",
		"conversations",
		"users",
	}
	for _, table := range tables {
		if err := s.db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clean %s: %w", table, err)
		}
	}
	return nil
}

func (s *Seeder) seedUsers(count int) ([]models.User, error) {
	users := make([]models.User, 0, count)
	for i := 0; i < count; i++ {
		user := models.User{
			ID:          uuid.New().String(),
			Username:    fmt.Sprintf("%s%d", gofakeit.Username(), i),
			DisplayName: gofakeit.Name(),
			AvatarURL:   gofakeit.ImageURL(256, 256),
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// seedConversations opens direct conversations between random user pairs
// and fills each with a short back-and-forth. Messages go through the
// store so every conversation ends with a valid last-message pointer and
// read-set.
func (s *Seeder) seedConversations(users []models.User, conversations, maxMessages int) error {
	if len(users) < 2 {
		return fmt.Errorf("need at least 2 users, have %d", len(users))
	}

	ctx := context.Background()
	for i := 0; i < conversations; i++ {
		a := users[rand.Intn(len(users))]
		b := users[rand.Intn(len(users))]
		if a.ID == b.ID {
			continue
		}

		conv, _, err := s.store.GetOrCreateDirectConversation(ctx, a.ID, b.ID)
		if err != nil {
			return err
		}

		pair := []string{a.ID, b.ID}
		for j := 0; j < 1+rand.Intn(maxMessages); j++ {
			senderID := pair[rand.Intn(2)]
			msg, err := s.store.CreateMessage(ctx, conv.ID, senderID, gofakeit.Sentence(3+rand.Intn(12)))
			if err != nil {
				return err
			}
			if err := s.store.UpdateLastMessage(ctx, conv.ID, msg.ID); err != nil {
				return err
			}
		}

		// Most threads are caught up on one side.
		if rand.Intn(10) < 7 {
			readerID := pair[rand.Intn(2)]
			if _, err := s.store.MarkMessagesRead(ctx, conv.ID, readerID); err != nil {
				return err
			}
		}
	}

	return nil
}
