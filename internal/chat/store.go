// Package chat implements the conversation store gateway and the
// message use-cases shared by the WebSocket and REST surfaces.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/driftline/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
	ErrUserNotFound         = errors.New("user not found")
)

// Store is the gateway to persisted conversations and messages. The
// session layer only ever talks to this interface; the GORM
// implementation below is swapped for a fake in session tests.
type Store interface {
	GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, bool, error)
	ConversationForParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error)
	CreateMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error)
	UpdateLastMessage(ctx context.Context, conversationID, messageID string) error
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int64, error)
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error)
}

// gormStore implements Store on top of GORM.
type gormStore struct {
	db *gorm.DB
}

// NewStore creates a Store backed by db.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// GetOrCreateDirectConversation returns the direct conversation between
// the two users, creating it when absent. Uniqueness of a direct
// conversation per participant pair is enforced here, on lookup.
// The second return value reports whether a new conversation was
// created.
func (s *gormStore) GetOrCreateDirectConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, bool, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", []string{userID, otherUserID}).Find(&users).Error; err != nil {
		return nil, false, err
	}
	if len(users) != 2 {
		return nil, false, ErrUserNotFound
	}

	memberOf := func(id string) *gorm.DB {
		return s.db.Table("conversation_participants").Select("conversation_id").Where("user_id = ?", id)
	}

	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Where("is_group = ?", false).
		Where("id IN (?)", memberOf(userID)).
		Where("id IN (?)", memberOf(otherUserID)).
		Preload("Participants").
		Preload("LastMessage").
		Preload("LastMessage.Sender").
		First(&conv).Error

	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	// Keep participant order deterministic for readability in dumps.
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	conv = models.Conversation{
		ID:           uuid.New().String(),
		IsGroup:      false,
		Participants: users,
	}
	if err := s.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}

	return &conv, true, nil
}

// ConversationForParticipant loads the conversation with its participant
// set and verifies userID belongs to it.
func (s *gormStore) ConversationForParticipant(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants").
		First(&conv, "id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}

	return &conv, nil
}

// CreateMessage persists a message with readBy = {sender} and returns it
// with the sender resolved.
func (s *gormStore) CreateMessage(ctx context.Context, conversationID, senderID, content string) (*models.Message, error) {
	msg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("ReadBy", "Sender").Create(&msg).Error; err != nil {
			return err
		}
		// The sender has trivially read their own message.
		return tx.Model(&msg).Association("ReadBy").Append(&models.User{ID: senderID})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	var populated models.Message
	if err := s.db.WithContext(ctx).Preload("Sender").Preload("ReadBy").First(&populated, "id = ?", msg.ID).Error; err != nil {
		return nil, err
	}
	return &populated, nil
}

// UpdateLastMessage points the conversation at its most recent message
// and refreshes the ordering timestamp.
func (s *gormStore) UpdateLastMessage(ctx context.Context, conversationID, messageID string) error {
	return s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// MarkMessagesRead adds readerID to the read-set of every message in the
// conversation they did not send and have not yet read. Set-union
// semantics: a second call finds nothing to update. Returns the number
// of messages newly marked.
func (s *gormStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	alreadyRead := s.db.Table("message_reads").Select("message_id").Where("user_id = ?", readerID)

	var unread []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, readerID).
		Where("id NOT IN (?)", alreadyRead).
		Find(&unread).Error
	if err != nil {
		return 0, err
	}

	reader := models.User{ID: readerID}
	for i := range unread {
		if err := s.db.WithContext(ctx).Model(&unread[i]).Association("ReadBy").Append(&reader); err != nil {
			return 0, err
		}
	}

	return int64(len(unread)), nil
}

// CountUnread returns how many messages in the conversation userID has
// not read and did not send.
func (s *gormStore) CountUnread(ctx context.Context, conversationID, userID string) (int64, error) {
	alreadyRead := s.db.Table("message_reads").Select("message_id").Where("user_id = ?", userID)

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ?", conversationID, userID).
		Where("id NOT IN (?)", alreadyRead).
		Count(&count).Error
	return count, err
}

// ListConversations returns every conversation userID participates in,
// most recently active first.
func (s *gormStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	memberOf := s.db.Table("conversation_participants").Select("conversation_id").Where("user_id = ?", userID)

	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Where("id IN (?)", memberOf).
		Preload("Participants").
		Preload("LastMessage").
		Preload("LastMessage.Sender").
		Order("updated_at DESC").
		Find(&convs).Error
	return convs, err
}

// ListMessages returns the conversation's messages in chronological
// order. limit <= 0 means no limit.
func (s *gormStore) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.Message, error) {
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Preload("Sender").
		Preload("ReadBy").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var msgs []models.Message
	err := q.Find(&msgs).Error
	return msgs, err
}
