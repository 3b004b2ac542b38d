package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/driftline/backend/internal/cache"
	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/driftline/backend/internal/logger"
	"github.com/driftline/backend/internal/metrics"
	"github.com/driftline/backend/internal/models"
	"go.uber.org/zap"
)

// unreadCacheTTL bounds staleness of cached unread counts. Counts are
// invalidated on send and mark-read anyway; the TTL covers writers
// outside this process.
const unreadCacheTTL = 30 * time.Second

// Service is the single trim/validate/authorize/persist sequence behind
// both message-send adapters (WebSocket primary, REST fallback). The
// adapters differ only in whether a broadcast follows.
type Service struct {
	store Store
	redis *cache.RedisClient // optional, nil disables unread caching
}

// NewService creates a chat service. redis may be nil.
func NewService(store Store, redis *cache.RedisClient) *Service {
	return &Service{store: store, redis: redis}
}

// GetOrCreateConversation returns the direct conversation between the
// caller and otherUserID, creating it if it does not exist yet.
func (s *Service) GetOrCreateConversation(ctx context.Context, userID, otherUserID string) (*models.Conversation, bool, error) {
	if otherUserID == "" {
		return nil, false, apierrors.ValidationError("participant_id", "participant_id is required")
	}
	if otherUserID == userID {
		return nil, false, apierrors.ValidationError("participant_id", "cannot start a conversation with yourself")
	}

	conv, created, err := s.store.GetOrCreateDirectConversation(ctx, userID, otherUserID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, false, apierrors.NotFound("participant")
	}
	if err != nil {
		return nil, false, apierrors.InternalError("failed to open conversation")
	}
	return conv, created, nil
}

// SendMessage validates, authorizes and persists a message. The message
// is durable, with its last-message pointer updated, before this returns;
// callers broadcast only afterwards.
func (s *Service) SendMessage(ctx context.Context, senderID, conversationID, content string) (*models.Message, *models.Conversation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil, apierrors.ValidationError("content", "message content cannot be empty")
	}

	conv, err := s.authorize(ctx, conversationID, senderID)
	if err != nil {
		return nil, nil, err
	}

	msg, err := s.store.CreateMessage(ctx, conversationID, senderID, content)
	if err != nil {
		logger.Log.Error("Failed to persist message",
			logger.WithUserID(senderID),
			logger.WithConversationID(conversationID),
			zap.Error(err))
		return nil, nil, apierrors.InternalError("failed to send message")
	}

	if err := s.store.UpdateLastMessage(ctx, conversationID, msg.ID); err != nil {
		logger.Log.Error("Failed to update last message pointer",
			logger.WithConversationID(conversationID),
			zap.Error(err))
		return nil, nil, apierrors.InternalError("failed to send message")
	}

	for _, participantID := range conv.OtherParticipantIDs(senderID) {
		s.invalidateUnread(ctx, conversationID, participantID)
	}

	return msg, conv, nil
}

// MarkRead marks every message in the conversation not sent by readerID
// and not already read by them as read. Idempotent. Returns the
// conversation and the number of messages newly marked.
func (s *Service) MarkRead(ctx context.Context, readerID, conversationID string) (*models.Conversation, int64, error) {
	conv, err := s.authorize(ctx, conversationID, readerID)
	if err != nil {
		return nil, 0, err
	}

	marked, err := s.store.MarkMessagesRead(ctx, conversationID, readerID)
	if err != nil {
		logger.Log.Error("Failed to mark messages read",
			logger.WithUserID(readerID),
			logger.WithConversationID(conversationID),
			zap.Error(err))
		return nil, 0, apierrors.InternalError("failed to mark messages read")
	}

	s.invalidateUnread(ctx, conversationID, readerID)

	return conv, marked, nil
}

// Conversations lists the caller's conversations, most recent first.
func (s *Service) Conversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, apierrors.InternalError("failed to list conversations")
	}
	return convs, nil
}

// UnreadCounts returns the caller's unread count for each of the given
// conversations. Meant for conversations just loaded via Conversations,
// so it skips re-checking participation. Counts are best-effort;
// conversations whose count fails to load are omitted.
func (s *Service) UnreadCounts(ctx context.Context, userID string, convs []models.Conversation) map[string]int64 {
	counts := make(map[string]int64, len(convs))
	for _, conv := range convs {
		count, err := s.unreadCount(ctx, userID, conv.ID)
		if err != nil {
			logger.Log.Warn("Failed to count unread messages",
				logger.WithConversationID(conv.ID),
				zap.Error(err))
			continue
		}
		counts[conv.ID] = count
	}
	return counts
}

// Messages returns message history for a conversation the caller
// participates in.
func (s *Service) Messages(ctx context.Context, userID, conversationID string, limit, offset int) ([]models.Message, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, apierrors.InternalError("failed to load messages")
	}
	return msgs, nil
}

// UnreadCount returns the caller's unread count for a conversation,
// served from Redis when cached.
func (s *Service) UnreadCount(ctx context.Context, userID, conversationID string) (int64, error) {
	if _, err := s.authorize(ctx, conversationID, userID); err != nil {
		return 0, err
	}
	return s.unreadCount(ctx, userID, conversationID)
}

// unreadCount skips the participation check; callers that already hold
// the conversation (the list view) use it directly.
func (s *Service) unreadCount(ctx context.Context, userID, conversationID string) (int64, error) {
	if s.redis != nil {
		if count, err := s.redis.GetInt(ctx, unreadKey(conversationID, userID)); err == nil {
			if m := metrics.Get(); m != nil {
				m.CacheHitsTotal.WithLabelValues("unread").Inc()
			}
			return count, nil
		}
		if m := metrics.Get(); m != nil {
			m.CacheMissesTotal.WithLabelValues("unread").Inc()
		}
	}

	count, err := s.store.CountUnread(ctx, conversationID, userID)
	if err != nil {
		return 0, apierrors.InternalError("failed to count unread messages")
	}

	if s.redis != nil {
		if err := s.redis.SetEx(ctx, unreadKey(conversationID, userID), count, unreadCacheTTL); err != nil {
			logger.Log.Warn("Failed to cache unread count", zap.Error(err))
		}
	}

	return count, nil
}

// authorize loads the conversation and maps gateway errors onto the API
// error taxonomy.
func (s *Service) authorize(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.store.ConversationForParticipant(ctx, conversationID, userID)
	switch {
	case errors.Is(err, ErrConversationNotFound):
		return nil, apierrors.NotFound("conversation")
	case errors.Is(err, ErrNotParticipant):
		return nil, apierrors.Forbidden("you are not a participant of this conversation")
	case err != nil:
		return nil, apierrors.InternalError("failed to load conversation")
	}
	return conv, nil
}

func (s *Service) invalidateUnread(ctx context.Context, conversationID, userID string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, unreadKey(conversationID, userID)); err != nil {
		logger.Log.Warn("Failed to invalidate unread count cache", zap.Error(err))
	}
}

func unreadKey(conversationID, userID string) string {
	return fmt.Sprintf("unread:%s:%s", conversationID, userID)
}
