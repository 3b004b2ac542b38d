package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/driftline/backend/internal/models"
)

func setupService(t *testing.T) (*gorm.DB, *Service) {
	t.Helper()
	db, store := setupStore(t)
	return db, NewService(store, nil)
}

func assertCode(t *testing.T, err error, code apierrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, apierrors.AsAPIError(err).Code)
}

func TestServiceGetOrCreateConversationValidation(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")

	_, _, err := svc.GetOrCreateConversation(ctx, alice.ID, "")
	assertCode(t, err, apierrors.ErrValidation)

	_, _, err = svc.GetOrCreateConversation(ctx, alice.ID, alice.ID)
	assertCode(t, err, apierrors.ErrValidation)

	_, _, err = svc.GetOrCreateConversation(ctx, alice.ID, uuid.New().String())
	assertCode(t, err, apierrors.ErrNotFound)
}

func TestServiceSendMessageTrimsContent(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, _, err := svc.SendMessage(ctx, alice.ID, conv.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)
}

func TestServiceSendMessageRejectsEmptyContent(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, _, err := svc.SendMessage(ctx, alice.ID, conv.ID, content)
		assertCode(t, err, apierrors.ErrValidation)
	}

	// Nothing was persisted.
	var count int64
	require.NoError(t, db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestServiceSendMessageAuthorization(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	mallory := createUser(t, db, "mallory")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, mallory.ID, conv.ID, "let me in")
	assertCode(t, err, apierrors.ErrForbidden)

	_, _, err = svc.SendMessage(ctx, alice.ID, uuid.New().String(), "into the void")
	assertCode(t, err, apierrors.ErrNotFound)
}

func TestServiceSendMessageUpdatesLastMessage(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	msg, returnedConv, err := svc.SendMessage(ctx, alice.ID, conv.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, returnedConv.ID)

	// The message is durable with the conversation pointer already
	// updated by the time SendMessage returns.
	var reloaded models.Conversation
	require.NoError(t, db.First(&reloaded, "id = ?", conv.ID).Error)
	require.NotNil(t, reloaded.LastMessageID)
	assert.Equal(t, msg.ID, *reloaded.LastMessageID)
}

func TestServiceMarkRead(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	mallory := createUser(t, db, "mallory")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, alice.ID, conv.ID, "unread")
	require.NoError(t, err)

	_, _, err = svc.MarkRead(ctx, mallory.ID, conv.ID)
	assertCode(t, err, apierrors.ErrForbidden)

	_, marked, err := svc.MarkRead(ctx, bob.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	_, marked, err = svc.MarkRead(ctx, bob.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), marked)
}

func TestServiceUnreadCount(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	mallory := createUser(t, db, "mallory")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, alice.ID, conv.ID, "one")
	require.NoError(t, err)
	_, _, err = svc.SendMessage(ctx, alice.ID, conv.ID, "two")
	require.NoError(t, err)

	count, err := svc.UnreadCount(ctx, bob.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = svc.UnreadCount(ctx, mallory.ID, conv.ID)
	assertCode(t, err, apierrors.ErrForbidden)

	_, _, err = svc.MarkRead(ctx, bob.ID, conv.ID)
	require.NoError(t, err)

	count, err = svc.UnreadCount(ctx, bob.ID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestServiceMessagesAuthorization(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	mallory := createUser(t, db, "mallory")
	conv, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, alice.ID, conv.ID, "hi")
	require.NoError(t, err)

	msgs, err := svc.Messages(ctx, bob.ID, conv.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = svc.Messages(ctx, mallory.ID, conv.ID, 0, 0)
	assertCode(t, err, apierrors.ErrForbidden)
}

func TestServiceUnreadCounts(t *testing.T) {
	db, svc := setupService(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")

	ab, _, err := svc.GetOrCreateConversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	ac, _, err := svc.GetOrCreateConversation(ctx, alice.ID, carol.ID)
	require.NoError(t, err)

	_, _, err = svc.SendMessage(ctx, bob.ID, ab.ID, "hey alice")
	require.NoError(t, err)

	convs, err := svc.Conversations(ctx, alice.ID)
	require.NoError(t, err)

	counts := svc.UnreadCounts(ctx, alice.ID, convs)
	assert.Equal(t, int64(1), counts[ab.ID])
	assert.Equal(t, int64(0), counts[ac.ID])
}
