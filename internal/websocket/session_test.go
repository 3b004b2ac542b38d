package websocket

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/driftline/backend/internal/models"
)

// fakeChatService records calls and returns canned results, so session
// tests exercise fan-out without a database.
type fakeChatService struct {
	conv *models.Conversation

	sendErr     error
	markReadErr error

	sentContent []string
	markedBy    []string
}

func (f *fakeChatService) SendMessage(ctx context.Context, senderID, conversationID, content string) (*models.Message, *models.Conversation, error) {
	if f.sendErr != nil {
		return nil, nil, f.sendErr
	}
	f.sentContent = append(f.sentContent, content)
	msg := &models.Message{
		ID:             "msg-1",
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	return msg, f.conv, nil
}

func (f *fakeChatService) MarkRead(ctx context.Context, readerID, conversationID string) (*models.Conversation, int64, error) {
	if f.markReadErr != nil {
		return nil, 0, f.markReadErr
	}
	f.markedBy = append(f.markedBy, readerID)
	return f.conv, 1, nil
}

func directConversation(id string, userIDs ...string) *models.Conversation {
	conv := &models.Conversation{ID: id}
	for _, uid := range userIDs {
		conv.Participants = append(conv.Participants, models.User{ID: uid})
	}
	return conv
}

func newSessionHub(t *testing.T, svc ChatService) *Hub {
	t.Helper()
	hub := NewHub()
	NewSession(hub, svc).RegisterHandlers()
	return hub
}

func dispatch(t *testing.T, hub *Hub, client *Client, eventType string, payload interface{}) error {
	t.Helper()
	handler, ok := hub.GetHandler(eventType)
	require.True(t, ok, "no handler for %s", eventType)
	return handler(client, NewEvent(eventType, payload))
}

func TestSessionRegistersAllHandlers(t *testing.T) {
	hub := newSessionHub(t, &fakeChatService{})

	for _, eventType := range []string{
		EventJoinConversations,
		EventJoinConversation,
		EventSendMessage,
		EventTypingStart,
		EventTypingStop,
		EventMarkRead,
	} {
		_, ok := hub.GetHandler(eventType)
		assert.True(t, ok, "missing handler for %s", eventType)
	}
}

func TestJoinConversationsSubscribesAll(t *testing.T) {
	hub := newSessionHub(t, &fakeChatService{})
	alice := newTestClient(hub, "alice")

	err := dispatch(t, hub, alice, EventJoinConversations, JoinConversationsPayload{
		ConversationIDs: []string{"conv-1", "conv-2"},
	})
	require.NoError(t, err)

	assert.True(t, hub.IsUserInRoom("alice", "conv-1"))
	assert.True(t, hub.IsUserInRoom("alice", "conv-2"))
}

func TestSendMessageBroadcastsToRoom(t *testing.T) {
	svc := &fakeChatService{conv: directConversation("conv-1", "alice", "bob")}
	hub := newSessionHub(t, svc)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(bob, "conv-1")
	drain(alice)
	drain(bob)

	err := dispatch(t, hub, alice, EventSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "hello bob",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hello bob"}, svc.sentContent)

	// Both subscribers receive the broadcast, sender included; no
	// separate notification for the subscribed recipient.
	for _, client := range []*Client{alice, bob} {
		event := nextEvent(t, client)
		assert.Equal(t, EventNewMessage, event.Type)

		var payload MessagePayload
		require.NoError(t, event.ParsePayload(&payload))
		assert.Equal(t, "conv-1", payload.ConversationID)
		require.NotNil(t, payload.Message)
		assert.Equal(t, "hello bob", payload.Message.Content)
		assert.Equal(t, "alice", payload.Message.SenderID)
	}

	select {
	case data := <-bob.send:
		t.Fatalf("subscribed recipient also got a direct notification: %s", data)
	default:
	}
}

func TestSendMessageNotifiesUnsubscribedParticipant(t *testing.T) {
	svc := &fakeChatService{conv: directConversation("conv-1", "alice", "bob")}
	hub := newSessionHub(t, svc)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob") // online, thread not open
	hub.JoinRoom(alice, "conv-1")
	drain(alice)
	drain(bob)

	err := dispatch(t, hub, alice, EventSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "psst",
	})
	require.NoError(t, err)

	assert.Equal(t, EventNewMessage, nextEvent(t, alice).Type)

	event := nextEvent(t, bob)
	assert.Equal(t, EventMessageNotification, event.Type)

	var payload MessagePayload
	require.NoError(t, event.ParsePayload(&payload))
	assert.Equal(t, "conv-1", payload.ConversationID)
	assert.Equal(t, "psst", payload.Message.Content)
}

func TestSendMessageOfflineParticipantGetsNothing(t *testing.T) {
	svc := &fakeChatService{conv: directConversation("conv-1", "alice", "bob")}
	hub := newSessionHub(t, svc)

	alice := newTestClient(hub, "alice")
	hub.JoinRoom(alice, "conv-1")
	drain(alice)

	// Bob is offline; the send still succeeds.
	err := dispatch(t, hub, alice, EventSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "anyone there?",
	})
	require.NoError(t, err)
	assert.Equal(t, EventNewMessage, nextEvent(t, alice).Type)
}

func TestSendMessageFailureProducesNoBroadcast(t *testing.T) {
	svc := &fakeChatService{
		conv:    directConversation("conv-1", "alice", "bob"),
		sendErr: apierrors.Forbidden("you are not a participant of this conversation"),
	}
	hub := newSessionHub(t, svc)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(bob, "conv-1")
	drain(alice)
	drain(bob)

	err := dispatch(t, hub, alice, EventSendMessage, SendMessagePayload{
		ConversationID: "conv-1",
		Content:        "let me in",
	})
	require.Error(t, err)

	apiErr := apierrors.AsAPIError(err)
	assert.Equal(t, apierrors.ErrForbidden, apiErr.Code)

	// The failure stays on the originating connection; nothing reaches
	// the room.
	for _, client := range []*Client{alice, bob} {
		select {
		case data := <-client.send:
			t.Fatalf("rejected send leaked a frame: %s", data)
		default:
		}
	}
}

func TestSendMessageBadPayload(t *testing.T) {
	hub := newSessionHub(t, &fakeChatService{})
	alice := newTestClient(hub, "alice")

	err := dispatch(t, hub, alice, EventSendMessage, "not an object")
	require.Error(t, err)
	assert.Equal(t, apierrors.ErrBadRequest, apierrors.AsAPIError(err).Code)
}

func TestTypingSignalsExcludeTyper(t *testing.T) {
	hub := newSessionHub(t, &fakeChatService{})

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(bob, "conv-1")
	drain(alice)
	drain(bob)

	require.NoError(t, dispatch(t, hub, alice, EventTypingStart, TypingPayload{ConversationID: "conv-1"}))

	event := nextEvent(t, bob)
	assert.Equal(t, EventUserTyping, event.Type)

	var payload TypingPayload
	require.NoError(t, event.ParsePayload(&payload))
	assert.Equal(t, "alice", payload.UserID)
	assert.Equal(t, "conv-1", payload.ConversationID)

	require.NoError(t, dispatch(t, hub, alice, EventTypingStop, TypingPayload{ConversationID: "conv-1"}))
	assert.Equal(t, EventUserStoppedTyping, nextEvent(t, bob).Type)

	select {
	case data := <-alice.send:
		t.Fatalf("typer received their own typing signal: %s", data)
	default:
	}
}

func TestMarkReadBroadcastsReceipt(t *testing.T) {
	svc := &fakeChatService{conv: directConversation("conv-1", "alice", "bob")}
	hub := newSessionHub(t, svc)

	alice := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob")
	hub.JoinRoom(alice, "conv-1")
	hub.JoinRoom(bob, "conv-1")
	drain(alice)
	drain(bob)

	require.NoError(t, dispatch(t, hub, bob, EventMarkRead, MarkReadPayload{ConversationID: "conv-1"}))
	assert.Equal(t, []string{"bob"}, svc.markedBy)

	event := nextEvent(t, alice)
	assert.Equal(t, EventMessagesRead, event.Type)

	var payload MessagesReadPayload
	require.NoError(t, event.ParsePayload(&payload))
	assert.Equal(t, "bob", payload.UserID)

	select {
	case data := <-bob.send:
		t.Fatalf("reader received their own read receipt: %s", data)
	default:
	}
}
