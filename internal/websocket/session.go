package websocket

import (
	"context"

	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/driftline/backend/internal/models"
)

// ChatService is the slice of the chat use-cases the session layer
// needs. Satisfied by *chat.Service; session tests substitute a fake.
type ChatService interface {
	SendMessage(ctx context.Context, senderID, conversationID, content string) (*models.Message, *models.Conversation, error)
	MarkRead(ctx context.Context, readerID, conversationID string) (*models.Conversation, int64, error)
}

// Session wires the conversation event handlers into a hub. One Session
// serves every connection; per-connection state (principal, joined
// rooms) lives on the Client.
//
// Room join is subscription-only: a connection may subscribe to any
// room id, and authorization is enforced on every send instead. That
// keeps a stale subscription harmless if a participant is ever removed
// from a conversation.
type Session struct {
	hub  *Hub
	chat ChatService
}

// NewSession creates the session layer over a hub and chat service.
func NewSession(hub *Hub, chat ChatService) *Session {
	return &Session{hub: hub, chat: chat}
}

// RegisterHandlers installs the conversation event handlers on the hub.
func (s *Session) RegisterHandlers() {
	s.hub.RegisterHandler(EventJoinConversations, s.handleJoinConversations)
	s.hub.RegisterHandler(EventJoinConversation, s.handleJoinConversation)
	s.hub.RegisterHandler(EventSendMessage, s.handleSendMessage)
	s.hub.RegisterHandler(EventTypingStart, s.handleTypingStart)
	s.hub.RegisterHandler(EventTypingStop, s.handleTypingStop)
	s.hub.RegisterHandler(EventMarkRead, s.handleMarkRead)
}

func (s *Session) handleJoinConversations(client *Client, event *Event) error {
	var payload JoinConversationsPayload
	if err := event.ParsePayload(&payload); err != nil {
		return apierrors.BadRequest("invalid join_conversations payload")
	}

	for _, id := range payload.ConversationIDs {
		s.hub.JoinRoom(client, id)
	}
	return nil
}

func (s *Session) handleJoinConversation(client *Client, event *Event) error {
	var payload JoinConversationPayload
	if err := event.ParsePayload(&payload); err != nil {
		return apierrors.BadRequest("invalid join_conversation payload")
	}

	s.hub.JoinRoom(client, payload.ConversationID)
	return nil
}

// handleSendMessage validates, authorizes and persists the message, and
// only then fans out. The gateway write completing is a precondition of
// every broadcast: subscribers must never observe a message id that is
// not yet durable.
func (s *Session) handleSendMessage(client *Client, event *Event) error {
	var payload SendMessagePayload
	if err := event.ParsePayload(&payload); err != nil {
		return apierrors.BadRequest("invalid send_message payload")
	}

	msg, conv, err := s.chat.SendMessage(client.ctx, client.UserID, payload.ConversationID, payload.Content)
	if err != nil {
		return err
	}

	// Room broadcast reaches the sender's own connection too; the
	// sender's UI updates from this, not from a separate ack.
	s.hub.BroadcastToRoom(conv.ID, NewEvent(EventNewMessage, MessagePayload{
		ConversationID: conv.ID,
		Message:        msg,
	}))

	// Participants who are online but have not opened the thread get a
	// direct notification instead of the room broadcast. Offline
	// participants get nothing; there is no offline queue.
	for _, participantID := range conv.OtherParticipantIDs(client.UserID) {
		if s.hub.IsUserInRoom(participantID, conv.ID) {
			continue
		}
		s.hub.NotifyUser(participantID, NewEvent(EventMessageNotification, MessagePayload{
			ConversationID: conv.ID,
			Message:        msg,
		}))
	}

	return nil
}

// Typing signals are fire-and-forget: no persistence, no ack, at most
// once, excluding the typer's own connection.
func (s *Session) handleTypingStart(client *Client, event *Event) error {
	return s.broadcastTyping(client, event, EventUserTyping)
}

func (s *Session) handleTypingStop(client *Client, event *Event) error {
	return s.broadcastTyping(client, event, EventUserStoppedTyping)
}

func (s *Session) broadcastTyping(client *Client, event *Event, eventType string) error {
	var payload TypingPayload
	if err := event.ParsePayload(&payload); err != nil {
		return apierrors.BadRequest("invalid typing payload")
	}

	s.hub.BroadcastToRoomExcept(payload.ConversationID, client, NewEvent(eventType, TypingPayload{
		ConversationID: payload.ConversationID,
		UserID:         client.UserID,
	}))
	return nil
}

// handleMarkRead persists the read-set union, then signals the rest of
// the room. The fan-out is best-effort: a failed broadcast does not roll
// back the persistence.
func (s *Session) handleMarkRead(client *Client, event *Event) error {
	var payload MarkReadPayload
	if err := event.ParsePayload(&payload); err != nil {
		return apierrors.BadRequest("invalid mark_read payload")
	}

	conv, _, err := s.chat.MarkRead(client.ctx, client.UserID, payload.ConversationID)
	if err != nil {
		return err
	}

	s.hub.BroadcastToRoomExcept(conv.ID, client, NewEvent(EventMessagesRead, MessagesReadPayload{
		ConversationID: conv.ID,
		UserID:         client.UserID,
	}))
	return nil
}
