package websocket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftline/backend/internal/models"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	// Try Unix milliseconds first (integer)
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Event types for the messaging protocol
const (
	// System events
	EventSystem = "system"
	EventPing   = "ping"
	EventPong   = "pong"
	EventError  = "error"

	// Client-to-server events
	EventJoinConversations = "join_conversations"
	EventJoinConversation  = "join_conversation"
	EventSendMessage       = "send_message"
	EventTypingStart       = "typing_start"
	EventTypingStop        = "typing_stop"
	EventMarkRead          = "mark_read"

	// Server-to-client events
	EventUserOnline          = "user_online"
	EventUserOffline         = "user_offline"
	EventNewMessage          = "new_message"
	EventMessageNotification = "message_notification"
	EventUserTyping          = "user_typing"
	EventUserStoppedTyping   = "user_stopped_typing"
	EventMessagesRead        = "messages_read"
)

// Event is the wire envelope for every frame exchanged over a
// connection.
type Event struct {
	// Type identifies the event for routing
	Type string `json:"type"`

	// Payload contains the event-specific data
	Payload interface{} `json:"payload,omitempty"`

	// ID is a unique event identifier for acknowledgment
	ID string `json:"id,omitempty"`

	// ReplyTo references the original event ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the event was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewEvent creates an event with the current timestamp
func NewEvent(eventType string, payload interface{}) *Event {
	return &Event{
		Type:      eventType,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorEvent creates an error event
func NewErrorEvent(code, message string) *Event {
	return &Event{
		Type: EventError,
		Payload: ErrorPayload{
			Code:    code,
			Message: message,
		},
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// ParsePayload unmarshals the payload into a specific type
func (e *Event) ParsePayload(target interface{}) error {
	if e.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// ErrorPayload carries an operation-scoped failure to the originating
// connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PingPayload represents a ping payload
type PingPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a pong payload
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// JoinConversationsPayload subscribes the connection to several rooms
type JoinConversationsPayload struct {
	ConversationIDs []string `json:"conversation_ids"`
}

// JoinConversationPayload subscribes the connection to one room
type JoinConversationPayload struct {
	ConversationID string `json:"conversation_id"`
}

// SendMessagePayload submits a message to a conversation
type SendMessagePayload struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// TypingPayload signals ephemeral typing state
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"`
}

// MarkReadPayload marks a conversation's messages read
type MarkReadPayload struct {
	ConversationID string `json:"conversation_id"`
}

// MessagePayload carries a fully-populated persisted message. Used for
// both new_message room broadcasts and message_notification direct
// delivery.
type MessagePayload struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message"`
}

// PresencePayload announces a presence change
type PresencePayload struct {
	UserID    string `json:"user_id"`
	Timestamp int64  `json:"timestamp"`
}

// MessagesReadPayload is a read-receipt signal for a conversation
type MessagesReadPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
