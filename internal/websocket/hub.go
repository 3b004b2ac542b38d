// Package websocket provides the realtime messaging transport: the
// presence registry, conversation-room fan-out and per-connection
// sessions. Built on github.com/coder/websocket, the context-aware
// WebSocket library for Go.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driftline/backend/internal/logger"
	"github.com/driftline/backend/internal/metrics"
	"go.uber.org/zap"
)

// Hub owns the presence registry and the room-subscription table, and
// dispatches fan-out. It is constructed and injected explicitly; tests
// build isolated instances.
//
// The registry maps each principal to at most one connection handle:
// a reconnect from the same principal overwrites the prior entry
// (last-writer-wins), leaving the earlier connection unreachable for
// direct notification even if it is still open. Multi-device fan-out is
// deliberately not attempted.
type Hub struct {
	// Presence registry: principal -> live connection handle. Sole
	// source of truth for "is this principal reachable for direct
	// notification".
	clients map[string]*Client

	// Every accepted connection, including handles displaced from the
	// registry by a reconnect. Membership means the hub owns the
	// client's send channel and has not closed it yet.
	allClients map[*Client]struct{}

	// Room-subscription table: conversation id -> subscribed handles.
	rooms map[string]map[*Client]struct{}

	mu sync.RWMutex

	// Event handlers by type
	handlers map[string]EventHandler

	// Invoked (async) when a principal becomes reachable/unreachable,
	// so callers can mirror presence into durable storage.
	presenceCallback func(userID string, online bool)

	// Counters
	stats *Stats
	prom  *metrics.Metrics

	// Shutdown handling
	ctx    context.Context
	cancel context.CancelFunc

	rateLimitConfig RateLimitConfig
}

// EventHandler processes an incoming event of a specific type. A
// returned error is converted into an error event delivered to the
// originating connection only; it never reaches other room members.
type EventHandler func(client *Client, event *Event) error

// Stats tracks hub statistics
type Stats struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	EventsReceived     atomic.Int64
	EventsSent         atomic.Int64
	Errors             atomic.Int64
	ConnectionsDropped atomic.Int64
}

// RateLimitConfig defines per-connection rate limiting parameters
type RateLimitConfig struct {
	MaxEventsPerSecond int
	BurstSize          int
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxEventsPerSecond: 10,
		BurstSize:          20,
	}
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:         make(map[string]*Client),
		allClients:      make(map[*Client]struct{}),
		rooms:           make(map[string]map[*Client]struct{}),
		handlers:        make(map[string]EventHandler),
		stats:           &Stats{},
		prom:            metrics.Get(),
		ctx:             ctx,
		cancel:          cancel,
		rateLimitConfig: DefaultRateLimitConfig(),
	}
}

// RegisterHandler registers a handler for a specific event type
func (h *Hub) RegisterHandler(eventType string, handler EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[eventType] = handler
}

// GetHandler returns the handler for an event type
func (h *Hub) GetHandler(eventType string) (EventHandler, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handler, ok := h.handlers[eventType]
	return handler, ok
}

// SetPresenceCallback installs a hook mirroring presence changes into
// durable storage. Called from its own goroutine; must not block on the
// hub.
func (h *Hub) SetPresenceCallback(cb func(userID string, online bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.presenceCallback = cb
}

// Register stores the client as its principal's connection handle,
// overwriting any prior handle, and broadcasts user_online to all
// connected parties.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.UserID] = client
	h.allClients[client] = struct{}{}
	h.stats.TotalConnections.Add(1)
	h.stats.ActiveConnections.Add(1)
	cb := h.presenceCallback
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.ConnectionsTotal.Inc()
		h.prom.ActiveConnections.Inc()
	}

	logger.Log.Info("Client connected",
		logger.WithUserID(client.UserID),
		zap.Int64("active", h.stats.ActiveConnections.Load()))

	if cb != nil {
		go cb(client.UserID, true)
	}

	h.BroadcastAll(NewEvent(EventUserOnline, PresencePayload{
		UserID:    client.UserID,
		Timestamp: time.Now().UnixMilli(),
	}))
}

// Unregister removes the client from the registry and every room it
// joined, then broadcasts user_offline. The registry entry is removed
// only when it still points at this client: the disconnect of a handle
// that was already displaced by a reconnect must not unregister the
// newer connection, and must not announce the principal offline.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.allClients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.allClients, client)

	wasRegistered := h.clients[client.UserID] == client
	if wasRegistered {
		delete(h.clients, client.UserID)
	}

	// Transport teardown implicitly drops room subscriptions.
	for roomID := range client.rooms {
		if members, ok := h.rooms[roomID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	client.rooms = make(map[string]struct{})

	close(client.send)
	h.stats.ActiveConnections.Add(-1)
	cb := h.presenceCallback
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.ActiveConnections.Dec()
	}

	logger.Log.Info("Client disconnected",
		logger.WithUserID(client.UserID),
		zap.Int64("active", h.stats.ActiveConnections.Load()))

	if !wasRegistered {
		return
	}

	if cb != nil {
		go cb(client.UserID, false)
	}

	h.BroadcastAll(NewEvent(EventUserOffline, PresencePayload{
		UserID:    client.UserID,
		Timestamp: time.Now().UnixMilli(),
	}))
}

// JoinRoom subscribes the client to a room's broadcast group.
// Idempotent per room id. Membership is advisory: authorization is
// enforced at message-send time, not here.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	if roomID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.allClients[client]; !ok {
		return
	}

	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	client.rooms[roomID] = struct{}{}
}

// BroadcastToRoom delivers an event to every connection subscribed to
// the room, including the caller's own connection if subscribed. The
// session layer relies on receiving its own broadcast instead of a
// separate local echo.
func (h *Hub) BroadcastToRoom(roomID string, event *Event) {
	h.broadcastRoom(roomID, nil, event)
}

// BroadcastToRoomExcept delivers to every room member except one
// connection. Used for ephemeral signals the sender should not receive
// back (typing, read receipts).
func (h *Hub) BroadcastToRoomExcept(roomID string, except *Client, event *Event) {
	h.broadcastRoom(roomID, except, event)
}

func (h *Hub) broadcastRoom(roomID string, except *Client, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("Failed to marshal room broadcast", zap.Error(err))
		return
	}

	// Deliveries happen under the read lock: Unregister closes send
	// channels under the write lock, so a frame can never race a close.
	h.mu.RLock()
	reached := 0
	for client := range h.rooms[roomID] {
		if client != except {
			h.deliver(client, event.Type, data)
			reached++
		}
	}
	h.mu.RUnlock()

	if h.prom != nil {
		h.prom.BroadcastFanout.Observe(float64(reached))
	}
}

// NotifyUser delivers an event directly to a principal's registered
// connection. Silently no-ops when the principal is offline: there is no
// queued-notification mechanism.
func (h *Hub) NotifyUser(userID string, event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("Failed to marshal direct notification", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if client, ok := h.clients[userID]; ok {
		h.deliver(client, event.Type, data)
	}
}

// BroadcastAll delivers an event to every registered connection.
func (h *Hub) BroadcastAll(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("Failed to marshal broadcast", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		h.deliver(client, event.Type, data)
	}
}

// deliver enqueues a frame on the client's send buffer; the caller must
// hold at least the read lock. A full buffer means the client stopped
// draining; it is closed rather than allowed to stall fan-out.
func (h *Hub) deliver(client *Client, eventType string, data []byte) {
	select {
	case client.send <- data:
		h.stats.EventsSent.Add(1)
		if h.prom != nil {
			h.prom.EventsSent.WithLabelValues(eventType).Inc()
		}
	default:
		h.stats.ConnectionsDropped.Add(1)
		logger.Log.Warn("Dropping client with full send buffer", logger.WithUserID(client.UserID))
		go client.Close()
	}
}

// IsUserOnline checks whether a principal has a registered connection
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// IsUserInRoom checks whether a principal's registered connection is
// subscribed to the room.
func (h *Hub) IsUserInRoom(userID, roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[userID]
	if !ok {
		return false
	}
	_, ok = h.rooms[roomID][client]
	return ok
}

// OnlineUsers returns all principals with a registered connection
func (h *Hub) OnlineUsers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	users := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		users = append(users, userID)
	}
	return users
}

// GetRateLimitConfig returns the current rate limit configuration
func (h *Hub) GetRateLimitConfig() RateLimitConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rateLimitConfig
}

// SetRateLimitConfig updates the rate limiting configuration
func (h *Hub) SetRateLimitConfig(config RateLimitConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rateLimitConfig = config
}

// GetStats returns a point-in-time snapshot of hub statistics
func (h *Hub) GetStats() StatsSnapshot {
	return StatsSnapshot{
		TotalConnections:   h.stats.TotalConnections.Load(),
		ActiveConnections:  h.stats.ActiveConnections.Load(),
		EventsReceived:     h.stats.EventsReceived.Load(),
		EventsSent:         h.stats.EventsSent.Load(),
		Errors:             h.stats.Errors.Load(),
		ConnectionsDropped: h.stats.ConnectionsDropped.Load(),
	}
}

// StatsSnapshot is a point-in-time snapshot of hub statistics
type StatsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	EventsReceived     int64 `json:"events_received"`
	EventsSent         int64 `json:"events_sent"`
	Errors             int64 `json:"errors"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// String implements Stringer for StatsSnapshot
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"connections=%d/%d events=rx:%d/tx:%d errors=%d dropped=%d",
		s.ActiveConnections, s.TotalConnections,
		s.EventsReceived, s.EventsSent,
		s.Errors, s.ConnectionsDropped,
	)
}

// Shutdown notifies and closes every connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	shutdownEvent := NewEvent(EventSystem, SystemPayload{Event: "server_shutdown"})
	data, _ := json.Marshal(shutdownEvent)

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.allClients))
	for client := range h.allClients {
		select {
		case client.send <- data:
		default:
		}
		clients = append(clients, client)
	}
	h.allClients = make(map[*Client]struct{})
	h.clients = make(map[string]*Client)
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}

	logger.Log.Info("WebSocket hub shut down", zap.Int("connections_closed", len(clients)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
