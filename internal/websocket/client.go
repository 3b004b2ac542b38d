package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/driftline/backend/internal/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write an event to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next frame from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB

	// Send buffer size
	sendBufferSize = 256
)

// Client is a connection handle: one live bidirectional channel bound
// to an authenticated principal, plus the set of rooms it has joined.
// Created after the handshake authenticates; destroyed on disconnect.
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// UserID is the authenticated principal, fixed for the lifetime of
	// the connection.
	UserID string

	// Buffered channel of outbound frames
	send chan []byte

	// Rooms this connection subscribed to. Guarded by the hub's lock.
	rooms map[string]struct{}

	// Connection metadata
	ConnectedAt time.Time
	RemoteAddr  string
	UserAgent   string

	rateLimiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	r.tokens += elapsed * r.refill
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a connection handle for an authenticated principal.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	config := hub.GetRateLimitConfig()

	return &Client{
		hub:         hub,
		conn:        conn,
		UserID:      userID,
		send:        make(chan []byte, sendBufferSize),
		rooms:       make(map[string]struct{}),
		ConnectedAt: time.Now(),
		rateLimiter: NewRateLimiter(config.MaxEventsPerSecond, config.BurstSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// ReadPump pumps events from the connection into the registered
// handlers. Blocks until the connection closes.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Log.Info("Client disconnected normally", logger.WithUserID(c.UserID))
			} else if c.ctx.Err() == nil {
				logger.Log.Error("Read error for client", logger.WithUserID(c.UserID), zap.Error(err))
				c.hub.stats.Errors.Add(1)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			c.SendError(string(apierrors.ErrRateLimited), "too many events, slow down")
			c.hub.stats.Errors.Add(1)
			continue
		}

		c.hub.stats.EventsReceived.Add(1)

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Log.Warn("Event parse error",
				logger.WithUserID(c.UserID),
				zap.Error(err))
			c.SendError(string(apierrors.ErrBadRequest), "failed to parse event")
			continue
		}

		if c.hub.prom != nil {
			c.hub.prom.EventsReceived.WithLabelValues(event.Type).Inc()
		}

		c.handleEvent(&event)
	}
}

// WritePump pumps frames from the hub to the connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return

		case data, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				c.conn.Close(websocket.StatusNormalClosure, "closing")
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				logger.Log.Error("Write error for client", logger.WithUserID(c.UserID), zap.Error(err))
				c.hub.stats.Errors.Add(1)
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				logger.Log.Warn("Ping failed for client", logger.WithUserID(c.UserID), zap.Error(err))
				return
			}
		}
	}
}

// handleEvent routes an incoming event. Handler failures are converted
// into an error event emitted to this connection only; they never reach
// other room members and never tear down the session.
func (c *Client) handleEvent(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = FlexibleTime{Time: time.Now().UTC()}
	}

	if event.Type == EventPing || event.Type == "heartbeat" {
		c.handlePing(event)
		return
	}

	handler, ok := c.hub.GetHandler(event.Type)
	if !ok {
		logger.Log.Warn("Unknown event type",
			logger.WithUserID(c.UserID),
			zap.String("type", event.Type))
		c.SendError(string(apierrors.ErrBadRequest), fmt.Sprintf("unknown event type: %s", event.Type))
		return
	}

	if err := handler(c, event); err != nil {
		apiErr := apierrors.AsAPIError(err)
		logger.Log.Error("Event handler error",
			logger.WithUserID(c.UserID),
			zap.String("type", event.Type),
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
		c.hub.stats.Errors.Add(1)
		if c.hub.prom != nil {
			c.hub.prom.WebSocketErrors.WithLabelValues(string(apiErr.Code)).Inc()
		}
		c.SendError(string(apiErr.Code), apiErr.Message)
	}
}

// handlePing responds to ping events with pong
func (c *Client) handlePing(event *Event) {
	var ping PingPayload
	if err := event.ParsePayload(&ping); err != nil {
		ping.ClientTime = 0
	}

	serverTime := time.Now().UnixMilli()
	pong := NewEvent(EventPong, PongPayload{
		ClientTime: ping.ClientTime,
		ServerTime: serverTime,
		Latency:    serverTime - ping.ClientTime,
	})

	if event.ID != "" {
		pong.ReplyTo = event.ID
	}

	// Best-effort, connection may be closing
	_ = c.Send(pong)
}

// Send enqueues an event to this client. The hub's lock guards the
// send channel against a concurrent close from Unregister.
func (c *Client) Send(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if _, ok := c.hub.allClients[c]; !ok {
		return fmt.Errorf("client connection closed")
	}

	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// SendError sends an error event to this client only
func (c *Client) SendError(code, message string) {
	_ = c.Send(NewErrorEvent(code, message))
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	c.cancel()

	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
}

// IsClosed returns whether the client connection is closed
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
