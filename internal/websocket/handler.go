package websocket

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/driftline/backend/internal/auth"
	"github.com/driftline/backend/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler accepts WebSocket upgrade requests. Authentication runs
// synchronously in the handshake: the connection is refused before any
// protocol-level data is exchanged when the credential is missing or
// invalid.
type Handler struct {
	hub      *Hub
	verifier *auth.Verifier
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, verifier *auth.Verifier) *Handler {
	return &Handler{hub: hub, verifier: verifier}
}

// HandleWebSocket handles WebSocket upgrade requests.
// The credential is taken from the "token" cookie when present,
// otherwise from the Authorization header or ?token= query parameter.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	userID, err := h.verifier.VerifyRequest(c.Request)
	if err != nil {
		logger.Log.Warn("WebSocket auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// TODO: restrict origins once the web client's domains are final
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, userID)
	client.RemoteAddr = c.ClientIP()
	client.UserAgent = c.GetHeader("User-Agent")

	h.hub.Register(client)

	_ = client.Send(NewEvent(EventSystem, SystemPayload{
		Event: "connected",
		Data: map[string]interface{}{
			"user_id":     userID,
			"server_time": time.Now().UTC().UnixMilli(),
		},
	}))

	go client.WritePump()
	client.ReadPump() // blocks until the client disconnects
}

// HandleOnlineStatus checks whether specific users are online.
// POST /api/v1/ws/online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		statuses[userID] = h.hub.IsUserOnline(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}

// HandleStats returns hub statistics for monitoring.
// GET /api/v1/ws/stats
func (h *Handler) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"websocket":    h.hub.GetStats(),
		"online_users": h.hub.OnlineUsers(),
		"timestamp":    time.Now().UTC(),
	})
}

// GetHub returns the hub for external access
func (h *Handler) GetHub() *Hub {
	return h.hub
}
