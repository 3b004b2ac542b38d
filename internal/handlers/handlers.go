// Package handlers implements the REST fallback surface for clients
// unable to hold a live WebSocket connection. The persistence behavior
// is identical to the socket path; REST sends simply do not broadcast.
package handlers

import (
	"net/http"

	"github.com/driftline/backend/internal/auth"
	"github.com/driftline/backend/internal/chat"
	apierrors "github.com/driftline/backend/internal/errors"
	"github.com/gin-gonic/gin"
)

// Handlers holds dependencies for the REST endpoints
type Handlers struct {
	chat     *chat.Service
	verifier *auth.Verifier
}

// NewHandlers creates the REST handler set
func NewHandlers(chatService *chat.Service, verifier *auth.Verifier) *Handlers {
	return &Handlers{chat: chatService, verifier: verifier}
}

// AuthMiddleware validates the bearer credential and stores the
// authenticated principal's id on the request context.
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := h.verifier.VerifyRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated", "message": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Next()
	}
}

// currentUserID returns the authenticated principal set by AuthMiddleware.
func currentUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not_authenticated"})
		return "", false
	}
	return userID.(string), true
}

// respondError maps a service error onto its HTTP status and body.
func respondError(c *gin.Context, err error) {
	apiErr := apierrors.AsAPIError(err)
	c.JSON(apiErr.Status, gin.H{
		"error":   string(apiErr.Code),
		"message": apiErr.Message,
	})
}
