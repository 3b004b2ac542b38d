package websocket

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftline/backend/internal/auth"
)

func newHandlerRouter(t *testing.T) (*gin.Engine, *Handler, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier := auth.NewVerifier([]byte("test-secret"))
	handler := NewHandler(NewHub(), verifier)

	r := gin.New()
	r.GET("/ws", handler.HandleWebSocket)
	r.POST("/ws/online", handler.HandleOnlineStatus)
	r.GET("/ws/stats", handler.HandleStats)
	return r, handler, verifier
}

func TestHandleWebSocketRejectsMissingCredential(t *testing.T) {
	r, _, _ := newHandlerRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))

	// Refused before the upgrade: a plain HTTP 401, no protocol frames.
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "authentication_failed", body["error"])
}

func TestHandleWebSocketRejectsExpiredCredential(t *testing.T) {
	r, _, verifier := newHandlerRouter(t)

	token, err := verifier.IssueToken("alice", -time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleOnlineStatus(t *testing.T) {
	r, handler, _ := newHandlerRouter(t)

	alice := newTestClient(handler.GetHub(), "alice")
	defer handler.GetHub().Unregister(alice)

	body, err := json.Marshal(gin.H{"user_ids": []string{"alice", "ghost"}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ws/online", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Statuses map[string]bool `json:"statuses"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Statuses["alice"])
	assert.False(t, resp.Statuses["ghost"])
}

func TestHandleOnlineStatusBadPayload(t *testing.T) {
	r, _, _ := newHandlerRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/ws/online", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleStats(t *testing.T) {
	r, handler, _ := newHandlerRouter(t)

	alice := newTestClient(handler.GetHub(), "alice")
	defer handler.GetHub().Unregister(alice)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		WebSocket   StatsSnapshot `json:"websocket"`
		OnlineUsers []string      `json:"online_users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.WebSocket.ActiveConnections)
	assert.Equal(t, []string{"alice"}, resp.OnlineUsers)
}
