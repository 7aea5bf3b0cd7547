package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hireflow/hireflow/internal/web/auth"
	"github.com/hireflow/hireflow/internal/web/websocket"
)

func TestWebSocket_AuthenticatesWithQueryToken(t *testing.T) {
	hub := websocket.NewHub(zaptest.NewLogger(t))
	go hub.Run()
	defer hub.Shutdown()

	tokens := auth.NewAuthService("test-secret", time.Hour)
	srv := httptest.NewServer(NewRouter(Config{
		Logger:         zaptest.NewLogger(t),
		Tokens:         tokens,
		RequestTimeout: time.Second,
		Hub:            hub,
		WebSocket:      websocket.DefaultConfig(),
	}, Services{}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + BasePath + "/ws"

	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	tenant := uuid.New()
	token, err := tokens.GenerateToken(auth.Identity{UserID: uuid.New(), TenantID: tenant, Roles: []string{auth.RoleViewer}})
	require.NoError(t, err)

	conn, resp, err := gorilla.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.RoomSize(websocket.TenantRoom(tenant)) == 1 },
		2*time.Second, 5*time.Millisecond)

	hub.Publish(tenant, "application.stage_changed", map[string]string{"to": "offer"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg websocket.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "application.stage_changed", msg.Type)
	assert.JSONEq(t, `{"to":"offer"}`, string(msg.Data))
}
