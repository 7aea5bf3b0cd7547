package websocket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	webcontext "github.com/hireflow/hireflow/internal/web/context"
	"github.com/hireflow/hireflow/internal/web/response"
)

// Config holds WebSocket configuration
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins lists accepted Origin headers. Empty accepts any origin.
	AllowedOrigins []string
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// Upgrader upgrades authenticated HTTP requests to websocket clients of the
// caller's tenant room. It expects auth and tenant middleware to have run.
type Upgrader struct {
	hub      *Hub
	upgrader *websocket.Upgrader
}

// NewUpgrader creates a new Upgrader
func NewUpgrader(hub *Hub, config Config) *Upgrader {
	allowed := make(map[string]bool, len(config.AllowedOrigins))
	for _, o := range config.AllowedOrigins {
		allowed[o] = true
	}

	return &Upgrader{
		hub: hub,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// ServeHTTP handles WebSocket upgrade requests
func (u *Upgrader) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tenantID := webcontext.GetTenant(r.Context())
	if tenantID == uuid.Nil {
		response.RenderUnauthorized(w, "Tenant required")
		return
	}

	conn, err := u.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		u.hub.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(uuid.NewString(), webcontext.GetCurrentUser(r.Context()), TenantRoom(tenantID), conn, u.hub)
	if !u.hub.add(client) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down"))
		conn.Close()
	}
}
