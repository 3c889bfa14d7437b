package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/dannyai/assistant-gateway/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The browser client is served from the same host in deployment;
		// allow all origins during development.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleSession upgrades the connection and runs a conversation session
// over it until the client disconnects.
func HandleSession(cfg SessionConfig) http.HandlerFunc {
	logger := observability.GetLogger()
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		session := NewSession(conn, cfg)
		session.Run(r.Context())
	}
}
