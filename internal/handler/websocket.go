package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"safechat/internal/logging"
	"safechat/internal/realtime"
)

// createUpgrader creates a WebSocket upgrader with the given allowed origins
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowedMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowedMap[origin] = true
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowedMap[origin]
		},
	}
}

// HandleWebSocket handles GET /ws
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := createUpgrader(h.Config.AllowedOrigins)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("WebSocket upgrade error")
		return
	}

	// 認証・購読はクライアントからのフレームで行う
	realtime.NewClient(h.Hub, conn).Serve()
}
