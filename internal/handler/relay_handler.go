package handler

import (
	"log/slog"
	"net/http"

	"dm-chat/internal/middleware"
	"dm-chat/internal/relay"

	"github.com/gorilla/websocket"
)

// RelayHandler upgrades authenticated connections into relay sessions
type RelayHandler struct {
	hub            *relay.Hub
	publisher      relay.Publisher
	allowedOrigins []string
}

// NewRelayHandler creates a new relay handler. publisher may be nil when
// cross-instance forwarding is disabled.
func NewRelayHandler(hub *relay.Hub, publisher relay.Publisher, allowedOrigins []string) *RelayHandler {
	return &RelayHandler{
		hub:            hub,
		publisher:      publisher,
		allowedOrigins: allowedOrigins,
	}
}

func (h *RelayHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients (CLI, sync agents)
				return true
			}
			for _, o := range h.allowedOrigins {
				if o == origin || o == "*" {
					return true
				}
			}
			return false
		},
	}
}

// HandleConnection handles relay upgrade and session lifecycle
func (h *RelayHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	// Set by auth middleware; relay clients pass the token as a query param
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("relay upgrade failed",
			slog.String("error", err.Error()),
			slog.String("user_id", userID))
		return
	}

	session := relay.NewSession(r.Context(), h.hub, conn, userID, h.publisher)

	h.hub.Register(session)

	go session.WritePump()
	go session.ReadPump()
}
