package relay

import (
	"context"
	"log/slog"

	"dm-chat/internal/observability"
)

// outbound is an event queued for fan-out.
type outbound struct {
	event  string
	source string
	data   []byte
}

// Hub maintains the set of live sessions and broadcasts every event to all
// of them.
type Hub struct {
	// Registered sessions
	sessions map[*Session]bool

	// Broadcast channel
	broadcast chan *outbound

	// Register session
	register chan *Session

	// Unregister session
	unregister chan *Session

	// Shutdown signal
	done chan struct{}
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[*Session]bool),
		broadcast:  make(chan *outbound, 256),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			slog.Info("relay hub shutting down gracefully")
			return ctx.Err()

		case session := <-h.register:
			h.sessions[session] = true
			observability.RelaySessionsActive.Inc()
			slog.Info("relay session registered",
				slog.String("user_id", session.userID))

		case session := <-h.unregister:
			h.unregisterSession(session)

		case msg := <-h.broadcast:
			observability.RelayEventsBroadcast.WithLabelValues(msg.event, msg.source).Inc()
			for session := range h.sessions {
				select {
				case session.send <- msg.data:
				default:
					// Session's send buffer is full, drop it
					observability.RelayEventsDropped.Inc()
					h.closeSessionSend(session)
					delete(h.sessions, session)
					observability.RelaySessionsActive.Dec()
				}
			}
		}
	}
}

// unregisterSession safely removes a session from the hub
func (h *Hub) unregisterSession(session *Session) {
	if _, ok := h.sessions[session]; ok {
		delete(h.sessions, session)
		h.closeSessionSend(session)
		observability.RelaySessionsActive.Dec()
		slog.Info("relay session unregistered",
			slog.String("user_id", session.userID))
	}
}

// closeSessionSend safely closes a session's send channel
func (h *Hub) closeSessionSend(session *Session) {
	select {
	case <-session.send:
		// Channel already closed
	default:
		close(session.send)
	}
}

// shutdown performs graceful cleanup of all sessions
func (h *Hub) shutdown() {
	close(h.done)

	for session := range h.sessions {
		h.closeSessionSend(session)
		slog.Info("closed relay session",
			slog.String("user_id", session.userID))
	}

	slog.Info("relay hub shutdown complete")
}

// Broadcast queues an event for delivery to every live session.
func (h *Hub) Broadcast(event, source string, data []byte) {
	h.broadcast <- &outbound{event: event, source: source, data: data}
}

// Register registers a session with the hub
func (h *Hub) Register(session *Session) {
	h.register <- session
}

// Subscribe registers a connection-less session and returns its receive
// channel. In-process consumers use it to observe the same fan-out a
// socket client would see.
func (h *Hub) Subscribe(userID string) <-chan []byte {
	session := &Session{
		hub:    h,
		send:   make(chan []byte, 256),
		userID: userID,
	}
	h.register <- session
	return session.send
}

// Unregister removes a session from the hub
func (h *Hub) Unregister(session *Session) {
	h.unregister <- session
}
