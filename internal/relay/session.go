package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // Must be less than pongWait
	maxMessageSize = 4096
)

// Publisher forwards a locally received event to the other service
// instances. A nil Publisher disables cross-instance forwarding.
type Publisher interface {
	PublishEvent(ctx context.Context, env *Envelope) error
}

// Session is one client's relay connection. Its lifecycle runs
// Connecting (handshake) -> Connected (pumps running) -> Disconnected.
type Session struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	userID    string
	publisher Publisher
	writeMu   sync.Mutex
	closed    atomic.Bool
	ctx       context.Context
	ctxCancel context.CancelFunc
}

// NewSession creates a session for an upgraded connection. The caller must
// Register it with the hub and start both pumps.
func NewSession(ctx context.Context, hub *Hub, conn *websocket.Conn, userID string, publisher Publisher) *Session {
	sessionCtx, cancel := context.WithCancel(ctx)

	return &Session{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, 256),
		userID:    userID,
		publisher: publisher,
		ctx:       sessionCtx,
		ctxCancel: cancel,
	}
}

// ReadPump reads client frames until the connection drops. Valid
// send_message events are fanned out to every live session and forwarded
// over the bridge; anything else is dropped with a warning.
func (s *Session) ReadPump() {
	defer func() {
		s.ctxCancel()
		s.hub.Unregister(s)
		s.closeConnection()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline",
			slog.String("error", err.Error()),
			slog.String("user_id", s.userID))
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("relay session error",
					slog.String("error", err.Error()),
					slog.String("user_id", s.userID))
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("invalid relay frame",
				slog.String("error", err.Error()),
				slog.String("user_id", s.userID))
			continue
		}

		if env.Event != EventSendMessage {
			slog.Warn("unknown relay event dropped",
				slog.String("event", env.Event),
				slog.String("user_id", s.userID))
			continue
		}

		if env.Data.CreatedAt.IsZero() {
			env.Data.CreatedAt = time.Now().UTC()
		}

		data, err := json.Marshal(&env)
		if err != nil {
			slog.Error("failed to marshal relay event",
				slog.String("error", err.Error()),
				slog.String("user_id", s.userID))
			continue
		}

		s.hub.Broadcast(env.Event, SourceLocal, data)

		if s.publisher != nil {
			ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
			if err := s.publisher.PublishEvent(ctx, &env); err != nil {
				// Local fan-out already happened; peers on other
				// instances just miss this one event.
				slog.Error("failed to forward relay event",
					slog.String("error", err.Error()),
					slog.String("user_id", s.userID))
			}
			cancel()
		}
	}
}

// WritePump pumps events from the hub to the connection
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for {
		select {
		case message, ok := <-s.send:
			if !ok {
				// Hub closed the channel
				_ = s.writeMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.writeMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := s.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeMessage writes a frame to the connection in a thread-safe manner
func (s *Session) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return websocket.ErrCloseSent
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		slog.Warn("failed to set write deadline",
			slog.String("error", err.Error()),
			slog.String("user_id", s.userID))
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// closeConnection safely closes the underlying connection
func (s *Session) closeConnection() {
	if s.closed.CompareAndSwap(false, true) {
		s.writeMu.Lock()
		s.conn.Close()
		s.writeMu.Unlock()
	}
}
