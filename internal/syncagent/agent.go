// Package syncagent is the client-side companion of the relay: it keeps a
// local replica of the caller's chats and messages fresh by listening for
// relay events and re-fetching the affected reads, and it tracks optimistic
// sends until the server confirms or rejects them.
package syncagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/relay"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Fetcher reads authoritative state over the REST API.
type Fetcher interface {
	FetchChats(ctx context.Context) ([]*domain.Chat, error)
	FetchMessages(ctx context.Context, chatID string) ([]*domain.Message, error)
}

// PendingState is the lifecycle of an optimistic local send.
type PendingState int

const (
	Pending PendingState = iota
	Confirmed
	Rejected
)

func (s PendingState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PendingAction is a send rendered locally before the server answered.
type PendingAction struct {
	ID      string
	ChatID  string
	Message *domain.Message
	State   PendingState
	// Reason is set on rejection (e.g. throttled, forbidden)
	Reason string
}

// Agent maintains the replica. All state access is snapshot-based; the
// agent owns the maps and hands out copies.
type Agent struct {
	wsURL   string
	fetcher Fetcher
	dialer  *websocket.Dialer

	mu       sync.RWMutex
	chats    []*domain.Chat
	messages map[string][]*domain.Message
	pending  map[string]*PendingAction

	// onChange, when set, is called after every replica update
	onChange func()

	// reconnect backoff bounds
	minBackoff time.Duration
	maxBackoff time.Duration
}

// New creates an agent. wsURL is the relay endpoint including the session
// token query parameter.
func New(wsURL string, fetcher Fetcher) *Agent {
	return &Agent{
		wsURL:      wsURL,
		fetcher:    fetcher,
		dialer:     websocket.DefaultDialer,
		messages:   make(map[string][]*domain.Message),
		pending:    make(map[string]*PendingAction),
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// OnChange registers a callback fired after each replica update.
func (a *Agent) OnChange(fn func()) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Run connects to the relay and keeps the replica fresh until the context
// is cancelled. Every (re)connect starts with a full refetch, so events
// missed while disconnected are reconciled rather than replayed.
func (a *Agent) Run(ctx context.Context) error {
	backoff := a.minBackoff

	for {
		conn, _, err := a.dialer.DialContext(ctx, a.wsURL, nil)
		if err != nil {
			slog.Warn("relay dial failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			if backoff < a.maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = a.minBackoff

		if err := a.RefetchAll(ctx); err != nil {
			slog.Warn("initial refetch failed", slog.String("error", err.Error()))
		}

		a.readLoop(ctx, conn)
		conn.Close()

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (a *Agent) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("relay connection lost", slog.String("error", err.Error()))
			return
		}

		var env relay.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("invalid relay frame", slog.String("error", err.Error()))
			continue
		}

		if env.Event != relay.EventSendMessage {
			continue
		}

		a.handleEvent(ctx, &env)
	}
}

// handleEvent treats the event as an invalidation signal: the affected
// chat's messages and the chat list are re-fetched from the API rather
// than patched from the event payload.
func (a *Agent) handleEvent(ctx context.Context, env *relay.Envelope) {
	chatID := env.Data.ChatID
	if chatID == "" {
		return
	}

	if err := a.RefetchChat(ctx, chatID); err != nil {
		slog.Warn("refetch after event failed",
			slog.String("error", err.Error()),
			slog.String("chat_id", chatID))
	}
}

// RefetchAll reloads the chat list and the history of every known chat.
func (a *Agent) RefetchAll(ctx context.Context) error {
	chats, err := a.fetcher.FetchChats(ctx)
	if err != nil {
		return err
	}

	messages := make(map[string][]*domain.Message, len(chats))
	for _, chat := range chats {
		history, err := a.fetcher.FetchMessages(ctx, chat.ID)
		if err != nil {
			return err
		}
		messages[chat.ID] = history
	}

	a.mu.Lock()
	a.chats = chats
	a.messages = messages
	a.mu.Unlock()

	a.notify()
	return nil
}

// RefetchChat reloads one chat's history plus the chat list (for the
// preview and ordering).
func (a *Agent) RefetchChat(ctx context.Context, chatID string) error {
	chats, err := a.fetcher.FetchChats(ctx)
	if err != nil {
		return err
	}
	history, err := a.fetcher.FetchMessages(ctx, chatID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.chats = chats
	a.messages[chatID] = history
	a.mu.Unlock()

	a.notify()
	return nil
}

// Chats returns a snapshot of the chat list.
func (a *Agent) Chats() []*domain.Chat {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*domain.Chat(nil), a.chats...)
}

// Messages returns a snapshot of one chat's history.
func (a *Agent) Messages(chatID string) []*domain.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]*domain.Message(nil), a.messages[chatID]...)
}

// BeginSend registers an optimistic send and returns its tracking ID.
func (a *Agent) BeginSend(msg *domain.Message) string {
	action := &PendingAction{
		ID:      uuid.NewString(),
		ChatID:  msg.ChatID,
		Message: msg,
		State:   Pending,
	}

	a.mu.Lock()
	a.pending[action.ID] = action
	a.mu.Unlock()

	a.notify()
	return action.ID
}

// ConfirmSend marks a pending send as accepted by the server.
func (a *Agent) ConfirmSend(actionID string) {
	a.resolve(actionID, Confirmed, "")
}

// RejectSend marks a pending send as refused; the optimistic render must
// be rolled back by the caller.
func (a *Agent) RejectSend(actionID, reason string) {
	a.resolve(actionID, Rejected, reason)
}

func (a *Agent) resolve(actionID string, state PendingState, reason string) {
	a.mu.Lock()
	action, ok := a.pending[actionID]
	if ok && action.State == Pending {
		action.State = state
		action.Reason = reason
	}
	a.mu.Unlock()

	if ok {
		a.notify()
	}
}

// Pending returns a snapshot of one tracked action, or nil.
func (a *Agent) Pending(actionID string) *PendingAction {
	a.mu.RLock()
	defer a.mu.RUnlock()

	action, ok := a.pending[actionID]
	if !ok {
		return nil
	}
	copied := *action
	return &copied
}

func (a *Agent) notify() {
	a.mu.RLock()
	fn := a.onChange
	a.mu.RUnlock()

	if fn != nil {
		fn()
	}
}
