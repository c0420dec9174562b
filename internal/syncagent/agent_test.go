package syncagent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/relay"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	mu            sync.Mutex
	chats         []*domain.Chat
	messages      map[string][]*domain.Message
	chatFetches   int32
	messageFetches int32
}

func (f *stubFetcher) FetchChats(_ context.Context) ([]*domain.Chat, error) {
	atomic.AddInt32(&f.chatFetches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Chat(nil), f.chats...), nil
}

func (f *stubFetcher) FetchMessages(_ context.Context, chatID string) ([]*domain.Message, error) {
	atomic.AddInt32(&f.messageFetches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Message(nil), f.messages[chatID]...), nil
}

// relayStub is a test relay server that can push events to the connected
// agent.
type relayStub struct {
	server *httptest.Server
	conns  chan *websocket.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()

	stub := &relayStub{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}

	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.conns <- conn
	}))
	t.Cleanup(stub.server.Close)

	return stub
}

func (s *relayStub) wsURL() string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http")
}

func (s *relayStub) waitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("agent never connected")
		return nil
	}
}

func TestAgent_RefetchesOnEvent(t *testing.T) {
	fetcher := &stubFetcher{
		chats: []*domain.Chat{{ID: "chat-1", User1ID: "user_1", User2ID: "user_2"}},
		messages: map[string][]*domain.Message{
			"chat-1": {{ID: "msg-1", ChatID: "chat-1", Content: "hello"}},
		},
	}
	stub := newRelayStub(t)

	agent := New(stub.wsURL(), fetcher)

	var changes int32
	agent.OnChange(func() { atomic.AddInt32(&changes, 1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	conn := stub.waitConn(t)
	defer conn.Close()

	// Initial refetch lands first.
	require.Eventually(t, func() bool {
		return len(agent.Chats()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Server state changes, then the relay announces it.
	fetcher.mu.Lock()
	fetcher.messages["chat-1"] = append(fetcher.messages["chat-1"],
		&domain.Message{ID: "msg-2", ChatID: "chat-1", Content: "hi"})
	fetcher.mu.Unlock()

	require.NoError(t, conn.WriteJSON(&relay.Envelope{
		Event: relay.EventSendMessage,
		Data:  relay.MessagePayload{UserID: "user_2", ChatID: "chat-1", Message: "hi"},
	}))

	require.Eventually(t, func() bool {
		return len(agent.Messages("chat-1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Greater(t, atomic.LoadInt32(&changes), int32(1))
}

func TestAgent_DuplicateEventsAreIdempotent(t *testing.T) {
	// The relay is best-effort and may emit the same event twice; each
	// delivery triggers a refetch, and refetching unchanged server state
	// must leave the replica identical.
	fetcher := &stubFetcher{
		chats: []*domain.Chat{{ID: "chat-1", User1ID: "user_1", User2ID: "user_2"}},
		messages: map[string][]*domain.Message{
			"chat-1": {
				{ID: "msg-1", ChatID: "chat-1", Content: "hello"},
				{ID: "msg-2", ChatID: "chat-1", Content: "hi"},
			},
		},
	}
	stub := newRelayStub(t)
	agent := New(stub.wsURL(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	conn := stub.waitConn(t)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return len(agent.Messages("chat-1")) == 2
	}, 2*time.Second, 10*time.Millisecond)

	env := &relay.Envelope{
		Event: relay.EventSendMessage,
		Data:  relay.MessagePayload{UserID: "user_2", ChatID: "chat-1", Message: "hi"},
	}
	before := atomic.LoadInt32(&fetcher.messageFetches)
	require.NoError(t, conn.WriteJSON(env))
	require.NoError(t, conn.WriteJSON(env))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetcher.messageFetches) >= before+2
	}, 2*time.Second, 10*time.Millisecond)

	messages := agent.Messages("chat-1")
	require.Len(t, messages, 2, "duplicate deliveries must not duplicate state")
	assert.Equal(t, "msg-1", messages[0].ID)
	assert.Equal(t, "msg-2", messages[1].ID)
	assert.Len(t, agent.Chats(), 1)
}

func TestAgent_IgnoresUnknownEvents(t *testing.T) {
	fetcher := &stubFetcher{
		chats:    []*domain.Chat{{ID: "chat-1"}},
		messages: map[string][]*domain.Message{"chat-1": {}},
	}
	stub := newRelayStub(t)
	agent := New(stub.wsURL(), fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	conn := stub.waitConn(t)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetcher.chatFetches) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	before := atomic.LoadInt32(&fetcher.chatFetches)

	require.NoError(t, conn.WriteJSON(map[string]any{"event": "typing"}))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, before, atomic.LoadInt32(&fetcher.chatFetches),
		"unknown events must not trigger refetches")
}

func TestAgent_RefetchesOnReconnect(t *testing.T) {
	fetcher := &stubFetcher{
		chats:    []*domain.Chat{{ID: "chat-1"}},
		messages: map[string][]*domain.Message{"chat-1": {}},
	}
	stub := newRelayStub(t)
	agent := New(stub.wsURL(), fetcher)
	agent.minBackoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go agent.Run(ctx)

	conn := stub.waitConn(t)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetcher.chatFetches) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	before := atomic.LoadInt32(&fetcher.chatFetches)

	// Drop the connection; the agent must reconnect and reconcile.
	conn.Close()

	next := stub.waitConn(t)
	defer next.Close()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetcher.chatFetches) > before
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAgent_PendingActionLifecycle(t *testing.T) {
	agent := New("ws://unused", &stubFetcher{})

	msg := &domain.Message{ChatID: "chat-1", UserID: "user_1", Content: "hi"}
	id := agent.BeginSend(msg)

	action := agent.Pending(id)
	require.NotNil(t, action)
	assert.Equal(t, Pending, action.State)

	agent.ConfirmSend(id)
	assert.Equal(t, Confirmed, agent.Pending(id).State)

	// A resolved action cannot change state again.
	agent.RejectSend(id, "rate limited")
	assert.Equal(t, Confirmed, agent.Pending(id).State)
}

func TestAgent_RejectedSendCarriesReason(t *testing.T) {
	agent := New("ws://unused", &stubFetcher{})

	id := agent.BeginSend(&domain.Message{ChatID: "chat-1", Content: "spam"})
	agent.RejectSend(id, "rate limited")

	action := agent.Pending(id)
	assert.Equal(t, Rejected, action.State)
	assert.Equal(t, "rate limited", action.Reason)
}
