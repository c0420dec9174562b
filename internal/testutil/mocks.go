// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the dm-chat application.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/ratelimit"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockNotFound       = errors.New("mock: not found")
)

// MockChatRepository implements domain.ChatRepository for testing
type MockChatRepository struct {
	mu sync.RWMutex

	// Function overrides - set these to customize behavior
	CreateFunc            func(ctx context.Context, chat *domain.Chat) error
	GetByIDFunc           func(ctx context.Context, id string) (*domain.Chat, error)
	GetByParticipantsFunc func(ctx context.Context, a, b string) (*domain.Chat, error)
	ListByUserFunc        func(ctx context.Context, userID string) ([]*domain.Chat, error)
	UpdateLastMessageFunc func(ctx context.Context, id, lastMessage string, at time.Time) (*domain.Chat, error)
	DeleteFunc            func(ctx context.Context, id string) error

	// In-memory storage for simple tests
	Chats map[string]*domain.Chat
}

// NewMockChatRepository creates a new MockChatRepository with initialized maps
func NewMockChatRepository() *MockChatRepository {
	return &MockChatRepository{
		Chats: make(map[string]*domain.Chat),
	}
}

func (m *MockChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, chat)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.Chats {
		if (c.User1ID == chat.User1ID && c.User2ID == chat.User2ID) ||
			(c.User1ID == chat.User2ID && c.User2ID == chat.User1ID) {
			return domain.ErrChatExists
		}
	}

	if chat.ID == "" {
		chat.ID = fmt.Sprintf("chat-%d", len(m.Chats)+1)
	}
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = time.Now()
		chat.UpdatedAt = chat.CreatedAt
	}
	m.Chats[chat.ID] = chat
	return nil
}

func (m *MockChatRepository) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if chat, ok := m.Chats[id]; ok {
		return chat, nil
	}
	return nil, domain.ErrChatNotFound
}

func (m *MockChatRepository) GetByParticipants(ctx context.Context, a, b string) (*domain.Chat, error) {
	if m.GetByParticipantsFunc != nil {
		return m.GetByParticipantsFunc(ctx, a, b)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, chat := range m.Chats {
		if (chat.User1ID == a && chat.User2ID == b) || (chat.User1ID == b && chat.User2ID == a) {
			return chat, nil
		}
	}
	return nil, domain.ErrChatNotFound
}

func (m *MockChatRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	if m.ListByUserFunc != nil {
		return m.ListByUserFunc(ctx, userID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*domain.Chat{}
	for _, chat := range m.Chats {
		if chat.HasParticipant(userID) {
			result = append(result, chat)
		}
	}
	return result, nil
}

func (m *MockChatRepository) UpdateLastMessage(ctx context.Context, id, lastMessage string, at time.Time) (*domain.Chat, error) {
	if m.UpdateLastMessageFunc != nil {
		return m.UpdateLastMessageFunc(ctx, id, lastMessage, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.Chats[id]
	if !ok {
		return nil, domain.ErrChatNotFound
	}
	chat.LastMessage = lastMessage
	chat.LastMessageAt = at
	chat.UpdatedAt = time.Now()
	return chat, nil
}

func (m *MockChatRepository) Delete(ctx context.Context, id string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.Chats[id]; !ok {
		return domain.ErrChatNotFound
	}
	delete(m.Chats, id)
	return nil
}

// MockMessageRepository implements domain.MessageRepository for testing
type MockMessageRepository struct {
	mu sync.RWMutex

	CreateFunc       func(ctx context.Context, message *domain.Message) error
	ListByChatFunc   func(ctx context.Context, chatID string) ([]*domain.Message, error)
	DeleteByChatFunc func(ctx context.Context, chatID string) (int64, error)

	Messages []*domain.Message
}

// NewMockMessageRepository creates a new MockMessageRepository
func NewMockMessageRepository() *MockMessageRepository {
	return &MockMessageRepository{}
}

func (m *MockMessageRepository) Create(ctx context.Context, message *domain.Message) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, message)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if message.ID == "" {
		message.ID = fmt.Sprintf("msg-%d", len(m.Messages)+1)
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	m.Messages = append(m.Messages, message)
	return nil
}

func (m *MockMessageRepository) ListByChat(ctx context.Context, chatID string) ([]*domain.Message, error) {
	if m.ListByChatFunc != nil {
		return m.ListByChatFunc(ctx, chatID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := []*domain.Message{}
	for _, msg := range m.Messages {
		if msg.ChatID == chatID {
			result = append(result, msg)
		}
	}
	return result, nil
}

func (m *MockMessageRepository) DeleteByChat(ctx context.Context, chatID string) (int64, error) {
	if m.DeleteByChatFunc != nil {
		return m.DeleteByChatFunc(ctx, chatID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.Messages[:0]
	var deleted int64
	for _, msg := range m.Messages {
		if msg.ChatID == chatID {
			deleted++
		} else {
			kept = append(kept, msg)
		}
	}
	m.Messages = kept
	return deleted, nil
}

// MockLimiter implements ratelimit.Limiter for testing. The zero value
// admits everything.
type MockLimiter struct {
	AdmitFunc func(ctx context.Context, actorID string) ratelimit.Decision
	Decision  *ratelimit.Decision
	Calls     int
}

func (m *MockLimiter) Admit(ctx context.Context, actorID string) ratelimit.Decision {
	m.Calls++
	if m.AdmitFunc != nil {
		return m.AdmitFunc(ctx, actorID)
	}
	if m.Decision != nil {
		return *m.Decision
	}
	return ratelimit.Decision{Allowed: true, Remaining: 9, ResetAt: time.Now().Add(10 * time.Second)}
}

// MockIdentity implements identity.Provider for testing
type MockIdentity struct {
	GetUserFunc     func(ctx context.Context, userID string) (*domain.User, error)
	ListUsersFunc   func(ctx context.Context) ([]*domain.User, error)
	VerifyTokenFunc func(ctx context.Context, token string) (string, error)

	Users  map[string]*domain.User
	Tokens map[string]string
}

// NewMockIdentity creates a new MockIdentity with initialized maps
func NewMockIdentity() *MockIdentity {
	return &MockIdentity{
		Users:  make(map[string]*domain.User),
		Tokens: make(map[string]string),
	}
}

func (m *MockIdentity) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	if user, ok := m.Users[userID]; ok {
		return user, nil
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockIdentity) ListUsers(ctx context.Context) ([]*domain.User, error) {
	if m.ListUsersFunc != nil {
		return m.ListUsersFunc(ctx)
	}
	result := []*domain.User{}
	for _, u := range m.Users {
		result = append(result, u)
	}
	return result, nil
}

func (m *MockIdentity) VerifyToken(ctx context.Context, token string) (string, error) {
	if m.VerifyTokenFunc != nil {
		return m.VerifyTokenFunc(ctx, token)
	}
	if userID, ok := m.Tokens[token]; ok {
		return userID, nil
	}
	return "", domain.ErrUserNotFound
}
