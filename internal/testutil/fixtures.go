package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"dm-chat/internal/domain"
)

// Counter for generating unique IDs
var idCounter atomic.Int64

// nextID generates a unique ID for test fixtures
func nextID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, idCounter.Add(1))
}

// ChatOptions allows customizing chat fixture creation
type ChatOptions struct {
	ID          string
	User1ID     string
	User1Name   string
	User2ID     string
	User2Name   string
	LastMessage string
}

// NewTestChat creates a test chat with sensible defaults
// Pass options to override specific fields
func NewTestChat(opts ...func(*ChatOptions)) *domain.Chat {
	o := &ChatOptions{
		ID:          nextID("chat"),
		User1ID:     "user_1",
		User1Name:   "Alice",
		User2ID:     "user_2",
		User2Name:   "Bob",
		LastMessage: domain.EmptyLastMessage,
	}

	for _, opt := range opts {
		opt(o)
	}

	now := time.Now()
	return &domain.Chat{
		ID:            o.ID,
		User1ID:       o.User1ID,
		User1Name:     o.User1Name,
		User2ID:       o.User2ID,
		User2Name:     o.User2Name,
		LastMessage:   o.LastMessage,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// WithChatID overrides the chat ID
func WithChatID(id string) func(*ChatOptions) {
	return func(o *ChatOptions) { o.ID = id }
}

// WithParticipants overrides both participant IDs
func WithParticipants(user1ID, user2ID string) func(*ChatOptions) {
	return func(o *ChatOptions) {
		o.User1ID = user1ID
		o.User2ID = user2ID
	}
}

// WithLastMessage overrides the preview text
func WithLastMessage(text string) func(*ChatOptions) {
	return func(o *ChatOptions) { o.LastMessage = text }
}

// MessageOptions allows customizing message fixture creation
type MessageOptions struct {
	ID      string
	ChatID  string
	UserID  string
	Content string
	ImageID string
}

// NewTestMessage creates a test message with sensible defaults
func NewTestMessage(opts ...func(*MessageOptions)) *domain.Message {
	o := &MessageOptions{
		ID:      nextID("msg"),
		ChatID:  "chat-1",
		UserID:  "user_1",
		Content: "hello",
	}

	for _, opt := range opts {
		opt(o)
	}

	return &domain.Message{
		ID:        o.ID,
		ChatID:    o.ChatID,
		UserID:    o.UserID,
		Content:   o.Content,
		ImageID:   o.ImageID,
		CreatedAt: time.Now(),
	}
}

// WithMessageChat overrides the chat the message belongs to
func WithMessageChat(chatID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.ChatID = chatID }
}

// WithMessageUser overrides the sender
func WithMessageUser(userID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.UserID = userID }
}

// WithMessageContent overrides the text body
func WithMessageContent(content string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.Content = content }
}

// WithMessageImage sets an image reference
func WithMessageImage(imageID string) func(*MessageOptions) {
	return func(o *MessageOptions) { o.ImageID = imageID }
}

// NewTestUser creates a test user profile
func NewTestUser(id, name string) *domain.User {
	return &domain.User{
		ID:          id,
		DisplayName: name,
		AvatarURL:   "https://img.example/" + id + ".png",
	}
}
