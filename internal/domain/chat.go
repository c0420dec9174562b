package domain

import (
	"context"
	"errors"
	"time"
)

var (
	ErrChatNotFound   = errors.New("chat not found")
	ErrChatExists     = errors.New("chat between these users already exists")
	ErrSelfChat       = errors.New("cannot create a chat with yourself")
	ErrNotParticipant = errors.New("user is not a participant of this chat")
	ErrInvalidInput   = errors.New("invalid input")
)

// EmptyLastMessage is the sentinel stored in last_message for a chat that
// has no messages yet.
const EmptyLastMessage = "empty"

// Chat represents a two-party conversation. Participant display names and
// avatars are denormalized onto the row so chat lists render without a
// round trip to the identity provider.
type Chat struct {
	ID            string    `json:"id"`
	User1ID       string    `json:"user1_id"`
	User1Name     string    `json:"user1_name"`
	User1ImageURL string    `json:"user1_image_url"`
	User2ID       string    `json:"user2_id"`
	User2Name     string    `json:"user2_name"`
	User2ImageURL string    `json:"user2_image_url"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_created_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasParticipant reports whether userID is one of the chat's two sides.
func (c *Chat) HasParticipant(userID string) bool {
	return userID != "" && (userID == c.User1ID || userID == c.User2ID)
}

// PeerOf returns the other participant's ID, or "" if userID is not a
// participant.
func (c *Chat) PeerOf(userID string) string {
	switch userID {
	case c.User1ID:
		return c.User2ID
	case c.User2ID:
		return c.User1ID
	default:
		return ""
	}
}

// ChatRepository defines the interface for chat data access
type ChatRepository interface {
	Create(ctx context.Context, chat *Chat) error
	GetByID(ctx context.Context, id string) (*Chat, error)
	// GetByParticipants looks the chat up in either orientation of the
	// pair. Returns ErrChatNotFound when no chat exists between the two.
	GetByParticipants(ctx context.Context, userA, userB string) (*Chat, error)
	ListByUser(ctx context.Context, userID string) ([]*Chat, error)
	UpdateLastMessage(ctx context.Context, id, lastMessage string, at time.Time) (*Chat, error)
	// Delete removes the chat and all of its messages in one transaction.
	Delete(ctx context.Context, id string) error
}
