package domain

import (
	"context"
	"time"
)

// Message represents a single message inside a chat. Content holds the
// text body; ImageID is an opaque reference to externally hosted media.
// At least one of the two is set. Messages are immutable once created.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"message"`
	ImageID   string    `json:"imageId"`
	CreatedAt time.Time `json:"createdAt"`
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// ListByChat returns all messages of a chat in creation-time
	// ascending order.
	ListByChat(ctx context.Context, chatID string) ([]*Message, error)
	// DeleteByChat removes every message of a chat and returns the count.
	DeleteByChat(ctx context.Context, chatID string) (int64, error)
}
