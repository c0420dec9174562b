package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"dm-chat/internal/domain"
)

// Name of the unique index on the normalized participant pair
const chatParticipantsConstraint = "chats_participants_unique"

// ChatRepository implements domain.ChatRepository for PostgreSQL
type ChatRepository struct {
	db *sql.DB
	tx *TxManager
}

// NewChatRepository creates a new PostgreSQL chat repository
func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db, tx: NewTxManager(db)}
}

const chatColumns = `id, user1_id, user1_name, user1_image_url, user2_id, user2_name, user2_image_url, last_message, last_message_created_at, created_at, updated_at`

func scanChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	chat := &domain.Chat{}
	err := row.Scan(
		&chat.ID,
		&chat.User1ID,
		&chat.User1Name,
		&chat.User1ImageURL,
		&chat.User2ID,
		&chat.User2Name,
		&chat.User2ImageURL,
		&chat.LastMessage,
		&chat.LastMessageAt,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Create inserts a new chat. The unique index on the normalized participant
// pair rejects a duplicate in either orientation; that surfaces as
// domain.ErrChatExists.
func (r *ChatRepository) Create(ctx context.Context, chat *domain.Chat) error {
	query := `
		INSERT INTO chats (user1_id, user1_name, user1_image_url, user2_id, user2_name, user2_image_url, last_message, last_message_created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		chat.User1ID,
		chat.User1Name,
		chat.User1ImageURL,
		chat.User2ID,
		chat.User2Name,
		chat.User2ImageURL,
		chat.LastMessage,
		chat.LastMessageAt,
	).Scan(&chat.ID, &chat.CreatedAt, &chat.UpdatedAt)

	if err != nil {
		if IsUniqueViolation(err, chatParticipantsConstraint) {
			return domain.ErrChatExists
		}
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

// GetByID retrieves a chat by its ID
func (r *ChatRepository) GetByID(ctx context.Context, id string) (*domain.Chat, error) {
	query := `SELECT ` + chatColumns + ` FROM chats WHERE id = $1`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

// GetByParticipants retrieves the chat between two users, matching either
// orientation of the pair.
func (r *ChatRepository) GetByParticipants(ctx context.Context, userA, userB string) (*domain.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
	`

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, userA, userB))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to get chat by participants: %w", err)
	}
	return chat, nil
}

// ListByUser retrieves all chats the user participates in, most recently
// updated first.
func (r *ChatRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Chat, error) {
	query := `
		SELECT ` + chatColumns + `
		FROM chats
		WHERE user1_id = $1 OR user2_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := make([]*domain.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}

	return chats, nil
}

// UpdateLastMessage sets the chat's last-message preview and timestamp and
// returns the updated row.
func (r *ChatRepository) UpdateLastMessage(ctx context.Context, id, lastMessage string, at time.Time) (*domain.Chat, error) {
	query := `
		UPDATE chats
		SET last_message = $2, last_message_created_at = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + chatColumns

	chat, err := scanChat(r.db.QueryRowContext(ctx, query, id, lastMessage, at))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrChatNotFound
		}
		return nil, fmt.Errorf("failed to update chat: %w", err)
	}
	return chat, nil
}

// Delete removes the chat and its messages in a single transaction, so a
// failure partway leaves both intact.
func (r *ChatRepository) Delete(ctx context.Context, id string) error {
	return r.tx.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = $1`, id); err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check deleted rows: %w", err)
		}
		if affected == 0 {
			return domain.ErrChatNotFound
		}
		return nil
	})
}
