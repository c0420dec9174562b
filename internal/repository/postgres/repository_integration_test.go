//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/repository/postgres"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a PostgreSQL container and returns a migrated database
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connStr := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	// Wait for PostgreSQL to be fully ready
	time.Sleep(2 * time.Second)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err, "failed to connect to PostgreSQL")

	require.NoError(t, runMigrations(db), "failed to run migrations")

	cleanup := func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// runMigrations creates the database schema for testing
func runMigrations(db *sql.DB) error {
	schema := `
		CREATE EXTENSION IF NOT EXISTS pgcrypto;

		CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user1_id TEXT NOT NULL,
			user1_name TEXT NOT NULL DEFAULT '',
			user1_image_url TEXT NOT NULL DEFAULT '',
			user2_id TEXT NOT NULL,
			user2_name TEXT NOT NULL DEFAULT '',
			user2_image_url TEXT NOT NULL DEFAULT '',
			last_message TEXT NOT NULL DEFAULT 'empty',
			last_message_created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT chats_distinct_participants CHECK (user1_id <> user2_id)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS chats_participants_unique
			ON chats (LEAST(user1_id, user2_id), GREATEST(user1_id, user2_id));

		CREATE TABLE IF NOT EXISTS messages (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			chat_id UUID NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			image_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT messages_has_body CHECK (content <> '' OR image_id <> '')
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat_created
			ON messages (chat_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

func newChat(a, b string) *domain.Chat {
	return &domain.Chat{
		User1ID:       a,
		User1Name:     "Name " + a,
		User2ID:       b,
		User2Name:     "Name " + b,
		LastMessage:   domain.EmptyLastMessage,
		LastMessageAt: time.Now(),
	}
}

func TestChatRepository_Integration(t *testing.T) {
	db, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	chats := postgres.NewChatRepository(db)
	messages := postgres.NewMessageRepository(db)

	t.Run("create_and_get", func(t *testing.T) {
		chat := newChat("user_a", "user_b")
		require.NoError(t, chats.Create(ctx, chat))
		require.NotEmpty(t, chat.ID)

		got, err := chats.GetByID(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EmptyLastMessage, got.LastMessage)
	})

	t.Run("duplicate_pair_either_orientation", func(t *testing.T) {
		require.NoError(t, chats.Create(ctx, newChat("user_c", "user_d")))

		err := chats.Create(ctx, newChat("user_c", "user_d"))
		assert.ErrorIs(t, err, domain.ErrChatExists)

		// Reversed orientation hits the same normalized-pair index.
		err = chats.Create(ctx, newChat("user_d", "user_c"))
		assert.ErrorIs(t, err, domain.ErrChatExists)
	})

	t.Run("get_by_participants_both_orientations", func(t *testing.T) {
		chat := newChat("user_e", "user_f")
		require.NoError(t, chats.Create(ctx, chat))

		got, err := chats.GetByParticipants(ctx, "user_e", "user_f")
		require.NoError(t, err)
		assert.Equal(t, chat.ID, got.ID)

		got, err = chats.GetByParticipants(ctx, "user_f", "user_e")
		require.NoError(t, err)
		assert.Equal(t, chat.ID, got.ID)
	})

	t.Run("update_last_message", func(t *testing.T) {
		chat := newChat("user_g", "user_h")
		require.NoError(t, chats.Create(ctx, chat))

		at := time.Now()
		updated, err := chats.UpdateLastMessage(ctx, chat.ID, "hi", at)
		require.NoError(t, err)
		assert.Equal(t, "hi", updated.LastMessage)
		assert.WithinDuration(t, at, updated.LastMessageAt, time.Second)
	})

	t.Run("delete_cascades_messages", func(t *testing.T) {
		chat := newChat("user_i", "user_j")
		require.NoError(t, chats.Create(ctx, chat))

		for i := 0; i < 3; i++ {
			msg := &domain.Message{ChatID: chat.ID, UserID: "user_i", Content: fmt.Sprintf("msg %d", i)}
			require.NoError(t, messages.Create(ctx, msg))
		}

		require.NoError(t, chats.Delete(ctx, chat.ID))

		_, err := chats.GetByID(ctx, chat.ID)
		assert.ErrorIs(t, err, domain.ErrChatNotFound)

		left, err := messages.ListByChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.Empty(t, left)
	})

	t.Run("messages_ordered_ascending", func(t *testing.T) {
		chat := newChat("user_k", "user_l")
		require.NoError(t, chats.Create(ctx, chat))

		for _, body := range []string{"first", "second", "third"} {
			msg := &domain.Message{ChatID: chat.ID, UserID: "user_k", Content: body}
			require.NoError(t, messages.Create(ctx, msg))
			time.Sleep(10 * time.Millisecond)
		}

		got, err := messages.ListByChat(ctx, chat.ID)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "first", got[0].Content)
		assert.Equal(t, "third", got[2].Content)
	})
}
