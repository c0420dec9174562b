package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"dm-chat/internal/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRepository_Create(t *testing.T) {
	t.Run("successful_creation", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		now := time.Now()
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
			WithArgs("chat-1", "user_1", "hi", "").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("msg-1", now))

		msg := &domain.Message{ChatID: "chat-1", UserID: "user_1", Content: "hi"}
		err = repo.Create(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, now, msg.CreatedAt)
	})

	t.Run("image_only_message", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
			WithArgs("chat-1", "user_1", "", "img_42").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).
				AddRow("msg-2", time.Now()))

		msg := &domain.Message{ChatID: "chat-1", UserID: "user_1", ImageID: "img_42"}
		err = repo.Create(context.Background(), msg)
		require.NoError(t, err)
	})

	t.Run("db_error", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages`)).
			WillReturnError(errors.New("connection reset"))

		err = repo.Create(context.Background(), &domain.Message{ChatID: "chat-1", UserID: "user_1", Content: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create message")
	})
}

func TestMessageRepository_ListByChat(t *testing.T) {
	t.Run("returns_oldest_first", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		base := time.Now().Add(-time.Minute)
		mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at ASC`)).
			WithArgs("chat-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "user_id", "content", "image_id", "created_at"}).
				AddRow("msg-1", "chat-1", "user_1", "hello", "", base).
				AddRow("msg-2", "chat-1", "user_2", "hey", "", base.Add(time.Second)))

		messages, err := repo.ListByChat(context.Background(), "chat-1")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "msg-1", messages[0].ID)
		assert.Equal(t, "msg-2", messages[1].ID)
	})

	t.Run("empty_chat_returns_empty_slice", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		repo := NewMessageRepository(db)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM messages`)).
			WithArgs("chat-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "chat_id", "user_id", "content", "image_id", "created_at"}))

		messages, err := repo.ListByChat(context.Background(), "chat-1")
		require.NoError(t, err)
		assert.NotNil(t, messages)
		assert.Empty(t, messages)
	})
}

func TestMessageRepository_DeleteByChat(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewMessageRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE chat_id = $1`)).
		WithArgs("chat-1").
		WillReturnResult(sqlmock.NewResult(0, 5))

	count, err := repo.DeleteByChat(context.Background(), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}
