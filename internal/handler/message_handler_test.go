package handler

import (
	"net/http"
	"testing"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/ratelimit"
	"dm-chat/internal/testutil"
)

func TestMessageHandler_Create(t *testing.T) {
	t.Run("persists_message", func(t *testing.T) {
		router, chatRepo, messageRepo, _ := newTestRouter()
		chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))

		w := doRequest(router, http.MethodPost, "/chats/chat-1/messages", "tok_1", `{"message":"hi"}`)
		testutil.AssertStatusCode(t, w, http.StatusCreated)

		var msg domain.Message
		testutil.DecodeJSON(t, w, &msg)
		testutil.AssertTrue(t, msg.ID != "", "persisted message should carry an ID")
		testutil.AssertTrue(t, msg.UserID == "user_1", "sender comes from the token, not the body")
		testutil.AssertTrue(t, len(messageRepo.Messages) == 1, "expected one stored message")
		testutil.AssertTrue(t, chatRepo.Chats["chat-1"].LastMessage == "hi", "preview should follow the send")
	})

	t.Run("throttled_send_gets_429_sentinel", func(t *testing.T) {
		router, chatRepo, messageRepo, limiter := newTestRouter()
		chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))
		limiter.Decision = &ratelimit.Decision{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   time.Now().Add(7 * time.Second),
		}

		w := doRequest(router, http.MethodPost, "/chats/chat-1/messages", "tok_1", `{"message":"spam"}`)
		testutil.AssertStatusCode(t, w, http.StatusTooManyRequests)

		var resp struct {
			RateLimited bool `json:"rate_limited"`
		}
		testutil.DecodeJSON(t, w, &resp)
		testutil.AssertTrue(t, resp.RateLimited, "body must carry the rate_limited sentinel")
		testutil.AssertTrue(t, w.Header().Get("Retry-After") != "", "expected Retry-After header")
		testutil.AssertTrue(t, len(messageRepo.Messages) == 0, "throttled send must store nothing")
	})

	t.Run("outsider_forbidden", func(t *testing.T) {
		router, chatRepo, _, _ := newTestRouter()
		chatRepo.Chats["chat-1"] = testutil.NewTestChat(
			testutil.WithChatID("chat-1"),
			testutil.WithParticipants("user_3", "user_4"),
		)

		w := doRequest(router, http.MethodPost, "/chats/chat-1/messages", "tok_1", `{"message":"hi"}`)
		testutil.AssertStatusCode(t, w, http.StatusForbidden)
	})

	t.Run("missing_chat", func(t *testing.T) {
		router, _, _, _ := newTestRouter()

		w := doRequest(router, http.MethodPost, "/chats/nope/messages", "tok_1", `{"message":"hi"}`)
		testutil.AssertStatusCode(t, w, http.StatusNotFound)
	})

	t.Run("empty_body_rejected", func(t *testing.T) {
		router, chatRepo, _, _ := newTestRouter()
		chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))

		w := doRequest(router, http.MethodPost, "/chats/chat-1/messages", "tok_1", `{}`)
		testutil.AssertStatusCode(t, w, http.StatusBadRequest)
	})

	t.Run("image_only_accepted", func(t *testing.T) {
		router, chatRepo, _, _ := newTestRouter()
		chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))

		w := doRequest(router, http.MethodPost, "/chats/chat-1/messages", "tok_2", `{"imageId":"img_42"}`)
		testutil.AssertStatusCode(t, w, http.StatusCreated)
	})
}

func TestMessageHandler_List(t *testing.T) {
	router, chatRepo, messageRepo, _ := newTestRouter()
	chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))
	messageRepo.Messages = []*domain.Message{
		testutil.NewTestMessage(testutil.WithMessageChat("chat-1")),
		testutil.NewTestMessage(testutil.WithMessageChat("chat-1"), testutil.WithMessageUser("user_2")),
		testutil.NewTestMessage(testutil.WithMessageChat("chat-9")),
	}

	w := doRequest(router, http.MethodGet, "/chats/chat-1/messages", "tok_1", "")
	testutil.AssertStatusCode(t, w, http.StatusOK)

	var resp struct {
		Messages []*domain.Message `json:"messages"`
	}
	testutil.DecodeJSON(t, w, &resp)
	testutil.AssertTrue(t, len(resp.Messages) == 2, "expected only this chat's messages")
}

func TestMessageHandler_DeleteByChat(t *testing.T) {
	router, chatRepo, messageRepo, _ := newTestRouter()
	chatRepo.Chats["chat-1"] = testutil.NewTestChat(testutil.WithChatID("chat-1"))
	messageRepo.Messages = []*domain.Message{
		testutil.NewTestMessage(testutil.WithMessageChat("chat-1")),
		testutil.NewTestMessage(testutil.WithMessageChat("chat-1")),
	}

	w := doRequest(router, http.MethodDelete, "/chats/chat-1/messages", "tok_1", "")
	testutil.AssertStatusCode(t, w, http.StatusOK)

	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	testutil.DecodeJSON(t, w, &resp)
	testutil.AssertTrue(t, resp.Deleted == 2, "expected both messages deleted")
}
