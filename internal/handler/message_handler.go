package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/middleware"
	"dm-chat/internal/service"

	"github.com/go-chi/chi/v5"
)

// MessageHandler handles message endpoints
type MessageHandler struct {
	chatService *service.ChatService
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(chatService *service.ChatService) *MessageHandler {
	return &MessageHandler{
		chatService: chatService,
	}
}

// SendMessageRequest represents a message send. At least one of Message and
// ImageID must be set; the service enforces that.
type SendMessageRequest struct {
	Message string `json:"message" validate:"max=1000"`
	ImageID string `json:"imageId"`
}

// Create persists a message in a chat. A throttled attempt answers 429
// with a rate_limited body and Retry-After, and stores nothing.
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := &domain.Message{
		ChatID:  chi.URLParam(r, "id"),
		UserID:  userID,
		Content: req.Message,
		ImageID: req.ImageID,
	}

	outcome, err := h.chatService.CreateMessage(r.Context(), msg)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if outcome.RateLimited {
		retryAfter := int(time.Until(outcome.ResetAt).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"rate_limited": true,
			"remaining":    outcome.Remaining,
			"reset_at":     outcome.ResetAt.UTC(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, outcome.Message)
}

// List retrieves a chat's history, oldest first
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	chatID := chi.URLParam(r, "id")
	messages, err := h.chatService.GetMessagesByChat(r.Context(), chatID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// DeleteByChat clears a chat's history without removing the chat
func (h *MessageHandler) DeleteByChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	chatID := chi.URLParam(r, "id")
	deleted, err := h.chatService.DeleteMessagesByChat(r.Context(), chatID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
