package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"dm-chat/internal/middleware"
	"dm-chat/internal/service"

	"github.com/go-chi/chi/v5"
)

// ChatHandler handles chat endpoints
type ChatHandler struct {
	chatService *service.ChatService
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
	}
}

// CreateChatRequest represents chat creation request
type CreateChatRequest struct {
	PeerID string `json:"peer_id" validate:"required"`
}

// UpdateChatRequest refreshes the chat's last-message preview
type UpdateChatRequest struct {
	LastMessage string    `json:"last_message" validate:"required,max=1000"`
	CreatedAt   time.Time `json:"last_message_created_at"`
}

// Create starts a chat between the caller and a peer
func (h *ChatHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := h.chatService.CreateChat(r.Context(), userID, req.PeerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, chat)
}

// List retrieves the caller's chats
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	chats, err := h.chatService.GetChatsByUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// Get retrieves one chat the caller participates in
func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	chatID := chi.URLParam(r, "id")
	chat, err := h.chatService.GetChat(r.Context(), chatID, userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Update refreshes the chat's last-message preview after a send
func (h *ChatHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	chatID := chi.URLParam(r, "id")
	chat, err := h.chatService.UpdateChatOnMessage(r.Context(), chatID, userID, req.LastMessage, req.CreatedAt)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chat)
}

// Delete removes a chat and its history for both participants
func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	chatID := chi.URLParam(r, "id")
	if err := h.chatService.DeleteChat(r.Context(), chatID, userID); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
