package handler

import (
	"net/http"

	"dm-chat/internal/identity"

	"github.com/go-chi/chi/v5"
)

// UserHandler proxies user profile reads to the identity provider
type UserHandler struct {
	identity identity.Provider
}

// NewUserHandler creates a new user handler
func NewUserHandler(identity identity.Provider) *UserHandler {
	return &UserHandler{identity: identity}
}

// List retrieves all user profiles
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// Get retrieves one user profile
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
