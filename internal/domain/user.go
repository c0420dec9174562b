package domain

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
)

// User is the identity provider's view of an account. This service never
// stores users; the struct exists for the consumed interface.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}
