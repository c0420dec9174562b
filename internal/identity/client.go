// Package identity talks to the external identity provider that owns user
// accounts, profiles, and session tokens. The chat service stores only
// opaque user IDs; display data is fetched (and denormalized) from here.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dm-chat/internal/domain"
)

// Provider is the surface the rest of the service depends on.
type Provider interface {
	// GetUser fetches a single profile. Returns domain.ErrUserNotFound for
	// unknown IDs and domain.ErrUpstreamUnavailable when the provider
	// cannot be reached.
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	// ListUsers fetches all profiles visible to this service.
	ListUsers(ctx context.Context) ([]*domain.User, error)
	// VerifyToken resolves a session token to the user ID it belongs to.
	VerifyToken(ctx context.Context, token string) (string, error)
}

// Client is the HTTP implementation of Provider.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an identity provider client
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type userPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

func (p userPayload) toDomain() *domain.User {
	return &domain.User{ID: p.ID, DisplayName: p.Name, AvatarURL: p.ImageURL}
}

// GetUser fetches a single user profile by ID
func (c *Client) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	resp, err := c.get(ctx, "/v1/users/"+url.PathEscape(userID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, domain.ErrUserNotFound
	default:
		return nil, fmt.Errorf("%w: unexpected status code %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payload userPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return payload.toDomain(), nil
}

// ListUsers fetches all user profiles
func (c *Client) ListUsers(ctx context.Context) ([]*domain.User, error) {
	resp, err := c.get(ctx, "/v1/users")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payloads []userPayload
	if err := json.NewDecoder(resp.Body).Decode(&payloads); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}

	users := make([]*domain.User, 0, len(payloads))
	for _, p := range payloads {
		users = append(users, p.toDomain())
	}
	return users, nil
}

// VerifyToken resolves a session token to a user ID
func (c *Client) VerifyToken(ctx context.Context, token string) (string, error) {
	body := fmt.Sprintf(`{"token":%q}`, token)
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/sessions/verify", strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusNotFound:
		return "", domain.ErrUserNotFound
	default:
		return "", fmt.Errorf("%w: unexpected status code %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode verification: %w", err)
	}
	return payload.UserID, nil
}

// get issues an authenticated GET with retry and exponential backoff.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp *http.Response
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, lastErr = c.httpClient.Do(req)
		if lastErr == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		if attempt < 3 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, lastErr)
	}
	return nil, fmt.Errorf("%w: unexpected status code %d", domain.ErrUpstreamUnavailable, resp.StatusCode)
}
