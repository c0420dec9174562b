// dm-cli is a terminal client for the dm-chat server. It keeps a local
// replica fresh through the sync agent (relay events trigger refetches)
// and sends messages over the REST API, rendering them optimistically
// until the server answers.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"dm-chat/internal/domain"
	"dm-chat/internal/observability"
	"dm-chat/internal/syncagent"
)

type apiClient struct {
	baseURL string
	token   string
	client  *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.client.Do(req)
}

func (c *apiClient) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// FetchChats implements syncagent.Fetcher
func (c *apiClient) FetchChats(ctx context.Context) ([]*domain.Chat, error) {
	var resp struct {
		Chats []*domain.Chat `json:"chats"`
	}
	if err := c.getJSON(ctx, "/api/v1/chats", &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// FetchMessages implements syncagent.Fetcher
func (c *apiClient) FetchMessages(ctx context.Context, chatID string) ([]*domain.Message, error) {
	var resp struct {
		Messages []*domain.Message `json:"messages"`
	}
	if err := c.getJSON(ctx, "/api/v1/chats/"+chatID+"/messages", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

type sendResult struct {
	accepted   bool
	reason     string
	retryAfter string
}

// sendMessage posts a message. A 429 is a valid answer, not an error.
func (c *apiClient) sendMessage(ctx context.Context, chatID, content string) (*sendResult, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/chats/"+chatID+"/messages",
		map[string]string{"message": content})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return &sendResult{accepted: true}, nil
	case http.StatusTooManyRequests:
		return &sendResult{
			reason:     "rate limited",
			retryAfter: resp.Header.Get("Retry-After"),
		}, nil
	case http.StatusForbidden:
		return &sendResult{reason: "not a participant"}, nil
	case http.StatusNotFound:
		return &sendResult{reason: "chat not found"}, nil
	default:
		return nil, fmt.Errorf("send failed with status %d", resp.StatusCode)
	}
}

func (c *apiClient) createChat(ctx context.Context, peerID string) (*domain.Chat, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/chats", map[string]string{"peer_id": peerID})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create chat failed with status %d", resp.StatusCode)
	}

	var chat domain.Chat
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

func relayURL(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "dm-chat server base URL")
	token := flag.String("token", os.Getenv("DM_TOKEN"), "session token")
	flag.Parse()

	observability.InitLogger(os.Getenv("LOG_LEVEL"), "text")

	if *token == "" {
		fmt.Fprintln(os.Stderr, "a session token is required (-token or DM_TOKEN)")
		os.Exit(1)
	}

	api := newAPIClient(*serverURL, *token)

	wsURL, err := relayURL(*serverURL, *token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid server URL: %v\n", err)
		os.Exit(1)
	}

	agent := syncagent.New(wsURL, api)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	go agent.Run(ctx)

	fmt.Println("dm-cli connected. Commands: /chats, /open <chat-id>, /new <peer-id>, /quit")

	// Shared between the stdin loop and the agent's change callback
	var activeMu sync.Mutex
	var activeChat string
	setActive := func(id string) {
		activeMu.Lock()
		activeChat = id
		activeMu.Unlock()
	}
	getActive := func() string {
		activeMu.Lock()
		defer activeMu.Unlock()
		return activeChat
	}

	agent.OnChange(func() {
		chatID := getActive()
		if chatID == "" {
			return
		}
		// Keep the open conversation in view as events come in
		history := agent.Messages(chatID)
		if len(history) > 0 {
			last := history[len(history)-1]
			fmt.Printf("[%s] %s: %s\n", last.CreatedAt.Format("15:04:05"), last.UserID, renderBody(last))
		}
	})

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			cancel()
			return

		case line == "/chats":
			for _, chat := range agent.Chats() {
				fmt.Printf("%s  %s / %s  %q\n", chat.ID, chat.User1Name, chat.User2Name, chat.LastMessage)
			}

		case strings.HasPrefix(line, "/open "):
			chatID := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			setActive(chatID)
			for _, msg := range agent.Messages(chatID) {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.UserID, renderBody(msg))
			}

		case strings.HasPrefix(line, "/new "):
			peerID := strings.TrimSpace(strings.TrimPrefix(line, "/new "))
			chat, err := api.createChat(ctx, peerID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "create chat: %v\n", err)
				continue
			}
			setActive(chat.ID)
			fmt.Printf("chat %s opened\n", chat.ID)

		default:
			chatID := getActive()
			if chatID == "" {
				fmt.Println("no chat open; use /open <chat-id> first")
				continue
			}
			sendLine(ctx, api, agent, chatID, line)
		}
	}
}

// sendLine renders the message optimistically, posts it, then resolves
// the pending action from the server's answer.
func sendLine(ctx context.Context, api *apiClient, agent *syncagent.Agent, chatID, content string) {
	msg := &domain.Message{
		ChatID:    chatID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	actionID := agent.BeginSend(msg)

	result, err := api.sendMessage(ctx, chatID, content)
	if err != nil {
		agent.RejectSend(actionID, err.Error())
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		return
	}

	if !result.accepted {
		agent.RejectSend(actionID, result.reason)
		if result.retryAfter != "" {
			fmt.Printf("message refused: %s (retry in %ss)\n", result.reason, result.retryAfter)
		} else {
			fmt.Printf("message refused: %s\n", result.reason)
		}
		return
	}

	agent.ConfirmSend(actionID)
}

func renderBody(msg *domain.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	return "[image " + msg.ImageID + "]"
}
