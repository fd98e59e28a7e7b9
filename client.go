// Package chatsync is the Go client for the Ergasia marketplace chat backend.
//
// It provides the HTTP data-access client, the realtime connection manager,
// and a Session that keeps a user's chat list, open message window, and
// presence state synchronized against the realtime event stream.
//
// Example:
//
//	client := chatsync.NewClient(token)
//	conn := client.NewConn(&chatsync.RealtimeConfig{UserID: "user-1", AutoReconnect: true})
//	session := chatsync.NewSession(client, conn, &chatsync.SessionConfig{UserID: "user-1"})
//	session.Start(ctx)
//	session.SelectChat(ctx, "chat-42")
//	session.Send("hello")
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the production chat backend.
	DefaultBaseURL = "https://chat.ergasia.gr"
	// DefaultTimeout bounds each HTTP request.
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the HTTP client for the chat data-access API: conversation lists,
// message history, presence marking, and authentication.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the backend base URL.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient supplies a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a chat API client. token may be empty for Login-only use.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the auth token, e.g. after Login.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewConn creates the realtime connection manager for this backend.
// Call Connect on the result to establish the connection.
func (c *Client) NewConn(config *RealtimeConfig) *Conn {
	return NewConn(c.baseURL, config)
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func resultErr(result *Result) error {
	if result.Error != nil {
		return result.Error
	}
	return fmt.Errorf("API returned an error (no details)")
}

// ============================================================================
// API Methods
// ============================================================================

// Login authenticates with username/password and returns a session token.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthData, error) {
	result, err := c.do(ctx, "POST", "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result)
	}
	var auth AuthData
	if err := result.Decode(&auth); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	return &auth, nil
}

// GetChats returns the user's conversations, newest-updated first.
func (c *Client) GetChats(ctx context.Context, userID string) ([]Chat, error) {
	result, err := c.do(ctx, "GET", "/api/chat/chats", nil, map[string]string{"userId": userID})
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result)
	}
	var chats []Chat
	if err := result.Decode(&chats); err != nil {
		return nil, fmt.Errorf("failed to decode chats: %w", err)
	}
	return chats, nil
}

// GetMessages returns at most opts.Limit messages of chatID older than
// opts.Before, oldest-first. A zero Before fetches the newest page.
func (c *Client) GetMessages(ctx context.Context, chatID, userID string, opts *HistoryOptions) ([]Message, error) {
	query := map[string]string{"userId": userID}
	if opts != nil {
		if opts.Limit > 0 {
			query["limit"] = fmt.Sprintf("%d", opts.Limit)
		}
		if !opts.Before.IsZero() {
			query["before"] = opts.Before.UTC().Format(time.RFC3339Nano)
		}
	}
	result, err := c.do(ctx, "GET", "/api/chat/chats/"+chatID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result)
	}
	var messages []Message
	if err := result.Decode(&messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	for i := range messages {
		messages[i].Kind = KindConfirmed
	}
	return messages, nil
}

// SendMessage posts a message through the HTTP API. The realtime transport is
// the primary send path; this covers integrations without a connection.
func (c *Client) SendMessage(ctx context.Context, chatID, content, userID, replyToID string) (*Message, error) {
	payload := map[string]string{"content": content, "userId": userID}
	if replyToID != "" {
		payload["replyToId"] = replyToID
	}
	result, err := c.do(ctx, "POST", "/api/chat/chats/"+chatID+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result)
	}
	var msg Message
	if err := result.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	msg.Kind = KindConfirmed
	return &msg, nil
}

// UpdatePresence marks the user online or offline.
func (c *Client) UpdatePresence(ctx context.Context, userID string, online bool) error {
	result, err := c.do(ctx, "POST", "/api/chat/presence", map[string]interface{}{
		"userId": userID,
		"online": online,
	}, nil)
	if err != nil {
		return err
	}
	if !result.OK {
		return resultErr(result)
	}
	return nil
}

// GetPresence returns presence records for the participants of a chat.
func (c *Client) GetPresence(ctx context.Context, chatID string) ([]PresenceInfo, error) {
	result, err := c.do(ctx, "GET", "/api/chat/chats/"+chatID+"/presence", nil, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, resultErr(result)
	}
	var records []PresenceInfo
	if err := result.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return records, nil
}
