// Package remote talks to the activity API that owns workout sessions.
package remote

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

	"example.com/gymtracker/internal/domain"
)

// DefaultTimeout bounds a single API call.
const DefaultTimeout = 10 * time.Second

const maxErrorBody = 4 << 10

// ServerError is a non-2xx answer from the activity API. It matches domain.ErrServer.
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("activity api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("activity api returned status %d: %s", e.StatusCode, e.Body)
}

// Is makes errors.Is(err, domain.ErrServer) hold.
func (e *ServerError) Is(target error) bool {
	return target == domain.ErrServer
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// Client is the HTTP implementation of domain.SessionAPI.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ domain.SessionAPI = (*Client)(nil)

// NewClient constructs a client. A non-positive timeout selects DefaultTimeout.
func NewClient(baseURL, token string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartSession opens a session for userID.
func (c *Client) StartSession(ctx context.Context, userID string) (*domain.ActivitySession, error) {
	body, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/activity-sessions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var session domain.ActivitySession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decode start session response: %v", domain.ErrServer, err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: start session response has no id", domain.ErrServer)
	}
	return &session, nil
}

// EndSession closes sessionID.
func (c *Client) EndSession(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/v1/activity-sessions/"+url.PathEscape(sessionID)+"/end", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrNetwork, method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return resp, nil
}
