// Package browser provides a client for the messaging automation sidecar,
// the headless browser service that drives the outbound channel.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wolfman30/outreach-orchestrator/pkg/logging"
)

// LoginRequest signs the sidecar's browser session in.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Timeout  int    `json:"timeout,omitempty"` // milliseconds
}

// InitialMessageRequest opens a conversation from a profile page.
type InitialMessageRequest struct {
	ProfileURL string `json:"profileUrl"`
	Text       string `json:"text"`
	Timeout    int    `json:"timeout,omitempty"`
}

// ReplyRequest answers in a conversation. An empty ThreadURL targets the
// conversation currently open in the session.
type ReplyRequest struct {
	ThreadURL string `json:"threadUrl,omitempty"`
	Text      string `json:"text"`
	Timeout   int    `json:"timeout,omitempty"`
}

// InboxRequest asks for the most recent inbound messages.
type InboxRequest struct {
	Limit           int      `json:"limit"`
	AllowedProfiles []string `json:"allowedProfiles,omitempty"`
	Timeout         int      `json:"timeout,omitempty"`
}

// ActionResponse is the sidecar reply to login and send requests.
type ActionResponse struct {
	Success   bool   `json:"success"`
	ThreadURL string `json:"threadUrl,omitempty"`
	Error     string `json:"error,omitempty"`
}

// InboxMessage is one message scraped from the inbox.
type InboxMessage struct {
	Text            string    `json:"text"`
	ObservedAt      time.Time `json:"observedAt"`
	ProfileURL      string    `json:"profileUrl,omitempty"`
	ParticipantName string    `json:"participantName,omitempty"`
	Incoming        bool      `json:"incoming"`
	ThreadURL       string    `json:"threadUrl,omitempty"`
}

// InboxResponse lists inbox messages in the order the sidecar read them.
type InboxResponse struct {
	Success  bool           `json:"success"`
	Messages []InboxMessage `json:"messages"`
	Error    string         `json:"error,omitempty"`
}

// HealthResponse is the health check response from the sidecar.
type HealthResponse struct {
	Status       string `json:"status"` // ok, degraded, error
	Version      string `json:"version"`
	BrowserReady bool   `json:"browserReady"`
	LoggedIn     bool   `json:"loggedIn"`
	Uptime       int    `json:"uptime"` // seconds
}

// Client is an HTTP client for the browser sidecar service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// ClientOption is a functional option for configuring the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a new browser sidecar client.
// baseURL should be the sidecar service URL (e.g., "http://localhost:3000").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		logger: logging.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Health checks the health of the browser sidecar.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("browser: create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("browser: health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("browser: health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("browser: decode health response: %w", err)
	}

	return &health, nil
}

// Login signs the automation session in.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*ActionResponse, error) {
	var result ActionResponse
	if err := c.post(ctx, "/api/v1/session/login", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendInitialMessage messages a profile that has no open conversation yet.
func (c *Client) SendInitialMessage(ctx context.Context, req InitialMessageRequest) (*ActionResponse, error) {
	c.logger.Debug("sending initial message", "profile_url", req.ProfileURL)
	var result ActionResponse
	if err := c.post(ctx, "/api/v1/messages/initial", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SendReply posts text into a conversation.
func (c *Client) SendReply(ctx context.Context, req ReplyRequest) (*ActionResponse, error) {
	var result ActionResponse
	if err := c.post(ctx, "/api/v1/messages/reply", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LatestInbox scrapes recent inbound messages.
func (c *Client) LatestInbox(ctx context.Context, req InboxRequest) (*InboxResponse, error) {
	var result InboxResponse
	if err := c.post(ctx, "/api/v1/inbox/latest", req, &result); err != nil {
		return nil, err
	}
	c.logger.Debug("inbox fetched", "messages", len(result.Messages), "success", result.Success)
	return &result, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("browser: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("browser: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("browser: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("browser: %s failed with status %d: %s", path, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("browser: decode response: %w", err)
	}
	return nil
}
