package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://app.chatwoot.com"

// Conversation is the minimal conversation shape read back from the platform.
type Conversation struct {
	ID               int            `json:"id"`
	CustomAttributes map[string]any `json:"custom_attributes"`
}

// Contact is the minimal contact shape read back from the platform.
type Contact struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// contactEnvelope unwraps the platform's {"payload": {...}} contact responses.
type contactEnvelope struct {
	Payload Contact `json:"payload"`
}

type attributesRequest struct {
	CustomAttributes map[string]any `json:"custom_attributes"`
}

type messageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chatwoot: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the support platform's conversation,
// contact and message endpoints.
type Client struct {
	baseURL    string
	accountID  string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Client for one platform account. The token is the
// static per-deployment access token issued by the platform.
func NewClient(accountID, token string, opts ...Option) (*Client, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.New("chatwoot: account id must not be empty")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("chatwoot: access token must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		accountID:  accountID,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	return c, nil
}

// DashboardURL returns the deep link to a conversation in the platform UI,
// suitable for inclusion in escalation cards.
func (c *Client) DashboardURL(conversationID int) string {
	return fmt.Sprintf("%s/app/accounts/%s/conversations/%d",
		strings.TrimRight(c.baseURL, "/"), c.accountID, conversationID)
}

func (c *Client) accountURL(pathSuffix string) string {
	return fmt.Sprintf("%s/api/v1/accounts/%s%s",
		strings.TrimRight(c.baseURL, "/"), c.accountID, pathSuffix)
}

// GetConversation fetches a conversation with its custom attributes.
func (c *Client) GetConversation(ctx context.Context, conversationID int) (Conversation, error) {
	url := c.accountURL(fmt.Sprintf("/conversations/%d", conversationID))
	raw, err := c.doJSONRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Conversation{}, fmt.Errorf("chatwoot: get conversation %d: %w", conversationID, err)
	}
	var conv Conversation
	if decErr := json.Unmarshal(raw, &conv); decErr != nil {
		return Conversation{}, fmt.Errorf("chatwoot: decode conversation %d: %w", conversationID, decErr)
	}
	return conv, nil
}

// UpdateConversationAttributes writes custom attributes onto a conversation.
// The platform merges keys; the relay always sends complete values for the
// keys it owns.
func (c *Client) UpdateConversationAttributes(ctx context.Context, conversationID int, attrs map[string]any) error {
	if len(attrs) == 0 {
		return errors.New("chatwoot: attributes must not be empty")
	}
	url := c.accountURL(fmt.Sprintf("/conversations/%d/custom_attributes", conversationID))
	if _, err := c.doJSONRequest(ctx, http.MethodPost, url, attributesRequest{CustomAttributes: attrs}); err != nil {
		return fmt.Errorf("chatwoot: update conversation %d attributes: %w", conversationID, err)
	}
	return nil
}

// GetContact fetches a contact by id.
func (c *Client) GetContact(ctx context.Context, contactID int) (Contact, error) {
	url := c.accountURL(fmt.Sprintf("/contacts/%d", contactID))
	raw, err := c.doJSONRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Contact{}, fmt.Errorf("chatwoot: get contact %d: %w", contactID, err)
	}
	var env contactEnvelope
	if decErr := json.Unmarshal(raw, &env); decErr != nil {
		return Contact{}, fmt.Errorf("chatwoot: decode contact %d: %w", contactID, decErr)
	}
	if env.Payload.ID == 0 {
		// Some deployments return the contact unwrapped.
		var contact Contact
		if decErr := json.Unmarshal(raw, &contact); decErr == nil && contact.ID != 0 {
			return contact, nil
		}
	}
	return env.Payload, nil
}

// UpdateContactAttributes writes custom attributes onto a contact.
func (c *Client) UpdateContactAttributes(ctx context.Context, contactID int, attrs map[string]any) error {
	if len(attrs) == 0 {
		return errors.New("chatwoot: attributes must not be empty")
	}
	url := c.accountURL(fmt.Sprintf("/contacts/%d", contactID))
	if _, err := c.doJSONRequest(ctx, http.MethodPut, url, attributesRequest{CustomAttributes: attrs}); err != nil {
		return fmt.Errorf("chatwoot: update contact %d attributes: %w", contactID, err)
	}
	return nil
}

// SendMessage posts a public outgoing message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID int, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("chatwoot: message content must not be empty")
	}
	url := c.accountURL(fmt.Sprintf("/conversations/%d/messages", conversationID))
	payload := messageRequest{
		Content:     content,
		MessageType: "outgoing",
		Private:     false,
	}
	if _, err := c.doJSONRequest(ctx, http.MethodPost, url, payload); err != nil {
		return fmt.Errorf("chatwoot: send message to conversation %d: %w", conversationID, err)
	}
	return nil
}

func (c *Client) doJSONRequest(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("api_access_token", c.token)

	res, doErr := c.resolvedHTTPClient().Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// resolvedHTTPClient returns the configured HTTP client, or a default with a
// 10s timeout if none was set (e.g. in tests that nil out the field).
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}
