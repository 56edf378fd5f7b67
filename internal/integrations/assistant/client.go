package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	betaHeader     = "assistants=v2"
)

// Run status values reported by the assistant service.
const (
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
	RunStatusFailed     = "failed"
	RunStatusCancelled  = "cancelled"
	RunStatusExpired    = "expired"
)

// Run is one inference invocation against a thread.
type Run struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// ContentSegment is one part of an assistant message body.
type ContentSegment struct {
	Type string `json:"type"`
	Text struct {
		Value string `json:"value"`
	} `json:"text"`
}

// ThreadMessage is one entry on a thread, newest first in list responses.
type ThreadMessage struct {
	ID      string           `json:"id"`
	Role    string           `json:"role"`
	Content []ContentSegment `json:"content"`
}

type threadResponse struct {
	ID string `json:"id"`
}

type messageCreateRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runCreateRequest struct {
	AssistantID string `json:"assistant_id"`
}

type messageListResponse struct {
	Data []ThreadMessage `json:"data"`
}

// tokenPayload is the JSON shape optionally stored in SSM for the API key.
type tokenPayload struct {
	Token string `json:"token"`
}

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("assistant: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused client for the assistant service's thread, message and
// run endpoints.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	getter      Getter
	paramPrefix string
	envKey      string

	keyOnce sync.Once
	apiKey  string
	keyErr  error
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

// WithAPIKey sets a static API key, bypassing paramstore resolution.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.envKey = strings.TrimSpace(key)
	}
}

// NewClient creates a Client. The API key is taken from WithAPIKey when set;
// otherwise it is fetched from SSM under <paramPrefix>/assistant-api-key on
// first use and cached for the process lifetime.
func NewClient(ps Getter, paramPrefix string, opts ...Option) (*Client, error) {
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	c := &Client{
		baseURL:     defaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		getter:      ps,
		paramPrefix: paramPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.envKey == "" {
		if ps == nil {
			return nil, errors.New("assistant: either an API key or a paramstore getter is required")
		}
		if paramPrefix == "" {
			return nil, errors.New("assistant: parameter prefix must not be empty")
		}
	}
	return c, nil
}

// resolveAPIKey returns the static key when configured, otherwise fetches the
// key from SSM on the first call and returns the cached result afterwards.
func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	if c.envKey != "" {
		return c.envKey, nil
	}
	c.keyOnce.Do(func() {
		c.apiKey, c.keyErr = fetchAPIKeyFromParamStore(ctx, c.getter, c.keyParameterName())
	})
	return c.apiKey, c.keyErr
}

func (c *Client) keyParameterName() string {
	return c.paramPrefix + "/assistant-api-key"
}

// CreateThread creates a new durable conversation context and returns its id.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	raw, err := c.doJSONRequest(ctx, http.MethodPost, c.url("/threads"), struct{}{})
	if err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	var payload threadResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return "", fmt.Errorf("assistant: decode thread response: %w", decErr)
	}
	if payload.ID == "" {
		return "", errors.New("assistant: thread response missing id")
	}
	return payload.ID, nil
}

// AddMessage appends a user turn to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID, text string) error {
	if threadID == "" {
		return errors.New("assistant: thread id must not be empty")
	}
	payload := messageCreateRequest{Role: "user", Content: text}
	if _, err := c.doJSONRequest(ctx, http.MethodPost, c.url("/threads/"+threadID+"/messages"), payload); err != nil {
		return fmt.Errorf("assistant: add message to thread %s: %w", threadID, err)
	}
	return nil
}

// CreateRun starts an inference run of the given assistant against a thread.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (Run, error) {
	if threadID == "" {
		return Run{}, errors.New("assistant: thread id must not be empty")
	}
	if assistantID == "" {
		return Run{}, errors.New("assistant: assistant id must not be empty")
	}
	raw, err := c.doJSONRequest(ctx, http.MethodPost, c.url("/threads/"+threadID+"/runs"), runCreateRequest{AssistantID: assistantID})
	if err != nil {
		return Run{}, fmt.Errorf("assistant: create run on thread %s: %w", threadID, err)
	}
	var run Run
	if decErr := json.Unmarshal(raw, &run); decErr != nil {
		return Run{}, fmt.Errorf("assistant: decode run response: %w", decErr)
	}
	if run.ID == "" {
		return Run{}, errors.New("assistant: run response missing id")
	}
	return run, nil
}

// GetRun retrieves the current status of a run.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	raw, err := c.doJSONRequest(ctx, http.MethodGet, c.url("/threads/"+threadID+"/runs/"+runID), nil)
	if err != nil {
		return Run{}, fmt.Errorf("assistant: get run %s: %w", runID, err)
	}
	var run Run
	if decErr := json.Unmarshal(raw, &run); decErr != nil {
		return Run{}, fmt.Errorf("assistant: decode run %s: %w", runID, decErr)
	}
	return run, nil
}

// ListMessages returns the messages on a thread, newest first.
func (c *Client) ListMessages(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	raw, err := c.doJSONRequest(ctx, http.MethodGet, c.url("/threads/"+threadID+"/messages"), nil)
	if err != nil {
		return nil, fmt.Errorf("assistant: list messages on thread %s: %w", threadID, err)
	}
	var payload messageListResponse
	if decErr := json.Unmarshal(raw, &payload); decErr != nil {
		return nil, fmt.Errorf("assistant: decode messages on thread %s: %w", threadID, decErr)
	}
	return payload.Data, nil
}

func (c *Client) url(pathSuffix string) string {
	base := strings.TrimRight(c.baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + pathSuffix
}

func (c *Client) doJSONRequest(ctx context.Context, method, url string, payload any) ([]byte, error) {
	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		encoded, mErr := json.Marshal(payload)
		if mErr != nil {
			return nil, fmt.Errorf("marshal request: %w", mErr)
		}
		body = bytes.NewReader(encoded)
	}

	req, reqErr := http.NewRequestWithContext(ctx, method, url, body)
	if reqErr != nil {
		return nil, fmt.Errorf("create request: %w", reqErr)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("OpenAI-Beta", betaHeader)

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
// 30s timeout if none was set.
func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func fetchAPIKeyFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("assistant: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("assistant: key parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("assistant: fetch API key from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err == nil && tp.Token != "" {
		return tp.Token, nil
	}
	// Plain-string parameters are accepted alongside the JSON token shape.
	key := strings.TrimSpace(raw)
	if key == "" || strings.HasPrefix(key, "{") {
		return "", errors.New("assistant: API key parameter is empty or malformed")
	}
	return key, nil
}
