// Package builder is a client for backend builder services.
//
// A builder service receives the conversation and returns a structured
// payload that seeds the chat context. The client POSTs JSON and tolerates
// the loosely-formed responses these backends produce: near-JSON bodies are
// passed through jsonrepair before decoding fails, and an optional jq query
// extracts the payload from a larger response envelope.
//
//	client := builder.NewClient(builder.WithAPIKey(key))
//	res, err := client.Run(ctx, backendURL, &builder.Request{Messages: msgs})
package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/skeinworks/skein/pkg/llm"
)

const defaultTimeout = 30 * time.Second

// Client represents a builder service client. The backend URL is per
// request; one client serves every backend a chat names.
type Client struct {
	config *clientConfig
}

// clientConfig represents client configuration
type clientConfig struct {
	apiKey      string
	httpClient  *http.Client
	timeout     time.Duration
	resultQuery *Query
}

// Option represents configuration option function
type Option func(*clientConfig)

// NewClient creates a builder service client
func NewClient(opts ...Option) *Client {
	config := &clientConfig{
		timeout: defaultTimeout,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.httpClient == nil {
		config.httpClient = &http.Client{
			Timeout: config.timeout,
		}
	}

	return &Client{config: config}
}

// WithAPIKey sets the default bearer token sent to backends.
// A request-level key takes precedence.
func WithAPIKey(apiKey string) Option {
	return func(c *clientConfig) {
		c.apiKey = apiKey
	}
}

// WithHTTPClient sets custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *clientConfig) {
		c.httpClient = client
	}
}

// WithTimeout sets request timeout
//
// Default: 30s
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithResultQuery sets a jq query that extracts the payload from the
// backend's response envelope. Without one the whole decoded body is the
// payload.
func WithResultQuery(q *Query) Option {
	return func(c *clientConfig) {
		c.resultQuery = q
	}
}

// Request is the body POSTed to a builder backend.
type Request struct {
	Messages []*llm.Message `json:"messages"`
	Options  map[string]any `json:"builderOptions,omitzero"`

	// APIKey overrides the client's bearer token for this call.
	APIKey string `json:"-"`
}

// Result is a successful builder response.
type Result struct {
	// Payload is the decoded response body, after the result query when the
	// client has one.
	Payload any
}

// Summary returns the payload serialized for transport. A payload that is
// already a bare string is returned as-is.
func (r *Result) Summary() string {
	if s, ok := r.Payload.(string); ok {
		return s
	}
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return fmt.Sprint(r.Payload)
	}
	return string(b)
}

// Run calls the builder backend at backendURL.
// Backend failures come back as *Error.
func (c *Client) Run(ctx context.Context, backendURL string, req *Request) (*Result, error) {
	jsonBytes, err := json.Marshal(req)
	if err != nil {
		return nil, wrapError(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, backendURL, bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, wrapError(err, "create request")
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-Id", uuid.New().String())
	key := req.APIKey
	if key == "" {
		key = c.config.apiKey
	}
	if key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.config.httpClient.Do(httpReq)
	if err != nil {
		return nil, wrapError(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(err, "read response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &Error{
			Status:  resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
			Body:    string(body),
		}
	}

	var payload any
	if err := unmarshalJSON(body, &payload); err != nil {
		return nil, &Error{
			Status:  resp.StatusCode,
			Message: "invalid JSON response",
			Body:    string(body),
		}
	}

	if q := c.config.resultQuery; q != nil {
		payload, err = q.First(payload)
		if err != nil {
			return nil, wrapError(err, "result query")
		}
	}

	return &Result{Payload: payload}, nil
}
