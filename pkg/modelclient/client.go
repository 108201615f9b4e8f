// Package modelclient calls an OpenAI-compatible chat completions API and
// returns schema-constrained JSON objects.
package modelclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultTimeout = 60 * time.Second

	// DefaultTemperature keeps analyses close to deterministic.
	DefaultTemperature = 0.2
)

// Errors returned by the client.
var (
	ErrRateLimited = errors.New("modelclient: rate limit exceeded")
	ErrEmptyResult = errors.New("modelclient: model returned no usable JSON")
)

// APIError is a terminal model API failure.
type APIError struct {
	HTTPStatus int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("modelclient: http %d: %s", e.HTTPStatus, e.Message)
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// Options tunes a single completion call.
type Options struct {
	Temperature         float64
	ReasoningEffort     string
	MaxCompletionTokens int
	Store               bool
}

// Client talks to an OpenAI-compatible endpoint. SupportsVision reports
// whether the configured model accepts PDF file inputs; callers route
// binary documents accordingly.
type Client struct {
	apiKey         string
	model          string
	baseURL        string
	httpClient     *http.Client
	maxRetries     int
	baseDelay      time.Duration
	supportsVision bool
	logger         *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint; used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRetries sets the retry budget and base backoff delay.
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithVision declares whether the model accepts PDF inputs.
func WithVision(supported bool) Option {
	return func(c *Client) { c.supportsVision = supported }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a model client for the given API key and model name.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:         apiKey,
		model:          model,
		baseURL:        defaultBaseURL,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		maxRetries:     3,
		baseDelay:      time.Second,
		supportsVision: true,
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SupportsVision reports whether the PDF input path is available.
func (c *Client) SupportsVision() bool { return c.supportsVision }

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []Message       `json:"messages"`
	Temperature         float64         `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	Store               bool            `json:"store,omitempty"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string         `json:"type"`
	JSONSchema responseSchema `json:"json_schema"`
}

type responseSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// StructuredCompletion sends the messages and returns the parsed JSON
// object. Malformed model output goes through the recovery ladder; when
// nothing can be recovered, ErrEmptyResult is returned.
func (c *Client) StructuredCompletion(ctx context.Context, msgs []Message, schema json.RawMessage, opts *Options) (map[string]any, error) {
	req := c.buildRequest(msgs, schema, opts)
	content, err := c.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	obj, ok := RecoverJSON(content)
	if !ok {
		return nil, ErrEmptyResult
	}
	return obj, nil
}

// StructuredCompletionWithPDF sends a base64-encoded PDF plus the prompt as
// a single user message. Preferred path for binary bill documents.
func (c *Client) StructuredCompletionWithPDF(ctx context.Context, pdf []byte, prompt string, schema json.RawMessage, opts *Options) (map[string]any, error) {
	fileData := "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf)
	msgs := []Message{{
		Role: "user",
		Content: []map[string]any{
			{
				"type": "file",
				"file": map[string]any{
					"filename":  "bill.pdf",
					"file_data": fileData,
				},
			},
			{"type": "text", "text": prompt},
		},
	}}
	return c.StructuredCompletion(ctx, msgs, schema, opts)
}

func (c *Client) buildRequest(msgs []Message, schema json.RawMessage, opts *Options) *chatRequest {
	req := &chatRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: DefaultTemperature,
	}
	if opts != nil {
		if opts.Temperature != 0 {
			req.Temperature = opts.Temperature
		}
		req.MaxCompletionTokens = opts.MaxCompletionTokens
		req.ReasoningEffort = opts.ReasoningEffort
		req.Store = opts.Store
	}
	if schema != nil {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: responseSchema{
				Name:   "bill_analysis",
				Strict: true,
				Schema: schema,
			},
		}
	}
	return req
}

// complete performs the HTTP call with retry, returning the raw message
// content of the first choice.
func (c *Client) complete(ctx context.Context, req *chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("modelclient: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(lastErr, attempt)); err != nil {
				return "", err
			}
			c.logger.Warn("model call retry",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		content, err := c.doRequest(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("modelclient: create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("modelclient: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("modelclient: read body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w", ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{HTTPStatus: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("modelclient: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", &APIError{HTTPStatus: resp.StatusCode, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return "", &APIError{HTTPStatus: resp.StatusCode, Message: "empty choices"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) backoff(err error, attempt int) time.Duration {
	d := c.baseDelay * (1 << (attempt - 1))
	if errors.Is(err, ErrRateLimited) {
		d *= 5
	}
	return d
}

func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatus >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
