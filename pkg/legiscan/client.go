// Package legiscan is a rate-limited client for the upstream legislative
// data API. All calls share a process-wide throttle that enforces minimum
// spacing between requests, and retry transient failures with exponential
// backoff.
package legiscan

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.legiscan.com/"
	defaultTimeout = 30 * time.Second

	// maxBodyBytes caps document downloads; some enrolled bills are large
	// PDFs but nothing legitimate exceeds this.
	maxBodyBytes = 25 * 1024 * 1024
)

// Errors returned by the client.
var (
	ErrNoAPIKey    = errors.New("legiscan: API key is required")
	ErrRateLimited = errors.New("legiscan: rate limit exceeded")
)

// APIError is a terminal upstream failure: a non-OK envelope status or an
// unexpected HTTP response.
type APIError struct {
	Op         string
	HTTPStatus int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("legiscan: %s: %s (status=%s http=%d)", e.Op, e.Message, e.Status, e.HTTPStatus)
	}
	return fmt.Sprintf("legiscan: %s: status=%s http=%d", e.Op, e.Status, e.HTTPStatus)
}

// Client is a thread-safe upstream API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL overrides the API endpoint; used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") + "/" }
}

// WithRateLimit sets the minimum spacing between successive calls.
func WithRateLimit(minSpacing time.Duration) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Every(minSpacing), 1) }
}

// WithRetries sets the retry budget and the base backoff delay.
func WithRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client with 1 req/s spacing and 3 retries by default.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &Client{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 1),
		maxRetries: 3,
		baseDelay:  time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// envelope is the common wrapper around every API response.
type envelope struct {
	Status string `json:"status"`
	Alert  *struct {
		Message string `json:"message"`
	} `json:"alert"`
}

// call performs one API operation with throttling and retry. The decoded
// response body is returned raw for the caller to unpack.
func (c *Client) call(ctx context.Context, op string, params map[string]string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("op", op)
	for k, v := range params {
		q.Set(k, v)
	}
	endpoint := c.baseURL + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(lastErr, attempt)); err != nil {
				return nil, err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doRequest(ctx, op, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		c.logger.Warn("upstream call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, op, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("legiscan: %s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("legiscan: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, op)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Op: op, HTTPStatus: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("legiscan: %s: read body: %w", op, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &APIError{Op: op, HTTPStatus: resp.StatusCode, Message: "malformed envelope"}
	}
	if !strings.EqualFold(env.Status, "OK") {
		msg := ""
		if env.Alert != nil {
			msg = env.Alert.Message
		}
		return nil, &APIError{Op: op, HTTPStatus: resp.StatusCode, Status: env.Status, Message: msg}
	}
	// Upstream signals throttling inside an OK envelope.
	if env.Alert != nil && strings.Contains(strings.ToLower(env.Alert.Message), "rate limit") {
		return nil, fmt.Errorf("%w: %s: %s", ErrRateLimited, op, env.Alert.Message)
	}
	return body, nil
}

// backoff computes the delay before the given retry attempt: 2^attempt
// seconds for ordinary failures, five times that when the upstream reported
// a rate limit.
func (c *Client) backoff(err error, attempt int) time.Duration {
	d := c.baseDelay * (1 << (attempt - 1))
	if errors.Is(err, ErrRateLimited) {
		d *= 5
	}
	return d
}

// retryable reports whether an error is worth retrying: rate limits,
// network failures, and 5xx responses. Other API errors are terminal.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		// Non-OK envelopes are retried; HTTP 4xx is terminal.
		if apiErr.Status != "" {
			return true
		}
		return apiErr.HTTPStatus >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// sleepCtx sleeps for d, waking early if the context is cancelled.
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

// GetSessionList returns the sessions for a state.
func (c *Client) GetSessionList(ctx context.Context, state string) ([]Session, error) {
	body, err := c.call(ctx, "getSessionList", map[string]string{"state": state})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Sessions []Session `json:"sessions"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan: getSessionList: decode: %w", err)
	}
	return payload.Sessions, nil
}

// GetMasterListRaw returns the change-hash index for a session. The "0"
// metadata entry of the upstream dict is folded into the MasterList header.
func (c *Client) GetMasterListRaw(ctx context.Context, sessionID int) (*MasterList, error) {
	body, err := c.call(ctx, "getMasterListRaw", map[string]string{"id": strconv.Itoa(sessionID)})
	if err != nil {
		return nil, err
	}
	var payload struct {
		MasterList map[string]json.RawMessage `json:"masterlist"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan: getMasterListRaw: decode: %w", err)
	}

	ml := &MasterList{SessionID: sessionID}
	for key, raw := range payload.MasterList {
		if key == "0" {
			var meta struct {
				SessionID   int    `json:"session_id"`
				SessionName string `json:"session_name"`
			}
			if err := json.Unmarshal(raw, &meta); err == nil {
				if meta.SessionID != 0 {
					ml.SessionID = meta.SessionID
				}
				ml.SessionName = meta.SessionName
			}
			continue
		}
		var entry MasterEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			c.logger.Warn("skipping malformed master list entry",
				zap.String("key", key), zap.Error(err))
			continue
		}
		if entry.BillID != 0 {
			ml.Entries = append(ml.Entries, entry)
		}
	}
	return ml, nil
}

// GetBill fetches the full record for a bill.
func (c *Client) GetBill(ctx context.Context, billID int) (*BillDetail, error) {
	body, err := c.call(ctx, "getBill", map[string]string{"id": strconv.Itoa(billID)})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Bill BillDetail `json:"bill"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan: getBill: decode: %w", err)
	}
	return &payload.Bill, nil
}

// GetBillText fetches a document by id and decodes its base64 payload.
func (c *Client) GetBillText(ctx context.Context, docID int) (*BillTextDoc, error) {
	body, err := c.call(ctx, "getBillText", map[string]string{"id": strconv.Itoa(docID)})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Text BillTextDoc `json:"text"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan: getBillText: decode: %w", err)
	}
	if payload.Text.Base64 != "" {
		content, err := base64.StdEncoding.DecodeString(payload.Text.Base64)
		if err != nil {
			return nil, fmt.Errorf("legiscan: getBillText: decode doc: %w", err)
		}
		payload.Text.Content = content
	}
	return &payload.Text, nil
}

// SearchRaw runs a full-text search against a state's bills.
func (c *Client) SearchRaw(ctx context.Context, state, query string, year int) (*SearchResult, error) {
	params := map[string]string{"state": state, "query": query}
	if year > 0 {
		params["year"] = strconv.Itoa(year)
	}
	body, err := c.call(ctx, "getSearchRaw", params)
	if err != nil {
		return nil, err
	}
	var payload struct {
		SearchResult SearchResult `json:"searchresult"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("legiscan: getSearchRaw: decode: %w", err)
	}
	return &payload.SearchResult, nil
}

// FetchURL downloads an arbitrary state-hosted document (a bill's
// state_link). It is throttled like API calls but bypasses the envelope.
// Returns the body and the Content-Type reported by the server.
func (c *Client) FetchURL(ctx context.Context, link string) ([]byte, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("legiscan: fetchURL: create request: %w", err)
	}
	req.Header.Set("User-Agent", "PolicyPulse/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("legiscan: fetchURL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", &APIError{Op: "fetchURL", HTTPStatus: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("legiscan: fetchURL: read body: %w", err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return body, mimeType, nil
}
