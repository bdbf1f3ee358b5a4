// Package fetch downloads remote payloads for ingestion into a table.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the per-request HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is requests per second.
	DefaultRateLimit = 5.0

	// DefaultMaxRetries applies to network errors, 429 and 5xx.
	DefaultMaxRetries = 3

	// DefaultMaxBodySize caps a single response body.
	DefaultMaxBodySize = 512 << 20
)

// Client is a rate-limited HTTP client with retries.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	token      string
	initial    time.Duration
	maxBody    int64
	logger     *zap.SugaredLogger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit sets requests per second. Zero or negative leaves the default.
func WithRateLimit(perSecond float64) ClientOption {
	return func(c *Client) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithMaxRetries sets how often a retryable failure is retried.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBearerToken sends an Authorization header.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithInitialBackoff sets the first retry delay (for testing).
func WithInitialBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		c.initial = d
	}
}

// WithMaxBodySize sets the largest accepted response body in bytes.
func WithMaxBodySize(n int64) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxBody = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a fetch client. VSTORE_FETCH_TOKEN, when set, is sent
// as a bearer token unless overridden by an option.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), 1),
		maxRetries: DefaultMaxRetries,
		initial:    500 * time.Millisecond,
		maxBody:    DefaultMaxBodySize,
		logger:     zap.NewNop().Sugar(),
	}
	if token := os.Getenv("VSTORE_FETCH_TOKEN"); token != "" {
		c.token = token
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a downloaded body together with its declared type.
type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

// Get downloads url, retrying network errors, 429 and 5xx with exponential
// backoff. Other 4xx statuses fail immediately.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	var out *Response
	attempt := 0
	op := func() error {
		attempt++
		resp, err := c.do(ctx, url)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			c.logger.Debugw("fetch attempt failed", "url", url, "attempt", attempt, "error", err)
			return err
		}
		out = resp
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, url string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/xml, text/plain;q=0.9, */*;q=0.5")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
	}
	if err := checkStatus(resp, url, body); err != nil {
		return nil, err
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%w: body exceeds limit of %d bytes", ErrInvalidResponse, c.maxBody)
	}
	return &Response{URL: url, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

// checkStatus returns an error if the HTTP response indicates a problem.
func checkStatus(resp *http.Response, url string, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthError, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return &HTTPError{StatusCode: resp.StatusCode, URL: url, Message: msg}
	}
	return nil
}

// Payload decodes the body into a value the store can write: []any or
// map[string]any for JSON, string for XML and text. JSON is recognised by
// Content-Type or, failing that, by a leading '[' or '{'.
func (r *Response) Payload() (any, error) {
	mediaType, _, _ := mime.ParseMediaType(r.ContentType)
	trimmed := bytes.TrimSpace(r.Body)

	isJSON := mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
	if !isJSON && mediaType != "application/xml" && mediaType != "text/xml" && len(trimmed) > 0 {
		isJSON = trimmed[0] == '[' || trimmed[0] == '{'
	}
	if !isJSON {
		return string(r.Body), nil
	}

	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	switch v.(type) {
	case []any, map[string]any:
		return v, nil
	}
	return nil, fmt.Errorf("%w: top-level JSON must be an array or object", ErrInvalidResponse)
}

// FetchPayload downloads url and decodes it with Payload.
func (c *Client) FetchPayload(ctx context.Context, url string) (any, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Payload()
}
