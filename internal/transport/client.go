// Package transport implements the resilient HTTP client used by the
// Segment Pipeline and manifest refresh: circuit breaker, transparent
// decompression, per-origin throttling and in-flight request
// de-duplication, generalized to serve any SegmentLoader/ManifestLoader
// caller. Retries are left to the caller (internal/retry).
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Config parameterizes a Client.
type Config struct {
	Timeout        time.Duration
	CircuitBreaker CircuitBreakerConfig
	RateLimit      rate.Limit // requests/sec; zero disables throttling
	RateBurst      int
	Logger         *slog.Logger
}

// Client is a per-origin-ish resilient HTTP fetcher. One Client instance is
// typically shared by every representation of a track so its circuit
// breaker and rate limiter reflect the track's true aggregate load.
type Client struct {
	httpClient *http.Client
	breaker    *CircuitBreaker
	limiter    *rate.Limiter
	group      singleflight.Group
	logger     *slog.Logger
}

// New builds a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewCircuitBreaker(cfg.CircuitBreaker),
		limiter:    limiter,
		logger:     logger,
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call outright.
var ErrCircuitOpen = fmt.Errorf("transport: circuit open")

// Fetch performs a single GET against url, honoring the rate limiter and
// circuit breaker, and transparently decompressing the response body.
// Retries are the caller's responsibility via internal/retry.Harness —
// Fetch is the single attempt a Harness wraps.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if !c.breaker.Allow() {
		return nil, ErrCircuitOpen
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.do(ctx, url)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()
	return body, nil
}

// FetchDeduped is like Fetch but collapses concurrent callers requesting
// the same key into a single underlying request — used for live manifest
// refresh, where buffer events from multiple tracks can all observe the
// live edge in the same tick ("one refresh in flight at a time").
func (c *Client) FetchDeduped(ctx context.Context, key, url string) ([]byte, error) {
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.Fetch(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, &HTTPStatusError{URL: url, StatusCode: resp.StatusCode}
	}

	reader, err := wrapDecompression(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: decompress %s: %w", url, err)
	}
	if closer, ok := reader.(io.Closer); ok && reader != io.Reader(resp.Body) {
		defer closer.Close()
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("transport: read body %s: %w", url, err)
	}
	return data, nil
}

// HTTPStatusError is returned for non-2xx responses. IsRetryable
// distinguishes transient 5xx/429 from terminal 4xx.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("transport: %s: HTTP %d", e.URL, e.StatusCode)
}

// IsRetryable reports whether the status code indicates a transient failure.
func (e *HTTPStatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// IsRetryable is the shouldRetry predicate suitable for internal/retry.Config.
func IsRetryable(err error) bool {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsRetryable()
	}
	// Network-level errors (timeouts, connection reset) are transient by default.
	return true
}

// CircuitState exposes the breaker's current state for observability.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}
