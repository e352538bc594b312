// Package retry implements the Retry Harness: a generic bounded
// exponential-backoff runner with known-vs-unknown-error policy, combining
// a circuit-breaker-style state/threshold shape with a capped backoff
// retry loop into a single reusable harness.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// jitterFraction is the jitter applied on the delay schedule
// retryDelay × 2^(n-1).
const jitterFraction = 0.20

// Config parameterizes a Harness.
type Config struct {
	TotalRetry int
	RetryDelay time.Duration
	ResetDelay time.Duration

	// ShouldRetry decides whether err is transient. Nil means "always retry".
	ShouldRetry func(err error) bool
	// OnRetry is called before each retry sleep, with the 1-based attempt number.
	OnRetry func(err error, attempt int)
	// ErrorSelector rewrites the error surfaced to the caller on exhaustion
	// (e.g. wrapping an unrecognized error as Other).
	ErrorSelector func(err error) error
}

// Harness runs an operation with bounded exponential backoff. A single
// Harness instance tracks "time since last success" so a long-idle caller's
// counter resets per ResetDelay.
type Harness struct {
	cfg Config

	mu          sync.Mutex
	lastSuccess time.Time
}

// New creates a Harness from cfg, filling zero-valued knobs with defaults
// (totalRetry=3, retryDelay=250ms, resetDelay=60s).
func New(cfg Config) *Harness {
	if cfg.TotalRetry == 0 {
		cfg.TotalRetry = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}
	if cfg.ResetDelay == 0 {
		cfg.ResetDelay = 60 * time.Second
	}
	return &Harness{cfg: cfg}
}

// ErrExhausted wraps the last error once the retry budget runs out.
var ErrExhausted = errors.New("retry: budget exhausted")

// Run executes fn, retrying on transient failure up to cfg.TotalRetry times.
// It returns nil on the first success, or the (possibly rewritten) final
// error once the budget is exhausted or fn returns a non-retryable error.
// Each Run call gets its own full retry budget; ResetDelay instead governs
// TimeSinceLastSuccess, which callers that re-invoke Run repeatedly (e.g.
// live-manifest-refresh) can consult to decide whether enough time has
// passed to treat the harness as "healthy" again.
func (h *Harness) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= h.cfg.TotalRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			h.recordSuccess()
			return nil
		}
		lastErr = err

		if !h.shouldRetry(err) {
			return h.selectError(err)
		}
		if attempt == h.cfg.TotalRetry {
			break
		}

		if h.cfg.OnRetry != nil {
			h.cfg.OnRetry(err, attempt+1)
		}

		delay := h.backoff(attempt + 1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return h.selectError(errJoin(ErrExhausted, lastErr))
}

func (h *Harness) shouldRetry(err error) bool {
	if h.cfg.ShouldRetry == nil {
		return true
	}
	return h.cfg.ShouldRetry(err)
}

func (h *Harness) selectError(err error) error {
	if h.cfg.ErrorSelector != nil {
		return h.cfg.ErrorSelector(err)
	}
	return err
}

// backoff computes retryDelay × 2^(attempt-1) with up to ±20% jitter.
func (h *Harness) backoff(attempt int) time.Duration {
	base := h.cfg.RetryDelay
	for i := 1; i < attempt; i++ {
		base *= 2
	}
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterFraction * float64(base))
	d := base + jitter
	if d < 0 {
		d = 0
	}
	return d
}

func (h *Harness) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSuccess = time.Now()
}

// TimeSinceLastSuccess reports how long it has been since Run last
// succeeded. A zero lastSuccess (never succeeded) reports the ResetDelay
// itself so a harness that has never run is immediately treated as "reset".
func (h *Harness) TimeSinceLastSuccess() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastSuccess.IsZero() {
		return h.cfg.ResetDelay
	}
	return time.Since(h.lastSuccess)
}

// Healthy reports whether the last success happened within ResetDelay.
func (h *Harness) Healthy() bool {
	return h.TimeSinceLastSuccess() < h.cfg.ResetDelay
}

func errJoin(a, b error) error {
	if b == nil {
		return a
	}
	return errors.Join(a, b)
}
