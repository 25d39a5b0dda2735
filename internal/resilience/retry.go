package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/cardscan/internal/errors"
)

// Retry defaults
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 200 * time.Millisecond
	DefaultMaxDelay   = 5 * time.Second
	DefaultJitter     = 0.2
)

// Backoff doubles from Base up to Max. Jitter spreads each delay by up to
// ±Jitter/2 of itself; zero means exact delays.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << min(max(attempt, 0), 16)
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration(float64(d) * b.Jitter * (rand.Float64() - 0.5))
	}
	return d
}

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries  int
	Backoff     Backoff
	IsRetryable func(error) bool

	// OnRetry, when set, observes each retry before the wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultRetryConfig returns the settings used for OCR calls and store writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		Backoff:     Backoff{Base: DefaultBaseDelay, Max: DefaultMaxDelay, Jitter: DefaultJitter},
		IsRetryable: IsRetryable,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = DefaultBaseDelay
	}
	if c.Backoff.Max <= 0 {
		c.Backoff.Max = DefaultMaxDelay
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryable
	}
	return c
}

// IsRetryable accepts coded transient errors and transient gRPC statuses
// from the remote OCR service.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apperrors.CodeOf(err) != apperrors.Unknown {
		return apperrors.IsRetryable(err)
	}
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return true
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-retryable error or
// MaxRetries retries are spent. It returns the last error from fn, or the
// context error when ctx ends first.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil || attempt == cfg.MaxRetries || !cfg.IsRetryable(err) {
			return err
		}

		delay := cfg.Backoff.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, delay, err)
		} else {
			slog.Debug("retrying after error", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
