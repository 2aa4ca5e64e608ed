// Package retry runs provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

const (
	DefaultMaxAttempts = 2
	DefaultBaseDelay   = time.Second
)

// Observer is notified before each backoff sleep.
type Observer func(attempt int, delay time.Duration, err error)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type options struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       SleepFunc
	logger      *log.Logger
	observer    Observer
}

type Option func(*options)

// WithMaxAttempts sets how many retries follow the first try.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxAttempts = n
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

func WithSleep(fn SleepFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(fn Observer) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts run out. Attempt n (0-based) is followed by a delay of
// base*2^n. Cancellation of ctx stops the backoff immediately.
func Do[T any](ctx context.Context, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		sleep:       Sleep,
		logger:      log.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt <= o.maxAttempts; attempt++ {
		if err := ttypes.ContextError(ctx); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !ttypes.IsRetryable(err) || attempt == o.maxAttempts {
			break
		}

		delay := o.baseDelay * time.Duration(1<<attempt)
		o.logger.Debug("Retrying after failure", "attempt", attempt+1, "delay", delay, "error", err)
		if o.observer != nil {
			o.observer(attempt+1, delay, err)
		}
		if err := o.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Sleep waits for d, returning the context error if ctx finishes first.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ttypes.ContextError(ctx)
	case <-timer.C:
		return nil
	}
}
