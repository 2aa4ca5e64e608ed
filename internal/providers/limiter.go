package providers

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgnsrekt/speechkit/internal/ttypes"
)

// DefaultRequestsPerMinute is used when a client is configured without a rate.
const DefaultRequestsPerMinute = 50

// NewLimiter returns a limiter allowing rpm requests per minute with a burst
// of one. A negative rpm disables limiting.
func NewLimiter(rpm int) *rate.Limiter {
	if rpm < 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	if rpm == 0 {
		rpm = DefaultRequestsPerMinute
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Wait blocks on l and maps a context failure onto the error taxonomy.
func Wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		if ctxErr := ttypes.ContextError(ctx); ctxErr != nil {
			return ctxErr
		}
		// The limiter refuses waits that would outlive the deadline.
		return ttypes.ErrTimeout
	}
	return nil
}

// TruncateBody trims an error body to a loggable size.
func TruncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
