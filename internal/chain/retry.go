package chain

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Retry is a backoff policy for idempotent RPC reads. Transaction submission
// must never go through it.
type Retry struct {
	MaxRetries int
	Backoff    time.Duration
	// MaxBackoff caps the doubling delay. Zero means 30s.
	MaxBackoff time.Duration
	Logger     *zap.Logger
}

// Do runs fn until it succeeds, doubling the delay after each failure. The
// last error is returned wrapped with op and the number of attempts.
func (r Retry) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	maxRetries := r.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := r.Backoff
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	maxDelay := r.MaxBackoff
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if attempt > maxRetries {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}
		logger.Warn("rpc read failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w (last error: %w)", op, ctx.Err(), err)
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
