// Package retry adds resilience to function calls. It re-invokes an
// operation that returns an error for a bounded number of attempts, sleeping
// a linearly increasing delay between attempts, and supports running a hook
// on every retry.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults applied when Options fields are left zero.
const (
	DefaultMaxAttempts = 3
	DefaultDelay       = time.Second
)

// Options configures a retried operation.
type Options struct {
	// MaxAttempts bounds the total number of attempts, including the first.
	MaxAttempts int
	// Delay is the base delay; attempt n sleeps n*Delay before the next try,
	// giving a linear backoff schedule.
	Delay time.Duration
	// OnRetry, when set, runs before each retry with the upcoming attempt
	// number (starting at 2) and the error that triggered it.
	OnRetry func(attempt int, err error)
}

// Do invokes operation until it succeeds, the attempt budget is exhausted, or
// the context is cancelled. The last error is returned unwrapped-able via
// errors.Is/As. Retries of one operation are strictly sequential.
func Do(ctx context.Context, opts Options, operation func() error) error {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}

	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}

	var err error

	for attempt := 1; ; attempt++ {
		if err = operation(); err == nil {
			return nil
		}

		if attempt >= opts.MaxAttempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		logrus.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   time.Duration(attempt) * opts.Delay,
		}).WithError(err).Debug("Operation failed, retrying")

		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}

		timer := time.NewTimer(time.Duration(attempt) * opts.Delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()

			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt, err)
		}
	}
}
