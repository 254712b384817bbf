package verdentapi

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// linearBackOff waits step, 2*step, 3*step, ... between attempts.
type linearBackOff struct {
	step time.Duration
	n    int
}

var _ backoff.BackOff = (*linearBackOff)(nil)

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// FetchProfileWithRetry calls FetchProfile up to maxAttempts times.
//
// Retryable failures wait attempt*step before the next try; there is no wait
// after the last attempt. A terminal failure returns at once. Every failure is
// returned as a *RetryError whose message is safe to show to a user.
// Cancelling ctx aborts the whole sequence, including a pending wait.
func (c *Client) FetchProfileWithRetry(ctx context.Context, bearer string, maxAttempts int) (*Profile, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	attempt := 0
	operation := func() (*Profile, error) {
		attempt++
		slog.DebugContext(ctx, "fetching profile", "attempt", attempt, "max_attempts", maxAttempts)

		profile, err := c.FetchProfile(ctx, bearer)
		if err == nil {
			if attempt > 1 {
				slog.InfoContext(ctx, "profile fetch succeeded after retry", "attempt", attempt)
			}
			return profile, nil
		}

		class := Classify(err)
		retryErr := &RetryError{Attempts: attempt, Message: class.Message, Err: err}
		slog.WarnContext(ctx, "profile fetch failed",
			"attempt", attempt, "retryable", class.Retryable, "error", err)

		if !class.Retryable || ctx.Err() != nil {
			return nil, backoff.Permanent(retryErr)
		}
		return nil, retryErr
	}

	profile, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{step: c.retryStep}),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.InfoContext(ctx, "retrying profile fetch", "wait", wait)
			if c.notify != nil {
				c.notify(err, wait)
			}
		}),
	)
	if err != nil {
		var retryErr *RetryError
		if !errors.As(err, &retryErr) {
			// Context cancelled during a backoff wait.
			return nil, &RetryError{Attempts: attempt, Message: Classify(err).Message, Err: err}
		}
		return nil, err
	}
	return profile, nil
}
