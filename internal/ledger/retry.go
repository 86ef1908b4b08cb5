package ledger

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts  = 5
	defaultBaseDelay    = 10 * time.Millisecond
	defaultJitterFactor = 0.3
)

// retryPolicy bounds how often a store call is attempted.
type retryPolicy struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
}

// attemptFunc is one try at a store operation.
type attemptFunc func(ctx context.Context) error

// retryWithBackoff runs fn until it succeeds, returns an error retryable
// rejects, or the attempt budget is spent. The delay before attempt n is
// baseDelay * 2^(n-1) plus jitter. onRetry, if set, is called before each
// repeated attempt with the error that caused it.
func retryWithBackoff(
	ctx context.Context,
	p retryPolicy,
	retryable func(error) bool,
	onRetry func(attempt int, err error),
	fn attemptFunc,
) (attempts int, err error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if onRetry != nil {
				onRetry(attempt, err)
			}

			delay := p.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * p.jitterFactor //nolint:gosec // jitter only
			select {
			case <-time.After(delay + time.Duration(jitter)):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return attempt + 1, err
		}
	}
	return p.maxAttempts, err
}
