package backoff

import (
	"context"
	"time"
)

type (
	// Operation to retry
	Operation func(ctx context.Context) error

	// IsRetriableFunc defines a function that checks if an error is retriable.
	IsRetriableFunc func(err error) bool
)

// Retry executes the operation with retry logic based on the provided policy.
// If isRetriable is nil, all errors are considered retriable.
func Retry(ctx context.Context, op Operation, policy RetryPolicy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	retrier := NewRetrier(policy)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		if !isRetriable(err) {
			return err
		}

		interval, retryErr := retrier.Next(err)
		if retryErr != nil {
			// Retries exhausted; return the original operation error.
			return err
		}

		if interval > 0 {
			if err := Sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
}

// Sleep waits for the given duration, returning early with the context error
// if the context is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
