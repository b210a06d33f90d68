package common

import (
	"context"
	"fmt"
	"time"
)

// RetryUntil executes an operation repeatedly with a fixed delay
// between attempts until it succeeds or the timeout window elapses.
// Remote-share operations use this to absorb transient unavailability
// (a sleeping NAS, a busy SMB mount) without ever hanging forever.
//
// The operation runs at least once even for a zero timeout. On window
// expiry the last error is wrapped together with ErrTimeout so callers
// can both test the class and inspect the cause. Cancellation is
// honored between attempts, never mid-operation.
func RetryUntil(ctx context.Context, timeout, delay time.Duration, op func() error) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %d attempt(s) in %s: %v",
				ErrTimeout, attempt, timeout, lastErr)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry aborted after %d attempt(s): %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}
}
