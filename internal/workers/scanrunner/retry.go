package scanrunner

import (
	"context"
	"math/rand"
	"time"
)

// retry executes fn up to maxAttempts times with jittered exponential
// backoff. The base delay doubles on each attempt; random jitter of up to
// half the current delay avoids thundering herds on a recovering store.
func retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay/2) + 1))
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}
