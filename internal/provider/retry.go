package provider

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryBackoff is the base delay between transient retries; tests shorten it.
var retryBackoff = 200 * time.Millisecond

// Retry calls fn once plus up to retries more times while it fails with a
// TRANSIENT error. Any other kind is returned immediately.
func Retry(ctx context.Context, op string, retries int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := retryBackoff * time.Duration(attempt)
			zap.L().Debug("Retrying transient provider failure",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return err
			case <-time.After(delay):
			}
		}
		err = fn(ctx)
		if err == nil || KindOf(err) != KindTransient {
			return err
		}
	}
	return err
}
