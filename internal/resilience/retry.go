package resilience

import (
	"context"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel"
)

// Retry runs fn up to attempts times with exponential backoff and full
// jitter, stopping early if ctx is cancelled. It is used to smooth over
// transient network failures on ServerInstance's outbound calls to backend
// workers; it is not a substitute for TaskInstance's own retry() operation,
// which remains the sole task-level recovery mechanism.
func Retry[T any](ctx context.Context, attempts int, baseDelay time.Duration, fn func() (T, error)) (T, error) {
	meter := otel.GetMeterProvider().Meter("swarmguard-gateway")
	attemptCounter, _ := meter.Int64Counter("gateway_retry_attempts_total")
	successCounter, _ := meter.Int64Counter("gateway_retry_success_total")
	failCounter, _ := meter.Int64Counter("gateway_retry_exhausted_total")

	var zero T
	var lastErr error
	cur := baseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		attemptCounter.Add(ctx, 1)
		result, err := fn()
		if err == nil {
			successCounter.Add(ctx, 1)
			return result, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(time.Duration(rand.Int63n(int64(cur) + 1))):
		}

		cur *= 2
		if cur > 60*time.Second {
			cur = 60 * time.Second
		}
	}

	failCounter.Add(ctx, 1)
	return zero, lastErr
}
