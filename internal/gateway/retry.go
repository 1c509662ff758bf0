package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

// newBackOff returns the delay schedule baseDelay * multiplier^n, capped at
// maxDelay when set, with no jitter.
func newBackOff(p policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay
	b.Multiplier = p.multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.MaxInterval = time.Duration(math.MaxInt64)
	if p.maxDelay > 0 {
		b.MaxInterval = p.maxDelay
	}
	b.Reset()

	return b
}

// executeWithRetry makes up to maxRetries+1 attempts and returns the number
// made together with the last error.
func (g *Gateway) executeWithRetry(ctx context.Context, p policy, instance registry.Instance, op Operation) (int, error) {
	attempts := 0
	serviceURL := instance.URL()

	operation := func() error {
		attempts++

		err := runAttempt(ctx, p.timeout, serviceURL, op)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if len(p.retryableErrors) > 0 && !circuitbreaker.MatchesAny(err, p.retryableErrors) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		g.logger.Warn("Call attempt failed, retrying",
			slog.String("service", instance.Name),
			slog.String("instance", instance.ID),
			slog.Int("attempt", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()))
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(newBackOff(p), uint64(p.maxRetries)), ctx)
	err := backoff.RetryNotify(operation, schedule, notify)

	return attempts, err
}

// runAttempt runs op on its own goroutine so the caller regains control when
// the timeout fires even if op ignores its context.
func runAttempt(ctx context.Context, timeout time.Duration, serviceURL string, op Operation) error {
	if timeout <= 0 {
		return op(ctx, serviceURL)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("operation panicked: %v", r)
			}
		}()
		done <- op(attemptCtx, serviceURL)
	}()

	select {
	case err := <-done:
		return err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%w after %s", ErrOperationTimeout, timeout)
	}
}
