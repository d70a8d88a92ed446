// Package retry provides bounded retry with linear backoff for gateway calls.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ashwinkp/condorbot/internal/broker"
)

// Config controls retry behavior.
type Config struct {
	MaxAttempts int           // total attempts, including the first
	BaseBackoff time.Duration // wait = BaseBackoff × attempt number
}

// DefaultConfig matches the gateway's throttling guidance: three attempts
// with a 2s linear backoff.
var DefaultConfig = Config{
	MaxAttempts: 3,
	BaseBackoff: 2 * time.Second,
}

// Do runs op until it succeeds, fails with a non-transient error, exhausts
// the attempt budget, or the context is canceled. Only errors the gateway
// classified as transient (throttling, 5xx, timeouts) are retried.
func Do[T any](ctx context.Context, cfg Config, log *logrus.Entry, label string,
	op func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", label, err)
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !broker.IsTransient(err) {
			return zero, fmt.Errorf("%s failed: %w", label, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := cfg.BaseBackoff * time.Duration(attempt)
		cause := "failed transiently"
		if broker.IsRateLimited(err) {
			cause = "rate limited"
		}
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"max":     cfg.MaxAttempts,
			"wait":    wait.String(),
		}).Warnf("%s %s, retrying: %v", label, cause, err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", label, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after %d attempts: %w", label, cfg.MaxAttempts, lastErr)
}
