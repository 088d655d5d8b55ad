// Package retry runs I/O operations with exponential backoff. Only the
// boundaries that touch external systems use it; the pipeline's pure stages
// never retry.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used by sinks and checkpoint writes.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. Each failed attempt is logged at warn level.
func Do(ctx context.Context, p Policy, logger *slog.Logger, name string, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			return struct{}{}, op(ctx)
		},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			if logger != nil {
				logger.Warn("operation failed, retrying",
					"operation", name,
					"error", err,
					"retry_in", next,
				)
			}
		}),
	)
	return err
}
