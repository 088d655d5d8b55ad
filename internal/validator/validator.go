// Package validator assigns each incoming log event exactly one validation
// outcome. Rules are checked in a fixed order and the first failing rule wins.
package validator

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
)

// Validator checks log events against the structural rules.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the processing-time clock used for the future
// timestamp rule.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New creates a new Validator.
func New(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the event paired with its outcome.
//
// Precedence: event_id, service, level, response time, timestamp.
// A timestamp equal to the current processing time is valid.
func (v *Validator) Validate(ev domain.LogEvent) domain.ValidationResult {
	status := v.check(&ev)
	metrics.EventsValidated.WithLabelValues(string(status)).Inc()
	return domain.ValidationResult{Event: ev, Status: status}
}

func (v *Validator) check(ev *domain.LogEvent) domain.ReasonCode {
	switch {
	case ev.EventID == "":
		return domain.ReasonNullEventID
	case ev.Service == "":
		return domain.ReasonNullService
	case !ev.Level.IsValid():
		return domain.ReasonInvalidLevel
	case ev.ResponseTimeMs == nil || *ev.ResponseTimeMs <= 0:
		return domain.ReasonInvalidResponseTime
	case ev.Timestamp.After(v.now()):
		return domain.ReasonFutureTimestamp
	default:
		return domain.StatusValid
	}
}

// ValidateBatch validates events concurrently and returns results in input order.
func (v *Validator) ValidateBatch(ctx context.Context, events []domain.LogEvent) ([]domain.ValidationResult, error) {
	results := make([]domain.ValidationResult, len(events))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for i := range events {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = v.Validate(events[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
