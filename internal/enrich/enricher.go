// Package enrich joins valid log events with the service dimension that was
// in effect at each event's own timestamp.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
)

// ErrNotValidated is returned when an event that failed validation is passed in.
var ErrNotValidated = errors.New("only valid events can be enriched")

// DimensionLookup resolves the dimension row effective at a point in time.
// A nil record with a nil error means no row covers ts.
type DimensionLookup interface {
	AsOf(ctx context.Context, service string, ts time.Time) (*domain.ServiceDimensionRecord, error)
}

// Enricher attaches point-in-time dimensions to events.
// A lookup miss, failure or timeout never blocks the event: the UNKNOWN
// sentinel is attached instead.
type Enricher struct {
	dims    DimensionLookup
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a new Enricher. A zero timeout disables the per-lookup deadline.
func New(dims DimensionLookup, timeout time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{
		dims:    dims,
		timeout: timeout,
		logger:  logger,
	}
}

// Enrich returns the event joined with the dimension effective at its timestamp.
func (e *Enricher) Enrich(ctx context.Context, res domain.ValidationResult) (domain.EnrichedEvent, error) {
	if !res.IsValid() {
		return domain.EnrichedEvent{}, ErrNotValidated
	}
	ev := res.Event

	lookupCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rec, err := e.dims.AsOf(lookupCtx, ev.Service, ev.Timestamp)
	switch {
	case err != nil:
		metrics.EventsEnrichedTotal.WithLabelValues("timeout").Inc()
		e.logger.Warn("dimension lookup failed, using UNKNOWN",
			"service", ev.Service,
			"event_id", ev.EventID,
			"error", err,
		)
		return domain.EnrichedEvent{LogEvent: ev, Dimension: domain.UnknownDimension(ev.Service)}, nil
	case rec == nil:
		metrics.EventsEnrichedTotal.WithLabelValues("unknown").Inc()
		return domain.EnrichedEvent{LogEvent: ev, Dimension: domain.UnknownDimension(ev.Service)}, nil
	default:
		metrics.EventsEnrichedTotal.WithLabelValues("matched").Inc()
		return domain.EnrichedEvent{LogEvent: ev, Dimension: *rec}, nil
	}
}
