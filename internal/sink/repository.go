package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
	"logsentinel/internal/retry"
	"logsentinel/internal/store"
)

// Quarantine appends invalid events to a QuarantineRepository.
type Quarantine struct {
	repo   store.QuarantineRepository
	policy retry.Policy
	logger *slog.Logger
}

// NewQuarantine creates a repository-backed quarantine sink.
func NewQuarantine(repo store.QuarantineRepository, policy retry.Policy, logger *slog.Logger) *Quarantine {
	return &Quarantine{repo: repo, policy: policy, logger: logger}
}

// Quarantine assigns an ID and timestamp when missing and appends the record.
func (q *Quarantine) Quarantine(ctx context.Context, rec *domain.QuarantineRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.QuarantinedAt.IsZero() {
		rec.QuarantinedAt = time.Now().UTC()
	}

	err := retry.Do(ctx, q.policy, q.logger, "quarantine.append", func(ctx context.Context) error {
		return q.repo.Append(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("failed to quarantine event %q: %w", rec.Event.EventID, err)
	}

	metrics.EventsQuarantinedTotal.WithLabelValues(string(rec.Reason)).Inc()
	q.logger.Debug("event quarantined",
		"eventID", rec.Event.EventID,
		"service", rec.Event.Service,
		"reason", rec.Reason,
	)
	return nil
}

// Windows upserts finalized windows into a WindowMetricsRepository.
type Windows struct {
	repo   store.WindowMetricsRepository
	policy retry.Policy
	logger *slog.Logger
}

// NewWindows creates a repository-backed window sink.
func NewWindows(repo store.WindowMetricsRepository, policy retry.Policy, logger *slog.Logger) *Windows {
	return &Windows{repo: repo, policy: policy, logger: logger}
}

// Publish stores the window, replacing older revisions.
func (w *Windows) Publish(ctx context.Context, m domain.WindowMetrics) error {
	err := retry.Do(ctx, w.policy, w.logger, "windows.upsert", func(ctx context.Context) error {
		return w.repo.Upsert(ctx, &m)
	})
	if err != nil {
		return fmt.Errorf("failed to publish window %s: %w", m.Key(), err)
	}
	return nil
}
