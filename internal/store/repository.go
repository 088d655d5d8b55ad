package store

import (
	"context"
	"time"

	"logsentinel/internal/domain"
)

// DimensionRepository persists SCD-2 service dimension rows.
// This is typically backed by PostgreSQL for production use.
type DimensionRepository interface {
	// ApplyChange closes the open row of the service at change.EffectiveAt
	// and inserts the new current row, atomically.
	ApplyChange(ctx context.Context, change domain.DimensionChange) error

	// CloseService closes the open row of the service without opening a new one.
	CloseService(ctx context.Context, service string, at time.Time) error

	// ListAll retrieves every row of every service ordered by service and
	// effective_from.
	ListAll(ctx context.Context) ([]domain.ServiceDimensionRecord, error)
}

// AlertRepository defines the interface for persistent alert storage.
type AlertRepository interface {
	// Save stores an alert. inserted is false when an alert for the same
	// rule and window already exists; the stored alert is left unchanged.
	Save(ctx context.Context, alert *domain.AlertRecord) (inserted bool, err error)

	// GetByID retrieves an alert by its ID.
	GetByID(ctx context.Context, id string) (*domain.AlertRecord, error)

	// GetByWindow retrieves the alert a rule raised for a window.
	GetByWindow(ctx context.Context, rule string, key domain.WindowKey) (*domain.AlertRecord, error)

	// MarkNotified records when every notifier accepted the alert.
	MarkNotified(ctx context.Context, id string, at time.Time) error

	// List retrieves alerts matching the filter criteria, newest first.
	List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error)
}

// QuarantineRepository is the append-only store of invalid events.
type QuarantineRepository interface {
	// Append stores a quarantined event.
	Append(ctx context.Context, rec *domain.QuarantineRecord) error

	// List retrieves quarantined events matching the filter, newest first.
	List(ctx context.Context, filter domain.QuarantineFilter) ([]*domain.QuarantineRecord, error)
}

// WindowMetricsRepository stores finalized window metrics for querying.
type WindowMetricsRepository interface {
	// Upsert stores a window, replacing an older revision of the same key.
	Upsert(ctx context.Context, m *domain.WindowMetrics) error

	// List retrieves the windows of a service starting at or after since.
	List(ctx context.Context, service string, since time.Time, limit int) ([]*domain.WindowMetrics, error)
}
