package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"logsentinel/internal/domain"
)

// AlertRepository implements store.AlertRepository using PostgreSQL.
// The unique (rule_name, service, window_start) constraint makes Save
// idempotent across restarts.
type AlertRepository struct {
	db *DB
}

// NewAlertRepository creates a new PostgreSQL-backed alert repository.
func NewAlertRepository(db *DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `id, rule_name, service, window_start, observed_value,
			   threshold, owner, tier, fired_at, notified_at`

// Save stores an alert unless one exists for the same rule and window.
func (r *AlertRepository) Save(ctx context.Context, alert *domain.AlertRecord) (bool, error) {
	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (rule_name, service, window_start) DO NOTHING
	`

	result, err := r.db.pool.Exec(ctx, query,
		alert.ID,
		alert.RuleName,
		alert.Service,
		alert.WindowKey.Start,
		alert.ObservedValue,
		alert.Threshold,
		nullableString(alert.Owner),
		nullableString(alert.Tier),
		alert.FiredAt,
		alert.NotifiedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save alert: %w", err)
	}

	return result.RowsAffected() == 1, nil
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = $1`

	alert, err := scanAlert(r.db.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	return alert, nil
}

// GetByWindow retrieves the alert a rule raised for a window.
func (r *AlertRepository) GetByWindow(ctx context.Context, rule string, key domain.WindowKey) (*domain.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE rule_name = $1 AND service = $2 AND window_start = $3`

	alert, err := scanAlert(r.db.pool.QueryRow(ctx, query, rule, key.Service, key.Start))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert by window: %w", err)
	}

	return alert, nil
}

// MarkNotified sets notified_at on the stored alert.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx, `UPDATE alerts SET notified_at = $2 WHERE id = $1`, id, at.UTC())
	if err != nil {
		return fmt.Errorf("failed to mark alert notified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrAlertNotFound
	}
	return nil
}

// List retrieves alerts matching the filter criteria, newest first.
func (r *AlertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := []interface{}{}
	argNum := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argNum)
		args = append(args, filter.Service)
		argNum++
	}

	if filter.RuleName != "" {
		query += fmt.Sprintf(" AND rule_name = $%d", argNum)
		args = append(args, filter.RuleName)
		argNum++
	}

	if !filter.Since.IsZero() {
		query += fmt.Sprintf(" AND fired_at >= $%d", argNum)
		args = append(args, filter.Since)
		argNum++
	}

	query += " ORDER BY fired_at DESC, id"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filter.Limit)
		argNum++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*domain.AlertRecord
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}

	return alerts, nil
}

// scanAlert scans a single row into an AlertRecord.
func scanAlert(row pgx.Row) (*domain.AlertRecord, error) {
	var alert domain.AlertRecord
	var owner, tier *string

	err := row.Scan(
		&alert.ID,
		&alert.RuleName,
		&alert.Service,
		&alert.WindowKey.Start,
		&alert.ObservedValue,
		&alert.Threshold,
		&owner,
		&tier,
		&alert.FiredAt,
		&alert.NotifiedAt,
	)
	if err != nil {
		return nil, err
	}

	alert.WindowKey.Service = alert.Service
	alert.WindowKey.Start = alert.WindowKey.Start.UTC()
	if owner != nil {
		alert.Owner = *owner
	}
	if tier != nil {
		alert.Tier = *tier
	}
	if alert.NotifiedAt != nil {
		at := alert.NotifiedAt.UTC()
		alert.NotifiedAt = &at
	}

	return &alert, nil
}

// nullableString returns nil if the string is empty, otherwise returns a pointer to it.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
