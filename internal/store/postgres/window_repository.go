package postgres

import (
	"context"
	"fmt"
	"time"

	"logsentinel/internal/domain"
)

// WindowMetricsRepository implements store.WindowMetricsRepository using PostgreSQL.
type WindowMetricsRepository struct {
	db *DB
}

// NewWindowMetricsRepository creates a new PostgreSQL-backed window repository.
func NewWindowMetricsRepository(db *DB) *WindowMetricsRepository {
	return &WindowMetricsRepository{db: db}
}

// Upsert stores a window, replacing an older revision of the same key.
func (r *WindowMetricsRepository) Upsert(ctx context.Context, m *domain.WindowMetrics) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO window_metrics (
			service, window_start, window_end, error_count, total_count,
			avg_response_time, log_volume, owner, tier, revision
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (service, window_start) DO UPDATE SET
			error_count = EXCLUDED.error_count,
			total_count = EXCLUDED.total_count,
			avg_response_time = EXCLUDED.avg_response_time,
			log_volume = EXCLUDED.log_volume,
			owner = EXCLUDED.owner,
			tier = EXCLUDED.tier,
			revision = EXCLUDED.revision
		WHERE window_metrics.revision <= EXCLUDED.revision
	`,
		m.Service,
		m.WindowStart,
		m.WindowEnd,
		m.ErrorCount,
		m.TotalCount,
		m.AvgResponseTime,
		m.LogVolume,
		nullableString(m.Owner),
		nullableString(m.Tier),
		m.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert window metrics: %w", err)
	}
	return nil
}

// List retrieves windows of a service starting at or after since, oldest first.
func (r *WindowMetricsRepository) List(ctx context.Context, service string, since time.Time, limit int) ([]*domain.WindowMetrics, error) {
	query := `
		SELECT service, window_start, window_end, error_count, total_count,
			   avg_response_time, log_volume, owner, tier, revision
		FROM window_metrics
		WHERE window_start >= $1
	`
	args := []interface{}{since}
	argNum := 2

	if service != "" {
		query += fmt.Sprintf(" AND service = $%d", argNum)
		args = append(args, service)
		argNum++
	}

	query += " ORDER BY window_start, service"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, limit)
	}

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list window metrics: %w", err)
	}
	defer rows.Close()

	var out []*domain.WindowMetrics
	for rows.Next() {
		var m domain.WindowMetrics
		var owner, tier *string
		if err := rows.Scan(&m.Service, &m.WindowStart, &m.WindowEnd, &m.ErrorCount, &m.TotalCount,
			&m.AvgResponseTime, &m.LogVolume, &owner, &tier, &m.Revision); err != nil {
			return nil, fmt.Errorf("failed to scan window metrics: %w", err)
		}
		m.WindowStart = m.WindowStart.UTC()
		m.WindowEnd = m.WindowEnd.UTC()
		if owner != nil {
			m.Owner = *owner
		}
		if tier != nil {
			m.Tier = *tier
		}
		out = append(out, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating window metrics: %w", err)
	}

	return out, nil
}
