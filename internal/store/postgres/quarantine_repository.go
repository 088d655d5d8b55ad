package postgres

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"logsentinel/internal/domain"
)

// QuarantineRepository implements store.QuarantineRepository using PostgreSQL.
type QuarantineRepository struct {
	db *DB
}

// NewQuarantineRepository creates a new PostgreSQL-backed quarantine repository.
func NewQuarantineRepository(db *DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

// Append stores a quarantined event with its full original payload.
func (r *QuarantineRepository) Append(ctx context.Context, rec *domain.QuarantineRecord) error {
	event, err := json.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("failed to marshal quarantined event: %w", err)
	}

	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO quarantined_events (
			id, service, reason, event, raw, stream_partition, stream_offset, quarantined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID,
		nullableString(rec.Event.Service),
		string(rec.Reason),
		event,
		rec.Raw,
		rec.Partition,
		rec.Offset,
		rec.QuarantinedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append quarantined event: %w", err)
	}

	return nil
}

// List retrieves quarantined events matching the filter, newest first.
func (r *QuarantineRepository) List(ctx context.Context, filter domain.QuarantineFilter) ([]*domain.QuarantineRecord, error) {
	query := `
		SELECT id, reason, event, raw, stream_partition, stream_offset, quarantined_at
		FROM quarantined_events
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argNum)
		args = append(args, filter.Service)
		argNum++
	}

	if filter.Reason != "" {
		query += fmt.Sprintf(" AND reason = $%d", argNum)
		args = append(args, string(filter.Reason))
		argNum++
	}

	query += " ORDER BY quarantined_at DESC, id"

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
		return nil, fmt.Errorf("failed to list quarantined events: %w", err)
	}
	defer rows.Close()

	var out []*domain.QuarantineRecord
	for rows.Next() {
		var rec domain.QuarantineRecord
		var reason string
		var event []byte
		if err := rows.Scan(&rec.ID, &reason, &event, &rec.Raw, &rec.Partition, &rec.Offset, &rec.QuarantinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quarantined event: %w", err)
		}
		if err := json.Unmarshal(event, &rec.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal quarantined event: %w", err)
		}
		rec.Reason = domain.ReasonCode(reason)
		out = append(out, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quarantined events: %w", err)
	}

	return out, nil
}
