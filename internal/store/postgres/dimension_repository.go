package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"logsentinel/internal/domain"
)

// DimensionRepository implements store.DimensionRepository using PostgreSQL.
// Closing the current row and inserting its successor happen in one
// transaction; the partial unique index on is_current backs the
// single-current-row invariant.
type DimensionRepository struct {
	db *DB
}

// NewDimensionRepository creates a new PostgreSQL-backed dimension repository.
func NewDimensionRepository(db *DB) *DimensionRepository {
	return &DimensionRepository{db: db}
}

// ApplyChange closes the open row at change.EffectiveAt and inserts the new current row.
func (r *DimensionRepository) ApplyChange(ctx context.Context, change domain.DimensionChange) error {
	return pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE service_dimensions
			SET effective_to = $2, is_current = FALSE
			WHERE service = $1 AND is_current
		`, change.Service, change.EffectiveAt); err != nil {
			return fmt.Errorf("failed to close current dimension: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO service_dimensions (service, owner, tier, effective_from, is_current)
			VALUES ($1, $2, $3, $4, TRUE)
		`, change.Service, change.Owner, change.Tier, change.EffectiveAt); err != nil {
			return fmt.Errorf("failed to insert dimension: %w", err)
		}

		return nil
	})
}

// CloseService closes the open row of the service.
func (r *DimensionRepository) CloseService(ctx context.Context, service string, at time.Time) error {
	_, err := r.db.pool.Exec(ctx, `
		UPDATE service_dimensions
		SET effective_to = $2, is_current = FALSE
		WHERE service = $1 AND is_current
	`, service, at)
	if err != nil {
		return fmt.Errorf("failed to close dimension: %w", err)
	}
	return nil
}

// ListAll returns every row ordered by service and effective_from.
func (r *DimensionRepository) ListAll(ctx context.Context) ([]domain.ServiceDimensionRecord, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT service, owner, tier, effective_from, effective_to, is_current
		FROM service_dimensions
		ORDER BY service, effective_from, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list dimensions: %w", err)
	}
	defer rows.Close()

	var out []domain.ServiceDimensionRecord
	for rows.Next() {
		var rec domain.ServiceDimensionRecord
		if err := rows.Scan(&rec.Service, &rec.Owner, &rec.Tier, &rec.EffectiveFrom, &rec.EffectiveTo, &rec.IsCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan dimension: %w", err)
		}
		rec.EffectiveFrom = rec.EffectiveFrom.UTC()
		if rec.EffectiveTo != nil {
			end := rec.EffectiveTo.UTC()
			rec.EffectiveTo = &end
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dimensions: %w", err)
	}

	return out, nil
}
