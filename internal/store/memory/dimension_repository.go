package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"logsentinel/internal/domain"
)

// DimensionRepository is an in-memory implementation of store.DimensionRepository.
type DimensionRepository struct {
	mu   sync.Mutex
	rows map[string][]domain.ServiceDimensionRecord
}

// NewDimensionRepository creates a new in-memory dimension repository.
func NewDimensionRepository() *DimensionRepository {
	return &DimensionRepository{
		rows: make(map[string][]domain.ServiceDimensionRecord),
	}
}

// ApplyChange closes the open row and appends the new current row.
func (r *DimensionRepository) ApplyChange(ctx context.Context, change domain.DimensionChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[change.Service]
	if n := len(rows); n > 0 && rows[n-1].IsCurrent {
		end := change.EffectiveAt
		rows[n-1].EffectiveTo = &end
		rows[n-1].IsCurrent = false
	}
	r.rows[change.Service] = append(rows, domain.ServiceDimensionRecord{
		Service:       change.Service,
		Owner:         change.Owner,
		Tier:          change.Tier,
		EffectiveFrom: change.EffectiveAt,
		IsCurrent:     true,
	})
	return nil
}

// CloseService closes the open row of the service.
func (r *DimensionRepository) CloseService(ctx context.Context, service string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows := r.rows[service]
	if n := len(rows); n > 0 && rows[n-1].IsCurrent {
		rows[n-1].EffectiveTo = &at
		rows[n-1].IsCurrent = false
	}
	return nil
}

// ListAll returns every row ordered by service and effective_from.
func (r *DimensionRepository) ListAll(ctx context.Context) ([]domain.ServiceDimensionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	services := make([]string, 0, len(r.rows))
	for s := range r.rows {
		services = append(services, s)
	}
	sort.Strings(services)

	var out []domain.ServiceDimensionRecord
	for _, s := range services {
		for _, row := range r.rows[s] {
			if row.EffectiveTo != nil {
				end := *row.EffectiveTo
				row.EffectiveTo = &end
			}
			out = append(out, row)
		}
	}
	return out, nil
}
