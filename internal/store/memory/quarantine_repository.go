package memory

import (
	"context"
	"sync"

	"logsentinel/internal/domain"
)

// QuarantineRepository is an append-only in-memory quarantine.
type QuarantineRepository struct {
	mu      sync.RWMutex
	records []*domain.QuarantineRecord
}

// NewQuarantineRepository creates a new in-memory quarantine repository.
func NewQuarantineRepository() *QuarantineRepository {
	return &QuarantineRepository{}
}

// Append stores a quarantined event.
func (r *QuarantineRepository) Append(ctx context.Context, rec *domain.QuarantineRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	recCopy := *rec
	r.records = append(r.records, &recCopy)
	return nil
}

// List retrieves quarantined events matching the filter, newest first.
func (r *QuarantineRepository) List(ctx context.Context, filter domain.QuarantineFilter) ([]*domain.QuarantineRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*domain.QuarantineRecord, 0, len(r.records))
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if filter.Service != "" && rec.Event.Service != filter.Service {
			continue
		}
		if filter.Reason != "" && rec.Reason != filter.Reason {
			continue
		}
		recCopy := *rec
		results = append(results, &recCopy)
	}

	return paginate(results, filter.Offset, filter.Limit), nil
}

// Len returns the number of quarantined events.
func (r *QuarantineRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
