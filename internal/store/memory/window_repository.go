package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"logsentinel/internal/domain"
)

// WindowMetricsRepository keeps finalized windows keyed by service and start.
type WindowMetricsRepository struct {
	mu      sync.RWMutex
	windows map[string]*domain.WindowMetrics
}

// NewWindowMetricsRepository creates a new in-memory window repository.
func NewWindowMetricsRepository() *WindowMetricsRepository {
	return &WindowMetricsRepository{
		windows: make(map[string]*domain.WindowMetrics),
	}
}

// Upsert stores a window unless a newer revision is already present.
func (r *WindowMetricsRepository) Upsert(ctx context.Context, m *domain.WindowMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := m.Key().String()
	if existing, ok := r.windows[key]; ok && existing.Revision > m.Revision {
		return nil
	}
	mCopy := *m
	r.windows[key] = &mCopy
	return nil
}

// List retrieves windows of a service starting at or after since, oldest first.
func (r *WindowMetricsRepository) List(ctx context.Context, service string, since time.Time, limit int) ([]*domain.WindowMetrics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*domain.WindowMetrics
	for _, m := range r.windows {
		if service != "" && m.Service != service {
			continue
		}
		if m.WindowStart.Before(since) {
			continue
		}
		mCopy := *m
		results = append(results, &mCopy)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].WindowStart.Equal(results[j].WindowStart) {
			return results[i].WindowStart.Before(results[j].WindowStart)
		}
		return results[i].Service < results[j].Service
	})

	return paginate(results, 0, limit), nil
}
