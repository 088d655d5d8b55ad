package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"logsentinel/internal/domain"
)

// AlertRepository is an in-memory implementation of store.AlertRepository.
// It stores alerts in a map, indexed by both ID and DedupKey for fast lookups.
type AlertRepository struct {
	mu sync.RWMutex

	// alerts stores all alerts by their ID
	alerts map[string]*domain.AlertRecord

	// byDedupKey enforces one alert per rule and window
	byDedupKey map[string]*domain.AlertRecord
}

// NewAlertRepository creates a new in-memory alert repository.
func NewAlertRepository() *AlertRepository {
	return &AlertRepository{
		alerts:     make(map[string]*domain.AlertRecord),
		byDedupKey: make(map[string]*domain.AlertRecord),
	}
}

// Save stores a new alert unless one exists for the same rule and window.
func (r *AlertRepository) Save(ctx context.Context, alert *domain.AlertRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := alert.DedupKey()
	if _, exists := r.byDedupKey[key]; exists {
		return false, nil
	}

	// Store a copy to prevent external modification
	alertCopy := *alert
	r.alerts[alert.ID] = &alertCopy
	r.byDedupKey[key] = &alertCopy
	return true, nil
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alert, exists := r.alerts[id]
	if !exists {
		return nil, domain.ErrAlertNotFound
	}

	// Return a copy
	result := *alert
	return &result, nil
}

// GetByWindow retrieves the alert a rule raised for a window.
func (r *AlertRepository) GetByWindow(ctx context.Context, rule string, key domain.WindowKey) (*domain.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	alert, exists := r.byDedupKey[domain.AlertDedupKey(rule, key)]
	if !exists {
		return nil, domain.ErrAlertNotFound
	}
	result := *alert
	return &result, nil
}

// MarkNotified sets NotifiedAt on the stored alert.
func (r *AlertRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	alert, exists := r.alerts[id]
	if !exists {
		return domain.ErrAlertNotFound
	}
	// alerts and byDedupKey share the pointer
	at = at.UTC()
	alert.NotifiedAt = &at
	return nil
}

// List retrieves alerts matching the filter criteria, newest first.
func (r *AlertRepository) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.AlertRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := make([]*domain.AlertRecord, 0, len(r.alerts))
	for _, alert := range r.alerts {
		// Apply filters
		if filter.Service != "" && alert.Service != filter.Service {
			continue
		}
		if filter.RuleName != "" && alert.RuleName != filter.RuleName {
			continue
		}
		if !filter.Since.IsZero() && alert.FiredAt.Before(filter.Since) {
			continue
		}

		// Return a copy
		alertCopy := *alert
		results = append(results, &alertCopy)
	}

	sort.Slice(results, func(i, j int) bool {
		if !results[i].FiredAt.Equal(results[j].FiredAt) {
			return results[i].FiredAt.After(results[j].FiredAt)
		}
		return results[i].ID < results[j].ID
	})

	return paginate(results, filter.Offset, filter.Limit), nil
}

// Clear removes all data from the repository. Useful for test cleanup.
func (r *AlertRepository) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = make(map[string]*domain.AlertRecord)
	r.byDedupKey = make(map[string]*domain.AlertRecord)
}

// paginate applies offset and limit to a result slice.
func paginate[T any](results []T, offset, limit int) []T {
	start := offset
	if start > len(results) {
		start = len(results)
	}

	end := len(results)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return results[start:end]
}
