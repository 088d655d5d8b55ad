// Package dimension implements the SCD-2 service dimension history.
//
// Rows of a service are append-only and ordered by effective_from, so an
// as-of lookup is a binary search. Writes to one service are serialized by
// that service's lock; lookups never block on other services.
package dimension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"logsentinel/internal/domain"
	"logsentinel/internal/store"
)

var (
	// ErrOutOfOrderChange is returned when a change is effective before the
	// service's current row. Existing history is left untouched.
	ErrOutOfOrderChange = errors.New("dimension change is out of order")

	// ErrInvalidChange is returned for a change without a service or effective time.
	ErrInvalidChange = errors.New("dimension change requires service and effective time")

	// ErrNoCurrentRow is returned when closing a service that has no open row.
	ErrNoCurrentRow = errors.New("service has no current dimension row")
)

type history struct {
	mu   sync.RWMutex
	rows []domain.ServiceDimensionRecord
}

// Store is the in-memory dimension history, optionally written through to
// a persistent repository.
type Store struct {
	mu       sync.RWMutex
	services map[string]*history
	repo     store.DimensionRepository
	logger   *slog.Logger
}

// NewStore creates a dimension store. repo may be nil for a purely
// in-memory store.
func NewStore(repo store.DimensionRepository, logger *slog.Logger) *Store {
	return &Store{
		services: make(map[string]*history),
		repo:     repo,
		logger:   logger,
	}
}

// Load replaces the in-memory history with the repository contents.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	rows, err := s.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load dimension history: %w", err)
	}

	services := make(map[string]*history)
	for _, row := range rows {
		h, ok := services[row.Service]
		if !ok {
			h = &history{}
			services[row.Service] = h
		}
		h.rows = append(h.rows, cloneRecord(row))
	}
	for _, h := range services {
		sort.SliceStable(h.rows, func(i, j int) bool {
			return h.rows[i].EffectiveFrom.Before(h.rows[j].EffectiveFrom)
		})
	}

	s.mu.Lock()
	s.services = services
	s.mu.Unlock()

	s.logger.Info("dimension history loaded", "services", len(services), "rows", len(rows))
	return nil
}

func (s *Store) get(service string) *history {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services[service]
}

func (s *Store) getOrCreate(service string) *history {
	if h := s.get(service); h != nil {
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.services[service]
	if !ok {
		h = &history{}
		s.services[service] = h
	}
	return h
}

// ApplyChange versions the service's metadata at effectiveAt: the open row is
// closed at effectiveAt and a new current row starts there. A change at the
// same instant as the current row's start is accepted and leaves a
// zero-length closed row behind.
func (s *Store) ApplyChange(ctx context.Context, change domain.DimensionChange) (domain.ServiceDimensionRecord, error) {
	if change.Service == "" || change.EffectiveAt.IsZero() {
		return domain.ServiceDimensionRecord{}, ErrInvalidChange
	}
	at := change.EffectiveAt.UTC()
	change.EffectiveAt = at

	h := s.getOrCreate(change.Service)
	h.mu.Lock()
	defer h.mu.Unlock()

	if n := len(h.rows); n > 0 {
		last := &h.rows[n-1]
		floor := last.EffectiveFrom
		if !last.IsCurrent && last.EffectiveTo != nil {
			floor = *last.EffectiveTo
		}
		if at.Before(floor) {
			return domain.ServiceDimensionRecord{}, fmt.Errorf("%w: %s effective at %s precedes %s",
				ErrOutOfOrderChange, change.Service, at.Format(time.RFC3339Nano), floor.Format(time.RFC3339Nano))
		}
	}

	if s.repo != nil {
		if err := s.repo.ApplyChange(ctx, change); err != nil {
			return domain.ServiceDimensionRecord{}, fmt.Errorf("failed to persist dimension change: %w", err)
		}
	}

	if n := len(h.rows); n > 0 && h.rows[n-1].IsCurrent {
		end := at
		h.rows[n-1].EffectiveTo = &end
		h.rows[n-1].IsCurrent = false
	}

	row := domain.ServiceDimensionRecord{
		Service:       change.Service,
		Owner:         change.Owner,
		Tier:          change.Tier,
		EffectiveFrom: at,
		IsCurrent:     true,
	}
	h.rows = append(h.rows, row)

	s.logger.Debug("dimension change applied",
		"service", change.Service,
		"owner", change.Owner,
		"tier", change.Tier,
		"effective_at", at,
	)

	return cloneRecord(row), nil
}

// CloseService ends the service's current row at the given time. Events
// after that instant enrich to the UNKNOWN sentinel.
func (s *Store) CloseService(ctx context.Context, service string, at time.Time) error {
	h := s.get(service)
	if h == nil {
		return ErrNoCurrentRow
	}
	at = at.UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.rows)
	if n == 0 || !h.rows[n-1].IsCurrent {
		return ErrNoCurrentRow
	}
	if at.Before(h.rows[n-1].EffectiveFrom) {
		return fmt.Errorf("%w: close of %s at %s precedes current row", ErrOutOfOrderChange, service, at.Format(time.RFC3339Nano))
	}

	if s.repo != nil {
		if err := s.repo.CloseService(ctx, service, at); err != nil {
			return fmt.Errorf("failed to persist dimension close: %w", err)
		}
	}

	h.rows[n-1].EffectiveTo = &at
	h.rows[n-1].IsCurrent = false
	return nil
}

// AsOf returns the row effective at ts, or nil when the service had no row
// covering ts. A miss is not an error.
func (s *Store) AsOf(ctx context.Context, service string, ts time.Time) (*domain.ServiceDimensionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := s.get(service)
	if h == nil {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	// First row starting after ts; its predecessor is the only candidate.
	idx := sort.Search(len(h.rows), func(i int) bool {
		return h.rows[i].EffectiveFrom.After(ts)
	})
	if idx == 0 {
		return nil, nil
	}

	row := h.rows[idx-1]
	if !row.Contains(ts) {
		return nil, nil
	}
	rec := cloneRecord(row)
	return &rec, nil
}

// Current returns the open row of the service, or nil.
func (s *Store) Current(service string) *domain.ServiceDimensionRecord {
	h := s.get(service)
	if h == nil {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if n := len(h.rows); n > 0 && h.rows[n-1].IsCurrent {
		rec := cloneRecord(h.rows[n-1])
		return &rec
	}
	return nil
}

// History returns a copy of all rows of the service in effective order.
func (s *Store) History(service string) []domain.ServiceDimensionRecord {
	h := s.get(service)
	if h == nil {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]domain.ServiceDimensionRecord, len(h.rows))
	for i, row := range h.rows {
		out[i] = cloneRecord(row)
	}
	return out
}

// Services returns the names of all services with history, sorted.
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.services))
	for name, h := range s.services {
		h.mu.RLock()
		n := len(h.rows)
		h.mu.RUnlock()
		if n > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func cloneRecord(r domain.ServiceDimensionRecord) domain.ServiceDimensionRecord {
	if r.EffectiveTo != nil {
		end := *r.EffectiveTo
		r.EffectiveTo = &end
	}
	return r
}
