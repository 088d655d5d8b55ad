// Package sink holds the outbound boundaries of the pipeline: quarantine,
// valid-log archive, window metrics and alerts. Retries live here, at the
// point where I/O happens; errors that survive them are returned to the
// caller for the supervisor to judge.
package sink

import (
	"context"
	"sync"

	"logsentinel/internal/domain"
)

// QuarantineSink is the append-only destination of invalid events.
type QuarantineSink interface {
	Quarantine(ctx context.Context, rec *domain.QuarantineRecord) error
}

// ValidLogSink receives every event that passed validation, independently of
// enrichment and aggregation.
type ValidLogSink interface {
	Accept(ctx context.Context, ev domain.LogEvent) error
}

// WindowSink receives finalized window metrics and their revisions.
type WindowSink interface {
	Publish(ctx context.Context, m domain.WindowMetrics) error
}

// AlertSink receives alert records raised by the evaluator.
type AlertSink interface {
	Send(ctx context.Context, alert domain.AlertRecord) error
}

// MemoryValidLog keeps the most recent valid events in a ring buffer.
// Used in memory mode and tests.
type MemoryValidLog struct {
	mu       sync.Mutex
	events   []domain.LogEvent
	next     int
	full     bool
	accepted int64
}

// NewMemoryValidLog creates a ring holding at most capacity events.
func NewMemoryValidLog(capacity int) *MemoryValidLog {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryValidLog{events: make([]domain.LogEvent, capacity)}
}

// Accept implements ValidLogSink.
func (m *MemoryValidLog) Accept(_ context.Context, ev domain.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.accepted++
	return nil
}

// Events returns the retained events, oldest first.
func (m *MemoryValidLog) Events() []domain.LogEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.full {
		return append([]domain.LogEvent(nil), m.events[:m.next]...)
	}
	out := make([]domain.LogEvent, 0, len(m.events))
	out = append(out, m.events[m.next:]...)
	return append(out, m.events[:m.next]...)
}

// Accepted returns how many events were ever accepted.
func (m *MemoryValidLog) Accepted() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}
