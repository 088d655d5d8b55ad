package alerting

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
)

// FiredKey identifies a (rule, window) pair that already produced an alert.
type FiredKey struct {
	Rule        string    `json:"rule"`
	Service     string    `json:"service"`
	WindowStart time.Time `json:"window_start"`
}

// Evaluator applies the rule table to finalized windows.
// It is safe for concurrent use by multiple shards.
type Evaluator struct {
	mu    sync.Mutex
	rules []Rule
	// fired is keyed by service, then by dedup key.
	fired map[string]map[string]FiredKey
	now   func() time.Time
}

// NewEvaluator creates an evaluator for the given rules.
func NewEvaluator(rules []Rule) *Evaluator {
	return &Evaluator{
		rules: rules,
		fired: make(map[string]map[string]FiredKey),
		now:   time.Now,
	}
}

// Rules returns a copy of the rule table.
func (e *Evaluator) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate returns one alert per rule whose condition holds for the window
// and that has not fired for this window before.
func (e *Evaluator) Evaluate(m domain.WindowMetrics) []domain.AlertRecord {
	key := m.Key()

	e.mu.Lock()
	defer e.mu.Unlock()

	var alerts []domain.AlertRecord
	for _, rule := range e.rules {
		value, ok := rule.Matches(&m)
		if !ok {
			continue
		}

		dedup := domain.AlertDedupKey(rule.Name, key)
		fired := e.fired[m.Service]
		if _, seen := fired[dedup]; seen {
			metrics.AlertsSuppressedTotal.WithLabelValues(rule.Name).Inc()
			continue
		}
		if fired == nil {
			fired = make(map[string]FiredKey)
			e.fired[m.Service] = fired
		}
		fired[dedup] = FiredKey{Rule: rule.Name, Service: m.Service, WindowStart: key.Start}

		now := e.now()
		alerts = append(alerts, domain.AlertRecord{
			ID:            uuid.NewString(),
			RuleName:      rule.Name,
			Service:       m.Service,
			WindowKey:     key,
			ObservedValue: value,
			Threshold:     rule.Threshold,
			Owner:         m.Owner,
			Tier:          m.Tier,
			FiredAt:       now,
		})
		metrics.AlertsFiredTotal.WithLabelValues(rule.Name).Inc()
		metrics.AlertLatency.Observe(now.Sub(m.WindowEnd).Seconds())
	}
	return alerts
}

// Forget removes one fired pair, so the rule may fire again for that window.
// Used when an alert could not be delivered.
func (e *Evaluator) Forget(rule string, key domain.WindowKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fired := e.fired[key.Service]
	delete(fired, domain.AlertDedupKey(rule, key))
	if len(fired) == 0 {
		delete(e.fired, key.Service)
	}
}

// Prune forgets fired pairs of the service whose window started before the
// given time. Windows that old can no longer be re-emitted.
func (e *Evaluator) Prune(service string, before time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	fired := e.fired[service]
	removed := 0
	for k, f := range fired {
		if f.WindowStart.Before(before) {
			delete(fired, k)
			removed++
		}
	}
	if len(fired) == 0 {
		delete(e.fired, service)
	}
	return removed
}

// FiredCount returns the number of tracked fired pairs.
func (e *Evaluator) FiredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, fired := range e.fired {
		n += len(fired)
	}
	return n
}

// Snapshot returns the fired set ordered by service, window and rule.
func (e *Evaluator) Snapshot() []FiredKey {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []FiredKey
	for _, fired := range e.fired {
		for _, f := range fired {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		if !out[i].WindowStart.Equal(out[j].WindowStart) {
			return out[i].WindowStart.Before(out[j].WindowStart)
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// Restore adds previously fired pairs to the fired set.
func (e *Evaluator) Restore(keys []FiredKey) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, f := range keys {
		fired := e.fired[f.Service]
		if fired == nil {
			fired = make(map[string]FiredKey)
			e.fired[f.Service] = fired
		}
		dedup := domain.AlertDedupKey(f.Rule, domain.WindowKey{Service: f.Service, Start: f.WindowStart})
		fired[dedup] = f
	}
}
