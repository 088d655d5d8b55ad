// Package window aggregates enriched events into fixed, epoch-aligned
// per-service windows driven by an event-time watermark.
//
// The watermark of a service is the largest event time seen minus the
// allowed out-of-orderness. A window [start, start+length) finalizes once
// the watermark reaches start+length+allowedLateness. Events that arrive
// for a finalized window are dropped and counted, or merged into a new
// revision when the merge policy is configured.
//
// An Aggregator is owned by exactly one goroutine and is not safe for
// concurrent use. The pipeline shards services across aggregators.
package window

import (
	"sort"
	"time"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
)

// LatePolicy selects what happens to events whose window already finalized.
type LatePolicy string

const (
	LatePolicyDrop  LatePolicy = "drop"
	LatePolicyMerge LatePolicy = "merge"
)

// Outcome reports what Add did with an event.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeDroppedLate
	OutcomeMerged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeDroppedLate:
		return "dropped_late"
	case OutcomeMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// Config holds the aggregator's time policy.
type Config struct {
	Length            time.Duration
	AllowedLateness   time.Duration
	MaxOutOfOrderness time.Duration

	// IdleTimeout is the processing-time silence after which a service's
	// watermark advances without new events.
	IdleTimeout time.Duration

	LatePolicy LatePolicy

	// Retention is how long past its deadline a finalized window stays
	// mergeable. Only used by the merge policy. Defaults to Length.
	Retention time.Duration

	// Clock returns processing time. Defaults to time.Now.
	Clock func() time.Time
}

// State is the mutable accumulator of one open window.
type State struct {
	ErrorCount        int64     `json:"error_count"`
	TotalCount        int64     `json:"total_count"`
	ResponseTimeSum   int64     `json:"response_time_sum"`
	ResponseTimeCount int64     `json:"response_time_count"`
	MaxEventTimeSeen  time.Time `json:"max_event_time_seen"`
	LogVolume         int64     `json:"log_volume"`
	Owner             string    `json:"owner,omitempty"`
	Tier              string    `json:"tier,omitempty"`
	DimensionFrom     time.Time `json:"dimension_from"`
}

func (s *State) add(ev *domain.EnrichedEvent) {
	s.TotalCount++
	if ev.IsError() {
		s.ErrorCount++
	}
	if ev.ResponseTimeMs != nil {
		s.ResponseTimeSum += *ev.ResponseTimeMs
		s.ResponseTimeCount++
	}
	s.LogVolume += int64(len(ev.Message))
	if s.TotalCount == 1 || s.takesDimension(ev) {
		s.MaxEventTimeSeen = ev.Timestamp
		s.Owner = ev.Dimension.Owner
		s.Tier = ev.Dimension.Tier
		s.DimensionFrom = ev.Dimension.EffectiveFrom
	}
}

// takesDimension reports whether ev's dimension replaces the window's. The
// latest event wins; equal timestamps fall back to the later dimension row,
// then to owner and tier, so arrival order never decides.
func (s *State) takesDimension(ev *domain.EnrichedEvent) bool {
	if !ev.Timestamp.Equal(s.MaxEventTimeSeen) {
		return ev.Timestamp.After(s.MaxEventTimeSeen)
	}
	d := ev.Dimension
	if !d.EffectiveFrom.Equal(s.DimensionFrom) {
		return d.EffectiveFrom.After(s.DimensionFrom)
	}
	if d.Owner != s.Owner {
		return d.Owner > s.Owner
	}
	return d.Tier > s.Tier
}

type finalized struct {
	state    State
	revision int
}

type serviceState struct {
	watermark    time.Time
	hasWatermark bool
	maxEventTime time.Time
	lastArrival  time.Time
	open         map[int64]*State
	finalized    map[int64]*finalized
}

// Aggregator owns the window state of a set of services.
type Aggregator struct {
	cfg         Config
	services    map[string]*serviceState
	droppedLate int64
	mergedLate  int64
}

// NewAggregator creates an aggregator with the given policy.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.LatePolicy == "" {
		cfg.LatePolicy = LatePolicyDrop
	}
	if cfg.Retention <= 0 {
		cfg.Retention = cfg.Length
	}
	return &Aggregator{
		cfg:      cfg,
		services: make(map[string]*serviceState),
	}
}

func (a *Aggregator) service(name string) *serviceState {
	ss, ok := a.services[name]
	if !ok {
		ss = &serviceState{
			open:      make(map[int64]*State),
			finalized: make(map[int64]*finalized),
		}
		a.services[name] = ss
	}
	return ss
}

// deadline is the watermark value at which the window starting at start finalizes.
func (a *Aggregator) deadline(start time.Time) time.Time {
	return start.Add(a.cfg.Length + a.cfg.AllowedLateness)
}

// Add applies an event and returns every window the resulting watermark
// advance finalized, ordered by start.
func (a *Aggregator) Add(ev domain.EnrichedEvent) ([]domain.WindowMetrics, Outcome) {
	ss := a.service(ev.Service)
	ss.lastArrival = a.cfg.Clock()

	start := domain.WindowStart(ev.Timestamp, a.cfg.Length)
	key := start.UnixNano()

	if ss.hasWatermark && !ss.watermark.Before(a.deadline(start)) {
		return a.late(ev, ss, start, key)
	}

	st, ok := ss.open[key]
	if !ok {
		st = &State{}
		ss.open[key] = st
	}
	st.add(&ev)

	if !ss.hasWatermark || ev.Timestamp.After(ss.maxEventTime) {
		ss.maxEventTime = ev.Timestamp
		a.raiseWatermark(ss, ev.Timestamp.Add(-a.cfg.MaxOutOfOrderness))
	}

	return a.finalizeReady(ev.Service, ss, "watermark"), OutcomeAccepted
}

func (a *Aggregator) late(ev domain.EnrichedEvent, ss *serviceState, start time.Time, key int64) ([]domain.WindowMetrics, Outcome) {
	mergeable := a.cfg.LatePolicy == LatePolicyMerge &&
		ss.watermark.Before(a.deadline(start).Add(a.cfg.Retention))
	if !mergeable {
		a.droppedLate++
		metrics.LateEventsDroppedTotal.WithLabelValues(ev.Service).Inc()
		return nil, OutcomeDroppedLate
	}

	f, ok := ss.finalized[key]
	if ok {
		f.revision++
	} else {
		f = &finalized{}
		ss.finalized[key] = f
	}
	f.state.add(&ev)

	a.mergedLate++
	metrics.LateEventsMergedTotal.WithLabelValues(ev.Service).Inc()
	metrics.WindowsFinalizedTotal.WithLabelValues("revision").Inc()
	return []domain.WindowMetrics{a.emit(ev.Service, start, &f.state, f.revision)}, OutcomeMerged
}

func (a *Aggregator) raiseWatermark(ss *serviceState, w time.Time) {
	if !ss.hasWatermark || w.After(ss.watermark) {
		ss.watermark = w
		ss.hasWatermark = true
	}
}

func (a *Aggregator) finalizeReady(service string, ss *serviceState, trigger string) []domain.WindowMetrics {
	var out []domain.WindowMetrics
	for key, st := range ss.open {
		start := time.Unix(0, key).UTC()
		if ss.watermark.Before(a.deadline(start)) {
			continue
		}
		out = append(out, a.finalize(service, ss, key, start, st))
	}
	a.evictFinalized(ss)

	if len(out) > 0 {
		metrics.WindowsFinalizedTotal.WithLabelValues(trigger).Add(float64(len(out)))
		sortMetrics(out)
	}
	return out
}

func (a *Aggregator) finalize(service string, ss *serviceState, key int64, start time.Time, st *State) domain.WindowMetrics {
	delete(ss.open, key)
	if a.cfg.LatePolicy == LatePolicyMerge {
		ss.finalized[key] = &finalized{state: *st}
	}
	return a.emit(service, start, st, 0)
}

func (a *Aggregator) evictFinalized(ss *serviceState) {
	for key := range ss.finalized {
		start := time.Unix(0, key).UTC()
		if !ss.watermark.Before(a.deadline(start).Add(a.cfg.Retention)) {
			delete(ss.finalized, key)
		}
	}
}

func (a *Aggregator) emit(service string, start time.Time, st *State, revision int) domain.WindowMetrics {
	m := domain.WindowMetrics{
		Service:     service,
		WindowStart: start,
		WindowEnd:   start.Add(a.cfg.Length),
		ErrorCount:  st.ErrorCount,
		TotalCount:  st.TotalCount,
		LogVolume:   st.LogVolume,
		Owner:       st.Owner,
		Tier:        st.Tier,
		Revision:    revision,
	}
	if st.ResponseTimeCount > 0 {
		avg := float64(st.ResponseTimeSum) / float64(st.ResponseTimeCount)
		m.AvgResponseTime = &avg
	}
	return m
}

// AdvanceIdle moves the watermark of every service that has been silent for
// at least IdleTimeout forward by the silence duration, finalizing windows
// that would otherwise stay open indefinitely.
func (a *Aggregator) AdvanceIdle() []domain.WindowMetrics {
	if a.cfg.IdleTimeout <= 0 {
		return nil
	}
	now := a.cfg.Clock()

	var out []domain.WindowMetrics
	for _, name := range a.sortedServices() {
		ss := a.services[name]
		if !ss.hasWatermark || len(ss.open) == 0 {
			continue
		}
		silence := now.Sub(ss.lastArrival)
		if silence < a.cfg.IdleTimeout {
			continue
		}
		a.raiseWatermark(ss, ss.maxEventTime.Add(silence-a.cfg.MaxOutOfOrderness))
		out = append(out, a.finalizeReady(name, ss, "idle")...)
	}
	return out
}

// Flush finalizes every open window regardless of the watermark. Used when
// a finite source reaches its end. The watermark of each service moves past
// the flushed windows so later events for them count as late.
func (a *Aggregator) Flush() []domain.WindowMetrics {
	var out []domain.WindowMetrics
	for _, name := range a.sortedServices() {
		ss := a.services[name]
		var flushed []domain.WindowMetrics
		for key, st := range ss.open {
			start := time.Unix(0, key).UTC()
			a.raiseWatermark(ss, a.deadline(start))
			flushed = append(flushed, a.finalize(name, ss, key, start, st))
		}
		if len(flushed) > 0 {
			metrics.WindowsFinalizedTotal.WithLabelValues("flush").Add(float64(len(flushed)))
			sortMetrics(flushed)
			out = append(out, flushed...)
		}
	}
	return out
}

// Watermark returns the watermark of a service and whether one exists.
func (a *Aggregator) Watermark(service string) (time.Time, bool) {
	ss, ok := a.services[service]
	if !ok || !ss.hasWatermark {
		return time.Time{}, false
	}
	return ss.watermark, true
}

// RetentionHorizon returns the earliest window start of the service that can
// still be emitted again. Anything older is neither open nor mergeable.
func (a *Aggregator) RetentionHorizon(service string) (time.Time, bool) {
	w, ok := a.Watermark(service)
	if !ok {
		return time.Time{}, false
	}
	horizon := w.Add(-(a.cfg.Length + a.cfg.AllowedLateness))
	if a.cfg.LatePolicy == LatePolicyMerge {
		horizon = horizon.Add(-a.cfg.Retention)
	}
	return horizon, true
}

// Watermarks returns the watermark of every service that has one.
func (a *Aggregator) Watermarks() map[string]time.Time {
	out := make(map[string]time.Time, len(a.services))
	for name, ss := range a.services {
		if ss.hasWatermark {
			out[name] = ss.watermark
		}
	}
	return out
}

// OpenWindows returns the number of windows still accepting events.
func (a *Aggregator) OpenWindows() int {
	n := 0
	for _, ss := range a.services {
		n += len(ss.open)
	}
	return n
}

// DroppedLate returns the number of late events dropped so far.
func (a *Aggregator) DroppedLate() int64 {
	return a.droppedLate
}

// MergedLate returns the number of late events merged into revisions.
func (a *Aggregator) MergedLate() int64 {
	return a.mergedLate
}

func (a *Aggregator) sortedServices() []string {
	names := make([]string, 0, len(a.services))
	for name := range a.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortMetrics(ms []domain.WindowMetrics) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Service != ms[j].Service {
			return ms[i].Service < ms[j].Service
		}
		return ms[i].WindowStart.Before(ms[j].WindowStart)
	})
}
