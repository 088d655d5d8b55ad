package window

import (
	"sort"
	"time"
)

// Snapshot is the serializable state of an aggregator.
type Snapshot struct {
	Services []ServiceSnapshot `json:"services"`
}

// ServiceSnapshot is the state of one service.
type ServiceSnapshot struct {
	Service      string              `json:"service"`
	Watermark    time.Time           `json:"watermark"`
	HasWatermark bool                `json:"has_watermark"`
	MaxEventTime time.Time           `json:"max_event_time"`
	Open         []WindowSnapshot    `json:"open,omitempty"`
	Finalized    []FinalizedSnapshot `json:"finalized,omitempty"`
}

// WindowSnapshot is one open window.
type WindowSnapshot struct {
	Start time.Time `json:"start"`
	State State     `json:"state"`
}

// FinalizedSnapshot is a finalized window retained for late merges.
type FinalizedSnapshot struct {
	Start    time.Time `json:"start"`
	State    State     `json:"state"`
	Revision int       `json:"revision"`
}

// Snapshot returns a deep copy of the aggregator state, ordered by service
// and window start.
func (a *Aggregator) Snapshot() Snapshot {
	snap := Snapshot{Services: make([]ServiceSnapshot, 0, len(a.services))}

	for _, name := range a.sortedServices() {
		ss := a.services[name]
		s := ServiceSnapshot{
			Service:      name,
			Watermark:    ss.watermark,
			HasWatermark: ss.hasWatermark,
			MaxEventTime: ss.maxEventTime,
		}
		for key, st := range ss.open {
			s.Open = append(s.Open, WindowSnapshot{Start: time.Unix(0, key).UTC(), State: *st})
		}
		for key, f := range ss.finalized {
			s.Finalized = append(s.Finalized, FinalizedSnapshot{Start: time.Unix(0, key).UTC(), State: f.state, Revision: f.revision})
		}
		sort.Slice(s.Open, func(i, j int) bool { return s.Open[i].Start.Before(s.Open[j].Start) })
		sort.Slice(s.Finalized, func(i, j int) bool { return s.Finalized[i].Start.Before(s.Finalized[j].Start) })
		snap.Services = append(snap.Services, s)
	}
	return snap
}

// Restore loads service state from a snapshot, replacing any state held for
// the same services. The idle timer of restored services restarts now.
func (a *Aggregator) Restore(services []ServiceSnapshot) {
	now := a.cfg.Clock()
	for _, s := range services {
		ss := &serviceState{
			watermark:    s.Watermark,
			hasWatermark: s.HasWatermark,
			maxEventTime: s.MaxEventTime,
			lastArrival:  now,
			open:         make(map[int64]*State, len(s.Open)),
			finalized:    make(map[int64]*finalized, len(s.Finalized)),
		}
		for _, w := range s.Open {
			st := w.State
			ss.open[w.Start.UnixNano()] = &st
		}
		for _, f := range s.Finalized {
			ss.finalized[f.Start.UnixNano()] = &finalized{state: f.State, revision: f.Revision}
		}
		a.services[s.Service] = ss
	}
}
