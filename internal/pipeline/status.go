package pipeline

import (
	"maps"
	"time"
)

// Pipeline states reported by Status.
const (
	StateRunning  = "running"
	StateDegraded = "degraded"
	StatePaused   = "paused"
	StateStopped  = "stopped"
)

// Status is a point-in-time view of the pipeline. Window figures are
// refreshed by shards on every control message, so they may trail the
// event counters by up to one idle check interval.
type Status struct {
	State          string               `json:"state"`
	Processed      int64                `json:"processed"`
	Quarantined    int64                `json:"quarantined"`
	Skipped        int64                `json:"skipped"`
	DroppedLate    int64                `json:"dropped_late"`
	MergedLate     int64                `json:"merged_late"`
	OpenWindows    int                  `json:"open_windows"`
	FiredAlerts    int                  `json:"fired_alerts"`
	Checkpoints    int64                `json:"checkpoints"`
	LastCheckpoint *time.Time           `json:"last_checkpoint,omitempty"`
	Offsets        map[int]int64        `json:"offsets"`
	Watermarks     map[string]time.Time `json:"watermarks"`
	ResourceErrors int64                `json:"resource_errors"`
	LastError      string               `json:"last_error,omitempty"`
}

// Status returns the current pipeline status. Safe to call concurrently
// with Start.
func (p *Pipeline) Status() Status {
	st := Status{
		State:          StateStopped,
		Processed:      p.processed.Load(),
		Quarantined:    p.quarantined.Load(),
		Skipped:        p.skipped.Load(),
		FiredAlerts:    p.evaluator.FiredCount(),
		Checkpoints:    p.checkpointsOK.Load(),
		LastCheckpoint: p.lastCheckpoint.Load(),
		Watermarks:     make(map[string]time.Time),
		ResourceErrors: p.supervisor.Failures(),
	}

	switch {
	case p.supervisor.Err() != nil:
		st.State = StatePaused
	case !p.running.Load():
		st.State = StateStopped
	case p.supervisor.Degraded():
		st.State = StateDegraded
	default:
		st.State = StateRunning
	}
	if err := p.supervisor.LastError(); err != nil {
		st.LastError = err.Error()
	}

	p.mu.Lock()
	st.Offsets = maps.Clone(p.offsets)
	p.mu.Unlock()

	for _, s := range p.shards {
		stats := s.stats.Load()
		if stats == nil {
			continue
		}
		st.OpenWindows += stats.openWindows
		st.DroppedLate += stats.droppedLate
		st.MergedLate += stats.mergedLate
		maps.Copy(st.Watermarks, stats.watermarks)
	}
	return st
}
