package domain

import (
	"fmt"
	"time"
)

// WindowKey identifies a fixed, epoch-aligned time window of one service.
type WindowKey struct {
	Service string    `json:"service"`
	Start   time.Time `json:"window_start"`
}

// String returns a stable textual form used for deduplication keys.
func (k WindowKey) String() string {
	return fmt.Sprintf("%s@%d", k.Service, k.Start.UnixNano())
}

// WindowStart returns the start of the epoch-aligned window of the given
// length that contains ts.
func WindowStart(ts time.Time, length time.Duration) time.Time {
	n := ts.UnixNano()
	l := int64(length)
	rem := n % l
	if rem < 0 {
		rem += l
	}
	return time.Unix(0, n-rem).UTC()
}

// WindowMetrics is the immutable record emitted when a window finalizes.
type WindowMetrics struct {
	Service     string    `json:"service"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	ErrorCount  int64     `json:"error_count"`
	TotalCount  int64     `json:"total_count"`

	// AvgResponseTime is nil when no event in the window carried a response time.
	AvgResponseTime *float64 `json:"avg_response_time"`

	// LogVolume is the total size of the window's log messages in bytes.
	LogVolume int64 `json:"log_volume"`

	// Owner and Tier come from the dimension of the window's latest event.
	Owner string `json:"owner,omitempty"`
	Tier  string `json:"tier,omitempty"`

	// Revision is zero for the first emission and increases each time a late
	// event is merged into an already finalized window.
	Revision int `json:"revision"`
}

// Key returns the window key of the metrics record.
func (m *WindowMetrics) Key() WindowKey {
	return WindowKey{Service: m.Service, Start: m.WindowStart}
}

// ErrorRate returns error_count / total_count, or nil for an empty window.
func (m *WindowMetrics) ErrorRate() *float64 {
	if m.TotalCount == 0 {
		return nil
	}
	rate := float64(m.ErrorCount) / float64(m.TotalCount)
	return &rate
}
