package domain

// Metric names a value that can be read from a finalized window.
type Metric string

const (
	MetricErrorCount      Metric = "error_count"
	MetricTotalCount      Metric = "total_count"
	MetricAvgResponseTime Metric = "avg_response_time"
	MetricLogVolume       Metric = "log_volume"
	MetricErrorRate       Metric = "error_rate"
)

// IsValid returns true if the metric is a known value.
func (m Metric) IsValid() bool {
	switch m {
	case MetricErrorCount, MetricTotalCount, MetricAvgResponseTime, MetricLogVolume, MetricErrorRate:
		return true
	default:
		return false
	}
}

// Value extracts the metric from a window. ok is false when the metric is
// undefined for the window (no response time samples, empty window).
func (m Metric) Value(w *WindowMetrics) (value float64, ok bool) {
	switch m {
	case MetricErrorCount:
		return float64(w.ErrorCount), true
	case MetricTotalCount:
		return float64(w.TotalCount), true
	case MetricLogVolume:
		return float64(w.LogVolume), true
	case MetricAvgResponseTime:
		if w.AvgResponseTime == nil {
			return 0, false
		}
		return *w.AvgResponseTime, true
	case MetricErrorRate:
		rate := w.ErrorRate()
		if rate == nil {
			return 0, false
		}
		return *rate, true
	default:
		return 0, false
	}
}

// Operator is a threshold comparison.
type Operator string

const (
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
)

// IsValid returns true if the operator is a known value.
func (o Operator) IsValid() bool {
	switch o {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	default:
		return false
	}
}

// Compare applies the operator to value and threshold.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLess:
		return value < threshold
	case OpLessEqual:
		return value <= threshold
	default:
		return false
	}
}
