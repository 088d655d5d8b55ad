package domain

import (
	"errors"
	"time"
)

// ErrAlertNotFound is returned when an alert cannot be found.
var ErrAlertNotFound = errors.New("alert not found")

// AlertRecord is raised when a rule's condition holds for a finalized window.
// At most one record exists per (RuleName, WindowKey).
type AlertRecord struct {
	// ID is the unique identifier of this alert.
	ID string `json:"id"`

	// RuleName is the name of the rule that fired.
	RuleName string `json:"rule_name"`

	// Service is the service the window belongs to.
	Service string `json:"service"`

	// WindowKey identifies the finalized window that triggered the rule.
	WindowKey WindowKey `json:"window_key"`

	// ObservedValue is the metric value measured for the window.
	ObservedValue float64 `json:"observed_value"`

	// Threshold is the rule threshold that was breached.
	Threshold float64 `json:"threshold"`

	// Owner and Tier are copied from the dimension in effect for the window.
	Owner string `json:"owner,omitempty"`
	Tier  string `json:"tier,omitempty"`

	// FiredAt is the processing time at which the alert was raised.
	FiredAt time.Time `json:"fired_at"`

	// NotifiedAt is set once every notifier accepted the alert. A stored
	// alert without it is notified again when its window is replayed.
	NotifiedAt *time.Time `json:"notified_at,omitempty"`
}

// DedupKey returns the key used to suppress repeat firings.
func (a *AlertRecord) DedupKey() string {
	return AlertDedupKey(a.RuleName, a.WindowKey)
}

// AlertDedupKey builds the deduplication key for a rule and window.
func AlertDedupKey(rule string, key WindowKey) string {
	return rule + "|" + key.String()
}

// AlertFilter contains criteria for filtering alerts in queries.
type AlertFilter struct {
	Service  string
	RuleName string
	Since    time.Time
	Limit    int
	Offset   int
}
