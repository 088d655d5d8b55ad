// Package domain contains the core entities and value objects for LogSentinel.
// These models represent the ubiquitous language of the log-stream domain:
// log events, their validation outcome, service dimensions, windows and alerts.
package domain

import (
	"time"
)

// Level represents the severity level of a log event.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// IsValid returns true if the level is a known valid value.
func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError:
		return true
	default:
		return false
	}
}

// LogEvent represents a single structured log line produced by a service.
// It is created by the event source and never mutated afterwards.
type LogEvent struct {
	// EventID is the unique identifier of the event.
	EventID string `json:"event_id"`

	// Timestamp is the event time. Arrival order is not guaranteed to follow it.
	Timestamp time.Time `json:"timestamp"`

	// Service is the natural key of the emitting service.
	Service string `json:"service"`

	// Level is one of INFO, WARN or ERROR.
	Level Level `json:"level"`

	// Message is the free-form log text.
	Message string `json:"message"`

	// Host is the machine or pod that emitted the event.
	Host string `json:"host"`

	// ResponseTimeMs is the request latency in milliseconds. Nil when absent.
	ResponseTimeMs *int64 `json:"response_time_ms,omitempty"`
}

// HasResponseTime returns true if the event carries a response time.
func (e *LogEvent) HasResponseTime() bool {
	return e.ResponseTimeMs != nil
}

// IsError returns true if the event was logged at ERROR level.
func (e *LogEvent) IsError() bool {
	return e.Level == LevelError
}

// Int64 returns a pointer to v. Handy for building events with a response time.
func Int64(v int64) *int64 {
	return &v
}
