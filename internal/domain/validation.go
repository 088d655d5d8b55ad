package domain

import "time"

// ReasonCode is the outcome of validating a log event.
// Exactly one code is assigned per event.
type ReasonCode string

const (
	// StatusValid marks an event that passed every rule.
	StatusValid ReasonCode = "VALID"

	ReasonNullEventID         ReasonCode = "NULL_EVENT_ID"
	ReasonNullService         ReasonCode = "NULL_SERVICE"
	ReasonInvalidLevel        ReasonCode = "INVALID_LEVEL"
	ReasonInvalidResponseTime ReasonCode = "INVALID_RESPONSE_TIME"
	ReasonFutureTimestamp     ReasonCode = "FUTURE_TIMESTAMP"

	// ReasonMalformedPayload is assigned when the raw message cannot be decoded
	// into a LogEvent at all.
	ReasonMalformedPayload ReasonCode = "MALFORMED_PAYLOAD"
)

// ValidationResult wraps an event with its validation status.
type ValidationResult struct {
	Event  LogEvent   `json:"event"`
	Status ReasonCode `json:"status"`
}

// IsValid returns true if the event passed validation.
func (r ValidationResult) IsValid() bool {
	return r.Status == StatusValid
}

// QuarantineRecord is an invalid event held in the quarantine sink.
// The full original event is kept alongside the reason code.
type QuarantineRecord struct {
	ID            string     `json:"id"`
	Event         LogEvent   `json:"event"`
	Reason        ReasonCode `json:"reason"`
	Raw           []byte     `json:"raw,omitempty"`
	Partition     int        `json:"partition"`
	Offset        int64      `json:"offset"`
	QuarantinedAt time.Time  `json:"quarantined_at"`
}

// QuarantineFilter contains criteria for listing quarantined events.
type QuarantineFilter struct {
	Service string
	Reason  ReasonCode
	Limit   int
	Offset  int
}
