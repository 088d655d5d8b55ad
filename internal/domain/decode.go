package domain

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
)

// ErrMalformedPayload is returned when a payload cannot be read as a log
// event at all. Field-level problems are left for the validator.
var ErrMalformedPayload = errors.New("malformed log event payload")

// logEventWire mirrors LogEvent with the loosely typed fields held raw.
type logEventWire struct {
	EventID        json.RawMessage `json:"event_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Service        json.RawMessage `json:"service"`
	Level          json.RawMessage `json:"level"`
	Message        json.RawMessage `json:"message"`
	Host           json.RawMessage `json:"host"`
	ResponseTimeMs json.RawMessage `json:"response_time_ms"`
}

// DecodeLogEvent reads a JSON object into a LogEvent. Only a payload that is
// not an object, or whose timestamp cannot be parsed, is an error.
func DecodeLogEvent(data []byte) (LogEvent, error) {
	var ev LogEvent
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ev, ErrMalformedPayload
	}
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return ev, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return ev, nil
}

// UnmarshalJSON decodes leniently so that a wrongly typed field becomes a
// validation outcome instead of a decode failure:
//   - non-string event_id, service, message or host read as empty
//   - a non-string level keeps its literal text and fails the level rule
//   - a response time that is not a JSON integer reads as absent
func (e *LogEvent) UnmarshalJSON(data []byte) error {
	var w logEventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = LogEvent{
		EventID:        rawString(w.EventID),
		Timestamp:      w.Timestamp,
		Service:        rawString(w.Service),
		Level:          rawLevel(w.Level),
		Message:        rawString(w.Message),
		Host:           rawString(w.Host),
		ResponseTimeMs: rawInt64(w.ResponseTimeMs),
	}
	return nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func rawLevel(raw json.RawMessage) Level {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Level(raw)
	}
	return Level(s)
}

func rawInt64(raw json.RawMessage) *int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
