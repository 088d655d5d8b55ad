// Package ingest publishes incoming log events to the event stream.
// Events are not validated here: the pipeline validates every message and
// quarantines the ones that fail, including payloads that do not decode.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	json "github.com/goccy/go-json"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
	"logsentinel/internal/queue"
)

// Errors returned by the ingest service.
var (
	ErrEmptyPayload  = errors.New("empty payload")
	ErrPublishFailed = errors.New("failed to publish event to queue")
)

// Service publishes log events to the message queue.
type Service struct {
	producer queue.Producer
	logger   *slog.Logger
}

// NewService creates a new ingest service.
func NewService(producer queue.Producer, logger *slog.Logger) *Service {
	return &Service{
		producer: producer,
		logger:   logger,
	}
}

// routing holds the fields peeked from a payload to key the message.
type routing struct {
	EventID string `json:"event_id"`
	Service string `json:"service"`
}

// IngestEvent serializes and publishes a single event.
func (s *Service) IngestEvent(ctx context.Context, event *domain.LogEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}
	return s.IngestRaw(ctx, payload)
}

// IngestRaw publishes one raw event payload. The message is keyed by the
// service so all events of a service land on the same partition. A payload
// that does not decode is published unkeyed and quarantined downstream.
func (s *Service) IngestRaw(ctx context.Context, payload []byte) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ErrEmptyPayload
	}
	metrics.EventsReceivedTotal.Inc()

	var r routing
	if err := json.Unmarshal(payload, &r); err != nil {
		s.logger.Debug("publishing undecodable payload", "error", err)
	}

	msg := &queue.Message{
		Key:   []byte(r.Service),
		Value: payload,
		Headers: map[string]string{
			"service":  r.Service,
			"event_id": r.EventID,
		},
	}

	if err := s.producer.Publish(ctx, msg); err != nil {
		s.logger.Error("failed to publish event", "error", err, "eventID", r.EventID)
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	metrics.EventsPublishedTotal.Inc()

	s.logger.Debug("event published to queue", "eventID", r.EventID, "service", r.Service)
	return nil
}

// IngestBatch publishes a JSON array of events in order. It stops at the
// first publish failure and returns how many events were published.
func (s *Service) IngestBatch(ctx context.Context, payloads []json.RawMessage) (int, error) {
	for i, p := range payloads {
		if err := s.IngestRaw(ctx, p); err != nil {
			return i, err
		}
	}
	return len(payloads), nil
}
