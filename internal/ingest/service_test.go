package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"logsentinel/internal/domain"
	"logsentinel/internal/queue"
	"logsentinel/internal/queue/memory"
)

func testService() (*Service, *memory.Queue) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	msgQueue := memory.NewQueue(100)
	return NewService(msgQueue, logger), msgQueue
}

func drain(t *testing.T, q *memory.Queue) []*queue.Message {
	t.Helper()
	q.CloseInput()

	var msgs []*queue.Message
	err := q.Start(context.Background(), func(_ context.Context, msg *queue.Message) error {
		msgs = append(msgs, msg)
		return nil
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return msgs
}

func TestService_IngestEvent(t *testing.T) {
	service, q := testService()
	ctx := context.Background()

	event := &domain.LogEvent{
		EventID:   "evt-1",
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Service:   "payment-service",
		Level:     domain.LevelError,
		Message:   "card declined",
		Host:      "pod-7",
	}
	if err := service.IngestEvent(ctx, event); err != nil {
		t.Fatalf("IngestEvent() error = %v", err)
	}

	msgs := drain(t, q)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	msg := msgs[0]
	if string(msg.Key) != "payment-service" {
		t.Errorf("Key = %q, want payment-service", msg.Key)
	}
	if msg.Headers["event_id"] != "evt-1" {
		t.Errorf("event_id header = %q", msg.Headers["event_id"])
	}

	var got domain.LogEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.EventID != "evt-1" || !got.Timestamp.Equal(event.Timestamp) {
		t.Errorf("payload = %+v", got)
	}
}

func TestService_IngestRaw_Undecodable(t *testing.T) {
	service, q := testService()

	if err := service.IngestRaw(context.Background(), []byte("{broken")); err != nil {
		t.Fatalf("IngestRaw() error = %v", err)
	}
	msgs := drain(t, q)
	if len(msgs) != 1 || len(msgs[0].Key) != 0 || string(msgs[0].Value) != "{broken" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestService_IngestRaw_Empty(t *testing.T) {
	service, _ := testService()
	if err := service.IngestRaw(context.Background(), []byte("  ")); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("IngestRaw() error = %v, want ErrEmptyPayload", err)
	}
}

func TestService_IngestBatch(t *testing.T) {
	service, q := testService()

	batch := []json.RawMessage{
		json.RawMessage(`{"event_id":"a","service":"s1"}`),
		json.RawMessage(`{"event_id":"b","service":"s2"}`),
	}
	n, err := service.IngestBatch(context.Background(), batch)
	if err != nil || n != 2 {
		t.Fatalf("IngestBatch() = %d, %v", n, err)
	}

	msgs := drain(t, q)
	if len(msgs) != 2 || msgs[0].Offset != 0 || msgs[1].Offset != 1 {
		t.Errorf("messages out of order: %+v", msgs)
	}
}

func TestService_PublishFailure(t *testing.T) {
	service, q := testService()
	q.CloseInput()

	err := service.IngestRaw(context.Background(), []byte(`{"service":"s"}`))
	if !errors.Is(err, ErrPublishFailed) || !errors.Is(err, memory.ErrQueueClosed) {
		t.Errorf("IngestRaw() error = %v", err)
	}
}
