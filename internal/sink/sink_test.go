package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"logsentinel/internal/domain"
	"logsentinel/internal/notification"
	"logsentinel/internal/retry"
	"logsentinel/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
}

func event(id string) domain.LogEvent {
	return domain.LogEvent{
		EventID:   id,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Service:   "payment-service",
		Level:     domain.LevelInfo,
		Message:   "ok",
		Host:      "pod-1",
	}
}

func TestMemoryValidLog_Ring(t *testing.T) {
	m := NewMemoryValidLog(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if err := m.Accept(context.Background(), event(id)); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	}

	got := m.Events()
	if len(got) != 3 {
		t.Fatalf("len(Events()) = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "d", "e"} {
		if got[i].EventID != want {
			t.Errorf("Events()[%d] = %v, want %v", i, got[i].EventID, want)
		}
	}
	if m.Accepted() != 5 {
		t.Errorf("Accepted() = %d, want 5", m.Accepted())
	}
}

func TestQuarantine_AssignsIDAndAppends(t *testing.T) {
	repo := memory.NewQuarantineRepository()
	q := NewQuarantine(repo, fastPolicy(), testLogger())

	ev := event("e1")
	ev.ResponseTimeMs = domain.Int64(-5)
	rec := &domain.QuarantineRecord{Event: ev, Reason: domain.ReasonInvalidResponseTime}
	if err := q.Quarantine(context.Background(), rec); err != nil {
		t.Fatalf("Quarantine() error = %v", err)
	}

	if rec.ID == "" || rec.QuarantinedAt.IsZero() {
		t.Error("expected ID and QuarantinedAt to be assigned")
	}
	list, _ := repo.List(context.Background(), domain.QuarantineFilter{})
	if len(list) != 1 || list[0].Reason != domain.ReasonInvalidResponseTime {
		t.Errorf("List() = %+v", list)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []string
	err    error
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) Notify(_ context.Context, alert *domain.AlertRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert.ID)
	return n.err
}

func alertRecord(id string) domain.AlertRecord {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.AlertRecord{
		ID:            id,
		RuleName:      "error_spike",
		Service:       "payment-service",
		WindowKey:     domain.WindowKey{Service: "payment-service", Start: start},
		ObservedValue: 60,
		Threshold:     50,
		FiredAt:       start.Add(6 * time.Minute),
	}
}

func TestAlerts_NotifiesOnlyNewAlerts(t *testing.T) {
	repo := memory.NewAlertRepository()
	n := &recordingNotifier{}
	a := NewAlerts(repo, []notification.Notifier{n}, fastPolicy(), testLogger())

	if err := a.Send(context.Background(), alertRecord("first")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	// Replay of the same rule and window after a restart carries a new ID.
	if err := a.Send(context.Background(), alertRecord("replayed")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(n.alerts) != 1 || n.alerts[0] != "first" {
		t.Errorf("notified = %v, want [first]", n.alerts)
	}
	stored, _ := repo.List(context.Background(), domain.AlertFilter{})
	if len(stored) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(stored))
	}
}

func TestAlerts_ReturnsNotifierError(t *testing.T) {
	want := errors.New("webhook down")
	n := &recordingNotifier{err: want}
	a := NewAlerts(memory.NewAlertRepository(), []notification.Notifier{n}, fastPolicy(), testLogger())

	err := a.Send(context.Background(), alertRecord("a1"))
	if !errors.Is(err, want) {
		t.Errorf("Send() error = %v, want %v", err, want)
	}
}

func TestAlerts_ReplayNotifiesStoredButUnnotifiedAlert(t *testing.T) {
	repo := memory.NewAlertRepository()
	n := &recordingNotifier{err: errors.New("webhook down")}
	a := NewAlerts(repo, []notification.Notifier{n}, fastPolicy(), testLogger())
	ctx := context.Background()

	if err := a.Send(ctx, alertRecord("first")); err == nil {
		t.Fatal("Send() error = nil, want notifier failure")
	}
	stored, _ := repo.GetByID(ctx, "first")
	if stored == nil || stored.NotifiedAt != nil {
		t.Fatalf("stored alert = %+v, want saved and not notified", stored)
	}

	n.mu.Lock()
	n.err = nil
	n.mu.Unlock()

	// The replay carries a new ID; the stored alert is the one notified.
	if err := a.Send(ctx, alertRecord("replayed")); err != nil {
		t.Fatalf("Send() replay error = %v", err)
	}
	if err := a.Send(ctx, alertRecord("replayed-again")); err != nil {
		t.Fatalf("Send() second replay error = %v", err)
	}

	if len(n.alerts) != 2 || n.alerts[0] != "first" || n.alerts[1] != "first" {
		t.Errorf("notified = %v, want [first first]", n.alerts)
	}
	stored, _ = repo.GetByID(ctx, "first")
	if stored.NotifiedAt == nil {
		t.Error("alert should be marked notified")
	}
	if all, _ := repo.List(ctx, domain.AlertFilter{}); len(all) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(all))
	}
}

func TestWindows_Publish(t *testing.T) {
	repo := memory.NewWindowMetricsRepository()
	w := NewWindows(repo, fastPolicy(), testLogger())

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	m := domain.WindowMetrics{Service: "svc", WindowStart: start, WindowEnd: start.Add(5 * time.Minute), TotalCount: 3}
	if err := w.Publish(context.Background(), m); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	list, _ := repo.List(context.Background(), "svc", time.Time{}, 0)
	if len(list) != 1 || list[0].TotalCount != 3 {
		t.Errorf("List() = %+v", list)
	}
}

func TestEncodeJSONLGzip(t *testing.T) {
	data, err := EncodeJSONLGzip([]domain.LogEvent{event("a"), event("b")})
	if err != nil {
		t.Fatalf("EncodeJSONLGzip() error = %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	scanner := bufio.NewScanner(gz)
	var ids []string
	for scanner.Scan() {
		var ev domain.LogEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		ids = append(ids, ev.EventID)
	}
	if strings.Join(ids, ",") != "a,b" {
		t.Errorf("ids = %v, want [a b]", ids)
	}
}

type fakePutter struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    int
}

func (p *fakePutter) PutObject(_ context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return errors.New("slow down")
	}
	if p.objects == nil {
		p.objects = make(map[string][]byte)
	}
	p.objects[key] = body
	return nil
}

func (p *fakePutter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.objects)
}

func TestArchive_BatchesBySize(t *testing.T) {
	putter := &fakePutter{fail: 1}
	a := NewArchive(putter, ArchiveConfig{
		Prefix:        "raw",
		BatchSize:     2,
		FlushInterval: time.Hour,
		Retry:         fastPolicy(),
	}, testLogger())

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := a.Accept(context.Background(), event(id)); err != nil {
			t.Fatalf("Accept() error = %v", err)
		}
	}
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if putter.count() != 2 {
		t.Errorf("objects = %d, want 2", putter.count())
	}
	for key := range putter.objects {
		if !strings.HasPrefix(key, "raw/") || !strings.HasSuffix(key, ".jsonl.gz") {
			t.Errorf("unexpected key %q", key)
		}
	}
}

func TestArchive_FlushesOnClose(t *testing.T) {
	putter := &fakePutter{}
	a := NewArchive(putter, ArchiveConfig{BatchSize: 100, FlushInterval: time.Hour, Retry: fastPolicy()}, testLogger())

	_ = a.Accept(context.Background(), event("only"))
	if err := a.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if putter.count() != 1 {
		t.Errorf("objects = %d, want 1", putter.count())
	}
	if err := a.Accept(context.Background(), event("late")); !errors.Is(err, ErrArchiveClosed) {
		t.Errorf("Accept() after Close error = %v, want ErrArchiveClosed", err)
	}
}

func TestArchive_ReportsUploadFailure(t *testing.T) {
	putter := &fakePutter{fail: 100}
	a := NewArchive(putter, ArchiveConfig{BatchSize: 1, FlushInterval: time.Hour, Retry: fastPolicy()}, testLogger())

	_ = a.Accept(context.Background(), event("a"))
	if err := a.Close(context.Background()); err == nil {
		t.Error("Close() expected the upload failure")
	}
}
