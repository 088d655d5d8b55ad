package badger

import (
	"context"
	"testing"
	"time"

	"logsentinel/internal/alerting"
	"logsentinel/internal/store"
)

func TestCheckpointStore_InMemory(t *testing.T) {
	s, err := Open(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	cp, err := s.Load(ctx)
	if err != nil || cp != nil {
		t.Fatalf("Load() on empty store = %v, %v, want nil, nil", cp, err)
	}

	first := &store.Checkpoint{Offsets: map[int]int64{0: 10}, CreatedAt: time.Now()}
	second := &store.Checkpoint{
		Offsets: map[int]int64{0: 20, 1: 5},
		Fired:   []alerting.FiredKey{{Rule: "error_spike", Service: "svc"}},
	}

	if err := s.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, second); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Offsets[0] != 20 || got.Offsets[1] != 5 || len(got.Fired) != 1 {
		t.Errorf("Load() = %+v, want second checkpoint", got)
	}
}

func TestCheckpointStore_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(Config{Path: dir, SyncWrites: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Save(ctx, &store.Checkpoint{Offsets: map[int]int64{3: 42}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := Open(Config{Path: dir})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx)
	if err != nil || got == nil {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if got.Offsets[3] != 42 {
		t.Errorf("Offsets[3] = %d, want 42", got.Offsets[3])
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("Open() expected error without path")
	}
}
