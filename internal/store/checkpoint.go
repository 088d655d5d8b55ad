// Package store defines interfaces for data persistence and checkpointing.
// These abstractions allow swapping implementations (Redis, Badger,
// PostgreSQL, in-memory) without changing pipeline logic.
package store

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"logsentinel/internal/alerting"
	"logsentinel/internal/window"
)

// Checkpoint is a consistent cut of the pipeline: every event at or below
// Offsets is reflected in Windows and Fired, and no event above them is.
type Checkpoint struct {
	// Offsets maps partition to the last processed offset.
	Offsets map[int]int64 `json:"offsets"`

	// Windows holds the aggregator state of every service.
	Windows []window.ServiceSnapshot `json:"windows"`

	// Fired is the set of (rule, window) pairs that already alerted.
	Fired []alerting.FiredKey `json:"fired"`

	CreatedAt time.Time `json:"created_at"`
}

// CheckpointStore persists the latest checkpoint.
// Implementations must be safe for concurrent use.
type CheckpointStore interface {
	// Save replaces the stored checkpoint.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load returns the last saved checkpoint, or nil, nil when none exists.
	Load(ctx context.Context) (*Checkpoint, error)

	// Close releases any resources held by the store.
	Close() error
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
		return w
	},
}

// EncodeCheckpoint serializes a checkpoint as gzip-compressed JSON.
func EncodeCheckpoint(cp *Checkpoint) ([]byte, error) {
	var buf bytes.Buffer

	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(&buf)
	defer gzipPool.Put(gz)

	if err := json.NewEncoder(gz).Encode(cp); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress checkpoint: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCheckpoint reverses EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (*Checkpoint, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer gz.Close()

	var cp Checkpoint
	if err := json.NewDecoder(gz).Decode(&cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Offsets == nil {
		cp.Offsets = make(map[int]int64)
	}
	return &cp, nil
}
