// Package memory provides in-memory implementations of store interfaces.
// These are useful for testing and development without external dependencies.
package memory

import (
	"context"
	"sync"

	"logsentinel/internal/store"
)

// CheckpointStore is an in-memory implementation of store.CheckpointStore.
// Checkpoints are kept in encoded form so callers never share state with it.
type CheckpointStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewCheckpointStore creates a new in-memory checkpoint store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{}
}

// Save replaces the stored checkpoint.
func (s *CheckpointStore) Save(_ context.Context, cp *store.Checkpoint) error {
	data, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

// Load returns the last saved checkpoint, or nil, nil when none exists.
func (s *CheckpointStore) Load(_ context.Context) (*store.Checkpoint, error) {
	s.mu.RLock()
	data := s.data
	s.mu.RUnlock()

	if data == nil {
		return nil, nil
	}
	return store.DecodeCheckpoint(data)
}

// Saves returns how many checkpoints were saved. Useful in tests.
func (s *CheckpointStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Close is a no-op for the in-memory store.
func (s *CheckpointStore) Close() error {
	return nil
}
