// Package badger provides an embedded BadgerDB checkpoint store for
// single-node deployments that run without Redis.
package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"logsentinel/internal/metrics"
	"logsentinel/internal/store"
)

var (
	keyLatest   = []byte("checkpoint/latest")
	keyPrevious = []byte("checkpoint/previous")
)

// Config holds configuration for the embedded database.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Zero disables it.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal logs. If nil they are discarded.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// CheckpointStore implements store.CheckpointStore on BadgerDB.
type CheckpointStore struct {
	db     *badger.DB
	stop   chan struct{}
	wg     sync.WaitGroup
	closed sync.Once
}

// Open creates the database and starts the garbage collection loop.
func Open(cfg Config) (*CheckpointStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &CheckpointStore{db: db, stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.wg.Add(1)
		go s.gcLoop(cfg.GCInterval)
	}
	return s, nil
}

func (s *CheckpointStore) gcLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Rewrite until nothing is left to reclaim.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

// Save replaces the stored checkpoint, keeping the previous one.
func (s *CheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	data, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLatest)
		switch {
		case err == nil:
			prev, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(keyPrevious, prev); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(keyLatest, data)
	})
	metrics.StorageOperationLatency.WithLabelValues("badger", "write").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("badger", "write", "failure").Inc()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	metrics.StorageOperationsTotal.WithLabelValues("badger", "write", "success").Inc()
	metrics.CheckpointSizeBytes.Set(float64(len(data)))
	return nil
}

// Load returns the last saved checkpoint, or nil, nil when none exists.
func (s *CheckpointStore) Load(ctx context.Context) (*store.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyLatest)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		metrics.StorageOperationsTotal.WithLabelValues("badger", "read", "failure").Inc()
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	metrics.StorageOperationsTotal.WithLabelValues("badger", "read", "success").Inc()
	return store.DecodeCheckpoint(data)
}

// Close stops garbage collection and closes the database.
func (s *CheckpointStore) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
