// Package redis provides Redis-based implementations of the store interfaces.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"logsentinel/internal/config"
	"logsentinel/internal/metrics"
	"logsentinel/internal/store"
)

// Key suffixes for checkpoint data in Redis.
const (
	suffixPrevious = ":previous"
	suffixSavedAt  = ":saved_at"
)

// CheckpointStore implements store.CheckpointStore using Redis.
// The previous checkpoint is kept alongside the latest one so a corrupt
// write can be recovered from by hand.
type CheckpointStore struct {
	client *redis.Client
	key    string
}

// NewCheckpointStore creates a new Redis-backed checkpoint store.
func NewCheckpointStore(cfg *config.RedisConfig) (*CheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewCheckpointStoreWithClient(client, cfg.CheckpointKey), nil
}

// NewCheckpointStoreWithClient wraps an existing client.
func NewCheckpointStoreWithClient(client *redis.Client, key string) *CheckpointStore {
	return &CheckpointStore{client: client, key: key}
}

// Save replaces the stored checkpoint atomically.
func (s *CheckpointStore) Save(ctx context.Context, cp *store.Checkpoint) error {
	start := time.Now()

	data, err := store.EncodeCheckpoint(cp)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Copy(ctx, s.key, s.key+suffixPrevious, s.client.Options().DB, true)
		pipe.Set(ctx, s.key, data, 0)
		pipe.Set(ctx, s.key+suffixSavedAt, cp.CreatedAt.UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	metrics.StorageOperationLatency.WithLabelValues("redis", "write").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageOperationsTotal.WithLabelValues("redis", "write", "failure").Inc()
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	metrics.StorageOperationsTotal.WithLabelValues("redis", "write", "success").Inc()
	metrics.CheckpointSizeBytes.Set(float64(len(data)))
	return nil
}

// Load returns the last saved checkpoint, or nil, nil when none exists.
func (s *CheckpointStore) Load(ctx context.Context) (*store.Checkpoint, error) {
	start := time.Now()

	data, err := s.client.Get(ctx, s.key).Bytes()
	metrics.StorageOperationLatency.WithLabelValues("redis", "read").Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		metrics.StorageOperationsTotal.WithLabelValues("redis", "read", "failure").Inc()
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	metrics.StorageOperationsTotal.WithLabelValues("redis", "read", "success").Inc()
	return store.DecodeCheckpoint(data)
}

// Close closes the Redis connection.
func (s *CheckpointStore) Close() error {
	return s.client.Close()
}
