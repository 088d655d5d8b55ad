// Package config provides configuration loading and management for LogSentinel.
// It supports loading configuration from YAML files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"logsentinel/internal/domain"
)

// StorageMode represents the storage backend mode.
type StorageMode string

const (
	// StorageModeMemory uses in-memory implementations for all storage.
	StorageModeMemory StorageMode = "memory"
	// StorageModeStorage uses real storage backends (Kafka, Redis, PostgreSQL).
	StorageModeStorage StorageMode = "storage"
)

// IsValid returns true if the storage mode is valid.
func (m StorageMode) IsValid() bool {
	return m == StorageModeMemory || m == StorageModeStorage
}

// Config represents the complete application configuration.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Server       ServerConfig       `yaml:"server"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	S3           S3Config           `yaml:"s3"`
	Logger       LoggerConfig       `yaml:"logger"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Rules        []RuleConfig       `yaml:"rules"`
	Notification NotificationConfig `yaml:"notification"`
}

// StorageConfig holds the storage mode configuration.
type StorageConfig struct {
	Mode StorageMode `yaml:"mode"`
}

// UseMemory returns true if in-memory storage should be used.
func (c *StorageConfig) UseMemory() bool {
	return c.Mode == StorageModeMemory
}

// UseStorage returns true if real storage backends should be used.
func (c *StorageConfig) UseStorage() bool {
	return c.Mode == StorageModeStorage
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// KafkaConfig holds Kafka connection and topic settings.
type KafkaConfig struct {
	Brokers        []string `yaml:"brokers"`
	Topic          string   `yaml:"topic"`
	ConsumerGroup  string   `yaml:"consumer_group"`
	PartitionCount int      `yaml:"partition_count"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	CheckpointKey string `yaml:"checkpoint_key"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int32  `yaml:"max_open_conns"`
	MaxIdleConns int32  `yaml:"max_idle_conns"`
}

// S3Config holds settings for the valid-log archive.
// The archive is disabled when Bucket is empty.
type S3Config struct {
	Region        string        `yaml:"region"`
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `yaml:"max_retries"`
}

// Enabled returns true if the archive has a destination bucket.
func (c *S3Config) Enabled() bool {
	return c.Bucket != ""
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// LatePolicy selects what happens to events whose window already finalized.
type LatePolicy string

const (
	LatePolicyDrop  LatePolicy = "drop"
	LatePolicyMerge LatePolicy = "merge"
)

// ResourcePolicy selects how the supervisor reacts to sink or store failures.
type ResourcePolicy string

const (
	ResourcePolicyPause      ResourcePolicy = "pause"
	ResourcePolicyBestEffort ResourcePolicy = "best_effort"
)

// CheckpointBackend selects the checkpoint store implementation.
type CheckpointBackend string

const (
	CheckpointBackendMemory CheckpointBackend = "memory"
	CheckpointBackendRedis  CheckpointBackend = "redis"
	CheckpointBackendBadger CheckpointBackend = "badger"
)

// PipelineConfig holds the streaming engine settings.
type PipelineConfig struct {
	WindowLength           time.Duration     `yaml:"window_length"`
	AllowedLateness        time.Duration     `yaml:"allowed_lateness"`
	MaxOutOfOrderness      time.Duration     `yaml:"max_out_of_orderness"`
	IdleWatermarkTimeout   time.Duration     `yaml:"idle_watermark_timeout"`
	IdleCheckInterval      time.Duration     `yaml:"idle_check_interval"`
	CheckpointInterval     time.Duration     `yaml:"checkpoint_interval"`
	CheckpointBackend      CheckpointBackend `yaml:"checkpoint_backend"`
	BadgerPath             string            `yaml:"badger_path"`
	Shards                 int               `yaml:"shards"`
	ShardQueueSize         int               `yaml:"shard_queue_size"`
	LatePolicy             LatePolicy        `yaml:"late_policy"`
	OnResourceError        ResourcePolicy    `yaml:"on_resource_error"`
	DimensionLookupTimeout time.Duration     `yaml:"dimension_lookup_timeout"`
	SinkTimeout            time.Duration     `yaml:"sink_timeout"`
	ShutdownTimeout        time.Duration     `yaml:"shutdown_timeout"`
	MemoryQueueSize        int               `yaml:"memory_queue_size"`
}

// RuleConfig describes one alert threshold rule.
type RuleConfig struct {
	Name      string          `yaml:"name"`
	Metric    domain.Metric   `yaml:"metric"`
	Operator  domain.Operator `yaml:"operator"`
	Threshold float64         `yaml:"threshold"`
}

// NotificationConfig holds outbound alert delivery settings.
type NotificationConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultRules returns the built-in alert rules.
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{Name: "error_spike", Metric: domain.MetricErrorCount, Operator: domain.OpGreater, Threshold: 50},
		{Name: "slow_response", Metric: domain.MetricAvgResponseTime, Operator: domain.OpGreater, Threshold: 2000},
	}
}

// Load reads configuration from the specified YAML file path.
// Returns an error if the file cannot be read, parsed or fails validation.
func Load(path string) (*Config, error) {
	// Clean the path to prevent path traversal attacks
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a configuration from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	// Apply defaults for any unset values
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides lets deployments inject secrets and endpoints without
// editing the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOGSENTINEL_STORAGE_MODE"); v != "" {
		cfg.Storage.Mode = StorageMode(v)
	}
	if v := os.Getenv("LOGSENTINEL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("LOGSENTINEL_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("LOGSENTINEL_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// applyDefaults sets sensible default values for configuration fields
// that are not explicitly set in the config file.
func applyDefaults(cfg *Config) {
	// Storage defaults
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = StorageModeMemory
	}

	// Server defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 120 * time.Second
	}

	// Kafka defaults
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "logsentinel-events"
	}
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "logsentinel-pipeline"
	}
	if cfg.Kafka.PartitionCount == 0 {
		cfg.Kafka.PartitionCount = 32
	}

	// Redis defaults
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.CheckpointKey == "" {
		cfg.Redis.CheckpointKey = "logsentinel:checkpoint"
	}

	// Postgres defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxOpenConns == 0 {
		cfg.Postgres.MaxOpenConns = 25
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 5
	}

	// S3 archive defaults
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.Prefix == "" {
		cfg.S3.Prefix = "valid-logs"
	}
	if cfg.S3.BatchSize == 0 {
		cfg.S3.BatchSize = 1000
	}
	if cfg.S3.FlushInterval == 0 {
		cfg.S3.FlushInterval = 10 * time.Second
	}
	if cfg.S3.QueueSize == 0 {
		cfg.S3.QueueSize = 10000
	}
	if cfg.S3.MaxRetries == 0 {
		cfg.S3.MaxRetries = 5
	}

	// Logger defaults
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "json"
	}

	applyPipelineDefaults(&cfg.Pipeline, cfg.Storage.Mode)

	// Rule defaults
	if len(cfg.Rules) == 0 {
		cfg.Rules = DefaultRules()
	}

	// Notification defaults
	if cfg.Notification.Timeout == 0 {
		cfg.Notification.Timeout = 5 * time.Second
	}
	if cfg.Notification.MaxRetries == 0 {
		cfg.Notification.MaxRetries = 3
	}
}

func applyPipelineDefaults(p *PipelineConfig, mode StorageMode) {
	if p.WindowLength == 0 {
		p.WindowLength = 5 * time.Minute
	}
	if p.AllowedLateness == 0 {
		p.AllowedLateness = time.Minute
	}
	if p.MaxOutOfOrderness == 0 {
		p.MaxOutOfOrderness = 30 * time.Second
	}
	if p.IdleWatermarkTimeout == 0 {
		p.IdleWatermarkTimeout = 2 * time.Minute
	}
	if p.IdleCheckInterval == 0 {
		p.IdleCheckInterval = 10 * time.Second
	}
	if p.CheckpointInterval == 0 {
		p.CheckpointInterval = 30 * time.Second
	}
	if p.CheckpointBackend == "" {
		if mode == StorageModeStorage {
			p.CheckpointBackend = CheckpointBackendRedis
		} else {
			p.CheckpointBackend = CheckpointBackendMemory
		}
	}
	if p.BadgerPath == "" {
		p.BadgerPath = "data/checkpoints"
	}
	if p.Shards == 0 {
		p.Shards = 4
	}
	if p.ShardQueueSize == 0 {
		p.ShardQueueSize = 1024
	}
	if p.LatePolicy == "" {
		p.LatePolicy = LatePolicyDrop
	}
	if p.OnResourceError == "" {
		p.OnResourceError = ResourcePolicyBestEffort
	}
	if p.DimensionLookupTimeout == 0 {
		p.DimensionLookupTimeout = 200 * time.Millisecond
	}
	if p.SinkTimeout == 0 {
		p.SinkTimeout = 5 * time.Second
	}
	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = 15 * time.Second
	}
	if p.MemoryQueueSize == 0 {
		p.MemoryQueueSize = 10000
	}
}

// Address returns the full server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address in host:port format.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
