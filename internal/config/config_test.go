package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"logsentinel/internal/domain"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Mode != StorageModeMemory {
		t.Errorf("Storage.Mode = %v, want memory", cfg.Storage.Mode)
	}
	if cfg.Pipeline.WindowLength != 5*time.Minute {
		t.Errorf("WindowLength = %v, want 5m", cfg.Pipeline.WindowLength)
	}
	if cfg.Pipeline.AllowedLateness != time.Minute {
		t.Errorf("AllowedLateness = %v, want 1m", cfg.Pipeline.AllowedLateness)
	}
	if cfg.Pipeline.LatePolicy != LatePolicyDrop {
		t.Errorf("LatePolicy = %v, want drop", cfg.Pipeline.LatePolicy)
	}
	if cfg.Pipeline.CheckpointBackend != CheckpointBackendMemory {
		t.Errorf("CheckpointBackend = %v, want memory", cfg.Pipeline.CheckpointBackend)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0].Name != "error_spike" {
		t.Errorf("Rules = %+v, want default rules", cfg.Rules)
	}
}

func TestParse_StorageModeDefaultsRedisCheckpoints(t *testing.T) {
	cfg, err := Parse([]byte("storage:\n  mode: storage\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Pipeline.CheckpointBackend != CheckpointBackendRedis {
		t.Errorf("CheckpointBackend = %v, want redis", cfg.Pipeline.CheckpointBackend)
	}
}

func TestParse_Rules(t *testing.T) {
	data := `
rules:
  - name: high_error_rate
    metric: error_rate
    operator: ">="
    threshold: 0.5
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Rules) != 1 {
		t.Fatalf("len(Rules) = %d, want 1", len(cfg.Rules))
	}
	r := cfg.Rules[0]
	if r.Metric != domain.MetricErrorRate || r.Operator != domain.OpGreaterEqual || r.Threshold != 0.5 {
		t.Errorf("Rule = %+v", r)
	}
}

func TestParse_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		problem string
	}{
		{"storage mode", "storage:\n  mode: cloud\n", "storage.mode"},
		{"late policy", "pipeline:\n  late_policy: ignore\n", "pipeline.late_policy"},
		{"resource policy", "pipeline:\n  on_resource_error: crash\n", "pipeline.on_resource_error"},
		{"negative lateness", "pipeline:\n  allowed_lateness: -1s\n", "pipeline.allowed_lateness"},
		{"checkpoint backend", "pipeline:\n  checkpoint_backend: etcd\n", "pipeline.checkpoint_backend"},
		{"rule metric", "rules:\n  - name: r\n    metric: p99\n    operator: \">\"\n", "rules[0].metric"},
		{"rule operator", "rules:\n  - name: r\n    metric: error_count\n    operator: \"!=\"\n", "rules[0].operator"},
		{"duplicate rule", "rules:\n  - {name: r, metric: error_count, operator: \">\"}\n  - {name: r, metric: total_count, operator: \">\"}\n", "duplicated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Parse() error = %v, want *ValidationError", err)
			}
			if !strings.Contains(verr.Error(), tt.problem) {
				t.Errorf("Error() = %q, want it to mention %q", verr.Error(), tt.problem)
			}
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOGSENTINEL_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("LOGSENTINEL_POSTGRES_PASSWORD", "secret")

	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Postgres.Password != "secret" {
		t.Errorf("Postgres.Password = %v, want secret", cfg.Postgres.Password)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestAddressHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.Server.Address(); got != "0.0.0.0:8080" {
		t.Errorf("Address() = %v, want 0.0.0.0:8080", got)
	}
	if got := cfg.Redis.RedisAddr(); got != "localhost:6379" {
		t.Errorf("RedisAddr() = %v, want localhost:6379", got)
	}
}
