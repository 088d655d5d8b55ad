package config

import (
	"fmt"
	"strings"
)

// ValidationError collects every problem found in a configuration.
// The process must not start while any problem remains.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if !c.Storage.Mode.IsValid() {
		verr.add("storage.mode %q must be %q or %q", c.Storage.Mode, StorageModeMemory, StorageModeStorage)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		verr.add("server.port %d out of range", c.Server.Port)
	}

	p := c.Pipeline
	if p.WindowLength <= 0 {
		verr.add("pipeline.window_length must be positive")
	}
	if p.AllowedLateness < 0 {
		verr.add("pipeline.allowed_lateness must not be negative")
	}
	if p.MaxOutOfOrderness < 0 {
		verr.add("pipeline.max_out_of_orderness must not be negative")
	}
	if p.IdleWatermarkTimeout <= 0 {
		verr.add("pipeline.idle_watermark_timeout must be positive")
	}
	if p.IdleCheckInterval <= 0 {
		verr.add("pipeline.idle_check_interval must be positive")
	}
	if p.CheckpointInterval <= 0 {
		verr.add("pipeline.checkpoint_interval must be positive")
	}
	switch p.CheckpointBackend {
	case CheckpointBackendMemory, CheckpointBackendRedis, CheckpointBackendBadger:
	default:
		verr.add("pipeline.checkpoint_backend %q is not supported", p.CheckpointBackend)
	}
	if p.Shards <= 0 {
		verr.add("pipeline.shards must be positive")
	}
	if p.ShardQueueSize <= 0 {
		verr.add("pipeline.shard_queue_size must be positive")
	}
	if p.LatePolicy != LatePolicyDrop && p.LatePolicy != LatePolicyMerge {
		verr.add("pipeline.late_policy %q must be %q or %q", p.LatePolicy, LatePolicyDrop, LatePolicyMerge)
	}
	if p.OnResourceError != ResourcePolicyPause && p.OnResourceError != ResourcePolicyBestEffort {
		verr.add("pipeline.on_resource_error %q must be %q or %q", p.OnResourceError, ResourcePolicyPause, ResourcePolicyBestEffort)
	}
	if p.DimensionLookupTimeout <= 0 {
		verr.add("pipeline.dimension_lookup_timeout must be positive")
	}
	if p.SinkTimeout <= 0 {
		verr.add("pipeline.sink_timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Rules))
	for i, r := range c.Rules {
		if r.Name == "" {
			verr.add("rules[%d].name is required", i)
		} else if seen[r.Name] {
			verr.add("rules[%d].name %q is duplicated", i, r.Name)
		}
		seen[r.Name] = true
		if !r.Metric.IsValid() {
			verr.add("rules[%d].metric %q is not supported", i, r.Metric)
		}
		if !r.Operator.IsValid() {
			verr.add("rules[%d].operator %q is not supported", i, r.Operator)
		}
	}

	if c.S3.Enabled() && c.S3.BatchSize <= 0 {
		verr.add("s3.batch_size must be positive")
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}
