package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"logsentinel/internal/config"
	"logsentinel/internal/metrics"
)

// ResourceError is a sink or store failure that survived its retries.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// ErrPaused is wrapped by the error a paused pipeline returns.
var ErrPaused = errors.New("ingestion paused")

// Supervisor decides what a ResourceError does to the pipeline. Under the
// pause policy the first error stops ingestion; under best_effort the
// pipeline keeps running and reports itself degraded.
type Supervisor struct {
	policy config.ResourcePolicy
	logger *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	fatal    error
	degraded bool
	lastErr  error
	count    int64
}

// NewSupervisor creates a supervisor for the given policy.
func NewSupervisor(policy config.ResourcePolicy, logger *slog.Logger) *Supervisor {
	if policy == "" {
		policy = config.ResourcePolicyBestEffort
	}
	return &Supervisor{policy: policy, logger: logger}
}

// bind sets the function that stops ingestion.
func (s *Supervisor) bind(cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// Report records a failure and applies the policy. Context cancellation is
// not a resource failure and is ignored.
func (s *Supervisor) Report(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	op := "unknown"
	var re *ResourceError
	if errors.As(err, &re) {
		op = re.Op
	}
	metrics.ResourceErrorsTotal.WithLabelValues(op).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.lastErr = err

	if s.policy == config.ResourcePolicyPause {
		if s.fatal == nil {
			s.fatal = fmt.Errorf("%w: %w", ErrPaused, err)
			s.logger.Error("resource failure, pausing ingestion", "operation", op, "error", err)
			if s.cancel != nil {
				s.cancel()
			}
		}
		return
	}

	if !s.degraded {
		s.degraded = true
		metrics.Degraded.Set(1)
	}
	s.logger.Warn("resource failure, continuing degraded", "operation", op, "error", err)
}

// Err returns the error that paused ingestion, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Degraded reports whether a failure was absorbed under best_effort.
func (s *Supervisor) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// LastError returns the most recent reported failure.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Failures returns how many failures were reported.
func (s *Supervisor) Failures() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
