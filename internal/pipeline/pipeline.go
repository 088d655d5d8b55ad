// Package pipeline wires the streaming stages together. The consumer
// goroutine decodes, validates, quarantines, archives and enriches each
// message in order, then hands the event to the shard that owns its
// service. Shards aggregate windows, evaluate rules and dispatch alerts.
// A coordinator takes periodic checkpoints of a consistent cut across all
// shards and advances idle watermarks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"logsentinel/internal/alerting"
	"logsentinel/internal/config"
	"logsentinel/internal/domain"
	"logsentinel/internal/enrich"
	"logsentinel/internal/metrics"
	"logsentinel/internal/queue"
	"logsentinel/internal/sink"
	"logsentinel/internal/store"
	"logsentinel/internal/validator"
	"logsentinel/internal/window"
)

// Components are the collaborators of a pipeline. ValidLog and Windows are
// optional.
type Components struct {
	Consumer    queue.Consumer
	Validator   *validator.Validator
	Enricher    *enrich.Enricher
	Evaluator   *alerting.Evaluator
	Checkpoints store.CheckpointStore
	Quarantine  sink.QuarantineSink
	ValidLog    sink.ValidLogSink
	Windows     sink.WindowSink
	Alerts      sink.AlertSink

	// Clock drives idle watermark advance. Defaults to time.Now.
	Clock func() time.Time
}

func (c *Components) validate() error {
	var missing []string
	if c.Consumer == nil {
		missing = append(missing, "consumer")
	}
	if c.Validator == nil {
		missing = append(missing, "validator")
	}
	if c.Enricher == nil {
		missing = append(missing, "enricher")
	}
	if c.Evaluator == nil {
		missing = append(missing, "evaluator")
	}
	if c.Checkpoints == nil {
		missing = append(missing, "checkpoint store")
	}
	if c.Quarantine == nil {
		missing = append(missing, "quarantine sink")
	}
	if c.Alerts == nil {
		missing = append(missing, "alert sink")
	}
	if len(missing) > 0 {
		return fmt.Errorf("pipeline: missing components: %v", missing)
	}
	return nil
}

// Pipeline is the single-node streaming engine.
type Pipeline struct {
	cfg       config.PipelineConfig
	consumer  queue.Consumer
	committer queue.Committer

	validator   *validator.Validator
	enricher    *enrich.Enricher
	evaluator   *alerting.Evaluator
	checkpoints store.CheckpointStore
	quarantine  sink.QuarantineSink
	validLog    sink.ValidLogSink
	windows     sink.WindowSink
	alerts      sink.AlertSink

	supervisor *Supervisor
	logger     *slog.Logger
	shards     []*shard

	// base outlives cancellation of Start's context so in-flight sink
	// writes and the final checkpoint can complete during shutdown.
	base context.Context

	// mu orders enqueues against checkpoint cuts. offsets holds the last
	// message per partition that is fully handed off.
	mu       sync.Mutex
	offsets  map[int]int64
	restored map[int]int64

	running        atomic.Bool
	processed      atomic.Int64
	quarantined    atomic.Int64
	skipped        atomic.Int64
	checkpointsOK  atomic.Int64
	lastCheckpoint atomic.Pointer[time.Time]
}

// New creates a pipeline. cfg must already be validated.
func New(cfg config.PipelineConfig, c Components, logger *slog.Logger) (*Pipeline, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 1
	}
	if cfg.ShardQueueSize <= 0 {
		cfg.ShardQueueSize = 1024
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}

	p := &Pipeline{
		cfg:         cfg,
		consumer:    c.Consumer,
		validator:   c.Validator,
		enricher:    c.Enricher,
		evaluator:   c.Evaluator,
		checkpoints: c.Checkpoints,
		quarantine:  c.Quarantine,
		validLog:    c.ValidLog,
		windows:     c.Windows,
		alerts:      c.Alerts,
		supervisor:  NewSupervisor(cfg.OnResourceError, logger),
		logger:      logger,
		base:        context.Background(),
		offsets:     make(map[int]int64),
		restored:    make(map[int]int64),
	}
	if committer, ok := c.Consumer.(queue.Committer); ok {
		p.committer = committer
	}

	wcfg := window.Config{
		Length:            cfg.WindowLength,
		AllowedLateness:   cfg.AllowedLateness,
		MaxOutOfOrderness: cfg.MaxOutOfOrderness,
		IdleTimeout:       cfg.IdleWatermarkTimeout,
		LatePolicy:        window.LatePolicy(cfg.LatePolicy),
		Clock:             c.Clock,
	}
	p.shards = make([]*shard, cfg.Shards)
	for i := range p.shards {
		p.shards[i] = newShard(i, p, wcfg, cfg.ShardQueueSize)
	}
	return p, nil
}

// Supervisor returns the pipeline's resource failure supervisor.
func (p *Pipeline) Supervisor() *Supervisor {
	return p.supervisor
}

// Start restores the last checkpoint and consumes until ctx is canceled,
// the source ends, or a resource failure pauses ingestion. When the source
// ends every open window is flushed. A final checkpoint is taken unless a
// resource failure paused ingestion, in which case the last saved cut stays
// so a restart replays the failed work. Cancellation returns nil; a pause
// returns an error wrapping ErrPaused.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}
	defer p.running.Store(false)

	p.base = context.WithoutCancel(ctx)

	if err := p.restore(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.supervisor.bind(cancel)

	var shards errgroup.Group
	for _, s := range p.shards {
		shards.Go(s.run)
	}

	stopCoordinator := make(chan struct{})
	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		p.coordinate(runCtx, stopCoordinator)
	}()

	p.logger.Info("pipeline started",
		"shards", len(p.shards),
		"windowLength", p.cfg.WindowLength,
		"latePolicy", p.cfg.LatePolicy,
		"onResourceError", p.cfg.OnResourceError,
	)

	consumeErr := p.consumer.Start(runCtx, p.handleMessage)

	close(stopCoordinator)
	<-coordinatorDone

	shutdownCtx, cancelShutdown := p.shutdownContext()
	defer cancelShutdown()

	if consumeErr == nil && p.supervisor.Err() == nil {
		p.logger.Info("source exhausted, flushing open windows")
		if err := p.broadcast(shutdownCtx, ctrlFlush, true); err != nil {
			p.logger.Error("failed to flush shards", "error", err)
		}
	}

	switch err := p.checkpoint(shutdownCtx); {
	case errors.Is(err, ErrCheckpointSuspended):
		p.logger.Warn("final checkpoint skipped, restart resumes from the last saved cut")
	case err != nil:
		p.logger.Error("final checkpoint failed", "error", err)
	}

	for _, s := range p.shards {
		close(s.in)
	}
	_ = shards.Wait()

	if err := p.supervisor.Err(); err != nil {
		return err
	}
	if consumeErr != nil && !errors.Is(consumeErr, context.Canceled) {
		return fmt.Errorf("consumer stopped: %w", consumeErr)
	}

	p.logger.Info("pipeline stopped",
		"processed", p.processed.Load(),
		"quarantined", p.quarantined.Load(),
	)
	return nil
}

func (p *Pipeline) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := p.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(p.base, timeout)
}

// sinkContext bounds one sink write. It is derived from base so writes
// started before shutdown are not cut off by it.
func (p *Pipeline) sinkContext() (context.Context, context.CancelFunc) {
	if p.cfg.SinkTimeout <= 0 {
		return context.WithCancel(p.base)
	}
	return context.WithTimeout(p.base, p.cfg.SinkTimeout)
}

// handleMessage runs on the consumer goroutine, one message at a time.
func (p *Pipeline) handleMessage(ctx context.Context, msg *queue.Message) error {
	if err := p.supervisor.Err(); err != nil {
		return err
	}
	start := time.Now()

	if last, ok := p.restored[msg.Partition]; ok && msg.Offset <= last {
		p.skipped.Add(1)
		metrics.EventsSkippedTotal.Inc()
		return nil
	}

	ev, err := domain.DecodeLogEvent(msg.Value)
	if err != nil {
		p.logger.Debug("undecodable payload", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		p.quarantineEvent(msg, domain.ValidationResult{Status: domain.ReasonMalformedPayload}, msg.Value)
		p.markOffset(msg)
		return p.supervisor.Err()
	}

	res := p.validator.Validate(ev)
	if !res.IsValid() {
		p.quarantineEvent(msg, res, msg.Value)
		p.markOffset(msg)
		return p.supervisor.Err()
	}

	if p.validLog != nil {
		sctx, cancel := p.sinkContext()
		err := p.validLog.Accept(sctx, ev)
		cancel()
		if err != nil {
			p.supervisor.Report(&ResourceError{Op: "archive", Err: err})
		}
	}

	enriched, err := p.enricher.Enrich(ctx, res)
	if err != nil {
		return fmt.Errorf("failed to enrich event %q: %w", ev.EventID, err)
	}

	if err := p.enqueue(ctx, msg, enriched); err != nil {
		return err
	}

	p.processed.Add(1)
	metrics.EventProcessingLatency.Observe(time.Since(start).Seconds())
	return p.supervisor.Err()
}

func (p *Pipeline) quarantineEvent(msg *queue.Message, res domain.ValidationResult, raw []byte) {
	rec := &domain.QuarantineRecord{
		Event:     res.Event,
		Reason:    res.Status,
		Raw:       raw,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	sctx, cancel := p.sinkContext()
	defer cancel()
	if err := p.quarantine.Quarantine(sctx, rec); err != nil {
		p.supervisor.Report(&ResourceError{Op: "quarantine", Err: err})
		return
	}
	p.quarantined.Add(1)
}

func (p *Pipeline) enqueue(ctx context.Context, msg *queue.Message, ev domain.EnrichedEvent) error {
	s := p.shards[shardIndex(ev.Service, len(p.shards))]

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := s.send(ctx, shardMsg{event: &ev}); err != nil {
		return err
	}
	p.offsets[msg.Partition] = msg.Offset
	return nil
}

func (p *Pipeline) markOffset(msg *queue.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offsets[msg.Partition] = msg.Offset
}

func (p *Pipeline) publishWindow(m domain.WindowMetrics) {
	if p.windows == nil {
		return
	}
	sctx, cancel := p.sinkContext()
	defer cancel()
	if err := p.windows.Publish(sctx, m); err != nil {
		p.supervisor.Report(&ResourceError{Op: "publish_window", Err: err})
	}
}

func (p *Pipeline) dispatchAlert(alert domain.AlertRecord) {
	sctx, cancel := p.sinkContext()
	defer cancel()
	if err := p.alerts.Send(sctx, alert); err != nil {
		// Undelivered, so a replay of the window may fire it again.
		p.evaluator.Forget(alert.RuleName, alert.WindowKey)
		p.supervisor.Report(&ResourceError{Op: "alert", Err: err})
	}
}

// restore loads the last checkpoint into the shards and the evaluator.
// Messages at or below the restored offsets are skipped.
func (p *Pipeline) restore(ctx context.Context) error {
	cp, err := p.checkpoints.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		p.logger.Info("no checkpoint found, starting fresh")
		return nil
	}

	byShard := make([][]window.ServiceSnapshot, len(p.shards))
	for _, svc := range cp.Windows {
		i := shardIndex(svc.Service, len(p.shards))
		byShard[i] = append(byShard[i], svc)
	}
	for i, s := range p.shards {
		s.agg.Restore(byShard[i])
		s.publishStats()
	}
	p.evaluator.Restore(cp.Fired)

	p.mu.Lock()
	p.restored = maps.Clone(cp.Offsets)
	p.offsets = maps.Clone(cp.Offsets)
	p.mu.Unlock()

	created := cp.CreatedAt
	p.lastCheckpoint.Store(&created)

	p.logger.Info("restored checkpoint",
		"createdAt", cp.CreatedAt,
		"services", len(cp.Windows),
		"fired", len(cp.Fired),
		"offsets", cp.Offsets,
	)
	return nil
}

// broadcast sends a control message to every shard. With wait set it
// blocks until every shard has handled it.
func (p *Pipeline) broadcast(ctx context.Context, ctrl control, wait bool) error {
	var reply chan shardReply
	if wait {
		reply = make(chan shardReply, len(p.shards))
	}
	for _, s := range p.shards {
		msg := shardMsg{ctrl: ctrl}
		if wait {
			msg.reply = reply
		}
		if err := s.send(ctx, msg); err != nil {
			return err
		}
	}
	if !wait {
		return nil
	}
	for range p.shards {
		select {
		case <-reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
