package pipeline

import (
	"context"
	"errors"
	"maps"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"logsentinel/internal/metrics"
	"logsentinel/internal/retry"
	"logsentinel/internal/store"
	"logsentinel/internal/window"
)

var tracer = otel.Tracer("logsentinel.pipeline")

// ErrCheckpointSuspended is returned by checkpoint once ingestion paused on a
// resource failure. The saved cut stays at the last point where every sink
// write had succeeded, so a restart replays the failed work.
var ErrCheckpointSuspended = errors.New("checkpoint suspended after resource failure")

// coordinate advances idle watermarks and takes periodic checkpoints until
// stop is closed or ctx is done.
func (p *Pipeline) coordinate(ctx context.Context, stop <-chan struct{}) {
	idleEvery := p.cfg.IdleCheckInterval
	if idleEvery <= 0 {
		idleEvery = 10 * time.Second
	}
	checkpointEvery := p.cfg.CheckpointInterval
	if checkpointEvery <= 0 {
		checkpointEvery = 30 * time.Second
	}

	idle := time.NewTicker(idleEvery)
	defer idle.Stop()
	cp := time.NewTicker(checkpointEvery)
	defer cp.Stop()

	// Sends must not outlive stop, or Start could close a shard channel
	// under a pending send.
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-sendCtx.Done():
		}
	}()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-idle.C:
			if err := p.broadcast(sendCtx, ctrlIdle, false); err != nil {
				return
			}
		case <-cp.C:
			if err := p.checkpoint(sendCtx); err != nil && !errors.Is(err, ErrCheckpointSuspended) {
				p.supervisor.Report(err)
			}
		}
	}
}

// checkpoint captures a consistent cut and saves it. Holding mu keeps the
// consumer from enqueuing, so the snapshot each shard returns reflects
// exactly the events up to the recorded offsets. The evaluator is read after
// every shard replied; no shard has work left that could change it.
//
// A shard reports sink failures for its events before it answers the
// snapshot request, so checking the supervisor after the cut catches every
// failure the cut covers.
func (p *Pipeline) checkpoint(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Pipeline.checkpoint")
	defer span.End()
	start := time.Now()

	if err := p.supervisor.Err(); err != nil {
		return p.suspendCheckpoint(err)
	}

	p.mu.Lock()
	offsets := maps.Clone(p.offsets)
	services, err := p.collectSnapshots(ctx)
	fired := p.evaluator.Snapshot()
	p.mu.Unlock()
	if perr := p.supervisor.Err(); perr != nil {
		return p.suspendCheckpoint(perr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		metrics.CheckpointsTotal.WithLabelValues("failure").Inc()
		return &ResourceError{Op: "checkpoint", Err: err}
	}

	cp := &store.Checkpoint{
		Offsets:   offsets,
		Windows:   services,
		Fired:     fired,
		CreatedAt: time.Now().UTC(),
	}
	span.SetAttributes(
		attribute.Int("checkpoint.services", len(services)),
		attribute.Int("checkpoint.fired", len(fired)),
	)

	err = retry.Do(ctx, retry.DefaultPolicy(), p.logger, "checkpoint.save", func(ctx context.Context) error {
		return p.checkpoints.Save(ctx, cp)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		metrics.CheckpointsTotal.WithLabelValues("failure").Inc()
		return &ResourceError{Op: "checkpoint", Err: err}
	}

	if p.committer != nil && len(offsets) > 0 {
		if err := p.committer.Commit(ctx, offsets); err != nil {
			span.RecordError(err)
			metrics.CheckpointsTotal.WithLabelValues("failure").Inc()
			return &ResourceError{Op: "commit", Err: err}
		}
	}

	metrics.CheckpointsTotal.WithLabelValues("success").Inc()
	metrics.CheckpointLatency.Observe(time.Since(start).Seconds())
	p.checkpointsOK.Add(1)
	p.lastCheckpoint.Store(&cp.CreatedAt)

	p.logger.Debug("checkpoint saved",
		"services", len(services),
		"fired", len(fired),
		"offsets", offsets,
		"duration", time.Since(start),
	)
	return nil
}

func (p *Pipeline) suspendCheckpoint(cause error) error {
	metrics.CheckpointsTotal.WithLabelValues("suspended").Inc()
	p.logger.Warn("checkpoint skipped while paused", "cause", cause)
	return ErrCheckpointSuspended
}

func (p *Pipeline) collectSnapshots(ctx context.Context) ([]window.ServiceSnapshot, error) {
	reply := make(chan shardReply, len(p.shards))
	for _, s := range p.shards {
		if err := s.send(ctx, shardMsg{ctrl: ctrlSnapshot, reply: reply}); err != nil {
			return nil, err
		}
	}

	var services []window.ServiceSnapshot
	for range p.shards {
		select {
		case r := <-reply:
			services = append(services, r.services...)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	sort.Slice(services, func(i, j int) bool {
		return services[i].Service < services[j].Service
	})
	return services, nil
}
