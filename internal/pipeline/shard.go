package pipeline

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync/atomic"
	"time"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
	"logsentinel/internal/window"
)

type control int

const (
	ctrlNone control = iota
	ctrlIdle
	ctrlSnapshot
	ctrlFlush
)

// shardMsg carries either an event or a control request. Both travel on the
// same channel so a control request observes every event enqueued before it.
type shardMsg struct {
	event *domain.EnrichedEvent
	ctrl  control
	reply chan<- shardReply
}

type shardReply struct {
	shard    int
	services []window.ServiceSnapshot
}

// shardStats is published by the shard after each control message.
type shardStats struct {
	watermarks  map[string]time.Time
	openWindows int
	droppedLate int64
	mergedLate  int64
}

// shard owns the window state of the services hashed to it.
type shard struct {
	id    int
	label string
	in    chan shardMsg
	agg   *window.Aggregator
	p     *Pipeline
	stats atomic.Pointer[shardStats]
}

func newShard(id int, p *Pipeline, cfg window.Config, queueSize int) *shard {
	s := &shard{
		id:    id,
		label: strconv.Itoa(id),
		in:    make(chan shardMsg, queueSize),
		agg:   window.NewAggregator(cfg),
		p:     p,
	}
	s.publishStats()
	return s
}

// shardIndex maps a service to its shard. Services never span shards.
func shardIndex(service string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(service))
	return int(h.Sum32() % uint32(n))
}

// run processes messages until the input channel is closed.
func (s *shard) run() error {
	for msg := range s.in {
		metrics.ShardQueueDepth.WithLabelValues(s.label).Set(float64(len(s.in)))

		switch msg.ctrl {
		case ctrlNone:
			out, _ := s.agg.Add(*msg.event)
			s.emit(out)

		case ctrlIdle:
			s.emit(s.agg.AdvanceIdle())
			s.publishStats()

		case ctrlSnapshot:
			msg.reply <- shardReply{shard: s.id, services: s.agg.Snapshot().Services}
			s.publishStats()

		case ctrlFlush:
			s.emit(s.agg.Flush())
			s.publishStats()
			if msg.reply != nil {
				msg.reply <- shardReply{shard: s.id}
			}
		}

		metrics.OpenWindows.WithLabelValues(s.label).Set(float64(s.agg.OpenWindows()))
	}
	s.publishStats()
	return nil
}

// emit publishes finalized windows, evaluates rules against them and
// dispatches the resulting alerts.
func (s *shard) emit(windows []domain.WindowMetrics) {
	if len(windows) == 0 {
		return
	}

	pruned := make(map[string]bool)
	for _, m := range windows {
		s.p.publishWindow(m)

		for _, alert := range s.p.evaluator.Evaluate(m) {
			s.p.dispatchAlert(alert)
		}

		if !pruned[m.Service] {
			pruned[m.Service] = true
			if horizon, ok := s.agg.RetentionHorizon(m.Service); ok {
				s.p.evaluator.Prune(m.Service, horizon)
			}
		}
	}
}

func (s *shard) publishStats() {
	s.stats.Store(&shardStats{
		watermarks:  s.agg.Watermarks(),
		openWindows: s.agg.OpenWindows(),
		droppedLate: s.agg.DroppedLate(),
		mergedLate:  s.agg.MergedLate(),
	})
}

// send enqueues a message, blocking while the shard queue is full.
func (s *shard) send(ctx context.Context, msg shardMsg) error {
	select {
	case s.in <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
