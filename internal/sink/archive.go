package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
	"logsentinel/internal/retry"
)

// ErrArchiveClosed is returned by Accept after Close.
var ErrArchiveClosed = errors.New("archive closed")

// ObjectPutter uploads one object. S3Putter is the production implementation.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body []byte) error
}

// ArchiveConfig controls batching of the valid-log archive.
type ArchiveConfig struct {
	Prefix        string
	InstanceID    string
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	Retry         retry.Policy
}

func (c *ArchiveConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.InstanceID == "" {
		c.InstanceID = "logsentinel"
	}
}

// Archive batches valid events into gzip-compressed JSONL objects.
//
// collectLoop groups events by count or FlushInterval and hands batches to
// uploadLoop, which encodes and uploads them with retries. An upload that
// still fails is remembered and returned by the next Accept, so the failure
// reaches the caller's supervisor even though uploads are asynchronous.
type Archive struct {
	cfg    ArchiveConfig
	putter ObjectPutter
	logger *slog.Logger

	events  chan domain.LogEvent
	uploads chan []domain.LogEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	errMu   sync.Mutex
	lastErr error

	counter atomic.Uint64
}

// NewArchive creates an archive and starts its loops.
func NewArchive(putter ObjectPutter, cfg ArchiveConfig, logger *slog.Logger) *Archive {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	a := &Archive{
		cfg:     cfg,
		putter:  putter,
		logger:  logger,
		events:  make(chan domain.LogEvent, cfg.QueueSize),
		uploads: make(chan []domain.LogEvent, 4),
		ctx:     ctx,
		cancel:  cancel,
	}

	a.wg.Add(2)
	go a.collectLoop()
	go a.uploadLoop()
	return a
}

// Accept queues an event for archiving. It blocks while the queue is full.
// A non-nil error either means the event was not queued (ctx done, archive
// closed) or reports an earlier batch that could not be uploaded.
func (a *Archive) Accept(ctx context.Context, ev domain.LogEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrArchiveClosed
	}

	select {
	case a.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := a.takeErr(); err != nil {
		return fmt.Errorf("archive upload failed: %w", err)
	}
	return nil
}

// Close stops accepting events, uploads what is buffered and waits for the
// loops to finish or ctx to expire.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.cancel()
		return a.takeErr()
	case <-ctx.Done():
		a.cancel()
		<-done
		return ctx.Err()
	}
}

func (a *Archive) setErr(err error) {
	a.errMu.Lock()
	a.lastErr = err
	a.errMu.Unlock()
}

func (a *Archive) takeErr() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	err := a.lastErr
	a.lastErr = nil
	return err
}

func (a *Archive) collectLoop() {
	defer a.wg.Done()
	defer close(a.uploads)

	batch := make([]domain.LogEvent, 0, a.cfg.BatchSize)
	timer := time.NewTimer(a.cfg.FlushInterval)
	defer timer.Stop()

	reset := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.cfg.FlushInterval)
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		select {
		case a.uploads <- batch:
		case <-a.ctx.Done():
			return
		}
		batch = make([]domain.LogEvent, 0, a.cfg.BatchSize)
	}

	for {
		select {
		case ev, ok := <-a.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= a.cfg.BatchSize {
				flush()
				reset()
			}

		case <-timer.C:
			flush()
			timer.Reset(a.cfg.FlushInterval)
		}
	}
}

func (a *Archive) uploadLoop() {
	defer a.wg.Done()

	for batch := range a.uploads {
		if err := a.upload(a.ctx, batch); err != nil {
			a.logger.Error("failed to archive batch", "events", len(batch), "error", err)
			a.setErr(err)
		}
	}
}

func (a *Archive) upload(ctx context.Context, batch []domain.LogEvent) error {
	data, err := EncodeJSONLGzip(batch)
	if err != nil {
		return err
	}

	key := a.objectKey(time.Now().UTC())
	err = retry.Do(ctx, a.cfg.Retry, a.logger, "archive.put", func(ctx context.Context) error {
		return a.putter.PutObject(ctx, key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	metrics.ArchivedEventsTotal.Add(float64(len(batch)))
	a.logger.Debug("archived batch", "key", key, "events", len(batch), "bytes", len(data))
	return nil
}

// objectKey returns <prefix>/<yyyy>/<mm>/<dd>/<unix>_<instance>_<counter>.jsonl.gz.
// Keys sort by creation time within an instance.
func (a *Archive) objectKey(now time.Time) string {
	name := fmt.Sprintf("%d_%s_%06d.jsonl.gz", now.Unix(), a.cfg.InstanceID, a.counter.Add(1))
	return path.Join(a.cfg.Prefix, now.Format("2006/01/02"), name)
}

var (
	bufferPool = sync.Pool{
		New: func() any { return bytes.NewBuffer(make([]byte, 0, 256*1024)) },
	}
	gzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

const maxPooledBuffer = 1 << 20

// EncodeJSONLGzip writes one JSON object per line and gzips the result.
// The returned slice is owned by the caller.
func EncodeJSONLGzip(events []domain.LogEvent) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer func() {
		if buf.Cap() <= maxPooledBuffer {
			bufferPool.Put(buf)
		}
	}()

	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer gzipPool.Put(gz)

	enc := json.NewEncoder(gz)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			_ = gz.Close()
			return nil, fmt.Errorf("failed to encode event %q: %w", events[i].EventID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}

	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return data, nil
}
