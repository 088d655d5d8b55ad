package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	json "github.com/goccy/go-json"
	. "github.com/onsi/gomega"

	"logsentinel/internal/alerting"
	"logsentinel/internal/api"
	"logsentinel/internal/config"
	"logsentinel/internal/dimension"
	"logsentinel/internal/enrich"
	"logsentinel/internal/ingest"
	"logsentinel/internal/notification"
	"logsentinel/internal/pipeline"
	"logsentinel/internal/queue/memory"
	"logsentinel/internal/retry"
	"logsentinel/internal/sink"
	storemem "logsentinel/internal/store/memory"
	"logsentinel/internal/validator"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// stack is a complete memory-mode deployment without a network listener.
type stack struct {
	server      *api.Server
	pipeline    *pipeline.Pipeline
	queue       *memory.Queue
	checkpoints *storemem.CheckpointStore

	cancel context.CancelFunc
	done   chan error
}

type stackOptions struct {
	webhookURL  string
	checkpoints *storemem.CheckpointStore
	latePolicy  config.LatePolicy
}

func newStack(opts stackOptions) *stack {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Pipeline.IdleCheckInterval = time.Hour
	cfg.Pipeline.CheckpointInterval = time.Hour
	cfg.Pipeline.ShutdownTimeout = 5 * time.Second
	if opts.latePolicy != "" {
		cfg.Pipeline.LatePolicy = opts.latePolicy
	}

	checkpoints := opts.checkpoints
	if checkpoints == nil {
		checkpoints = storemem.NewCheckpointStore()
	}

	q := memory.NewQueue(1000)
	dims := dimension.NewStore(storemem.NewDimensionRepository(), logger)
	alertRepo := storemem.NewAlertRepository()
	quarantineRepo := storemem.NewQuarantineRepository()
	windowRepo := storemem.NewWindowMetricsRepository()

	policy := retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	notifiers := []notification.Notifier{notification.NewStubNotifier(logger)}
	if opts.webhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(opts.webhookURL, time.Second, policy, logger))
	}

	p, err := pipeline.New(cfg.Pipeline, pipeline.Components{
		Consumer:    q,
		Validator:   validator.New(),
		Enricher:    enrich.New(dims, cfg.Pipeline.DimensionLookupTimeout, logger),
		Evaluator:   alerting.NewEvaluator(alerting.RulesFromConfig(cfg.Rules)),
		Checkpoints: checkpoints,
		Quarantine:  sink.NewQuarantine(quarantineRepo, policy, logger),
		ValidLog:    sink.NewMemoryValidLog(1000),
		Windows:     sink.NewWindows(windowRepo, policy, logger),
		Alerts:      sink.NewAlerts(alertRepo, notifiers, policy, logger),
	}, logger)
	Expect(err).NotTo(HaveOccurred())

	server := api.NewServer(api.ServerDeps{
		Config:            &cfg.Server,
		Logger:            logger,
		IngestHandler:     api.NewIngestHandler(ingest.NewService(q, logger), logger),
		DimensionHandler:  api.NewDimensionHandler(dims, logger),
		AlertHandler:      api.NewAlertHandler(alertRepo, logger),
		QuarantineHandler: api.NewQuarantineHandler(quarantineRepo, logger),
		WindowHandler:     api.NewWindowHandler(windowRepo, logger),
		StatusHandler:     api.NewStatusHandler(p),
		DisableRequestLog: true,
	})

	return &stack{
		server:      server,
		pipeline:    p,
		queue:       q,
		checkpoints: checkpoints,
	}
}

// start runs the pipeline in the background.
func (s *stack) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() {
		s.done <- s.pipeline.Start(ctx)
	}()
}

// drain ends the input stream and waits for the pipeline to flush and stop.
func (s *stack) drain() {
	s.queue.CloseInput()
	Eventually(s.done, 10*time.Second).Should(Receive(BeNil()))
}

func (s *stack) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *api.Problem    `json:"error"`
}

// request performs an in-process HTTP call and decodes the envelope.
func (s *stack) request(method, path string, body any) (int, apiResponse) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.server.App().Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out apiResponse
	if resp.StatusCode != http.StatusNoContent {
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	}
	return resp.StatusCode, out
}

// decode unmarshals an envelope's data into target.
func decode(resp apiResponse, target any) {
	ExpectWithOffset(1, json.Unmarshal(resp.Data, target)).To(Succeed())
}

func logEvent(id, service, level string, ts time.Time, responseTime int64) map[string]any {
	return map[string]any{
		"event_id":         id,
		"timestamp":        ts.Format(time.RFC3339Nano),
		"service":          service,
		"level":            level,
		"message":          "request failed",
		"response_time_ms": responseTime,
		"host":             "pod-1",
	}
}

// errorBurst returns n ERROR events for service spaced step apart from start.
func errorBurst(service string, start time.Time, n int, step time.Duration) []map[string]any {
	events := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		events = append(events, logEvent(fmt.Sprintf("%s-%03d", service, i), service, "ERROR", start.Add(time.Duration(i)*step), 120))
	}
	return events
}
