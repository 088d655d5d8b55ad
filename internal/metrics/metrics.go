// Package metrics provides Prometheus metrics for LogSentinel.
// It tracks validation outcomes, window finalization, lateness drops,
// alert emission and sink health so operators can see what the pipeline
// absorbed instead of propagating.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "logsentinel"
)

// Event metrics track the ingestion and validation stages.
var (
	// EventsReceivedTotal counts raw log messages accepted by the ingest API.
	EventsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Total number of raw log messages received by the ingest API",
		},
	)

	// EventsPublishedTotal counts messages successfully published to the queue.
	EventsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of log messages published to the message queue",
		},
	)

	// EventsValidated counts validation outcomes by status.
	EventsValidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_validated_total",
			Help:      "Total number of validated events by status",
		},
		[]string{"status"}, // VALID or a reason code
	)

	// EventsQuarantinedTotal counts events written to the quarantine sink.
	EventsQuarantinedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_quarantined_total",
			Help:      "Total number of events routed to quarantine",
		},
		[]string{"reason"},
	)

	// EventsEnrichedTotal counts enrichment outcomes.
	EventsEnrichedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_enriched_total",
			Help:      "Total number of enriched events",
		},
		[]string{"result"}, // result: matched, unknown, timeout
	)

	// EventsSkippedTotal counts replayed messages at or below a restored offset.
	EventsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_skipped_total",
			Help:      "Total number of replayed messages skipped after checkpoint restore",
		},
	)

	// EventProcessingLatency measures time from dequeue to shard hand-off.
	EventProcessingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_processing_latency_seconds",
			Help:      "Time to validate and enrich a single event in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)
)

// Window metrics track the aggregation stage.
var (
	// WindowsFinalizedTotal counts finalized windows.
	WindowsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_finalized_total",
			Help:      "Total number of finalized windows",
		},
		[]string{"trigger"}, // trigger: watermark, idle, flush, revision
	)

	// LateEventsDroppedTotal counts events whose window had already finalized.
	LateEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_dropped_total",
			Help:      "Total number of events dropped because their window had already finalized",
		},
		[]string{"service"},
	)

	// LateEventsMergedTotal counts late events merged into a finalized window.
	LateEventsMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_events_merged_total",
			Help:      "Total number of late events merged into a finalized window",
		},
		[]string{"service"},
	)

	// OpenWindows tracks the number of open windows per shard.
	OpenWindows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_windows",
			Help:      "Current number of open windows",
		},
		[]string{"shard"},
	)

	// ShardQueueDepth tracks buffered messages per shard.
	ShardQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shard_queue_depth",
			Help:      "Current number of messages buffered for a shard",
		},
		[]string{"shard"},
	)
)

// Alert metrics track alert lifecycle.
var (
	// AlertsFiredTotal counts alerts emitted by the evaluator.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_fired_total",
			Help:      "Total number of alerts fired",
		},
		[]string{"rule"},
	)

	// AlertsSuppressedTotal counts evaluations suppressed by deduplication.
	AlertsSuppressedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Total number of repeat firings suppressed for an already alerted window",
		},
		[]string{"rule"},
	)

	// AlertLatency measures time from window end to alert emission.
	AlertLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "alert_latency_seconds",
			Help:      "Time from window end to alert emission in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// Notification metrics track the notification pipeline.
var (
	// NotificationsSentTotal counts notifications sent.
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Total number of notifications sent",
		},
		[]string{"notifier", "status"}, // status: success, failure
	)

	// NotificationLatency measures time to deliver one notification.
	NotificationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "notification_latency_seconds",
			Help:      "Time to deliver a notification in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)

// Pipeline metrics track checkpointing and supervisor state.
var (
	// CheckpointsTotal counts checkpoint attempts.
	CheckpointsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Total number of checkpoint attempts",
		},
		[]string{"status"},
	)

	// CheckpointLatency measures time to snapshot and persist a checkpoint.
	CheckpointLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_latency_seconds",
			Help:      "Time to snapshot and persist a checkpoint in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// CheckpointSizeBytes tracks the compressed checkpoint payload size.
	CheckpointSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "checkpoint_size_bytes",
			Help:      "Size of the last persisted checkpoint in bytes",
		},
	)

	// ResourceErrorsTotal counts I/O failures reported to the supervisor.
	ResourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_errors_total",
			Help:      "Total number of sink or store failures reported to the supervisor",
		},
		[]string{"operation"},
	)

	// Degraded is 1 while the pipeline runs in best-effort mode after a resource error.
	Degraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded",
			Help:      "1 when alerting is degraded by an unavailable sink or store",
		},
	)
)

// Queue metrics track message queue health.
var (
	// QueueDepth tracks the current number of messages in the queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of messages in the queue",
		},
	)

	// QueuePublishLatency measures time to publish a message to the queue.
	QueuePublishLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_publish_latency_seconds",
			Help:      "Time to publish a message to the queue in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
		},
	)
)

// Storage metrics track database, cache and archive operations.
var (
	// StorageOperationLatency measures latency of storage operations.
	StorageOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_operation_latency_seconds",
			Help:      "Latency of storage operations in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"store", "operation"}, // store: postgres, redis, badger, s3
	)

	// StorageOperationsTotal counts storage operations.
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Total number of storage operations",
		},
		[]string{"store", "operation", "status"}, // status: success, failure
	)

	// ArchivedEventsTotal counts valid events uploaded to the archive.
	ArchivedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_events_total",
			Help:      "Total number of valid events written to the archive",
		},
	)
)
