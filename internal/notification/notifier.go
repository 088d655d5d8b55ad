// Package notification delivers alert records to people. The stub notifier
// logs what it would send; the webhook notifier POSTs a JSON payload and
// retries transient failures with backoff.
package notification

import (
	"context"
	"log/slog"
	"time"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
)

// NotificationPayload represents the data sent in webhook notifications.
type NotificationPayload struct {
	AlertID       string    `json:"alert_id"`
	DedupKey      string    `json:"dedup_key"`
	RuleName      string    `json:"rule_name"`
	Service       string    `json:"service"`
	WindowStart   time.Time `json:"window_start"`
	ObservedValue float64   `json:"observed_value"`
	Threshold     float64   `json:"threshold"`
	Owner         string    `json:"owner,omitempty"`
	Tier          string    `json:"tier,omitempty"`
	Summary       string    `json:"summary"`
	FiredAt       time.Time `json:"fired_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier defines the interface for sending alert notifications.
type Notifier interface {
	// Name identifies the notifier in metrics and logs.
	Name() string

	// Notify delivers one alert. Implementations own their retry policy.
	Notify(ctx context.Context, alert *domain.AlertRecord) error
}

// StubNotifier is a no-op implementation that logs notifications.
// It is used when no webhook is configured.
type StubNotifier struct {
	logger *slog.Logger
}

// NewStubNotifier creates a new stub notifier.
func NewStubNotifier(logger *slog.Logger) *StubNotifier {
	return &StubNotifier{
		logger: logger,
	}
}

// Name implements Notifier.
func (n *StubNotifier) Name() string {
	return "stub"
}

// Notify logs the alert that would have been sent.
func (n *StubNotifier) Notify(ctx context.Context, alert *domain.AlertRecord) error {
	payload := BuildPayload(alert)

	n.logger.Info("STUB: would send alert notification",
		"alertID", payload.AlertID,
		"rule", payload.RuleName,
		"service", payload.Service,
		"summary", payload.Summary,
		"owner", payload.Owner,
	)

	metrics.NotificationsSentTotal.WithLabelValues(n.Name(), "success").Inc()
	observeLatency(alert)
	return nil
}

// BuildPayload creates a notification payload from an alert.
func BuildPayload(alert *domain.AlertRecord) *NotificationPayload {
	return &NotificationPayload{
		AlertID:       alert.ID,
		DedupKey:      alert.DedupKey(),
		RuleName:      alert.RuleName,
		Service:       alert.Service,
		WindowStart:   alert.WindowKey.Start,
		ObservedValue: alert.ObservedValue,
		Threshold:     alert.Threshold,
		Owner:         alert.Owner,
		Tier:          alert.Tier,
		Summary:       summary(alert),
		FiredAt:       alert.FiredAt,
		Timestamp:     time.Now().UTC(),
	}
}

func summary(alert *domain.AlertRecord) string {
	return alert.RuleName + " on " + alert.Service + " at " + alert.WindowKey.Start.UTC().Format(time.RFC3339)
}

// observeLatency tracks the time from alert creation to notification dispatch.
func observeLatency(alert *domain.AlertRecord) {
	if !alert.FiredAt.IsZero() {
		metrics.NotificationLatency.Observe(time.Since(alert.FiredAt).Seconds())
	}
}
