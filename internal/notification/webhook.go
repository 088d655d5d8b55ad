package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"logsentinel/internal/domain"
	"logsentinel/internal/metrics"
	"logsentinel/internal/retry"
)

// WebhookNotifier POSTs alerts as JSON to a fixed URL.
// 5xx responses and transport errors are retried; 4xx responses are not.
type WebhookNotifier struct {
	url    string
	client *http.Client
	policy retry.Policy
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier. timeout bounds each attempt.
func NewWebhookNotifier(url string, timeout time.Duration, policy retry.Policy, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		policy: policy,
		logger: logger,
	}
}

// Name implements Notifier.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Notify sends the alert, retrying transient failures.
func (n *WebhookNotifier) Notify(ctx context.Context, alert *domain.AlertRecord) error {
	body, err := json.Marshal(BuildPayload(alert))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = retry.Do(ctx, n.policy, n.logger, "webhook", func(ctx context.Context) error {
		return n.post(ctx, body)
	})
	if err != nil {
		metrics.NotificationsSentTotal.WithLabelValues(n.Name(), "failure").Inc()
		return fmt.Errorf("failed to deliver alert %s: %w", alert.ID, err)
	}

	metrics.NotificationsSentTotal.WithLabelValues(n.Name(), "success").Inc()
	observeLatency(alert)
	n.logger.Debug("alert notification delivered", "alertID", alert.ID, "rule", alert.RuleName)
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("webhook rejected notification: %d", resp.StatusCode))
	}
	return nil
}
