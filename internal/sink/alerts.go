package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"logsentinel/internal/domain"
	"logsentinel/internal/notification"
	"logsentinel/internal/retry"
	"logsentinel/internal/store"
)

var tracer = otel.Tracer("logsentinel.sink")

// Alerts persists alert records and fans them out to notifiers.
// The repository's (rule, window) uniqueness makes Send idempotent: an alert
// replayed after a restart is stored once. It is notified until every
// notifier accepted it once, so delivery is at least once per notifier.
type Alerts struct {
	repo      store.AlertRepository
	notifiers []notification.Notifier
	policy    retry.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewAlerts creates the alert fan-out sink.
func NewAlerts(repo store.AlertRepository, notifiers []notification.Notifier, policy retry.Policy, logger *slog.Logger) *Alerts {
	return &Alerts{
		repo:      repo,
		notifiers: notifiers,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
	}
}

// Send stores the alert and notifies every notifier, unless an earlier Send
// for the same rule and window already completed its notifications.
// Notifier failures are joined and returned after all notifiers ran.
func (a *Alerts) Send(ctx context.Context, alert domain.AlertRecord) error {
	ctx, span := tracer.Start(ctx, "Alerts.Send",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("alert.rule", alert.RuleName),
			attribute.String("alert.service", alert.Service),
		),
	)
	defer span.End()

	var inserted bool
	err := retry.Do(ctx, a.policy, a.logger, "alerts.save", func(ctx context.Context) error {
		var err error
		inserted, err = a.repo.Save(ctx, &alert)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return fmt.Errorf("failed to save alert %s: %w", alert.DedupKey(), err)
	}
	span.SetAttributes(attribute.Bool("alert.inserted", inserted))

	target := &alert
	if !inserted {
		stored, err := a.repo.GetByWindow(ctx, alert.RuleName, alert.WindowKey)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "lookup failed")
			return fmt.Errorf("failed to load alert %s: %w", alert.DedupKey(), err)
		}
		if stored.NotifiedAt != nil {
			a.logger.Debug("alert already recorded", "dedupKey", alert.DedupKey())
			return nil
		}
		a.logger.Warn("alert stored without notification, notifying again",
			"alertID", stored.ID,
			"dedupKey", alert.DedupKey(),
		)
		target = stored
	} else {
		a.logger.Info("alert fired",
			"alertID", alert.ID,
			"rule", alert.RuleName,
			"service", alert.Service,
			"windowStart", alert.WindowKey.Start,
			"observed", alert.ObservedValue,
			"threshold", alert.Threshold,
		)
	}

	var errs []error
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, target); err != nil {
			a.logger.Error("notification failed", "notifier", n.Name(), "alertID", target.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		return err
	}

	err = retry.Do(ctx, a.policy, a.logger, "alerts.mark_notified", func(ctx context.Context) error {
		return a.repo.MarkNotified(ctx, target.ID, a.now())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark notified failed")
		return fmt.Errorf("failed to mark alert %s notified: %w", target.ID, err)
	}
	return nil
}
