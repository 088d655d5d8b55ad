package enrich

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"logsentinel/internal/dimension"
	"logsentinel/internal/domain"
)

var changeAt = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func validResult(service string, ts time.Time) domain.ValidationResult {
	return domain.ValidationResult{
		Event: domain.LogEvent{
			EventID:        "evt-1",
			Timestamp:      ts,
			Service:        service,
			Level:          domain.LevelError,
			Message:        "boom",
			ResponseTimeMs: domain.Int64(10),
		},
		Status: domain.StatusValid,
	}
}

func setupStore(t *testing.T) *dimension.Store {
	t.Helper()
	ctx := context.Background()
	s := dimension.NewStore(nil, testLogger())
	if _, err := s.ApplyChange(ctx, domain.DimensionChange{Service: "payment-service", Owner: "payments-old", Tier: "silver", EffectiveAt: changeAt.Add(-24 * time.Hour)}); err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}
	if _, err := s.ApplyChange(ctx, domain.DimensionChange{Service: "payment-service", Owner: "payments-new", Tier: "gold", EffectiveAt: changeAt}); err != nil {
		t.Fatalf("ApplyChange() error = %v", err)
	}
	return s
}

func TestEnricher_PointInTime(t *testing.T) {
	e := New(setupStore(t), time.Second, testLogger())

	before, err := e.Enrich(context.Background(), validResult("payment-service", changeAt.Add(-time.Second)))
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if before.Dimension.Owner != "payments-old" {
		t.Errorf("Dimension.Owner = %v, want payments-old", before.Dimension.Owner)
	}

	after, err := e.Enrich(context.Background(), validResult("payment-service", changeAt))
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if after.Dimension.Owner != "payments-new" || after.Dimension.Tier != "gold" {
		t.Errorf("Dimension = %+v, want payments-new/gold", after.Dimension)
	}
}

func TestEnricher_LateChangeStillPointInTime(t *testing.T) {
	// The change arrives after the event was produced but must not affect it.
	ctx := context.Background()
	s := dimension.NewStore(nil, testLogger())
	s.ApplyChange(ctx, domain.DimensionChange{Service: "svc", Owner: "old", Tier: "t", EffectiveAt: changeAt.Add(-time.Hour)})

	e := New(s, time.Second, testLogger())
	res := validResult("svc", changeAt.Add(-time.Minute))

	s.ApplyChange(ctx, domain.DimensionChange{Service: "svc", Owner: "new", Tier: "t", EffectiveAt: changeAt})

	got, _ := e.Enrich(ctx, res)
	if got.Dimension.Owner != "old" {
		t.Errorf("Dimension.Owner = %v, want old", got.Dimension.Owner)
	}
}

func TestEnricher_UnknownService(t *testing.T) {
	e := New(setupStore(t), time.Second, testLogger())

	got, err := e.Enrich(context.Background(), validResult("search-service", changeAt))
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if !got.Dimension.IsUnknown() {
		t.Errorf("Dimension = %+v, want UNKNOWN sentinel", got.Dimension)
	}
	if got.EventID != "evt-1" {
		t.Error("event must flow through unchanged")
	}
}

func TestEnricher_BeforeFirstRow(t *testing.T) {
	e := New(setupStore(t), time.Second, testLogger())

	got, _ := e.Enrich(context.Background(), validResult("payment-service", changeAt.Add(-48*time.Hour)))
	if !got.Dimension.IsUnknown() {
		t.Errorf("Dimension = %+v, want UNKNOWN sentinel", got.Dimension)
	}
}

type failingLookup struct{}

func (failingLookup) AsOf(ctx context.Context, _ string, _ time.Time) (*domain.ServiceDimensionRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnricher_LookupTimeoutUsesSentinel(t *testing.T) {
	e := New(failingLookup{}, 10*time.Millisecond, testLogger())

	got, err := e.Enrich(context.Background(), validResult("payment-service", changeAt))
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if !got.Dimension.IsUnknown() {
		t.Errorf("Dimension = %+v, want UNKNOWN sentinel", got.Dimension)
	}
}

func TestEnricher_RejectsInvalid(t *testing.T) {
	e := New(setupStore(t), time.Second, testLogger())

	res := validResult("payment-service", changeAt)
	res.Status = domain.ReasonInvalidResponseTime

	if _, err := e.Enrich(context.Background(), res); !errors.Is(err, ErrNotValidated) {
		t.Errorf("Enrich() error = %v, want ErrNotValidated", err)
	}
}
