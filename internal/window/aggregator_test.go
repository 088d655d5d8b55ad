package window

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"logsentinel/internal/domain"
)

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func testConfig(clock *fakeClock) Config {
	return Config{
		Length:            5 * time.Minute,
		AllowedLateness:   time.Minute,
		MaxOutOfOrderness: 30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		LatePolicy:        LatePolicyDrop,
		Clock:             clock.Now,
	}
}

func event(service string, ts time.Time, level domain.Level, rt int64) domain.EnrichedEvent {
	return domain.EnrichedEvent{
		LogEvent: domain.LogEvent{
			EventID:        fmt.Sprintf("%s-%d", service, ts.UnixNano()),
			Timestamp:      ts,
			Service:        service,
			Level:          level,
			Message:        "msg",
			ResponseTimeMs: domain.Int64(rt),
		},
		Dimension: domain.ServiceDimensionRecord{Service: service, Owner: "team", Tier: "gold"},
	}
}

func TestAggregator_ErrorSpikeWindow(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))

	for i := 0; i < 60; i++ {
		out, outcome := agg.Add(event("payment-service", base.Add(time.Duration(i)*4*time.Second), domain.LevelError, 100))
		if outcome != OutcomeAccepted {
			t.Fatalf("Add(%d) outcome = %v, want accepted", i, outcome)
		}
		if len(out) != 0 {
			t.Fatalf("Add(%d) finalized %d windows early", i, len(out))
		}
	}

	// W = 10:06:31 - 30s >= 10:05 + 1m
	out, _ := agg.Add(event("payment-service", base.Add(6*time.Minute+31*time.Second), domain.LevelInfo, 100))
	if len(out) != 1 {
		t.Fatalf("finalized windows = %d, want 1", len(out))
	}

	w := out[0]
	if w.ErrorCount != 60 || w.TotalCount != 60 {
		t.Errorf("counts = %d/%d, want 60/60", w.ErrorCount, w.TotalCount)
	}
	if !w.WindowStart.Equal(base) || !w.WindowEnd.Equal(base.Add(5*time.Minute)) {
		t.Errorf("window = [%v, %v)", w.WindowStart, w.WindowEnd)
	}
	if w.AvgResponseTime == nil || *w.AvgResponseTime != 100 {
		t.Errorf("AvgResponseTime = %v, want 100", w.AvgResponseTime)
	}
	if w.LogVolume != 60*int64(len("msg")) {
		t.Errorf("LogVolume = %d, want %d", w.LogVolume, 60*len("msg"))
	}
	if w.Owner != "team" || w.Tier != "gold" {
		t.Errorf("dimension = %s/%s, want team/gold", w.Owner, w.Tier)
	}
}

func TestAggregator_FinalizeBoundary(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))
	agg.Add(event("svc", base, domain.LevelInfo, 10))

	// W = 10:05:59, one second short of the deadline
	if out, _ := agg.Add(event("svc", base.Add(6*time.Minute+29*time.Second), domain.LevelInfo, 10)); len(out) != 0 {
		t.Fatalf("window finalized before deadline")
	}
	// W = 10:06:00, exactly the deadline
	if out, _ := agg.Add(event("svc", base.Add(6*time.Minute+30*time.Second), domain.LevelInfo, 10)); len(out) != 1 {
		t.Fatalf("window not finalized at deadline")
	}
}

func TestAggregator_OutOfOrderWithinTolerance(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))

	agg.Add(event("svc", base.Add(5*time.Minute+10*time.Second), domain.LevelInfo, 10))
	_, outcome := agg.Add(event("svc", base.Add(4*time.Minute+50*time.Second), domain.LevelError, 10))
	if outcome != OutcomeAccepted {
		t.Errorf("outcome = %v, want accepted", outcome)
	}

	out := agg.Flush()
	if len(out) != 2 {
		t.Fatalf("Flush() windows = %d, want 2", len(out))
	}
	if out[0].ErrorCount != 1 || out[1].ErrorCount != 0 {
		t.Errorf("error counts = %d, %d, want 1, 0", out[0].ErrorCount, out[1].ErrorCount)
	}
}

func TestAggregator_LateEventDropped(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))

	agg.Add(event("svc", base.Add(time.Minute), domain.LevelInfo, 10))
	out, _ := agg.Add(event("svc", base.Add(7*time.Minute), domain.LevelInfo, 10))
	if len(out) != 1 {
		t.Fatalf("finalized windows = %d, want 1", len(out))
	}

	out, outcome := agg.Add(event("svc", base.Add(2*time.Minute), domain.LevelError, 10))
	if outcome != OutcomeDroppedLate {
		t.Errorf("outcome = %v, want dropped_late", outcome)
	}
	if len(out) != 0 {
		t.Errorf("late event emitted %d windows", len(out))
	}
	if agg.DroppedLate() != 1 {
		t.Errorf("DroppedLate() = %d, want 1", agg.DroppedLate())
	}
}

func TestAggregator_LateEventMerged(t *testing.T) {
	cfg := testConfig(&fakeClock{now: base})
	cfg.LatePolicy = LatePolicyMerge
	agg := NewAggregator(cfg)

	agg.Add(event("svc", base.Add(time.Minute), domain.LevelInfo, 10))
	agg.Add(event("svc", base.Add(7*time.Minute), domain.LevelInfo, 10))

	out, outcome := agg.Add(event("svc", base.Add(2*time.Minute), domain.LevelError, 30))
	if outcome != OutcomeMerged {
		t.Fatalf("outcome = %v, want merged", outcome)
	}
	if len(out) != 1 {
		t.Fatalf("revisions emitted = %d, want 1", len(out))
	}
	rev := out[0]
	if rev.Revision != 1 || rev.TotalCount != 2 || rev.ErrorCount != 1 {
		t.Errorf("revision = %+v, want revision 1 with 2 events and 1 error", rev)
	}
	if rev.AvgResponseTime == nil || *rev.AvgResponseTime != 20 {
		t.Errorf("AvgResponseTime = %v, want 20", rev.AvgResponseTime)
	}

	// Beyond deadline + retention the window is evicted and late events drop.
	agg.Add(event("svc", base.Add(20*time.Minute), domain.LevelInfo, 10))
	if _, outcome := agg.Add(event("svc", base.Add(3*time.Minute), domain.LevelInfo, 10)); outcome != OutcomeDroppedLate {
		t.Errorf("outcome after retention = %v, want dropped_late", outcome)
	}
}

func TestAggregator_NoResponseTime(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))

	ev := event("svc", base, domain.LevelInfo, 0)
	ev.ResponseTimeMs = nil
	agg.Add(ev)

	out := agg.Flush()
	if len(out) != 1 {
		t.Fatalf("Flush() windows = %d, want 1", len(out))
	}
	if out[0].AvgResponseTime != nil {
		t.Errorf("AvgResponseTime = %v, want nil", *out[0].AvgResponseTime)
	}
}

func TestAggregator_ServicesHaveIndependentWatermarks(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))

	agg.Add(event("a", base, domain.LevelInfo, 10))
	agg.Add(event("b", base, domain.LevelInfo, 10))
	out, _ := agg.Add(event("a", base.Add(time.Hour), domain.LevelInfo, 10))

	if len(out) != 1 || out[0].Service != "a" {
		t.Fatalf("finalized = %+v, want only service a", out)
	}
	if agg.OpenWindows() != 2 {
		t.Errorf("OpenWindows() = %d, want 2", agg.OpenWindows())
	}
	if _, ok := agg.Watermark("b"); !ok {
		t.Error("service b should have a watermark")
	}
}

func TestAggregator_AdvanceIdle(t *testing.T) {
	clock := &fakeClock{now: base.Add(time.Hour)}
	agg := NewAggregator(testConfig(clock))

	agg.Add(event("svc", base.Add(4*time.Minute), domain.LevelInfo, 10))

	clock.now = clock.now.Add(time.Minute)
	if out := agg.AdvanceIdle(); len(out) != 0 {
		t.Fatalf("AdvanceIdle() before timeout finalized %d windows", len(out))
	}

	// W = 10:04 + 3m - 30s = 10:06:30
	clock.now = clock.now.Add(2 * time.Minute)
	out := agg.AdvanceIdle()
	if len(out) != 1 {
		t.Fatalf("AdvanceIdle() finalized %d windows, want 1", len(out))
	}
	if w, _ := agg.Watermark("svc"); !w.Equal(base.Add(6*time.Minute + 30*time.Second)) {
		t.Errorf("Watermark() = %v, want 10:06:30", w)
	}
}

func TestAggregator_FlushMakesLaterEventsLate(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))
	agg.Add(event("svc", base, domain.LevelInfo, 10))

	if out := agg.Flush(); len(out) != 1 {
		t.Fatalf("Flush() windows = %d, want 1", len(out))
	}
	if _, outcome := agg.Add(event("svc", base.Add(time.Minute), domain.LevelInfo, 10)); outcome != OutcomeDroppedLate {
		t.Errorf("outcome = %v, want dropped_late", outcome)
	}
}

func TestAggregator_SnapshotRestore(t *testing.T) {
	clock := &fakeClock{now: base}
	cfg := testConfig(clock)
	cfg.LatePolicy = LatePolicyMerge

	orig := NewAggregator(cfg)
	for i := 0; i < 10; i++ {
		orig.Add(event("a", base.Add(time.Duration(i)*time.Minute), domain.LevelError, int64(i+1)))
		orig.Add(event("b", base.Add(time.Duration(i)*30*time.Second), domain.LevelWarn, 5))
	}

	snap := orig.Snapshot()
	restored := NewAggregator(cfg)
	restored.Restore(snap.Services)

	if !reflect.DeepEqual(restored.Snapshot(), snap) {
		t.Fatal("snapshot of restored aggregator differs")
	}
	if !reflect.DeepEqual(restored.Watermarks(), orig.Watermarks()) {
		t.Error("watermarks differ after restore")
	}

	got := restored.Flush()
	want := orig.Flush()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Flush() after restore = %+v, want %+v", got, want)
	}
}

// boundedShuffle permutes events inside consecutive blocks so no event
// arrives after one more than span later than itself.
func boundedShuffle(events []domain.EnrichedEvent, block int, rng *rand.Rand) []domain.EnrichedEvent {
	out := append([]domain.EnrichedEvent(nil), events...)
	for i := 0; i < len(out); i += block {
		end := i + block
		if end > len(out) {
			end = len(out)
		}
		chunk := out[i:end]
		rng.Shuffle(len(chunk), func(a, b int) { chunk[a], chunk[b] = chunk[b], chunk[a] })
	}
	return out
}

func runAll(events []domain.EnrichedEvent) ([]domain.WindowMetrics, int64) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))
	var out []domain.WindowMetrics
	for _, ev := range events {
		emitted, _ := agg.Add(ev)
		out = append(out, emitted...)
	}
	out = append(out, agg.Flush()...)
	sortMetrics(out)
	return out, agg.DroppedLate()
}

func TestAggregator_PermutationIdempotence(t *testing.T) {
	var events []domain.EnrichedEvent
	levels := []domain.Level{domain.LevelInfo, domain.LevelWarn, domain.LevelError}
	for i := 0; i < 120; i++ {
		for _, svc := range []string{"api", "db"} {
			ev := event(svc, base.Add(time.Duration(i)*10*time.Second), levels[i%3], int64(10+i))
			ev.Message = fmt.Sprintf("line %d", i)
			events = append(events, ev)
		}
	}

	want, dropped := runAll(events)
	if dropped != 0 {
		t.Fatalf("in-order run dropped %d events", dropped)
	}
	if len(want) != 8 {
		t.Fatalf("windows = %d, want 8", len(want))
	}

	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 20; run++ {
		// 10 events per block spans 50s of event time across both services.
		got, dropped := runAll(boundedShuffle(events, 10, rng))
		if dropped != 0 {
			t.Fatalf("run %d dropped %d events", run, dropped)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d produced different windows", run)
		}
	}
}

func TestState_EqualTimestampDimensionIsOrderIndependent(t *testing.T) {
	ts := base.Add(time.Minute)
	older := event("api", ts, domain.LevelInfo, 10)
	older.Dimension.Owner = "team-a"
	older.Dimension.EffectiveFrom = base.Add(-time.Hour)
	newer := event("api", ts, domain.LevelInfo, 10)
	newer.Dimension.Owner = "team-b"
	newer.Dimension.EffectiveFrom = base.Add(-time.Minute)
	sibling := event("api", ts, domain.LevelInfo, 10)
	sibling.Dimension.Owner = "team-c"
	sibling.Dimension.EffectiveFrom = base.Add(-time.Minute)

	orders := [][]domain.EnrichedEvent{
		{older, newer, sibling},
		{sibling, newer, older},
		{newer, older, sibling},
		{older, sibling, newer},
	}
	for i, order := range orders {
		var s State
		for j := range order {
			s.add(&order[j])
		}
		if s.Owner != "team-c" || !s.DimensionFrom.Equal(base.Add(-time.Minute)) {
			t.Errorf("order %d: owner = %s from %v, want team-c", i, s.Owner, s.DimensionFrom)
		}
	}
}

func TestAggregator_EmitsInStartOrder(t *testing.T) {
	agg := NewAggregator(testConfig(&fakeClock{now: base}))
	for i := 0; i < 4; i++ {
		agg.Add(event("svc", base.Add(time.Duration(i)*5*time.Minute), domain.LevelInfo, 10))
	}

	out, _ := agg.Add(event("svc", base.Add(2*time.Hour), domain.LevelInfo, 10))
	if len(out) != 4 {
		t.Fatalf("finalized = %d, want 4", len(out))
	}
	if !sort.SliceIsSorted(out, func(i, j int) bool { return out[i].WindowStart.Before(out[j].WindowStart) }) {
		t.Error("finalized windows not ordered by start")
	}
}

func TestAggregator_RetentionHorizon(t *testing.T) {
	clock := &fakeClock{now: base}
	cfg := testConfig(clock)

	drop := NewAggregator(cfg)
	if _, ok := drop.RetentionHorizon("svc"); ok {
		t.Error("unknown service should have no horizon")
	}
	drop.Add(event("svc", base.Add(10*time.Minute), domain.LevelInfo, 1))
	// W = 10:09:30; 10:09:30 - 6m
	h, ok := drop.RetentionHorizon("svc")
	if !ok || !h.Equal(base.Add(3*time.Minute+30*time.Second)) {
		t.Errorf("drop horizon = %v, want %v", h, base.Add(3*time.Minute+30*time.Second))
	}

	cfg.LatePolicy = LatePolicyMerge
	merge := NewAggregator(cfg)
	merge.Add(event("svc", base.Add(10*time.Minute), domain.LevelInfo, 1))
	// retention defaults to the window length
	h, _ = merge.RetentionHorizon("svc")
	if !h.Equal(base.Add(-90 * time.Second)) {
		t.Errorf("merge horizon = %v, want %v", h, base.Add(-90*time.Second))
	}
}
