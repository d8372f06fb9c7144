package queue

import (
	"testing"
	"time"

	"tickstock/internal/model"
	"tickstock/internal/pcache"
)

// fixedQueue returns a queue with a frozen clock and the open-window
// check forced off.
func fixedQueue(t *testing.T, cfg Config, cache *pcache.Cache) (*PriorityQueue, time.Time) {
	t.Helper()
	q := New(cfg, cache)
	base := time.Date(2026, 3, 10, 11, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return base }
	q.inOpenWindow = func(time.Time) bool { return false }
	return q, base
}

func tickAt(t *testing.T, ticker string, ts time.Time) *model.TickEvent {
	t.Helper()
	ev, err := model.NewTick(ticker, 100.0, 10, float64(ts.Unix()))
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	return ev
}

func trendAt(t *testing.T, ticker string, ts time.Time) *model.TrendEvent {
	t.Helper()
	ev, err := model.NewTrend(ticker, 100.0, float64(ts.Unix()),
		model.DirUp, model.StrengthModerate, 1.0, model.AboveVWAP, 10, false)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	return ev
}

func highLowAt(t *testing.T, ticker string, ts time.Time) *model.HighLowEvent {
	t.Helper()
	ev, err := model.NewHighLow(ticker, 100.0, float64(ts.Unix()), model.DayHigh, 99.0, 60)
	if err != nil {
		t.Fatalf("highlow: %v", err)
	}
	return ev
}

func surgeAt(t *testing.T, ticker string, ts time.Time) *model.SurgeEvent {
	t.Helper()
	ev, err := model.NewSurge(ticker, 100.0, float64(ts.Unix()),
		model.DirUp, 2.0, 5.0, model.StrengthStrong, model.TriggerPrice, 4.0,
		float64(ts.Unix())+60, 1)
	if err != nil {
		t.Fatalf("surge: %v", err)
	}
	return ev
}

func TestQueue_PriorityOrdering(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	// Offer in reverse-priority order: trend (3), highlow (2), tick (1).
	q.Offer(trendAt(t, "AAA", base))
	q.Offer(highLowAt(t, "BBB", base))
	q.Offer(tickAt(t, "CCC", base))

	want := []model.Kind{model.KindTick, model.KindHighLow, model.KindTrend}
	for i, k := range want {
		ev := q.Poll(10 * time.Millisecond)
		if ev == nil {
			t.Fatalf("poll %d: got nil", i)
		}
		if ev.Kind() != k {
			t.Errorf("poll %d: expected %s, got %s", i, k, ev.Kind())
		}
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	for _, ticker := range []string{"AAA", "BBB", "CCC"} {
		q.Offer(trendAt(t, ticker, base))
	}
	for _, want := range []string{"AAA", "BBB", "CCC"} {
		ev := q.Poll(10 * time.Millisecond)
		if ev == nil || ev.Header().Ticker != want {
			t.Fatalf("expected %s next, got %v", want, ev)
		}
	}
}

func TestQueue_OpenWindowPromotion(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100, OpenWindowSymbols: []string{"SPY"}}, nil)
	q.inOpenWindow = func(time.Time) bool { return true }

	// A trend on SPY during the open window outranks an earlier tick.
	q.Offer(trendAt(t, "AAA", base)) // priority 3
	q.Offer(trendAt(t, "SPY", base)) // promoted to 1

	ev := q.Poll(10 * time.Millisecond)
	if ev == nil || ev.Header().Ticker != "SPY" {
		t.Fatalf("expected promoted SPY first, got %v", ev)
	}

	// Outside the window the same symbol keeps its base priority.
	q.inOpenWindow = func(time.Time) bool { return false }
	if got := q.determinePriority(trendAt(t, "SPY", base), base); got != 3 {
		t.Errorf("expected base priority 3 outside window, got %d", got)
	}
}

func TestQueue_CachePromotion(t *testing.T) {
	cache := pcache.NewStatic(map[string]pcache.Class{
		"TOP": pcache.ClassTop,
		"SEC": pcache.ClassSecondary,
	})
	q, base := fixedQueue(t, Config{MaxSize: 100}, cache)

	if got := q.determinePriority(trendAt(t, "TOP", base), base); got != 1 {
		t.Errorf("top symbol: expected 1, got %d", got)
	}
	if got := q.determinePriority(trendAt(t, "SEC", base), base); got != 2 {
		t.Errorf("secondary symbol: expected 2, got %d", got)
	}
	// Secondary never demotes an already higher priority.
	if got := q.determinePriority(tickAt(t, "SEC", base), base); got != 1 {
		t.Errorf("secondary tick: expected 1, got %d", got)
	}
}

func TestQueue_AgeGate(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100, MaxEventAge: 2 * time.Minute}, nil)

	stale := tickAt(t, "OLD", base.Add(-2*time.Minute-time.Second))
	if q.Offer(stale) {
		t.Error("expected stale event rejected")
	}
	if got := q.Diagnostics().DropCount(DropAgeExpired); got != 1 {
		t.Errorf("expected 1 age_expired drop, got %d", got)
	}

	// Exactly max age is still admissible.
	boundary := tickAt(t, "EDGE", base.Add(-2*time.Minute))
	if !q.Offer(boundary) {
		t.Error("expected boundary-age event accepted")
	}

	// Control events bypass the age gate entirely.
	ctrl, _ := model.NewControl(model.CmdFlush)
	if !q.Offer(ctrl) {
		t.Error("expected control event accepted regardless of age")
	}
}

func TestQueue_OverflowThresholds(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100, OverflowThreshold: 0.98}, nil)

	for i := 0; i < 98; i++ {
		if !q.Offer(trendAt(t, "FILL", base)) {
			t.Fatalf("fill offer %d rejected", i)
		}
	}

	// At 98% utilization a priority-3 event is shed.
	if q.Offer(trendAt(t, "LOW", base)) {
		t.Error("expected low-priority event rejected at overflow threshold")
	}
	if got := q.Diagnostics().DropCount(DropLowPriorityOverflow); got != 1 {
		t.Errorf("expected 1 low_priority_overflow drop, got %d", got)
	}

	// Priority 2 still passes at exactly 98%.
	if !q.Offer(highLowAt(t, "MID", base)) {
		t.Fatal("expected priority-2 event accepted at 0.98")
	}

	// Above 98% everything below priority 1 is shed.
	if q.Offer(highLowAt(t, "MID2", base)) {
		t.Error("expected priority-2 event rejected above 0.98")
	}
	if got := q.Diagnostics().DropCount(DropExtremeOverflow); got != 1 {
		t.Errorf("expected 1 extreme_overflow drop, got %d", got)
	}

	// Priority 1 ticks always pass while capacity remains.
	if !q.Offer(tickAt(t, "PRI", base)) {
		t.Error("expected priority-1 tick accepted under extreme overflow")
	}
}

func TestQueue_CapacityExemptions(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 10}, nil)

	for i := 0; i < 10; i++ {
		q.Offer(tickAt(t, "FILL", base))
	}
	if q.Offer(tickAt(t, "FULL", base)) {
		t.Error("expected tick rejected at capacity")
	}
	if got := q.Diagnostics().DropCount(DropQueueFull); got != 1 {
		t.Errorf("expected 1 queue_full drop, got %d", got)
	}

	// Surges and control tokens are never capacity-dropped.
	if !q.Offer(surgeAt(t, "SRG", base)) {
		t.Error("expected surge accepted at capacity")
	}
	ctrl, _ := model.NewControl(model.CmdPause)
	if !q.Offer(ctrl) {
		t.Error("expected control accepted at capacity")
	}
}

func TestQueue_ThrottleSheddingViaCache(t *testing.T) {
	cache := pcache.NewStatic(map[string]pcache.Class{
		"TOP": pcache.ClassTop,
		"SEC": pcache.ClassSecondary,
	})
	q, base := fixedQueue(t, Config{MaxSize: 100}, cache)

	// 92 entries: utilization 0.92 → throttle level 1.
	for i := 0; i < 92; i++ {
		if !q.Offer(trendAt(t, "TOP", base)) {
			t.Fatalf("fill offer %d rejected", i)
		}
	}

	// Level 1 passes top and secondary, sheds unknown symbols.
	if q.Offer(trendAt(t, "NOBODY", base)) {
		t.Error("expected untracked symbol shed at throttle level 1")
	}
	if got := q.Diagnostics().DropCount(DropThrottled); got != 1 {
		t.Errorf("expected 1 throttled drop, got %d", got)
	}
	if !q.Offer(trendAt(t, "SEC", base)) {
		t.Error("expected secondary symbol accepted at throttle level 1")
	}
}

func TestQueue_PollDropsStale(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100, MaxEventAge: 2 * time.Minute}, nil)

	q.Offer(tickAt(t, "AAA", base))
	ctrl, _ := model.NewControl(model.CmdResume)
	q.Offer(ctrl)

	// Jump the clock past the max age: the queued tick is now stale.
	q.now = func() time.Time { return base.Add(3 * time.Minute) }

	ev := q.Poll(10 * time.Millisecond)
	if ev == nil || ev.Kind() != model.KindControl {
		t.Fatalf("expected control to survive staleness sweep, got %v", ev)
	}
	if got := q.Diagnostics().DropCount(DropAgeExpiredOnPoll); got != 1 {
		t.Errorf("expected 1 age_expired_on_poll drop, got %d", got)
	}
	if ev := q.Poll(10 * time.Millisecond); ev != nil {
		t.Errorf("expected empty queue, got %v", ev)
	}
}

func TestQueue_PollBatchKindFilter(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	q.Offer(tickAt(t, "AAA", base))
	q.Offer(trendAt(t, "BBB", base))

	batch := q.PollBatch(10, 10*time.Millisecond, model.KindTick)
	if len(batch) != 1 || batch[0].Kind() != model.KindTick {
		t.Fatalf("expected single tick, got %v", batch)
	}

	// The non-matching trend went back into the queue.
	if q.Size() != 1 {
		t.Errorf("expected requeued trend, size=%d", q.Size())
	}
	ev := q.Poll(10 * time.Millisecond)
	if ev == nil || ev.Kind() != model.KindTrend {
		t.Errorf("expected trend still pollable, got %v", ev)
	}
}

func TestQueue_RequeuePreservesFIFO(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	// Two same-priority trends on one ticker, one second apart.
	q.Offer(trendAt(t, "AAA", base))
	q.now = func() time.Time { return base.Add(time.Second) }
	q.Offer(trendAt(t, "AAA", base.Add(time.Second)))

	// A tick-filtered batch pops the older trend and must put it back
	// with its original enqueue time and insertion order.
	if batch := q.PollBatch(10, time.Millisecond, model.KindTick); len(batch) != 0 {
		t.Fatalf("expected no ticks, got %v", batch)
	}

	first := q.Poll(10 * time.Millisecond)
	second := q.Poll(10 * time.Millisecond)
	if first == nil || second == nil {
		t.Fatal("both trends must still be pollable")
	}
	if first.Header().Time != float64(base.Unix()) {
		t.Errorf("event offered first must poll first: got time %v, want %v",
			first.Header().Time, float64(base.Unix()))
	}
	if second.Header().Time != float64(base.Add(time.Second).Unix()) {
		t.Errorf("second poll: got time %v, want %v",
			second.Header().Time, float64(base.Add(time.Second).Unix()))
	}
}

func TestQueue_PollControlSkipsData(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	// Tick and control share priority 1; the older tick sits ahead.
	q.Offer(tickAt(t, "AAA", base))
	ctrl, err := model.NewControl(model.CmdResume)
	if err != nil {
		t.Fatal(err)
	}
	q.Offer(ctrl)
	q.Offer(trendAt(t, "BBB", base))

	ev := q.PollControl()
	if ev == nil || ev.Kind() != model.KindControl {
		t.Fatalf("expected control event, got %v", ev)
	}
	if q.PollControl() != nil {
		t.Error("no further control events expected")
	}

	// Data events are untouched and still ordered.
	if q.Size() != 2 {
		t.Fatalf("expected 2 data events left, size=%d", q.Size())
	}
	first := q.Poll(10 * time.Millisecond)
	second := q.Poll(10 * time.Millisecond)
	if first == nil || first.Kind() != model.KindTick {
		t.Errorf("first data event: %v", first)
	}
	if second == nil || second.Kind() != model.KindTrend {
		t.Errorf("second data event: %v", second)
	}
}

func TestQueue_ShutdownInjectsControlTokens(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)
	q.Offer(trendAt(t, "AAA", base))

	q.Shutdown(2)
	if !q.Closed() {
		t.Fatal("expected queue closed after shutdown")
	}

	// New offers are rejected as invalid once closed.
	if q.Offer(tickAt(t, "BBB", base)) {
		t.Error("expected offer rejected after shutdown")
	}
	if got := q.Diagnostics().DropCount(DropInvalidType); got == 0 {
		t.Error("expected invalid_type drop for post-shutdown offer")
	}

	// Shutdown tokens rank ahead of queued work.
	for i := 0; i < 2; i++ {
		ev := q.Poll(10 * time.Millisecond)
		ctrl, ok := ev.(*model.ControlEvent)
		if !ok || ctrl.Command != model.CmdShutdown {
			t.Fatalf("poll %d: expected shutdown token, got %v", i, ev)
		}
	}
	if ev := q.Poll(10 * time.Millisecond); ev == nil || ev.Kind() != model.KindTrend {
		t.Errorf("expected drained trend after tokens, got %v", ev)
	}
}

func TestQueue_StatsAndHighWater(t *testing.T) {
	q, base := fixedQueue(t, Config{MaxSize: 100}, nil)

	for i := 0; i < 5; i++ {
		q.Offer(trendAt(t, "AAA", base))
	}
	q.Poll(10 * time.Millisecond)

	st := q.Stats()
	if st.Size != 4 {
		t.Errorf("size: expected 4, got %d", st.Size)
	}
	if st.HighWaterMark != 5 {
		t.Errorf("high water: expected 5, got %d", st.HighWaterMark)
	}
	if st.Accepted != 5 {
		t.Errorf("accepted: expected 5, got %d", st.Accepted)
	}
	if st.BreakerState != "closed" {
		t.Errorf("breaker: expected closed, got %s", st.BreakerState)
	}
}

func TestQueue_NilEventRejected(t *testing.T) {
	q, _ := fixedQueue(t, Config{MaxSize: 10}, nil)
	if q.Offer(nil) {
		t.Error("expected nil event rejected")
	}
	if got := q.Diagnostics().DropCount(DropInvalidType); got != 1 {
		t.Errorf("expected invalid_type drop, got %d", got)
	}
}
