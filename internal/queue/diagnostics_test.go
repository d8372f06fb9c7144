package queue

import (
	"strings"
	"testing"

	"tickstock/internal/model"
)

func TestDiagnostics_Counters(t *testing.T) {
	d := NewDiagnostics()

	d.accept(model.KindTick)
	d.accept(model.KindTrend)
	d.drop(DropAgeExpired, model.KindTick)
	d.drop(DropAgeExpired, model.KindTrend)
	d.drop(DropQueueFull, model.KindTrend)
	d.drop(DropInvalidType, "")

	if d.Accepted() != 2 {
		t.Errorf("accepted: expected 2, got %d", d.Accepted())
	}
	if d.DropCount(DropAgeExpired) != 2 {
		t.Errorf("age_expired: expected 2, got %d", d.DropCount(DropAgeExpired))
	}
	byKind := d.DropsByKind()
	if byKind[model.KindTrend] != 2 || byKind[model.KindTick] != 1 {
		t.Errorf("by kind: %v", byKind)
	}
	// Kindless drops count by reason only.
	total := uint64(0)
	for _, v := range byKind {
		total += v
	}
	if total != 3 {
		t.Errorf("kind total: expected 3, got %d", total)
	}
}

func TestDiagnostics_Hooks(t *testing.T) {
	d := NewDiagnostics()

	var accepts []model.Kind
	var drops []DropReason
	d.OnAccept = func(kind model.Kind) { accepts = append(accepts, kind) }
	d.OnDrop = func(reason DropReason, kind model.Kind) { drops = append(drops, reason) }

	d.accept(model.KindTick)
	d.drop(DropThrottled, model.KindTrend)

	if len(accepts) != 1 || accepts[0] != model.KindTick {
		t.Errorf("accept hook: %v", accepts)
	}
	if len(drops) != 1 || drops[0] != DropThrottled {
		t.Errorf("drop hook: %v", drops)
	}
}

func TestAgePercentiles(t *testing.T) {
	d := NewDiagnostics()
	if p50, p95, p99 := d.AgePercentiles(); p50 != 0 || p95 != 0 || p99 != 0 {
		t.Error("empty ring should report zeros")
	}

	for i := 1; i <= 100; i++ {
		d.poll(float64(i))
	}
	p50, p95, p99 := d.AgePercentiles()
	if p50 < 49 || p50 > 51 {
		t.Errorf("p50: got %v", p50)
	}
	if p95 < 94 || p95 > 96 {
		t.Errorf("p95: got %v", p95)
	}
	if p99 < 98 || p99 > 100 {
		t.Errorf("p99: got %v", p99)
	}
}

func TestAgePercentiles_ConcurrentReaders(t *testing.T) {
	d := NewDiagnostics()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			d.poll(float64(i % 100))
		}
	}()

	// Snapshot from another goroutine while the poll path is pushing,
	// the way the metrics collector does.
	for i := 0; i < 200; i++ {
		p50, p95, p99 := d.AgePercentiles()
		if p50 < 0 || p95 < 0 || p99 < 0 || p50 > 99 || p95 > 99 || p99 > 99 {
			t.Fatalf("percentiles out of range: %v %v %v", p50, p95, p99)
		}
	}
	<-done
}

func TestDropAnalysis(t *testing.T) {
	d := NewDiagnostics()
	recs := d.DropAnalysis()
	if len(recs) != 1 || recs[0] != "no drops recorded" {
		t.Errorf("clean diagnostics: %v", recs)
	}

	d.drop(DropQueueFull, model.KindTrend)
	d.drop(DropThrottled, model.KindTrend)
	recs = d.DropAnalysis()
	joined := strings.Join(recs, "\n")
	if !strings.Contains(joined, "queue_full=1") {
		t.Errorf("expected capacity recommendation, got %v", recs)
	}
	if !strings.Contains(joined, "throttled=1") {
		t.Errorf("expected throttle recommendation, got %v", recs)
	}
}
