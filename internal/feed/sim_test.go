package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"tickstock/internal/model"
)

// captureHandler records raw feed callbacks.
type captureHandler struct {
	mu    sync.Mutex
	ticks []model.RawTick
	aggs  []model.RawRecord
	fmvs  []model.RawRecord
}

func (h *captureHandler) OnTick(raw model.RawTick) {
	h.mu.Lock()
	h.ticks = append(h.ticks, raw)
	h.mu.Unlock()
}

func (h *captureHandler) OnAggregate(raw model.RawRecord) {
	h.mu.Lock()
	h.aggs = append(h.aggs, raw)
	h.mu.Unlock()
}

func (h *captureHandler) OnFMV(raw model.RawRecord) {
	h.mu.Lock()
	h.fmvs = append(h.fmvs, raw)
	h.mu.Unlock()
}

func TestSimulator_EmitsParsableRecords(t *testing.T) {
	h := &captureHandler{}
	sim := NewSimulator(h, SimConfig{
		Symbols:      []string{"AAPL", "SPY"},
		TickInterval: 2 * time.Millisecond,
		AggInterval:  20 * time.Millisecond,
		FMVInterval:  15 * time.Millisecond,
		Seed:         42,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sim.Run(ctx)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ticks) < 4 {
		t.Fatalf("expected ticks for both symbols, got %d", len(h.ticks))
	}
	if len(h.aggs) < 2 {
		t.Fatalf("expected aggregates, got %d", len(h.aggs))
	}
	if len(h.fmvs) < 2 {
		t.Fatalf("expected fmvs, got %d", len(h.fmvs))
	}

	// Every generated record must survive the model parsers.
	for _, raw := range h.ticks {
		ev, err := model.ParseTick(raw)
		if err != nil {
			t.Fatalf("tick parse: %v", err)
		}
		if ev.Bid >= ev.Hdr.Price || ev.Ask <= ev.Hdr.Price {
			t.Errorf("bid/ask should straddle the price: %v < %v < %v", ev.Bid, ev.Hdr.Price, ev.Ask)
		}
	}
	for _, raw := range h.aggs {
		if _, err := model.ParseAggregate(raw); err != nil {
			t.Fatalf("aggregate parse: %v", err)
		}
	}
	for _, raw := range h.fmvs {
		if _, err := model.ParseFMV(raw); err != nil {
			t.Fatalf("fmv parse: %v", err)
		}
	}
}

func TestSimulator_DeterministicWithSeed(t *testing.T) {
	run := func() []model.RawTick {
		h := &captureHandler{}
		sim := NewSimulator(h, SimConfig{
			Symbols:      []string{"AAPL"},
			TickInterval: time.Millisecond,
			Seed:         7,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		sim.Run(ctx)
		h.mu.Lock()
		defer h.mu.Unlock()
		return append([]model.RawTick(nil), h.ticks...)
	}

	a, b := run(), run()
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		t.Fatal("no ticks generated")
	}
	for i := 0; i < n; i++ {
		if a[i].Price != b[i].Price || a[i].Volume != b[i].Volume {
			t.Fatalf("tick %d differs across seeded runs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestWalk_Bounded(t *testing.T) {
	sim := NewSimulator(&captureHandler{}, SimConfig{Symbols: []string{"X"}, WalkPct: 0.1, Seed: 1})
	price := 100.0
	for i := 0; i < 1000; i++ {
		next := sim.walk(price)
		move := (next - price) / price * 100
		if move > 0.1 || move < -0.1 {
			t.Fatalf("step %d exceeded walk bound: %v%%", i, move)
		}
		if next < 0.01 {
			t.Fatalf("price floor violated: %v", next)
		}
		price = next
	}
}
