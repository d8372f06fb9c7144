// Package feed supplies event sources for the engine. The simulator
// generates random-walk ticks, per-minute aggregates, and fair-market
// values without an upstream data vendor.
package feed

import (
	"context"
	"log"
	"math/rand"
	"time"

	"tickstock/internal/model"
)

// Handler receives raw feed callbacks. Implemented by the detect engine.
type Handler interface {
	OnTick(raw model.RawTick)
	OnAggregate(raw model.RawRecord)
	OnFMV(raw model.RawRecord)
}

// SimConfig configures the simulator.
type SimConfig struct {
	Symbols      []string
	TickInterval time.Duration // default 100ms
	AggInterval  time.Duration // default 60s
	FMVInterval  time.Duration // default 30s
	StartPrice   float64       // default 100.00
	WalkPct      float64       // max per-tick move, default 0.1 (percent)
	Seed         int64         // 0 = time-based
}

func (c SimConfig) withDefaults() SimConfig {
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"AAPL", "MSFT", "NVDA", "SPY"}
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.AggInterval <= 0 {
		c.AggInterval = time.Minute
	}
	if c.FMVInterval <= 0 {
		c.FMVInterval = 30 * time.Second
	}
	if c.StartPrice <= 0 {
		c.StartPrice = 100.00
	}
	if c.WalkPct <= 0 {
		c.WalkPct = 0.1
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// symState is per-symbol simulation state: the walking price plus the
// open minute-bar accumulators.
type symState struct {
	price   float64
	dayOpen float64
	dayVol  int64

	barOpen  float64
	barHigh  float64
	barLow   float64
	barVol   int64
	barStart time.Time

	notional float64 // running price*volume for day VWAP
}

// Simulator drives a Handler with synthetic feed callbacks.
type Simulator struct {
	cfg  SimConfig
	h    Handler
	rng  *rand.Rand
	syms map[string]*symState
}

// NewSimulator creates a simulator for the configured symbols.
func NewSimulator(h Handler, cfg SimConfig) *Simulator {
	cfg = cfg.withDefaults()
	s := &Simulator{
		cfg:  cfg,
		h:    h,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
		syms: make(map[string]*symState, len(cfg.Symbols)),
	}
	now := time.Now()
	for _, sym := range cfg.Symbols {
		s.syms[sym] = &symState{
			price:    cfg.StartPrice,
			dayOpen:  cfg.StartPrice,
			barOpen:  cfg.StartPrice,
			barHigh:  cfg.StartPrice,
			barLow:   cfg.StartPrice,
			barStart: now,
		}
	}
	return s
}

// walk applies a bounded random step to the price.
func (s *Simulator) walk(price float64) float64 {
	pct := (s.rng.Float64()*2 - 1) * s.cfg.WalkPct / 100.0
	next := price * (1 + pct)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

// Run generates ticks, aggregates, and FMV records until ctx ends.
func (s *Simulator) Run(ctx context.Context) {
	log.Printf("[feed] simulator started: %d symbols, tick every %s",
		len(s.cfg.Symbols), s.cfg.TickInterval)

	tick := time.NewTicker(s.cfg.TickInterval)
	agg := time.NewTicker(s.cfg.AggInterval)
	fmv := time.NewTicker(s.cfg.FMVInterval)
	defer tick.Stop()
	defer agg.Stop()
	defer fmv.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[feed] simulator stopped")
			return
		case now := <-tick.C:
			s.emitTicks(now)
		case now := <-agg.C:
			s.emitAggregates(now)
		case now := <-fmv.C:
			s.emitFMVs(now)
		}
	}
}

func (s *Simulator) emitTicks(now time.Time) {
	ts := float64(now.UnixNano()) / 1e9
	for _, sym := range s.cfg.Symbols {
		st := s.syms[sym]
		st.price = s.walk(st.price)
		vol := int64(s.rng.Intn(900) + 100)

		st.dayVol += vol
		st.notional += st.price * float64(vol)
		st.barVol += vol
		if st.price > st.barHigh {
			st.barHigh = st.price
		}
		if st.price < st.barLow {
			st.barLow = st.price
		}

		half := st.price * 0.0002
		s.h.OnTick(model.RawTick{
			Ticker:    sym,
			Price:     st.price,
			Volume:    vol,
			Timestamp: ts,
			Bid:       st.price - half,
			Ask:       st.price + half,
		})
	}
}

func (s *Simulator) emitAggregates(now time.Time) {
	for _, sym := range s.cfg.Symbols {
		st := s.syms[sym]
		vwap := st.barOpen
		if st.barVol > 0 {
			vwap = (st.barHigh + st.barLow + st.price) / 3
		}
		dayVWAP := st.dayOpen
		if st.dayVol > 0 {
			dayVWAP = st.notional / float64(st.dayVol)
		}
		s.h.OnAggregate(model.RawRecord{
			"sym": sym,
			"o":   st.barOpen,
			"h":   st.barHigh,
			"l":   st.barLow,
			"c":   st.price,
			"v":   float64(st.barVol),
			"av":  float64(st.dayVol),
			"op":  st.dayOpen,
			"vw":  vwap,
			"a":   dayVWAP,
			"z":   float64(s.rng.Intn(200) + 50),
			"s":   float64(st.barStart.UnixMilli()),
			"e":   float64(now.UnixMilli()),
			"otc": false,
		})

		st.barOpen = st.price
		st.barHigh = st.price
		st.barLow = st.price
		st.barVol = 0
		st.barStart = now
	}
}

func (s *Simulator) emitFMVs(now time.Time) {
	for _, sym := range s.cfg.Symbols {
		st := s.syms[sym]
		// FMV drifts near the traded price.
		fmv := st.price * (1 + (s.rng.Float64()*2-1)*0.02)
		s.h.OnFMV(model.RawRecord{
			"sym": sym,
			"fmv": fmv,
			"t":   float64(now.UnixNano()),
		})
	}
}
