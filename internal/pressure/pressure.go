// Package pressure aggregates windowed buy/sell pressure over a tracked
// subset of symbols. The tracker consumes the same event stream as the
// worker pool, in parallel, and never feeds back into the queue.
package pressure

import (
	"sync"
	"time"

	"tickstock/internal/model"
)

// defaultWindow is the pressure aggregation lookback.
const defaultWindow = 60 * time.Second

type sample struct {
	ts     time.Time
	dir    model.Direction
	weight float64
}

// Pressure is the windowed reading for one symbol.
type Pressure struct {
	Buy   float64 `json:"buy"`
	Sell  float64 `json:"sell"`
	Net   float64 `json:"net"`
	Ratio float64 `json:"ratio"` // buy / (buy + sell), 0.5 when balanced
}

// Tracker accumulates directional pressure per symbol over a sliding window.
type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	tracked map[string]bool // empty set = track everything
	samples map[string][]sample
}

// New creates a tracker with the given window (<=0 uses the default).
func New(window time.Duration) *Tracker {
	if window <= 0 {
		window = defaultWindow
	}
	return &Tracker{
		window:  window,
		tracked: make(map[string]bool),
		samples: make(map[string][]sample),
	}
}

// SetTracked replaces the tracked-universe subset. An empty list tracks
// every symbol seen.
func (t *Tracker) SetTracked(symbols []string) {
	m := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		m[s] = true
	}
	t.mu.Lock()
	t.tracked = m
	t.mu.Unlock()
}

// Observe folds one event into the window. Direction up counts as buy
// pressure, down as sell; flat events are ignored. Volume weights the
// sample when present.
func (t *Tracker) Observe(ev model.Event) {
	h := ev.Header()
	if h.Direction != model.DirUp && h.Direction != model.DirDown {
		return
	}
	if ev.Kind() == model.KindControl {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.tracked) > 0 && !t.tracked[h.Ticker] {
		return
	}

	w := 1.0
	if h.Volume > 0 {
		w = float64(h.Volume)
	}
	ts := time.Unix(0, int64(h.Time*1e9))
	t.samples[h.Ticker] = t.prune(append(t.samples[h.Ticker], sample{ts: ts, dir: h.Direction, weight: w}), ts)
}

func (t *Tracker) prune(ss []sample, now time.Time) []sample {
	cutoff := now.Add(-t.window)
	i := 0
	for ; i < len(ss); i++ {
		if ss[i].ts.After(cutoff) {
			break
		}
	}
	return ss[i:]
}

// Get returns the current pressure for one symbol.
func (t *Tracker) Get(symbol string, now time.Time) Pressure {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.compute(t.prune(t.samples[symbol], now))
}

// Snapshot returns pressure for every symbol with samples in the window.
func (t *Tracker) Snapshot(now time.Time) map[string]Pressure {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Pressure, len(t.samples))
	for sym, ss := range t.samples {
		ss = t.prune(ss, now)
		t.samples[sym] = ss
		if len(ss) == 0 {
			delete(t.samples, sym)
			continue
		}
		out[sym] = t.compute(ss)
	}
	return out
}

func (t *Tracker) compute(ss []sample) Pressure {
	var p Pressure
	for _, s := range ss {
		if s.dir == model.DirUp {
			p.Buy += s.weight
		} else {
			p.Sell += s.weight
		}
	}
	p.Net = p.Buy - p.Sell
	if total := p.Buy + p.Sell; total > 0 {
		p.Ratio = p.Buy / total
	} else {
		p.Ratio = 0.5
	}
	return p
}
