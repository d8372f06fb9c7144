package model

import (
	"hash/fnv"
	"sync"
	"time"

	"tickstock/internal/markethours"
)

// momentumCap is the fixed capacity of the recent price-delta ring.
const momentumCap = 20

// rollingVolumeWindow is the lookback for the short-horizon volume counter.
const rollingVolumeWindow = 30 * time.Second

// TickerState is the per-symbol rolling state consulted by detectors and
// updated by workers. A state is owned by exactly one shard; all mutation
// happens on the goroutine that owns the shard, so no locking on hot paths.
type TickerState struct {
	Ticker string

	CurrentPrice  float64
	PreviousPrice float64
	OpenPrice     float64

	DayHigh     float64
	DayLow      float64
	SessionHigh float64
	SessionLow  float64

	// VWAP accumulators: numerator = sum(price*qty), denominator = sum(qty).
	VWAPNum   float64
	VWAPDen   float64
	VWAP      float64
	DayVolume int64

	// Momentum ring: last momentumCap price deltas, oldest overwritten.
	momentum [momentumCap]float64
	momIdx   int
	momLen   int

	// 30-second rolling volume samples.
	volSamples []volSample

	EventCounts map[Kind]int
	LastUpdate  time.Time
	Session     Session
	Changed     bool // set when a worker mutates state, cleared by snapshots
}

type volSample struct {
	ts  time.Time
	qty int64
}

// NewTickerState creates state for a symbol on first observation.
func NewTickerState(ticker string) *TickerState {
	return &TickerState{
		Ticker:      ticker,
		EventCounts: make(map[Kind]int),
	}
}

// ApplyTick folds one trade print into the rolling state. Returns the
// price delta versus the previous price.
func (s *TickerState) ApplyTick(price float64, qty int64, ts time.Time) float64 {
	if s.OpenPrice == 0 {
		s.OpenPrice = price
	}
	delta := 0.0
	if s.CurrentPrice > 0 {
		delta = price - s.CurrentPrice
	}
	s.PreviousPrice = s.CurrentPrice
	s.CurrentPrice = price

	if price > s.DayHigh {
		s.DayHigh = price
	}
	if s.DayLow == 0 || price < s.DayLow {
		s.DayLow = price
	}
	sess := Session(markethours.SessionAt(ts))
	if sess != s.Session {
		// Session rollover: extremes restart for the new session.
		s.Session = sess
		s.SessionHigh = price
		s.SessionLow = price
	} else {
		if price > s.SessionHigh {
			s.SessionHigh = price
		}
		if s.SessionLow == 0 || price < s.SessionLow {
			s.SessionLow = price
		}
	}

	s.VWAPNum += price * float64(qty)
	s.VWAPDen += float64(qty)
	if s.VWAPDen > 0 {
		s.VWAP = s.VWAPNum / s.VWAPDen
	}
	s.DayVolume += qty

	s.pushMomentum(delta)
	s.pushVolume(qty, ts)
	s.LastUpdate = ts
	return delta
}

func (s *TickerState) pushMomentum(delta float64) {
	s.momentum[s.momIdx] = delta
	s.momIdx = (s.momIdx + 1) % momentumCap
	if s.momLen < momentumCap {
		s.momLen++
	}
}

// MomentumScore sums the recent price deltas. Positive values indicate
// upward pressure over the last momentumCap prints.
func (s *TickerState) MomentumScore() float64 {
	var sum float64
	for i := 0; i < s.momLen; i++ {
		sum += s.momentum[i]
	}
	return sum
}

// MomentumLen returns the number of deltas currently in the ring.
func (s *TickerState) MomentumLen() int { return s.momLen }

func (s *TickerState) pushVolume(qty int64, ts time.Time) {
	cutoff := ts.Add(-rollingVolumeWindow)
	i := 0
	for ; i < len(s.volSamples); i++ {
		if s.volSamples[i].ts.After(cutoff) {
			break
		}
	}
	s.volSamples = append(s.volSamples[i:], volSample{ts: ts, qty: qty})
}

// RollingVolume returns the traded quantity over the last 30 seconds.
func (s *TickerState) RollingVolume(now time.Time) int64 {
	cutoff := now.Add(-rollingVolumeWindow)
	var total int64
	for _, v := range s.volSamples {
		if v.ts.After(cutoff) {
			total += v.qty
		}
	}
	return total
}

// CountEvent increments the per-kind event counter.
func (s *TickerState) CountEvent(k Kind) {
	s.EventCounts[k]++
}

// StateStore shards TickerState by symbol hash so each worker shard has a
// single writer. Reads from other goroutines go through the shard lock;
// the owning worker's mutations do too, but with zero contention in the
// steady state.
type StateStore struct {
	shards []*stateShard
}

type stateShard struct {
	mu     sync.Mutex
	states map[string]*TickerState
}

// NewStateStore creates a store with n shards (minimum 1).
func NewStateStore(n int) *StateStore {
	if n < 1 {
		n = 1
	}
	shards := make([]*stateShard, n)
	for i := range shards {
		shards[i] = &stateShard{states: make(map[string]*TickerState)}
	}
	return &StateStore{shards: shards}
}

// ShardIndex returns the shard owning the symbol.
func (ss *StateStore) ShardIndex(ticker string) int {
	h := fnv.New32a()
	h.Write([]byte(ticker))
	return int(h.Sum32()) % len(ss.shards)
}

// Get returns the state for a symbol, creating it on first observation.
func (ss *StateStore) Get(ticker string) *TickerState {
	sh := ss.shards[ss.ShardIndex(ticker)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[ticker]
	if !ok {
		st = NewTickerState(ticker)
		sh.states[ticker] = st
	}
	return st
}

// With runs fn with the shard lock held for the symbol's state.
func (ss *StateStore) With(ticker string, fn func(*TickerState)) {
	sh := ss.shards[ss.ShardIndex(ticker)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[ticker]
	if !ok {
		st = NewTickerState(ticker)
		sh.states[ticker] = st
	}
	fn(st)
}

// Len returns the number of tracked symbols.
func (ss *StateStore) Len() int {
	total := 0
	for _, sh := range ss.shards {
		sh.mu.Lock()
		total += len(sh.states)
		sh.mu.Unlock()
	}
	return total
}
