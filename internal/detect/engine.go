// Package detect turns raw feed callbacks into typed events. The engine is
// both the feed entry point (OnTick/OnAggregate/OnFMV offer events into the
// queue) and the tick processor workers dispatch to, where the stateful
// high/low, trend, and surge detectors run against ticker state.
package detect

import (
	"log"
	"sync"
	"time"

	"tickstock/internal/model"
)

// Sink accepts detector output. Implemented by the priority queue; Offer is
// non-blocking, so detectors never stall the ingestion path.
type Sink interface {
	Offer(ev model.Event) bool
}

// Config holds detector thresholds.
type Config struct {
	// Trend: momentum over the last 20 prints as a percent of price.
	TrendWeakPct     float64       // default 0.05
	TrendModeratePct float64       // default 0.20
	TrendStrongPct   float64       // default 0.50
	TrendMinPrints   int           // prints required before trend fires, default 10
	TrendCooldown    time.Duration // default 30s

	// Surge: short-horizon move and relative volume.
	SurgePricePct  float64       // default 1.0 (percent move)
	SurgeVolumeMul float64       // default 3.0 (30s volume vs baseline)
	SurgeCooldown  time.Duration // default 60s
	SurgeTTL       time.Duration // event expiration window, default 60s
}

func (c Config) withDefaults() Config {
	if c.TrendWeakPct <= 0 {
		c.TrendWeakPct = 0.05
	}
	if c.TrendModeratePct <= 0 {
		c.TrendModeratePct = 0.20
	}
	if c.TrendStrongPct <= 0 {
		c.TrendStrongPct = 0.50
	}
	if c.TrendMinPrints <= 0 {
		c.TrendMinPrints = 10
	}
	if c.TrendCooldown <= 0 {
		c.TrendCooldown = 30 * time.Second
	}
	if c.SurgePricePct <= 0 {
		c.SurgePricePct = 1.0
	}
	if c.SurgeVolumeMul <= 0 {
		c.SurgeVolumeMul = 3.0
	}
	if c.SurgeCooldown <= 0 {
		c.SurgeCooldown = 60 * time.Second
	}
	if c.SurgeTTL <= 0 {
		c.SurgeTTL = 60 * time.Second
	}
	return c
}

// symbolTrack is the detector-local state for one symbol: cooldowns,
// trend age, and daily surge counts. Owned exclusively by the engine.
type symbolTrack struct {
	firstSeen      time.Time
	trendStart     time.Time
	trendDir       model.Direction
	lastTrendEmit  time.Time
	lastSurgeEmit  time.Time
	surgeCountDay  int
	surgeCountDate string // YYYY-MM-DD of the daily counter
}

// Engine runs the detectors. Parse errors are counted and the offending
// record discarded; detection never blocks on the sink.
type Engine struct {
	states *model.StateStore
	sink   Sink
	cfg    Config

	mu     sync.Mutex
	tracks map[string]*symbolTrack

	parseErrors uint64
}

// New creates a detector engine over the shared ticker-state store.
func New(states *model.StateStore, sink Sink, cfg Config) *Engine {
	return &Engine{
		states: states,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		tracks: make(map[string]*symbolTrack),
	}
}

// OnTick is the inbound tick feed callback. The tick is offered into the
// queue; detection runs when a worker dispatches it back via ProcessTick.
func (e *Engine) OnTick(raw model.RawTick) {
	ev, err := model.ParseTick(raw)
	if err != nil {
		e.countParseError("tick", err)
		return
	}
	e.sink.Offer(ev)
}

// OnAggregate is the inbound per-minute aggregate callback.
func (e *Engine) OnAggregate(raw model.RawRecord) {
	ev, err := model.ParseAggregate(raw)
	if err != nil {
		e.countParseError("aggregate", err)
		return
	}
	e.sink.Offer(ev)
}

// OnFMV is the inbound fair-market-value callback.
func (e *Engine) OnFMV(raw model.RawRecord) {
	ev, err := model.ParseFMV(raw)
	if err != nil {
		e.countParseError("fmv", err)
		return
	}
	e.sink.Offer(ev)
}

func (e *Engine) countParseError(feed string, err error) {
	e.mu.Lock()
	e.parseErrors++
	n := e.parseErrors
	e.mu.Unlock()
	if n%1000 == 1 {
		log.Printf("[detect] %s parse error (%d total): %v", feed, n, err)
	}
}

// ParseErrors returns the number of discarded feed records.
func (e *Engine) ParseErrors() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.parseErrors
}

// ProcessTick folds a dispatched tick into ticker state and runs the
// detectors. Synthesized events are offered back into the queue.
func (e *Engine) ProcessTick(ev *model.TickEvent) {
	ticker := ev.Hdr.Ticker
	price := ev.Hdr.Price
	ts := time.Unix(0, int64(ev.Hdr.Time*1e9))

	var (
		prevDayHigh, prevDayLow   float64
		prevSessHigh, prevSessLow float64
		momentumScore, vwap       float64
		momLen                    int
		rollingVol, dayVol        int64
	)
	e.states.With(ticker, func(st *model.TickerState) {
		prevDayHigh, prevDayLow = st.DayHigh, st.DayLow
		prevSessHigh, prevSessLow = st.SessionHigh, st.SessionLow
		st.ApplyTick(price, ev.Hdr.Volume, ts)
		st.CountEvent(model.KindTick)
		momentumScore = st.MomentumScore()
		momLen = st.MomentumLen()
		vwap = st.VWAP
		rollingVol = st.RollingVolume(ts)
		dayVol = st.DayVolume
	})

	tr := e.track(ticker, ts)

	var out []model.Event
	out = e.detectHighLow(out, ticker, price, ts, tr,
		prevDayHigh, prevDayLow, prevSessHigh, prevSessLow)
	out = e.detectTrend(out, ticker, price, ts, tr, momentumScore, momLen, vwap, rollingVol, dayVol)
	out = e.detectSurge(out, ticker, price, ts, tr, momentumScore, momLen, rollingVol, dayVol)

	for _, sev := range out {
		e.sink.Offer(sev)
	}
}

func (e *Engine) track(ticker string, ts time.Time) *symbolTrack {
	e.mu.Lock()
	defer e.mu.Unlock()
	tr, ok := e.tracks[ticker]
	if !ok {
		tr = &symbolTrack{firstSeen: ts}
		e.tracks[ticker] = tr
	}
	return tr
}

func (e *Engine) detectHighLow(out []model.Event, ticker string, price float64, ts time.Time, tr *symbolTrack,
	prevDayHigh, prevDayLow, prevSessHigh, prevSessLow float64) []model.Event {

	period := int(ts.Sub(tr.firstSeen).Seconds())
	emit := func(sub model.HighLowSubkind, prev float64) {
		ev, err := model.NewHighLow(ticker, price, tsSeconds(ts), sub, prev, period)
		if err != nil {
			return
		}
		out = append(out, ev)
	}

	if prevDayHigh > 0 && price > prevDayHigh {
		emit(model.DayHigh, prevDayHigh)
	}
	if prevDayLow > 0 && price < prevDayLow {
		emit(model.DayLow, prevDayLow)
	}
	if prevSessHigh > 0 && price > prevSessHigh {
		emit(model.SessionHigh, prevSessHigh)
	}
	if prevSessLow > 0 && price < prevSessLow {
		emit(model.SessionLow, prevSessLow)
	}
	return out
}

func (e *Engine) detectTrend(out []model.Event, ticker string, price float64, ts time.Time, tr *symbolTrack,
	momentumScore float64, momLen int, vwap float64, rollingVol, dayVol int64) []model.Event {

	if momLen < e.cfg.TrendMinPrints || price <= 0 {
		return out
	}
	scorePct := momentumScore / price * 100

	var strength model.Strength
	abs := scorePct
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= e.cfg.TrendStrongPct:
		strength = model.StrengthStrong
	case abs >= e.cfg.TrendModeratePct:
		strength = model.StrengthModerate
	case abs >= e.cfg.TrendWeakPct:
		strength = model.StrengthWeak
	default:
		tr.trendStart = time.Time{}
		tr.trendDir = ""
		return out
	}

	dir := model.DirUp
	if scorePct < 0 {
		dir = model.DirDown
	}
	if tr.trendDir != dir {
		tr.trendDir = dir
		tr.trendStart = ts
	}
	if ts.Sub(tr.lastTrendEmit) < e.cfg.TrendCooldown {
		return out
	}

	vwapPos := model.AtVWAP
	if vwap > 0 {
		if price > vwap {
			vwapPos = model.AboveVWAP
		} else if price < vwap {
			vwapPos = model.BelowVWAP
		}
	}

	age := ts.Sub(tr.trendStart).Seconds()
	confirmed := volumeConfirmed(rollingVol, dayVol, ts, tr.firstSeen)

	ev, err := model.NewTrend(ticker, price, tsSeconds(ts), dir, strength, scorePct, vwapPos, age, confirmed)
	if err != nil {
		return out
	}
	tr.lastTrendEmit = ts
	return append(out, ev)
}

func (e *Engine) detectSurge(out []model.Event, ticker string, price float64, ts time.Time, tr *symbolTrack,
	momentumScore float64, momLen int, rollingVol, dayVol int64) []model.Event {

	if momLen < e.cfg.TrendMinPrints || price <= 0 {
		return out
	}
	if ts.Sub(tr.lastSurgeEmit) < e.cfg.SurgeCooldown {
		return out
	}

	movePct := momentumScore / price * 100
	absMove := movePct
	if absMove < 0 {
		absMove = -absMove
	}
	volMult := relativeVolume(rollingVol, dayVol, ts, tr.firstSeen)

	priceTrig := absMove >= e.cfg.SurgePricePct
	volTrig := volMult >= e.cfg.SurgeVolumeMul
	if !priceTrig && !volTrig {
		return out
	}

	trigger := model.TriggerPrice
	switch {
	case priceTrig && volTrig:
		trigger = model.TriggerPriceAndVolume
	case volTrig:
		trigger = model.TriggerVolume
	}

	strength := model.StrengthWeak
	score := absMove + volMult
	switch {
	case priceTrig && volTrig:
		strength = model.StrengthStrong
	case absMove >= 2*e.cfg.SurgePricePct || volMult >= 2*e.cfg.SurgeVolumeMul:
		strength = model.StrengthModerate
	}

	dir := model.DirUp
	if movePct < 0 {
		dir = model.DirDown
	}

	day := ts.UTC().Format("2006-01-02")
	if tr.surgeCountDate != day {
		tr.surgeCountDate = day
		tr.surgeCountDay = 0
	}
	tr.surgeCountDay++

	ev, err := model.NewSurge(ticker, price, tsSeconds(ts), dir, absMove, score, strength, trigger,
		volMult, tsSeconds(ts.Add(e.cfg.SurgeTTL)), tr.surgeCountDay)
	if err != nil {
		return out
	}
	tr.lastSurgeEmit = ts
	return append(out, ev)
}

// relativeVolume compares the 30-second rolling volume against the
// symbol's average 30-second volume since first observation.
func relativeVolume(rollingVol, dayVol int64, now, firstSeen time.Time) float64 {
	elapsed := now.Sub(firstSeen).Seconds()
	if elapsed < 30 || dayVol <= 0 {
		return 0
	}
	baseline := float64(dayVol) / elapsed * 30
	if baseline <= 0 {
		return 0
	}
	return float64(rollingVol) / baseline
}

func volumeConfirmed(rollingVol, dayVol int64, now, firstSeen time.Time) bool {
	return relativeVolume(rollingVol, dayVol, now, firstSeen) > 1.5
}

func tsSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
