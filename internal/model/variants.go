package model

import "math"

// HighLowSubkind distinguishes day vs session extremes.
type HighLowSubkind string

const (
	DayHigh     HighLowSubkind = "day_high"
	DayLow      HighLowSubkind = "day_low"
	SessionHigh HighLowSubkind = "session_high"
	SessionLow  HighLowSubkind = "session_low"
)

// Strength is an ordinal scale shared by trend and surge events.
type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// StrengthRank maps a Strength to its ordinal value (weak < moderate < strong).
// Unknown strengths rank below weak.
func StrengthRank(s Strength) int {
	switch s {
	case StrengthWeak:
		return 1
	case StrengthModerate:
		return 2
	case StrengthStrong:
		return 3
	}
	return 0
}

// VWAPPosition places a price relative to VWAP.
type VWAPPosition string

const (
	AboveVWAP VWAPPosition = "above"
	BelowVWAP VWAPPosition = "below"
	AtVWAP    VWAPPosition = "at"
)

// SurgeTrigger identifies what tripped a surge detector.
type SurgeTrigger string

const (
	TriggerPrice          SurgeTrigger = "price"
	TriggerVolume         SurgeTrigger = "volume"
	TriggerPriceAndVolume SurgeTrigger = "price_and_volume"
)

// ControlCommand is the payload of a control event.
type ControlCommand string

const (
	CmdShutdown ControlCommand = "shutdown"
	CmdFlush    ControlCommand = "flush"
	CmdPause    ControlCommand = "pause"
	CmdResume   ControlCommand = "resume"
)

// TickEvent is a single trade print forwarded into the pipeline.
type TickEvent struct {
	Hdr Header  `json:"header"`
	Bid float64 `json:"bid,omitempty"`
	Ask float64 `json:"ask,omitempty"`
}

// NewTick builds a tick event. volume is the traded quantity of the print.
func NewTick(ticker string, price float64, volume int64, ts float64) (*TickEvent, error) {
	e := &TickEvent{Hdr: Header{Ticker: ticker, Type: KindTick, Price: price, Time: ts, Volume: volume}}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *TickEvent) Header() *Header { return &e.Hdr }
func (e *TickEvent) Kind() Kind      { return KindTick }

func (e *TickEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	if e.Bid > 0 {
		m["bid"] = e.Bid
	}
	if e.Ask > 0 {
		m["ask"] = e.Ask
	}
	return m
}

// HighLowEvent marks a new day or session extreme for a symbol.
type HighLowEvent struct {
	Hdr             Header         `json:"header"`
	Subkind         HighLowSubkind `json:"subkind"`
	PreviousExtreme float64        `json:"previous_extreme"`
	PercentChange   float64        `json:"percent_change"`
	PeriodSeconds   int            `json:"period_seconds"`
}

// NewHighLow builds a high/low event. Direction is derived from the subkind.
func NewHighLow(ticker string, price float64, ts float64, sub HighLowSubkind, prevExtreme float64, periodSec int) (*HighLowEvent, error) {
	switch sub {
	case DayHigh, DayLow, SessionHigh, SessionLow:
	default:
		return nil, invalid("subkind", "unknown high/low subkind %q", sub)
	}
	dir := DirUp
	if sub == DayLow || sub == SessionLow {
		dir = DirDown
	}
	e := &HighLowEvent{
		Hdr:             Header{Ticker: ticker, Type: KindHighLow, Price: price, Time: ts, Direction: dir},
		Subkind:         sub,
		PreviousExtreme: prevExtreme,
		PeriodSeconds:   periodSec,
	}
	if prevExtreme > 0 {
		e.PercentChange = (price - prevExtreme) / prevExtreme * 100
	}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *HighLowEvent) Header() *Header { return &e.Hdr }
func (e *HighLowEvent) Kind() Kind      { return KindHighLow }

func (e *HighLowEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["subkind"] = string(e.Subkind)
	m["previous_extreme"] = e.PreviousExtreme
	m["percent_change"] = e.PercentChange
	m["period_seconds"] = e.PeriodSeconds
	return m
}

// TrendEvent reports a sustained directional move.
type TrendEvent struct {
	Hdr             Header       `json:"header"`
	Strength        Strength     `json:"strength"`
	Score           float64      `json:"score"`
	VWAPPosition    VWAPPosition `json:"vwap_position"`
	AgeSeconds      float64      `json:"age_seconds"`
	VolumeConfirmed bool         `json:"volume_confirmed"`
}

// NewTrend builds a trend event.
func NewTrend(ticker string, price float64, ts float64, dir Direction, strength Strength, score float64, vwapPos VWAPPosition, ageSec float64, volConfirmed bool) (*TrendEvent, error) {
	if StrengthRank(strength) == 0 {
		return nil, invalid("strength", "unknown strength %q", strength)
	}
	e := &TrendEvent{
		Hdr:             Header{Ticker: ticker, Type: KindTrend, Price: price, Time: ts, Direction: dir},
		Strength:        strength,
		Score:           score,
		VWAPPosition:    vwapPos,
		AgeSeconds:      ageSec,
		VolumeConfirmed: volConfirmed,
	}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *TrendEvent) Header() *Header { return &e.Hdr }
func (e *TrendEvent) Kind() Kind      { return KindTrend }

func (e *TrendEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["strength"] = string(e.Strength)
	m["score"] = e.Score
	m["vwap_position"] = string(e.VWAPPosition)
	m["age_seconds"] = e.AgeSeconds
	m["volume_confirmed"] = e.VolumeConfirmed
	return m
}

// SurgeEvent reports a sudden price and/or volume spike.
type SurgeEvent struct {
	Hdr              Header       `json:"header"`
	MagnitudePct     float64      `json:"magnitude_pct"`
	Score            float64      `json:"score"`
	Strength         Strength     `json:"strength"`
	Trigger          SurgeTrigger `json:"trigger"`
	VolumeMultiplier float64      `json:"volume_multiplier"`
	ExpirationTime   float64      `json:"expiration_time"`
	DailyCount       int          `json:"daily_count"`
}

// NewSurge builds a surge event.
func NewSurge(ticker string, price float64, ts float64, dir Direction, magnitudePct, score float64, strength Strength, trigger SurgeTrigger, volMult, expiration float64, dailyCount int) (*SurgeEvent, error) {
	if StrengthRank(strength) == 0 {
		return nil, invalid("strength", "unknown strength %q", strength)
	}
	switch trigger {
	case TriggerPrice, TriggerVolume, TriggerPriceAndVolume:
	default:
		return nil, invalid("trigger", "unknown surge trigger %q", trigger)
	}
	e := &SurgeEvent{
		Hdr:              Header{Ticker: ticker, Type: KindSurge, Price: price, Time: ts, Direction: dir},
		MagnitudePct:     magnitudePct,
		Score:            score,
		Strength:         strength,
		Trigger:          trigger,
		VolumeMultiplier: volMult,
		ExpirationTime:   expiration,
		DailyCount:       dailyCount,
	}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *SurgeEvent) Header() *Header { return &e.Hdr }
func (e *SurgeEvent) Kind() Kind      { return KindSurge }

func (e *SurgeEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["magnitude_pct"] = e.MagnitudePct
	m["score"] = e.Score
	m["strength"] = string(e.Strength)
	m["trigger"] = string(e.Trigger)
	m["volume_multiplier"] = e.VolumeMultiplier
	m["expiration_time"] = e.ExpirationTime
	m["daily_count"] = e.DailyCount
	return m
}

// AggregateEvent is a 1-minute OHLCV window plus cumulative daily values.
type AggregateEvent struct {
	Hdr          Header  `json:"header"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	MinuteVolume int64   `json:"minute_volume"`
	DayVolume    int64   `json:"day_volume"`
	DayOpen      float64 `json:"day_open"`
	DayVWAP      float64 `json:"day_vwap"`
	AvgTradeSize float64 `json:"avg_trade_size"`
	Start        float64 `json:"start"` // Unix seconds
	End          float64 `json:"end"`   // Unix seconds
	OTC          bool    `json:"otc"`
	Session      Session `json:"session"`

	// Derived at construction
	Range          float64 `json:"range"`
	PriceChange    float64 `json:"price_change"`
	PriceChangePct float64 `json:"price_change_pct"`
}

// NewAggregate builds a 1-minute aggregate event and computes derived fields.
// VWAP is the window VWAP; header price is the close.
func NewAggregate(ticker string, o, h, l, c float64, minuteVol, dayVol int64, vwap, dayOpen, dayVWAP, avgTradeSize, start, end float64, otc bool, session Session) (*AggregateEvent, error) {
	if l > math.Min(o, c) || math.Max(o, c) > h {
		return nil, invalid("ohlc", "low <= min(open,close) <= max(open,close) <= high violated: o=%v h=%v l=%v c=%v", o, h, l, c)
	}
	if start >= end {
		return nil, invalid("start", "start %v must be before end %v", start, end)
	}
	dir := DirFlat
	if c > o {
		dir = DirUp
	} else if c < o {
		dir = DirDown
	}
	e := &AggregateEvent{
		Hdr:          Header{Ticker: ticker, Type: KindAggregate, Price: c, Time: end, Direction: dir, Volume: minuteVol, VWAP: vwap},
		Open:         o,
		High:         h,
		Low:          l,
		Close:        c,
		MinuteVolume: minuteVol,
		DayVolume:    dayVol,
		DayOpen:      dayOpen,
		DayVWAP:      dayVWAP,
		AvgTradeSize: avgTradeSize,
		Start:        start,
		End:          end,
		OTC:          otc,
		Session:      session,
	}
	e.Range = h - l
	e.PriceChange = c - o
	if o > 0 {
		e.PriceChangePct = (c - o) / o * 100
	}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *AggregateEvent) Header() *Header { return &e.Hdr }
func (e *AggregateEvent) Kind() Kind      { return KindAggregate }

func (e *AggregateEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["open"] = e.Open
	m["high"] = e.High
	m["low"] = e.Low
	m["close"] = e.Close
	m["minute_volume"] = e.MinuteVolume
	m["day_volume"] = e.DayVolume
	m["day_open"] = e.DayOpen
	m["day_vwap"] = e.DayVWAP
	m["avg_trade_size"] = e.AvgTradeSize
	m["start"] = e.Start
	m["end"] = e.End
	m["start_hhmmss"] = hhmmss(e.Start)
	m["end_hhmmss"] = hhmmss(e.End)
	m["otc"] = e.OTC
	m["session"] = string(e.Session)
	m["range"] = e.Range
	m["price_change"] = e.PriceChange
	m["price_change_pct"] = e.PriceChangePct
	return m
}

// Valuation classes for FMV events, from |deviation| thresholds combined
// with the deviation sign.
const (
	ValuationFair        = "fair_value"
	ValuationSlightOver  = "slightly_overvalued"
	ValuationSlightUnder = "slightly_undervalued"
	ValuationModOver     = "moderately_overvalued"
	ValuationModUnder    = "moderately_undervalued"
	ValuationSigOver     = "significantly_overvalued"
	ValuationSigUnder    = "significantly_undervalued"
)

// FMVEvent carries an externally supplied fair-market-value price.
type FMVEvent struct {
	Hdr          Header  `json:"header"`
	FMV          float64 `json:"fmv"`
	MarketPrice  float64 `json:"market_price,omitempty"`
	DeviationPct float64 `json:"deviation_pct"`
	Valuation    string  `json:"valuation"`
}

// NewFMV builds an FMV event. marketPrice may be 0 (unknown); when known,
// the signed deviation (market vs fair value) and valuation class are derived.
func NewFMV(ticker string, fmv, marketPrice, ts float64) (*FMVEvent, error) {
	if fmv <= 0 {
		return nil, invalid("fmv", "must be > 0, got %v", fmv)
	}
	e := &FMVEvent{
		Hdr: Header{Ticker: ticker, Type: KindFMV, Price: fmv, Time: ts},
		FMV: fmv,
	}
	if marketPrice > 0 {
		e.MarketPrice = marketPrice
		e.DeviationPct = (marketPrice - fmv) / fmv * 100
		e.Valuation = classifyValuation(e.DeviationPct)
		if e.DeviationPct > 0 {
			e.Hdr.Direction = DirUp
		} else if e.DeviationPct < 0 {
			e.Hdr.Direction = DirDown
		}
	} else {
		e.Valuation = ValuationFair
	}
	fillHeader(&e.Hdr)
	if err := validateHeader(&e.Hdr); err != nil {
		return nil, err
	}
	return e, nil
}

// classifyValuation buckets a signed deviation percentage:
// <1% fair, <3% slight, <10% moderate, >=10% significant.
func classifyValuation(devPct float64) string {
	abs := math.Abs(devPct)
	over := devPct > 0
	switch {
	case abs < 1:
		return ValuationFair
	case abs < 3:
		if over {
			return ValuationSlightOver
		}
		return ValuationSlightUnder
	case abs < 10:
		if over {
			return ValuationModOver
		}
		return ValuationModUnder
	default:
		if over {
			return ValuationSigOver
		}
		return ValuationSigUnder
	}
}

func (e *FMVEvent) Header() *Header { return &e.Hdr }
func (e *FMVEvent) Kind() Kind      { return KindFMV }

func (e *FMVEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["fmv"] = e.FMV
	if e.MarketPrice > 0 {
		m["market_price"] = e.MarketPrice
	}
	m["deviation_pct"] = e.DeviationPct
	m["valuation"] = e.Valuation
	return m
}

// ControlEvent steers workers (shutdown, flush, pause, resume).
// Ticker and price are sentinel values.
type ControlEvent struct {
	Hdr     Header         `json:"header"`
	Command ControlCommand `json:"command"`
}

// NewControl builds a control event.
func NewControl(cmd ControlCommand) (*ControlEvent, error) {
	switch cmd {
	case CmdShutdown, CmdFlush, CmdPause, CmdResume:
	default:
		return nil, invalid("command", "unknown control command %q", cmd)
	}
	e := &ControlEvent{
		Hdr:     Header{Ticker: "__control__", Type: KindControl},
		Command: cmd,
	}
	fillHeader(&e.Hdr)
	return e, nil
}

func (e *ControlEvent) Header() *Header { return &e.Hdr }
func (e *ControlEvent) Kind() Kind      { return KindControl }

func (e *ControlEvent) Transport() map[string]any {
	m := e.Hdr.baseTransport()
	m["command"] = string(e.Command)
	return m
}
