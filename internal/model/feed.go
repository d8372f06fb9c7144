package model

import (
	"time"

	"tickstock/internal/markethours"
)

// RawRecord is an upstream feed record decoded from JSON.
type RawRecord map[string]any

func (r RawRecord) num(key string) (float64, bool) {
	v, ok := r[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func (r RawRecord) str(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok && v != ""
}

func (r RawRecord) boolean(key string) bool {
	v, _ := r[key].(bool)
	return v
}

// ParseAggregate converts an upstream per-minute record into an
// AggregateEvent. Schema: {sym, o, h, l, c, v, av, op, vw, a, z, s, e, otc}
// with s/e in milliseconds. Missing required fields fail fast.
func ParseAggregate(raw RawRecord) (*AggregateEvent, error) {
	sym, ok := raw.str("sym")
	if !ok {
		return nil, invalid("sym", "missing symbol")
	}
	var vals [4]float64
	for i, key := range []string{"o", "h", "l", "c"} {
		v, ok := raw.num(key)
		if !ok {
			return nil, invalid(key, "missing required field")
		}
		vals[i] = v
	}
	startMs, ok := raw.num("s")
	if !ok {
		return nil, invalid("s", "missing window start")
	}
	endMs, ok := raw.num("e")
	if !ok {
		return nil, invalid("e", "missing window end")
	}
	start := startMs / 1e3
	end := endMs / 1e3

	minuteVol, _ := raw.num("v")
	dayVol, _ := raw.num("av")
	dayOpen, _ := raw.num("op")
	vwap, _ := raw.num("vw")
	dayVWAP, _ := raw.num("a")
	avgTradeSize, _ := raw.num("z")

	session := Session(markethours.SessionAt(time.Unix(int64(start), 0)))

	return NewAggregate(sym, vals[0], vals[1], vals[2], vals[3],
		int64(minuteVol), int64(dayVol), vwap, dayOpen, dayVWAP, avgTradeSize,
		start, end, raw.boolean("otc"), session)
}

// ParseFMV converts an upstream fair-market-value record
// {sym, fmv, t (ns)} into an FMVEvent.
func ParseFMV(raw RawRecord) (*FMVEvent, error) {
	sym, ok := raw.str("sym")
	if !ok {
		return nil, invalid("sym", "missing symbol")
	}
	fmv, ok := raw.num("fmv")
	if !ok {
		return nil, invalid("fmv", "missing fair market value")
	}
	tns, ok := raw.num("t")
	if !ok {
		return nil, invalid("t", "missing timestamp")
	}
	return NewFMV(sym, fmv, 0, tns/1e9)
}

// RawTick is the inbound tick feed callback payload.
type RawTick struct {
	Ticker    string  `json:"ticker"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp float64 `json:"timestamp"` // Unix seconds
	Bid       float64 `json:"bid,omitempty"`
	Ask       float64 `json:"ask,omitempty"`
}

// ParseTick converts a raw tick into a TickEvent.
func ParseTick(raw RawTick) (*TickEvent, error) {
	e, err := NewTick(raw.Ticker, raw.Price, raw.Volume, raw.Timestamp)
	if err != nil {
		return nil, err
	}
	e.Bid = raw.Bid
	e.Ask = raw.Ask
	return e, nil
}
