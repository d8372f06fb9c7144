// Package model defines the typed market-event variants flowing through the
// processing core, the per-symbol ticker state, and the parsers for upstream
// feed records. Events are immutable once constructed; constructors validate
// and reject bad records instead of letting them into the pipeline.
package model

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Kind identifies an event variant.
type Kind string

const (
	KindTick      Kind = "tick"
	KindHighLow   Kind = "highlow"
	KindTrend     Kind = "trend"
	KindSurge     Kind = "surge"
	KindAggregate Kind = "aggregate"
	KindFMV       Kind = "fmv"
	KindStatus    Kind = "status"
	KindControl   Kind = "control"
)

// Direction of the price move that produced an event.
type Direction string

const (
	DirUp   Direction = "up"
	DirDown Direction = "down"
	DirFlat Direction = "flat"
)

// Session tags which trading session an event belongs to.
type Session string

const (
	SessionPreMarket  Session = "premarket"
	SessionRegular    Session = "regular"
	SessionAfterHours Session = "afterhours"
)

// ValidationError reports a rejected event construction, feed parse, or
// filter config. Field names the offending input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// eventSeq is the process-wide event ID source.
var eventSeq atomic.Uint64

// NextEventID returns an event ID unique within the process lifetime.
func NextEventID() uint64 {
	return eventSeq.Add(1)
}

// Header carries the fields common to every event variant.
type Header struct {
	Ticker    string    `json:"ticker"`
	Type      Kind      `json:"type"`
	Price     float64   `json:"price"`
	Time      float64   `json:"time"` // Unix seconds
	EventID   uint64    `json:"event_id"`
	Direction Direction `json:"direction"`
	Volume    int64     `json:"volume,omitempty"`
	VWAP      float64   `json:"vwap,omitempty"`
}

// Event is the closed set of variants the core processes. Header gives
// access to the shared fields; Transport renders the flat wire record.
type Event interface {
	Header() *Header
	Kind() Kind
	Transport() map[string]any
}

// validateHeader enforces the universal invariants: positive price,
// non-empty ticker and kind. Control events are exempt (sentinel values).
func validateHeader(h *Header) error {
	if h.Type == "" {
		return invalid("type", "empty event kind")
	}
	if h.Type == KindControl {
		return nil
	}
	if h.Ticker == "" {
		return invalid("ticker", "empty ticker")
	}
	if h.Price <= 0 {
		return invalid("price", "must be > 0, got %v", h.Price)
	}
	return nil
}

func fillHeader(h *Header) {
	if h.EventID == 0 {
		h.EventID = NextEventID()
	}
	if h.Time == 0 {
		h.Time = float64(time.Now().UnixNano()) / 1e9
	}
	if h.Direction == "" {
		h.Direction = DirFlat
	}
}

// baseTransport renders the header fields shared by every variant.
func (h *Header) baseTransport() map[string]any {
	return map[string]any{
		"ticker":      h.Ticker,
		"type":        string(h.Type),
		"price":       h.Price,
		"time":        h.Time,
		"time_hhmmss": hhmmss(h.Time),
		"event_id":    h.EventID,
		"direction":   string(h.Direction),
		"volume":      h.Volume,
		"vwap":        h.VWAP,
	}
}

// hhmmss renders Unix seconds as a wall-clock HH:MM:SS string (UTC).
func hhmmss(sec float64) string {
	t := time.Unix(int64(sec), 0).UTC()
	return t.Format("15:04:05")
}
