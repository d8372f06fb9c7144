package filter

import "tickstock/internal/model"

// TrendBundle splits trends by direction.
type TrendBundle struct {
	Up   []*model.TrendEvent `json:"up"`
	Down []*model.TrendEvent `json:"down"`
}

// SurgeBundle splits surges by direction.
type SurgeBundle struct {
	Up   []*model.SurgeEvent `json:"up"`
	Down []*model.SurgeEvent `json:"down"`
}

// Bundle is a pre-aggregated snapshot of recent events, the convenience
// shape served to users on demand. Counts are re-derived on every Apply.
type Bundle struct {
	Highs    []*model.HighLowEvent `json:"highs"`
	Lows     []*model.HighLowEvent `json:"lows"`
	Trending TrendBundle           `json:"trending"`
	Surging  SurgeBundle           `json:"surging"`
	Counts   map[string]int        `json:"counts"`
}

// DeriveCounts recomputes the count map from the lists.
func (b *Bundle) DeriveCounts() {
	b.Counts = map[string]int{
		"highs":         len(b.Highs),
		"lows":          len(b.Lows),
		"trending_up":   len(b.Trending.Up),
		"trending_down": len(b.Trending.Down),
		"surging_up":    len(b.Surging.Up),
		"surging_down":  len(b.Surging.Down),
	}
	b.Counts["total"] = len(b.Highs) + len(b.Lows) +
		len(b.Trending.Up) + len(b.Trending.Down) +
		len(b.Surging.Up) + len(b.Surging.Down)
}

// anchor returns the latest event time in the bundle, used as the time
// reference for surge ages. Deriving it from the bundle keeps Apply a pure
// and idempotent function of (config, bundle).
func (b *Bundle) anchor() float64 {
	var max float64
	upd := func(t float64) {
		if t > max {
			max = t
		}
	}
	for _, e := range b.Highs {
		upd(e.Hdr.Time)
	}
	for _, e := range b.Lows {
		upd(e.Hdr.Time)
	}
	for _, e := range b.Trending.Up {
		upd(e.Hdr.Time)
	}
	for _, e := range b.Trending.Down {
		upd(e.Hdr.Time)
	}
	for _, e := range b.Surging.Up {
		upd(e.Hdr.Time)
	}
	for _, e := range b.Surging.Down {
		upd(e.Hdr.Time)
	}
	return max
}

// Apply filters a bundle through a validated config and re-derives counts.
// Pure: the input bundle is not mutated.
func Apply(cfg *Config, b Bundle) Bundle {
	out := Bundle{}
	anchor := b.anchor()

	highlowCounts := make(map[string]int)
	for _, e := range b.Highs {
		highlowCounts[e.Hdr.Ticker]++
	}
	for _, e := range b.Lows {
		highlowCounts[e.Hdr.Ticker]++
	}

	for _, e := range b.Highs {
		if PassHighLow(cfg, e, highlowCounts[e.Hdr.Ticker]) {
			out.Highs = append(out.Highs, e)
		}
	}
	for _, e := range b.Lows {
		if PassHighLow(cfg, e, highlowCounts[e.Hdr.Ticker]) {
			out.Lows = append(out.Lows, e)
		}
	}
	for _, e := range b.Trending.Up {
		if PassTrend(cfg, e) {
			out.Trending.Up = append(out.Trending.Up, e)
		}
	}
	for _, e := range b.Trending.Down {
		if PassTrend(cfg, e) {
			out.Trending.Down = append(out.Trending.Down, e)
		}
	}
	for _, e := range b.Surging.Up {
		if PassSurge(cfg, e, anchor) {
			out.Surging.Up = append(out.Surging.Up, e)
		}
	}
	for _, e := range b.Surging.Down {
		if PassSurge(cfg, e, anchor) {
			out.Surging.Down = append(out.Surging.Down, e)
		}
	}
	out.DeriveCounts()
	return out
}

// PassHighLow evaluates the highlow section. tickerCount is the number of
// high/low events for the ticker in the bundle under evaluation.
func PassHighLow(cfg *Config, e *model.HighLowEvent, tickerCount int) bool {
	if cfg == nil || cfg.HighLow == nil {
		return true
	}
	f := cfg.HighLow
	if tickerCount < f.MinCount {
		return false
	}
	if e.Hdr.Volume < f.MinVolume {
		return false
	}
	return true
}

// PassTrend evaluates the trends section. Strength is ordinal: the event
// passes iff its strength >= the filter strength.
func PassTrend(cfg *Config, e *model.TrendEvent) bool {
	if cfg == nil || cfg.Trends == nil {
		return true
	}
	f := cfg.Trends

	if f.Strength != "" && model.StrengthRank(e.Strength) < model.StrengthRank(f.Strength) {
		return false
	}
	switch f.VWAPPosition {
	case UptrendAboveVWAP:
		if e.Hdr.Direction != model.DirUp || e.VWAPPosition != model.AboveVWAP {
			return false
		}
	case DowntrendBelowVWAP:
		if e.Hdr.Direction != model.DirDown || e.VWAPPosition != model.BelowVWAP {
			return false
		}
	}
	if f.TimeWindow != "" {
		if e.AgeSeconds >= windowMaxAge[f.TimeWindow] {
			return false
		}
	}
	switch f.TrendAge {
	case AgeFresh:
		if e.AgeSeconds >= 120 {
			return false
		}
	case AgeRecent:
		if e.AgeSeconds >= 300 {
			return false
		}
	}
	if f.VolumeConfirmation == VolumeConfirmedOnly && !e.VolumeConfirmed {
		return false
	}
	return true
}

// PassSurge evaluates the surge section. anchor is the time reference for
// surge age (latest event time in the bundle, or wall clock for the
// per-event stream path).
func PassSurge(cfg *Config, e *model.SurgeEvent, anchor float64) bool {
	if cfg == nil || cfg.Surge == nil {
		return true
	}
	f := cfg.Surge

	if f.Magnitude != "" && model.StrengthRank(e.Strength) < model.StrengthRank(f.Magnitude) {
		return false
	}
	if f.TriggerType != "" && e.Trigger != f.TriggerType {
		return false
	}
	age := anchor - e.Hdr.Time
	if age < 0 {
		age = 0
	}
	switch f.SurgeAge {
	case AgeFresh:
		if age >= 30 {
			return false
		}
	case AgeRecent:
		if age >= 120 {
			return false
		}
	}
	if len(f.PriceRange) > 0 {
		bin := PriceBin(e.Hdr.Price)
		found := false
		for _, r := range f.PriceRange {
			if r == bin {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PassEvent evaluates any display-bound event against a config, the
// per-event stream path used by the websocket fan-out. now is Unix seconds.
func PassEvent(cfg *Config, ev model.Event, now float64) bool {
	switch e := ev.(type) {
	case *model.HighLowEvent:
		// No bundle context on the stream path: min_count gates bundles only.
		if cfg != nil && cfg.HighLow != nil && e.Hdr.Volume < cfg.HighLow.MinVolume {
			return false
		}
		return true
	case *model.TrendEvent:
		return PassTrend(cfg, e)
	case *model.SurgeEvent:
		return PassSurge(cfg, e, now)
	default:
		return true
	}
}
