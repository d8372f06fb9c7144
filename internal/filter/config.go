// Package filter implements the per-user filter engine: a closed
// configuration schema validated up front and a pure Apply over event
// bundles. Filtering runs off the hot dispatch path, in the fan-out
// consumer of the display channel.
package filter

import (
	"tickstock/internal/model"
)

// VWAP position filter values.
const (
	UptrendAboveVWAP   = "uptrend_above_vwap"
	DowntrendBelowVWAP = "downtrend_below_vwap"
	AnyVWAPPosition    = "any_vwap_position"
)

// Time-window filter values and their maximum trend age in seconds.
const (
	WindowShort  = "short"
	WindowMedium = "medium"
	WindowLong   = "long"
)

var windowMaxAge = map[string]float64{
	WindowShort:  180,
	WindowMedium: 360,
	WindowLong:   600,
}

// Age filter values. Thresholds differ for trends and surges.
const (
	AgeAll    = "all"
	AgeFresh  = "fresh"
	AgeRecent = "recent"
)

// Volume-confirmation filter values.
const (
	VolumeConfirmedOnly = "volume_confirmed"
	AllTrends           = "all_trends"
)

// Price range bins: penny [0,1), low [1,25), mid [25,100), high [100,inf).
const (
	RangePenny = "penny"
	RangeLow   = "low"
	RangeMid   = "mid"
	RangeHigh  = "high"
)

// PriceBin returns the range bin for a price.
func PriceBin(price float64) string {
	switch {
	case price < 1:
		return RangePenny
	case price < 25:
		return RangeLow
	case price < 100:
		return RangeMid
	default:
		return RangeHigh
	}
}

// HighLowFilter gates high/low events.
type HighLowFilter struct {
	MinCount  int   `json:"min_count"`
	MinVolume int64 `json:"min_volume"`
}

// TrendFilter gates trend events.
type TrendFilter struct {
	Strength           model.Strength `json:"strength"`
	VWAPPosition       string         `json:"vwap_position"`
	TimeWindow         string         `json:"time_window"`
	TrendAge           string         `json:"trend_age"`
	VolumeConfirmation string         `json:"volume_confirmation"`
}

// SurgeFilter gates surge events.
type SurgeFilter struct {
	Magnitude   model.Strength     `json:"magnitude"`
	TriggerType model.SurgeTrigger `json:"trigger_type"`
	SurgeAge    string             `json:"surge_age"`
	PriceRange  []string           `json:"price_range"`
}

// Config is a user's filter configuration. Nil sections pass everything.
type Config struct {
	HighLow *HighLowFilter `json:"highlow,omitempty"`
	Trends  *TrendFilter   `json:"trends,omitempty"`
	Surge   *SurgeFilter   `json:"surge,omitempty"`
}

// Validate checks the config against the closed schema.
func Validate(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if f := cfg.HighLow; f != nil {
		if f.MinCount < 0 {
			return &model.ValidationError{Field: "filters.highlow.min_count", Msg: "must be >= 0"}
		}
		if f.MinVolume < 0 {
			return &model.ValidationError{Field: "filters.highlow.min_volume", Msg: "must be >= 0"}
		}
	}
	if f := cfg.Trends; f != nil {
		if f.Strength != "" && model.StrengthRank(f.Strength) == 0 {
			return &model.ValidationError{Field: "filters.trends.strength", Msg: "unknown strength " + string(f.Strength)}
		}
		switch f.VWAPPosition {
		case "", UptrendAboveVWAP, DowntrendBelowVWAP, AnyVWAPPosition:
		default:
			return &model.ValidationError{Field: "filters.trends.vwap_position", Msg: "unknown value " + f.VWAPPosition}
		}
		if f.TimeWindow != "" {
			if _, ok := windowMaxAge[f.TimeWindow]; !ok {
				return &model.ValidationError{Field: "filters.trends.time_window", Msg: "unknown value " + f.TimeWindow}
			}
		}
		switch f.TrendAge {
		case "", AgeAll, AgeFresh, AgeRecent:
		default:
			return &model.ValidationError{Field: "filters.trends.trend_age", Msg: "unknown value " + f.TrendAge}
		}
		switch f.VolumeConfirmation {
		case "", VolumeConfirmedOnly, AllTrends:
		default:
			return &model.ValidationError{Field: "filters.trends.volume_confirmation", Msg: "unknown value " + f.VolumeConfirmation}
		}
	}
	if f := cfg.Surge; f != nil {
		if f.Magnitude != "" && model.StrengthRank(f.Magnitude) == 0 {
			return &model.ValidationError{Field: "filters.surge.magnitude", Msg: "unknown strength " + string(f.Magnitude)}
		}
		switch f.TriggerType {
		case "", model.TriggerPrice, model.TriggerVolume, model.TriggerPriceAndVolume:
		default:
			return &model.ValidationError{Field: "filters.surge.trigger_type", Msg: "unknown value " + string(f.TriggerType)}
		}
		switch f.SurgeAge {
		case "", AgeAll, AgeFresh, AgeRecent:
		default:
			return &model.ValidationError{Field: "filters.surge.surge_age", Msg: "unknown value " + f.SurgeAge}
		}
		for _, r := range f.PriceRange {
			switch r {
			case RangePenny, RangeLow, RangeMid, RangeHigh:
			default:
				return &model.ValidationError{Field: "filters.surge.price_range", Msg: "unknown bin " + r}
			}
		}
	}
	return nil
}
