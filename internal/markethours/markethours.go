// Package markethours classifies wall-clock time into US equity sessions
// and exposes the market-open window used for priority promotion.
package markethours

import (
	"fmt"
	"time"
)

// Eastern is the US market time zone. Falls back to a fixed UTC-5 zone if
// the tz database is unavailable (stripped containers).
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Session boundaries in Eastern time.
const (
	PreMarketStartHour = 4 // 04:00
	OpenHour           = 9
	OpenMinute         = 30 // 09:30
	CloseHour          = 16 // 16:00
	AfterHoursEndHour  = 20 // 20:00

	// OpenWindowMinutes is the length of the post-open window during which
	// market ETFs are promoted to top priority.
	OpenWindowMinutes = 30
)

// Session names, matching the event model's session tags.
const (
	SessionPreMarket  = "premarket"
	SessionRegular    = "regular"
	SessionAfterHours = "afterhours"
)

// SessionAt returns the session tag for t. Times outside 04:00–20:00 ET are
// tagged afterhours; the feed does not emit during the overnight gap.
func SessionAt(t time.Time) string {
	et := t.In(Eastern)
	hm := et.Hour()*60 + et.Minute()
	switch {
	case hm >= PreMarketStartHour*60 && hm < OpenHour*60+OpenMinute:
		return SessionPreMarket
	case hm >= OpenHour*60+OpenMinute && hm < CloseHour*60:
		return SessionRegular
	default:
		return SessionAfterHours
	}
}

// IsMarketOpen returns true if t falls within regular trading hours
// (9:30 AM – 4:00 PM ET, Mon–Fri).
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	if !IsWeekday(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60
}

// InOpenWindow returns true during the first OpenWindowMinutes after the
// regular-session open (09:30–10:00 ET on weekdays).
func InOpenWindow(t time.Time) bool {
	et := t.In(Eastern)
	if !IsWeekday(et) {
		return false
	}
	open := OpenHour*60 + OpenMinute
	hm := et.Hour()*60 + et.Minute()
	return hm >= open && hm < open+OpenWindowMinutes
}

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(Eastern).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// TodayClose returns today's regular-session close (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, 0, 0, 0, Eastern)
}

// NextOpen returns the next regular-session open (9:30 AM ET on the next
// weekday). If t is before today's open on a weekday, returns today's open.
func NextOpen(t time.Time) time.Time {
	et := t.In(Eastern)
	todayOpen := time.Date(et.Year(), et.Month(), et.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
	if et.Before(todayOpen) && IsWeekday(et) {
		return todayOpen
	}
	d := et.AddDate(0, 0, 1)
	for i := 0; i < 7; i++ {
		if IsWeekday(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), OpenHour, OpenMinute, 0, 0, Eastern)
		}
		d = d.AddDate(0, 0, 1)
	}
	return todayOpen.AddDate(0, 0, 1)
}

// StatusString returns a human-readable market status.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		d := TodayClose(t).Sub(t)
		return fmt.Sprintf("Market Open — closes in %s", fmtDur(d))
	}
	next := NextOpen(t)
	et := next.In(Eastern)
	return fmt.Sprintf("Market Closed — opens %s %s (%s)",
		et.Weekday().String()[:3], et.Format("15:04"), fmtDur(next.Sub(t)))
}

func fmtDur(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
