package gateway

import (
	"sync"

	"tickstock/internal/filter"
	"tickstock/internal/model"
)

// windowMaxAge bounds how long display events stay eligible for bundle
// snapshots. Matches the longest filter time window.
const windowMaxAge = 600.0 // seconds

// eventWindow accumulates recent display-bound events and materializes
// them into bundles on demand. Events older than windowMaxAge relative
// to the newest event are pruned on every add.
type eventWindow struct {
	mu     sync.Mutex
	events []model.Event
	newest float64
}

func newEventWindow() *eventWindow {
	return &eventWindow{}
}

// Add records one display event and prunes expired ones.
func (w *eventWindow) Add(ev model.Event) {
	switch ev.Kind() {
	case model.KindHighLow, model.KindTrend, model.KindSurge:
	default:
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	t := ev.Header().Time
	if t > w.newest {
		w.newest = t
	}
	w.events = append(w.events, ev)

	cutoff := w.newest - windowMaxAge
	i := 0
	for ; i < len(w.events); i++ {
		if w.events[i].Header().Time >= cutoff {
			break
		}
	}
	if i > 0 {
		w.events = append(w.events[:0], w.events[i:]...)
	}
}

// Len reports the number of buffered events.
func (w *eventWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// Bundle assembles the current window into a filter bundle with derived
// counts.
func (w *eventWindow) Bundle() filter.Bundle {
	w.mu.Lock()
	events := make([]model.Event, len(w.events))
	copy(events, w.events)
	w.mu.Unlock()

	var b filter.Bundle
	for _, ev := range events {
		switch e := ev.(type) {
		case *model.HighLowEvent:
			if e.Hdr.Direction == model.DirDown {
				b.Lows = append(b.Lows, e)
			} else {
				b.Highs = append(b.Highs, e)
			}
		case *model.TrendEvent:
			if e.Hdr.Direction == model.DirDown {
				b.Trending.Down = append(b.Trending.Down, e)
			} else {
				b.Trending.Up = append(b.Trending.Up, e)
			}
		case *model.SurgeEvent:
			if e.Hdr.Direction == model.DirDown {
				b.Surging.Down = append(b.Surging.Down, e)
			} else {
				b.Surging.Up = append(b.Surging.Up, e)
			}
		}
	}
	b.DeriveCounts()
	return b
}
