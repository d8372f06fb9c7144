package queue

import (
	"time"

	"tickstock/internal/model"
	"tickstock/internal/pcache"
)

// Base priorities by event kind. 1 is highest.
var basePriority = map[model.Kind]int{
	model.KindControl:   1,
	model.KindTick:      1,
	model.KindHighLow:   2,
	model.KindTrend:     3,
	model.KindSurge:     3,
	model.KindAggregate: 3,
	model.KindFMV:       3,
	model.KindStatus:    4,
}

const defaultPriority = 4

// determinePriority computes the final priority for an event at offer time.
// Idempotent: base by kind, open-window ETF promotion, then cache promotion
// (top ⇒ 1, secondary ⇒ min(2, base)).
func (q *PriorityQueue) determinePriority(ev model.Event, now time.Time) int {
	prio, ok := basePriority[ev.Kind()]
	if !ok {
		prio = defaultPriority
	}
	if ev.Kind() == model.KindControl {
		return prio
	}

	ticker := ev.Header().Ticker
	if q.openWindowSet[ticker] && q.inOpenWindow(now) {
		prio = 1
	}
	if q.cache != nil {
		switch q.cache.PriorityFor(ticker) {
		case pcache.ClassTop:
			prio = 1
		case pcache.ClassSecondary:
			if prio > 2 {
				prio = 2
			}
		}
	}
	return prio
}

// ThrottleLevel reports the current admission gating level 0..3.
func (q *PriorityQueue) ThrottleLevel() int {
	return throttleLevel(float64(q.Size()) / float64(q.cfg.MaxSize))
}

// throttleLevel maps queue utilization to a gating level 0..3.
func throttleLevel(utilization float64) int {
	switch {
	case utilization > 0.98:
		return 3
	case utilization > 0.95:
		return 2
	case utilization > 0.90:
		return 1
	default:
		return 0
	}
}

// capacityExempt events are never dropped for capacity or overflow:
// control tokens steer workers and surges are the signal the whole
// pipeline exists to deliver.
func capacityExempt(k model.Kind) bool {
	return k == model.KindControl || k == model.KindSurge
}

// Offer applies admission control and inserts the event. Returns true if
// accepted. Never blocks beyond the breaker critical section; every
// rejection increments exactly one drop counter.
func (q *PriorityQueue) Offer(ev model.Event) bool {
	return q.offer(ev) == ""
}

// offer returns the drop reason, or "" on acceptance.
func (q *PriorityQueue) offer(ev model.Event) DropReason {
	if ev == nil || ev.Header() == nil {
		q.diag.drop(DropInvalidType, "")
		return DropInvalidType
	}
	kind := ev.Kind()
	now := q.now()

	q.mu.Lock()
	closed := q.closed
	size := len(q.items)
	q.mu.Unlock()

	if closed {
		q.diag.drop(DropInvalidType, kind)
		return DropInvalidType
	}

	// Age gate: event time vs wall clock. Exactly max age is still fresh.
	if kind != model.KindControl {
		age := now.Sub(time.Unix(0, int64(ev.Header().Time*1e9)))
		if age > q.cfg.MaxEventAge {
			q.diag.drop(DropAgeExpired, kind)
			return DropAgeExpired
		}
	}

	prio := q.determinePriority(ev, now)
	exempt := capacityExempt(kind)

	if !exempt {
		if size >= q.cfg.MaxSize {
			q.diag.drop(DropQueueFull, kind)
			return DropQueueFull
		}

		u := float64(size) / float64(q.cfg.MaxSize)
		if level := throttleLevel(u); level > 0 && q.cache != nil {
			if !q.cache.ShouldProcess(ev.Header().Ticker, level) {
				q.diag.drop(DropThrottled, kind)
				return DropThrottled
			}
		}
		if u >= q.cfg.OverflowThreshold && prio > 2 {
			q.diag.drop(DropLowPriorityOverflow, kind)
			return DropLowPriorityOverflow
		}
		if u > 0.98 && prio > 1 {
			q.diag.drop(DropExtremeOverflow, kind)
			return DropExtremeOverflow
		}
	}

	env := &Envelope{
		Event:      ev,
		Priority:   prio,
		EnqueuedAt: now,
	}
	if err := q.breaker.Execute(func() error { return q.push(env) }); err != nil {
		q.diag.drop(DropCircuitBreaker, kind)
		return DropCircuitBreaker
	}
	q.diag.accept(kind)
	return ""
}
