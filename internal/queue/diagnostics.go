package queue

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"tickstock/internal/model"
	"tickstock/internal/ringbuf"
)

// DropReason classifies why an offer was rejected or a poll discarded.
type DropReason string

const (
	DropInvalidType         DropReason = "invalid_type"
	DropAgeExpired          DropReason = "age_expired"
	DropQueueFull           DropReason = "queue_full"
	DropThrottled           DropReason = "throttled"
	DropLowPriorityOverflow DropReason = "low_priority_overflow"
	DropExtremeOverflow     DropReason = "extreme_overflow"
	DropCircuitBreaker      DropReason = "circuit_breaker"
	DropAgeExpiredOnPoll    DropReason = "age_expired_on_poll"
)

// ageRingSize is the number of recent event ages kept for the histogram.
const ageRingSize = 1000

// Diagnostics tracks accept/drop counters by reason and kind plus a ring
// of recent event ages. Dropped events never silently disappear in
// aggregate: every rejection lands in exactly one counter.
type Diagnostics struct {
	mu          sync.Mutex
	accepted    uint64
	polled      uint64
	dropsByWhy  map[DropReason]uint64
	dropsByKind map[model.Kind]uint64
	ages        *ringbuf.Ring // seconds, pushed on poll, guarded by mu

	// Optional hooks for external instrumentation. Set before the queue
	// starts accepting offers.
	OnAccept func(kind model.Kind)
	OnDrop   func(reason DropReason, kind model.Kind)
}

// NewDiagnostics creates empty diagnostics.
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		dropsByWhy:  make(map[DropReason]uint64),
		dropsByKind: make(map[model.Kind]uint64),
		ages:        ringbuf.New(ageRingSize),
	}
}

func (d *Diagnostics) accept(kind model.Kind) {
	d.mu.Lock()
	d.accepted++
	d.mu.Unlock()
	if d.OnAccept != nil {
		d.OnAccept(kind)
	}
}

func (d *Diagnostics) poll(ageSec float64) {
	d.mu.Lock()
	d.polled++
	d.ages.PushEvict(ageSec)
	d.mu.Unlock()
}

func (d *Diagnostics) drop(reason DropReason, kind model.Kind) {
	d.mu.Lock()
	d.dropsByWhy[reason]++
	if kind != "" {
		d.dropsByKind[kind]++
	}
	d.mu.Unlock()
	if d.OnDrop != nil {
		d.OnDrop(reason, kind)
	}
}

// Accepted returns the total number of accepted offers.
func (d *Diagnostics) Accepted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accepted
}

// Drops returns a copy of the per-reason drop counters.
func (d *Diagnostics) Drops() map[DropReason]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[DropReason]uint64, len(d.dropsByWhy))
	for k, v := range d.dropsByWhy {
		out[k] = v
	}
	return out
}

// DropsByKind returns a copy of the per-kind drop counters.
func (d *Diagnostics) DropsByKind() map[model.Kind]uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[model.Kind]uint64, len(d.dropsByKind))
	for k, v := range d.dropsByKind {
		out[k] = v
	}
	return out
}

// DropCount returns the counter for one reason.
func (d *Diagnostics) DropCount(reason DropReason) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropsByWhy[reason]
}

// AgePercentiles returns p50/p95/p99 of the recent event-age ring, in
// seconds. The ring is single-producer; the mutex covers readers like the
// metrics collector that snapshot from other goroutines.
func (d *Diagnostics) AgePercentiles() (p50, p95, p99 float64) {
	d.mu.Lock()
	samples := d.ages.Snapshot()
	d.mu.Unlock()
	if len(samples) == 0 {
		return 0, 0, 0
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	pct := func(p float64) float64 {
		idx := int(p * float64(len(sorted)-1))
		return sorted[idx]
	}
	return pct(0.50), pct(0.95), pct(0.99)
}

// DropAnalysis returns human-actionable recommendations derived from the
// current drop counters.
func (d *Diagnostics) DropAnalysis() []string {
	drops := d.Drops()
	var recs []string
	if drops[DropQueueFull] > 0 || drops[DropLowPriorityOverflow] > 0 {
		recs = append(recs, fmt.Sprintf(
			"capacity drops (queue_full=%d low_priority_overflow=%d): raise MAX_QUEUE_SIZE or increase worker count",
			drops[DropQueueFull], drops[DropLowPriorityOverflow]))
	}
	if drops[DropExtremeOverflow] > 0 {
		recs = append(recs, fmt.Sprintf(
			"extreme_overflow=%d: sustained saturation above 98%%, increase MAX_WORKER_POOL_SIZE",
			drops[DropExtremeOverflow]))
	}
	if drops[DropThrottled] > 0 {
		recs = append(recs, fmt.Sprintf(
			"throttled=%d: non-priority symbols gated under load, review priority universe membership",
			drops[DropThrottled]))
	}
	if drops[DropAgeExpired] > 0 || drops[DropAgeExpiredOnPoll] > 0 {
		recs = append(recs, fmt.Sprintf(
			"stale events (age_expired=%d on_poll=%d): upstream feed lag or MAX_EVENT_AGE_MS too low",
			drops[DropAgeExpired], drops[DropAgeExpiredOnPoll]))
	}
	if drops[DropCircuitBreaker] > 0 {
		recs = append(recs, fmt.Sprintf(
			"circuit_breaker=%d: repeated insert failures, inspect process health",
			drops[DropCircuitBreaker]))
	}
	if len(recs) == 0 {
		recs = append(recs, "no drops recorded")
	}
	return recs
}

// RunSummary logs a periodic drop/accept summary until ctx is cancelled.
func (d *Diagnostics) RunSummary(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.mu.Lock()
			accepted, polled := d.accepted, d.polled
			drops := make(map[DropReason]uint64, len(d.dropsByWhy))
			for k, v := range d.dropsByWhy {
				drops[k] = v
			}
			d.mu.Unlock()
			p50, p95, p99 := d.AgePercentiles()
			log.Printf("[queue] accepted=%d polled=%d drops=%v age_p50=%.3fs p95=%.3fs p99=%.3fs",
				accepted, polled, drops, p50, p95, p99)
		}
	}
}
