// Package queue implements the bounded, priority-ordered event queue with
// admission control: age expiry, overflow-aware drop policy, cache-driven
// priority promotion, throttle levels, and a circuit breaker around the
// insertion critical section.
package queue

import (
	"container/heap"
	"sync"
	"time"

	"tickstock/internal/markethours"
	"tickstock/internal/model"
	"tickstock/internal/pcache"
)

// Envelope wraps an event while it sits in the queue.
type Envelope struct {
	Event      model.Event
	Priority   int // 1 = highest
	EnqueuedAt time.Time
	RetryCount int
	seq        uint64 // insertion order tiebreak
	index      int    // heap bookkeeping
}

// Age returns how long the envelope has been enqueued.
func (e *Envelope) Age(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}

// eventHeap orders by (priority asc, enqueuedAt asc, seq asc).
type eventHeap []*Envelope

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	if !h[i].EnqueuedAt.Equal(h[j].EnqueuedAt) {
		return h[i].EnqueuedAt.Before(h[j].EnqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	env := x.(*Envelope)
	env.index = len(*h)
	*h = append(*h, env)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	env := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return env
}

// Config holds queue tuning. Zero values take the documented defaults.
type Config struct {
	MaxSize             int           // default 100000
	OverflowThreshold   float64       // fraction of MaxSize, default 0.98
	MaxEventAge         time.Duration // default 120s
	BreakerFailMax      int           // default 5
	BreakerResetTimeout time.Duration // default 30s

	// OpenWindowSymbols are promoted to top priority during the first
	// 30 minutes after the regular-session open. Loaded from config,
	// typically the broad market ETFs.
	OpenWindowSymbols []string
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = 100000
	}
	if c.OverflowThreshold <= 0 || c.OverflowThreshold > 1 {
		c.OverflowThreshold = 0.98
	}
	if c.MaxEventAge <= 0 {
		c.MaxEventAge = 120 * time.Second
	}
	if c.BreakerFailMax <= 0 {
		c.BreakerFailMax = 5
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 30 * time.Second
	}
	return c
}

// Stats is a point-in-time queue snapshot.
type Stats struct {
	Size          int                   `json:"size"`
	HighWaterMark int                   `json:"high_water_mark"`
	Accepted      uint64                `json:"accepted"`
	Drops         map[DropReason]uint64 `json:"drops"`
	BreakerState  string                `json:"breaker_state"`
	Closed        bool                  `json:"closed"`
}

// PriorityQueue is the bounded priority queue shared between detectors
// (producers) and the worker pool (consumers). All public operations are
// thread-safe. Offer never blocks beyond the breaker critical section.
type PriorityQueue struct {
	mu        sync.Mutex
	items     eventHeap
	cfg       Config
	cache     *pcache.Cache
	breaker   *Breaker
	diag      *Diagnostics
	closed    bool
	seq       uint64
	highWater int
	notify    chan struct{}

	openWindowSet map[string]bool

	// Overridable for tests.
	now          func() time.Time
	inOpenWindow func(time.Time) bool
}

// New creates a queue. cache may be nil, which disables promotion and
// throttle gating beyond the utilization checks.
func New(cfg Config, cache *pcache.Cache) *PriorityQueue {
	cfg = cfg.withDefaults()
	q := &PriorityQueue{
		cfg:           cfg,
		cache:         cache,
		breaker:       NewBreaker(cfg.BreakerFailMax, cfg.BreakerResetTimeout),
		diag:          NewDiagnostics(),
		notify:        make(chan struct{}, 1),
		now:           time.Now,
		inOpenWindow:  markethours.InOpenWindow,
		openWindowSet: make(map[string]bool, len(cfg.OpenWindowSymbols)),
	}
	for _, s := range cfg.OpenWindowSymbols {
		q.openWindowSet[s] = true
	}
	return q
}

// Diagnostics exposes the queue's drop/accept counters.
func (q *PriorityQueue) Diagnostics() *Diagnostics { return q.diag }

// Breaker exposes the insertion circuit breaker (for metrics wiring).
func (q *PriorityQueue) Breaker() *Breaker { return q.breaker }

// Size returns the current queue depth.
func (q *PriorityQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured maximum queue size.
func (q *PriorityQueue) Capacity() int { return q.cfg.MaxSize }

// HighWaterMark returns the maximum depth observed.
func (q *PriorityQueue) HighWaterMark() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highWater
}

// Stats returns a snapshot of queue state and counters.
func (q *PriorityQueue) Stats() Stats {
	q.mu.Lock()
	size, hwm, closed := len(q.items), q.highWater, q.closed
	q.mu.Unlock()
	return Stats{
		Size:          size,
		HighWaterMark: hwm,
		Accepted:      q.diag.Accepted(),
		Drops:         q.diag.Drops(),
		BreakerState:  q.breaker.State().String(),
		Closed:        closed,
	}
}

// push inserts an envelope under the queue lock and wakes one poller.
// Runs inside the circuit breaker.
func (q *PriorityQueue) push(env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errInsertPanic{r}
		}
	}()
	q.mu.Lock()
	q.seq++
	env.seq = q.seq
	heap.Push(&q.items, env)
	if len(q.items) > q.highWater {
		q.highWater = len(q.items)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

type errInsertPanic struct{ v any }

func (e errInsertPanic) Error() string { return "queue insert panic" }

// Poll removes and returns the highest-priority event, blocking up to
// timeout. Returns nil on timeout. Envelopes older than MaxEventAge are
// discarded (age_expired_on_poll) and polling continues.
func (q *PriorityQueue) Poll(timeout time.Duration) model.Event {
	if env := q.pollEnvelope(timeout); env != nil {
		return env.Event
	}
	return nil
}

// pollEnvelope is Poll at the envelope level, so kind-filtered batch
// polls can put a popped envelope back intact.
func (q *PriorityQueue) pollEnvelope(timeout time.Duration) *Envelope {
	deadline := q.now().Add(timeout)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if env := q.tryPop(); env != nil {
			return env
		}

		remaining := deadline.Sub(q.now())
		if remaining <= 0 {
			return nil
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
		} else {
			timer.Reset(remaining)
		}
		select {
		case <-q.notify:
		case <-timer.C:
			// One last check: an offer may have landed while arming the timer.
			return q.tryPop()
		}
	}
}

// tryPop pops the next non-expired envelope, or nil if the queue is empty.
func (q *PriorityQueue) tryPop() *Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for len(q.items) > 0 {
		env := heap.Pop(&q.items).(*Envelope)
		if env.Event.Kind() != model.KindControl && env.Age(now) > q.cfg.MaxEventAge {
			q.diag.drop(DropAgeExpiredOnPoll, env.Event.Kind())
			continue
		}
		q.diag.poll(env.Age(now).Seconds())
		return env
	}
	return nil
}

// PollBatch returns up to max events, blocking up to timeout for the first
// one. If kinds is non-empty, only matching events are returned; a popped
// non-matching event is re-queued and collection stops there to preserve
// ordering.
func (q *PriorityQueue) PollBatch(max int, timeout time.Duration, kinds ...model.Kind) []model.Event {
	if max <= 0 {
		return nil
	}
	want := func(k model.Kind) bool {
		if len(kinds) == 0 {
			return true
		}
		for _, wk := range kinds {
			if wk == k {
				return true
			}
		}
		return false
	}

	var out []model.Event
	first := q.pollEnvelope(timeout)
	if first == nil {
		return nil
	}
	if !want(first.Event.Kind()) {
		q.requeue(first)
		return nil
	}
	out = append(out, first.Event)

	for len(out) < max {
		env := q.tryPop()
		if env == nil {
			break
		}
		if !want(env.Event.Kind()) {
			q.requeue(env)
			break
		}
		out = append(out, env.Event)
	}
	return out
}

// PollControl removes and returns the earliest control event from anywhere
// in the queue, leaving every other envelope untouched. Returns nil when no
// control event is queued. Paused workers use this to keep reacting to
// commands without consuming data events.
func (q *PriorityQueue) PollControl() model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	best := -1
	for i, env := range q.items {
		if env.Event.Kind() != model.KindControl {
			continue
		}
		if best == -1 || q.items.Less(i, best) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	env := heap.Remove(&q.items, best).(*Envelope)
	q.diag.poll(env.Age(q.now()).Seconds())
	return env.Event
}

// requeue puts a popped envelope back intact: priority, enqueue time, and
// insertion order are preserved so a kind-filtered poll never reorders
// events it did not consume.
func (q *PriorityQueue) requeue(env *Envelope) {
	q.mu.Lock()
	heap.Push(&q.items, env)
	if len(q.items) > q.highWater {
		q.highWater = len(q.items)
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Shutdown marks the queue closed for new offers and enqueues one
// priority-1 Control(shutdown) per worker so the pool drains gracefully.
func (q *PriorityQueue) Shutdown(workers int) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	for i := 0; i < workers; i++ {
		ctrl, err := model.NewControl(model.CmdShutdown)
		if err != nil {
			continue
		}
		q.push(&Envelope{
			Event:      ctrl,
			Priority:   1,
			EnqueuedAt: q.now(),
		})
	}
}

// Closed reports whether Shutdown has been called.
func (q *PriorityQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
