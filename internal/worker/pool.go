// Package worker implements the pool that drains the priority queue,
// dispatches events by kind, and re-queues display-bound events into the
// bounded display channel for frontend fan-out.
package worker

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tickstock/internal/model"
	"tickstock/internal/queue"
)

// TickProcessor receives tick events dispatched by workers and may
// synthesize detector-level events back into the pipeline.
type TickProcessor interface {
	ProcessTick(ev *model.TickEvent)
}

// Config holds pool tuning. Zero values take the documented defaults.
type Config struct {
	MinWorkers     int           // default 8
	MaxWorkers     int           // default 16
	BatchSize      int           // default 500
	CollectTimeout time.Duration // default 500ms
	DisplayBuffer  int           // default 4096
	JoinTimeout    time.Duration // default 2s
}

func (c Config) withDefaults() Config {
	if c.MinWorkers <= 0 {
		c.MinWorkers = 8
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = c.MinWorkers * 2
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 500 * time.Millisecond
	}
	if c.DisplayBuffer <= 0 {
		c.DisplayBuffer = 4096
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 2 * time.Second
	}
	return c
}

// backoffLadder is the sleep schedule for consecutive empty polls.
var backoffLadder = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
}

// Health is an aggregate pool snapshot.
type Health struct {
	Alive        int               `json:"alive"`
	Dispatched   uint64            `json:"dispatched"`
	Errors       uint64            `json:"errors"`
	DisplayDrops uint64            `json:"display_drops"`
	ByKind       map[string]uint64 `json:"by_kind"`
}

type workerHandle struct {
	id   int
	done chan struct{}
}

// Pool drains the queue with N workers. Workers react only to the message
// stream: a priority-1 Control(shutdown) token terminates one worker,
// which keeps shutdown deterministic under test.
type Pool struct {
	q      *queue.PriorityQueue
	states *model.StateStore
	cfg    Config

	tickProc TickProcessor
	display  chan model.Event

	mu      sync.Mutex
	workers map[int]*workerHandle
	nextID  int

	paused atomic.Bool

	dispatched   atomic.Uint64
	errors       atomic.Uint64
	displayDrops atomic.Uint64

	kindMu sync.Mutex
	byKind map[model.Kind]uint64

	// Optional instrumentation hooks. Set before Start.
	OnDispatch    func(kind model.Kind)
	OnError       func()
	OnDisplayDrop func()
}

// NewPool creates a pool. tickProc may be nil if no tick processing is wired.
func NewPool(q *queue.PriorityQueue, states *model.StateStore, tickProc TickProcessor, cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		q:        q,
		states:   states,
		cfg:      cfg,
		tickProc: tickProc,
		display:  make(chan model.Event, cfg.DisplayBuffer),
		workers:  make(map[int]*workerHandle),
		byKind:   make(map[model.Kind]uint64),
	}
}

// Display returns the bounded outbound channel of display-bound events.
func (p *Pool) Display() <-chan model.Event { return p.display }

// Start spawns n workers, clamped to [MinWorkers, MaxWorkers].
func (p *Pool) Start(n int) {
	n = p.clamp(n)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < n; i++ {
		p.spawnLocked()
	}
	log.Printf("[worker] started %d workers", n)
}

func (p *Pool) clamp(n int) int {
	if n < p.cfg.MinWorkers {
		return p.cfg.MinWorkers
	}
	if n > p.cfg.MaxWorkers {
		return p.cfg.MaxWorkers
	}
	return n
}

func (p *Pool) spawnLocked() {
	p.nextID++
	h := &workerHandle{id: p.nextID, done: make(chan struct{})}
	p.workers[h.id] = h
	go p.run(h)
}

// Alive returns the number of workers that have not terminated.
func (p *Pool) Alive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	alive := 0
	for _, h := range p.workers {
		select {
		case <-h.done:
		default:
			alive++
		}
	}
	return alive
}

// Health returns alive count and aggregate counters.
func (p *Pool) Health() Health {
	p.kindMu.Lock()
	byKind := make(map[string]uint64, len(p.byKind))
	for k, v := range p.byKind {
		byKind[string(k)] = v
	}
	p.kindMu.Unlock()
	return Health{
		Alive:        p.Alive(),
		Dispatched:   p.dispatched.Load(),
		Errors:       p.errors.Load(),
		DisplayDrops: p.displayDrops.Load(),
		ByKind:       byKind,
	}
}

// Resize scales the pool to n workers (clamped). Scaling down enqueues
// shutdown tokens; terminated workers are reaped on the next call.
func (p *Pool) Resize(n int) {
	n = p.clamp(n)
	p.reap()

	p.mu.Lock()
	cur := 0
	for _, h := range p.workers {
		select {
		case <-h.done:
		default:
			cur++
		}
	}
	if n > cur {
		for i := 0; i < n-cur; i++ {
			p.spawnLocked()
		}
		p.mu.Unlock()
		log.Printf("[worker] resized up %d -> %d", cur, n)
		return
	}
	p.mu.Unlock()

	if n < cur {
		for i := 0; i < cur-n; i++ {
			if ctrl, err := model.NewControl(model.CmdShutdown); err == nil {
				p.q.Offer(ctrl)
			}
		}
		log.Printf("[worker] resizing down %d -> %d", cur, n)
	}
}

// reap removes handles of terminated workers.
func (p *Pool) reap() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, h := range p.workers {
		select {
		case <-h.done:
			delete(p.workers, id)
		default:
		}
	}
}

// Stop shuts the queue, enqueues one shutdown token per worker, and joins
// each with the configured timeout. Workers that fail to terminate are
// logged and abandoned.
func (p *Pool) Stop() {
	p.mu.Lock()
	handles := make([]*workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	p.q.Shutdown(len(handles))

	for _, h := range handles {
		select {
		case <-h.done:
		case <-time.After(p.cfg.JoinTimeout):
			log.Printf("[worker] worker %d did not terminate within %s, abandoning", h.id, p.cfg.JoinTimeout)
		}
	}
	p.reap()
	log.Printf("[worker] pool stopped")
}

// run is the worker loop: poll a batch, dispatch each event, back off when
// the queue is empty.
func (p *Pool) run(h *workerHandle) {
	defer close(h.done)
	emptyPolls := 0

	for {
		if p.paused.Load() {
			// A paused worker consumes only control commands; data events
			// stay queued until a resume token arrives.
			if ev := p.q.PollControl(); ev != nil {
				if p.dispatch(ev) {
					return
				}
				continue
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}

		batch := p.q.PollBatch(p.cfg.BatchSize, p.cfg.CollectTimeout)
		if len(batch) == 0 {
			idx := emptyPolls
			if idx >= len(backoffLadder) {
				idx = len(backoffLadder) - 1
			}
			time.Sleep(backoffLadder[idx])
			emptyPolls++
			continue
		}
		emptyPolls = 0

		for _, ev := range batch {
			if p.dispatch(ev) {
				return // shutdown token observed
			}
		}
	}
}

// dispatch handles one event. Returns true if the worker should exit.
// Panics from handlers are caught and counted; they must not kill the worker.
func (p *Pool) dispatch(ev model.Event) (exit bool) {
	defer func() {
		if r := recover(); r != nil {
			p.errors.Add(1)
			if p.OnError != nil {
				p.OnError()
			}
			log.Printf("[worker] dispatch panic: %v", r)
		}
	}()

	switch e := ev.(type) {
	case *model.ControlEvent:
		switch e.Command {
		case model.CmdShutdown:
			return true
		case model.CmdPause:
			p.paused.Store(true)
		case model.CmdResume:
			p.paused.Store(false)
		case model.CmdFlush:
			// Drain-to-empty is the queue's normal behavior; nothing to do.
		}
		return false

	case *model.TickEvent:
		// The tick processor owns the state fold and may synthesize
		// detector-level events back into the queue.
		if p.tickProc != nil {
			p.tickProc.ProcessTick(e)
		}

	case *model.HighLowEvent:
		p.states.With(e.Hdr.Ticker, func(st *model.TickerState) {
			st.CountEvent(model.KindHighLow)
			switch e.Subkind {
			case model.DayHigh:
				if e.Hdr.Price > st.DayHigh {
					st.DayHigh = e.Hdr.Price
				}
			case model.DayLow:
				if st.DayLow == 0 || e.Hdr.Price < st.DayLow {
					st.DayLow = e.Hdr.Price
				}
			case model.SessionHigh:
				if e.Hdr.Price > st.SessionHigh {
					st.SessionHigh = e.Hdr.Price
				}
			case model.SessionLow:
				if st.SessionLow == 0 || e.Hdr.Price < st.SessionLow {
					st.SessionLow = e.Hdr.Price
				}
			}
			st.Changed = true
		})

	case *model.TrendEvent, *model.SurgeEvent:
		// Pass-through for display; no state persisted.

	case *model.AggregateEvent:
		p.states.With(e.Hdr.Ticker, func(st *model.TickerState) {
			st.CountEvent(model.KindAggregate)
			if e.High > st.DayHigh {
				st.DayHigh = e.High
			}
			if st.DayLow == 0 || e.Low < st.DayLow {
				st.DayLow = e.Low
			}
			st.DayVolume = e.DayVolume
			if e.DayVWAP > 0 {
				st.VWAP = e.DayVWAP
			}
			st.Changed = true
		})
	}

	p.dispatched.Add(1)
	p.kindMu.Lock()
	p.byKind[ev.Kind()]++
	p.kindMu.Unlock()
	if p.OnDispatch != nil {
		p.OnDispatch(ev.Kind())
	}

	// Display-bound kinds go to the bounded fan-out channel. Non-blocking:
	// a full channel drops with a counter, never stalls the worker.
	switch ev.Kind() {
	case model.KindHighLow, model.KindTrend, model.KindSurge:
		select {
		case p.display <- ev:
		default:
			p.displayDrops.Add(1)
			if p.OnDisplayDrop != nil {
				p.OnDisplayDrop()
			}
		}
	}
	return false
}
