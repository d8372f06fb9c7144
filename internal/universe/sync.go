package universe

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Synchronizer states.
type State string

const (
	StateIdle          State = "IDLE"
	StateWaitingForEOD State = "WAITING_FOR_EOD"
	StateSynchronizing State = "SYNCHRONIZING"
	StatePublishing    State = "PUBLISHING"
)

// Publisher emits synchronizer notifications on the message bus.
type Publisher interface {
	PublishSyncComplete(ctx context.Context, result Result) error
	PublishUniverseUpdated(ctx context.Context, universeKey string, changes []Change) error
	PublishDetail(ctx context.Context, channel string, payload map[string]any) error
}

// EODWaiter blocks until the end-of-day signal arrives or the timeout
// elapses. Returns true if the signal was received.
type EODWaiter interface {
	WaitEOD(ctx context.Context, timeout time.Duration) (bool, error)
}

// SyncConfig tunes the synchronizer.
type SyncConfig struct {
	SyncTimeout    time.Duration       // performance budget, default 30m
	EODWaitTimeout time.Duration       // default 1h
	TopSizes       []int               // default 100,500,1000,2000
	IPODays        int                 // default 30
	ThemeRules     map[string][]string // explicit theme memberships; empty = no-op
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 30 * time.Minute
	}
	if c.EODWaitTimeout <= 0 {
		c.EODWaitTimeout = time.Hour
	}
	if len(c.TopSizes) == 0 {
		c.TopSizes = []int{100, 500, 1000, 2000}
	}
	if c.IPODays <= 0 {
		c.IPODays = 30
	}
	return c
}

// TaskResult reports one task's outcome. A task failure never prevents the
// remaining tasks from running.
type TaskResult struct {
	Name     string        `json:"name"`
	Changes  []Change      `json:"changes"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Result is the aggregate outcome of one synchronizer run.
type Result struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	WithinWindow bool          `json:"within_window"`
	EODReceived  bool          `json:"eod_received"`
	Tasks        []TaskResult  `json:"tasks"`
	TotalChanges int           `json:"total_changes"`
}

// Changes flattens all task changes.
func (r *Result) Changes() []Change {
	var out []Change
	for _, t := range r.Tasks {
		out = append(out, t.Changes...)
	}
	return out
}

// Synchronizer reconciles universe memberships once per trading day.
type Synchronizer struct {
	cat Catalog
	pub Publisher
	eod EODWaiter
	cfg SyncConfig

	mu    sync.Mutex
	state State
}

// NewSynchronizer creates a synchronizer. pub and eod may be nil (test runs
// and one-shot CLI modes).
func NewSynchronizer(cat Catalog, pub Publisher, eod EODWaiter, cfg SyncConfig) *Synchronizer {
	return &Synchronizer{cat: cat, pub: pub, eod: eod, cfg: cfg.withDefaults(), state: StateIdle}
}

// State returns the current state-machine state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Synchronizer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// RunDaily waits for the EOD signal, runs all tasks, and publishes
// notifications. The run proceeds even if the EOD wait times out; the
// timeout is reported in the result.
func (s *Synchronizer) RunDaily(ctx context.Context) (Result, error) {
	s.setState(StateWaitingForEOD)
	received := true
	if s.eod != nil {
		var err error
		received, err = s.eod.WaitEOD(ctx, s.cfg.EODWaitTimeout)
		if err != nil {
			s.setState(StateIdle)
			return Result{}, fmt.Errorf("eod wait: %w", err)
		}
		if !received {
			log.Printf("[sync] EOD signal not received within %s, running anyway", s.cfg.EODWaitTimeout)
		}
	}
	res, err := s.RunAll(ctx)
	res.EODReceived = received
	return res, err
}

// RunAll runs tasks 1..5 in sequence, persists the change log, and
// publishes notifications. Each task has its own error boundary.
func (s *Synchronizer) RunAll(ctx context.Context) (Result, error) {
	s.setState(StateSynchronizing)
	defer s.setState(StateIdle)

	start := time.Now()
	res := Result{
		RunID:     start.UTC().Format("20060102-150405"),
		StartedAt: start,
	}

	tasks := []struct {
		name string
		fn   func(context.Context) ([]Change, error)
	}{
		{ChangeMarketCapRerank, s.taskMarketCapRerank},
		{ChangeIPOAssignment, s.taskIPOAssignment},
		{ChangeDelistingCleanup, s.taskDelistedCleanup},
		{ChangeThemeRebalance, s.taskThemeRebalance},
		{ChangeETFMaintenance, s.taskETFMaintenance},
	}
	for _, t := range tasks {
		tr := s.runTask(ctx, t.name, t.fn)
		res.Tasks = append(res.Tasks, tr)
		res.TotalChanges += len(tr.Changes)
	}

	res.Duration = time.Since(start)
	res.WithinWindow = res.Duration <= s.cfg.SyncTimeout
	if !res.WithinWindow {
		log.Printf("[sync] run exceeded budget: %s > %s", res.Duration, s.cfg.SyncTimeout)
	}

	if err := s.cat.LogChanges(ctx, res.RunID, res.Changes()); err != nil {
		log.Printf("[sync] change log persist failed: %v", err)
	}

	s.publish(ctx, res)
	return res, nil
}

// runTask wraps one task in an error boundary: panics and errors are
// captured in the result and the next task still runs.
func (s *Synchronizer) runTask(ctx context.Context, name string, fn func(context.Context) ([]Change, error)) (tr TaskResult) {
	tr.Name = name
	start := time.Now()
	defer func() {
		tr.Duration = time.Since(start)
		if r := recover(); r != nil {
			tr.Err = fmt.Sprintf("panic: %v", r)
			log.Printf("[sync] task %s panicked: %v", name, r)
		}
	}()

	changes, err := fn(ctx)
	if err != nil {
		tr.Err = err.Error()
		log.Printf("[sync] task %s failed: %v", name, err)
		return tr
	}
	tr.Changes = changes
	log.Printf("[sync] task %s produced %d changes in %s", name, len(changes), time.Since(start))
	return tr
}

func (s *Synchronizer) publish(ctx context.Context, res Result) {
	if s.pub == nil {
		return
	}
	s.setState(StatePublishing)

	if err := s.pub.PublishSyncComplete(ctx, res); err != nil {
		log.Printf("[sync] publish sync_complete failed: %v", err)
	}

	byUniverse := make(map[string][]Change)
	for _, ch := range res.Changes() {
		if ch.Universe != "" {
			byUniverse[ch.Universe] = append(byUniverse[ch.Universe], ch)
		}
	}
	keys := make([]string, 0, len(byUniverse))
	for k := range byUniverse {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			if err := s.pub.PublishUniverseUpdated(gctx, k, byUniverse[k]); err != nil {
				log.Printf("[sync] publish universe update %s failed: %v", k, err)
			}
			return nil
		})
	}
	g.Wait()

	// Detail channels for the tasks downstream consumers watch directly.
	for _, tr := range res.Tasks {
		if len(tr.Changes) == 0 {
			continue
		}
		switch tr.Name {
		case ChangeIPOAssignment, ChangeDelistingCleanup:
			payload := map[string]any{
				"run_id":  res.RunID,
				"task":    tr.Name,
				"changes": tr.Changes,
			}
			if err := s.pub.PublishDetail(ctx, "tickstock.cache."+tr.Name, payload); err != nil {
				log.Printf("[sync] publish detail %s failed: %v", tr.Name, err)
			}
		}
	}
}

// RunTask runs a single named task (CLI --market-cap-update etc.).
func (s *Synchronizer) RunTask(ctx context.Context, name string) (TaskResult, error) {
	var fn func(context.Context) ([]Change, error)
	switch name {
	case ChangeMarketCapRerank:
		fn = s.taskMarketCapRerank
	case ChangeIPOAssignment:
		fn = s.taskIPOAssignment
	case ChangeDelistingCleanup:
		fn = s.taskDelistedCleanup
	case ChangeThemeRebalance:
		fn = s.taskThemeRebalance
	case ChangeETFMaintenance:
		fn = s.taskETFMaintenance
	default:
		return TaskResult{}, fmt.Errorf("unknown sync task %q", name)
	}
	s.setState(StateSynchronizing)
	defer s.setState(StateIdle)
	tr := s.runTask(ctx, name, fn)
	if err := s.cat.LogChanges(ctx, time.Now().UTC().Format("20060102-150405"), tr.Changes); err != nil {
		log.Printf("[sync] change log persist failed: %v", err)
	}
	return tr, nil
}

// sectorKey slugs a sector name into a universe cache key.
func sectorKey(sector string) string {
	s := strings.ToLower(strings.TrimSpace(sector))
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return ""
	}
	return "sector_" + s
}
