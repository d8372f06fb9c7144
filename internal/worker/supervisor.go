package worker

import (
	"context"
	"log"
	"time"

	"tickstock/internal/queue"
)

// SupervisorConfig tunes the scaling heuristic.
type SupervisorConfig struct {
	CheckInterval  time.Duration // default 1s
	ScaleUpUtil    float64       // default 0.9
	ScaleDownUtil  float64       // default 0.3
	ScaleUpAfter   time.Duration // sustained high utilization, default 10s
	ScaleDownAfter time.Duration // sustained low utilization, default 60s
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Second
	}
	if c.ScaleUpUtil <= 0 {
		c.ScaleUpUtil = 0.9
	}
	if c.ScaleDownUtil <= 0 {
		c.ScaleDownUtil = 0.3
	}
	if c.ScaleUpAfter <= 0 {
		c.ScaleUpAfter = 10 * time.Second
	}
	if c.ScaleDownAfter <= 0 {
		c.ScaleDownAfter = 60 * time.Second
	}
	return c
}

// Supervisor watches queue utilization and resizes the pool by 25% when
// utilization stays above ScaleUpUtil or below ScaleDownUtil long enough.
// Bounds are enforced by Pool.Resize.
type Supervisor struct {
	pool *Pool
	q    *queue.PriorityQueue
	cfg  SupervisorConfig

	highSince time.Time
	lowSince  time.Time
}

// NewSupervisor creates a supervisor for the pool.
func NewSupervisor(pool *Pool, q *queue.PriorityQueue, cfg SupervisorConfig) *Supervisor {
	return &Supervisor{pool: pool, q: q, cfg: cfg.withDefaults()}
}

// Run blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.check(now)
		}
	}
}

func (s *Supervisor) check(now time.Time) {
	stats := s.q.Stats()
	if stats.Closed {
		return
	}
	u := 0.0
	if max := s.q.Capacity(); max > 0 {
		u = float64(stats.Size) / float64(max)
	}

	switch {
	case u > s.cfg.ScaleUpUtil:
		s.lowSince = time.Time{}
		if s.highSince.IsZero() {
			s.highSince = now
		} else if now.Sub(s.highSince) > s.cfg.ScaleUpAfter {
			alive := s.pool.Alive()
			target := alive + (alive+3)/4 // +25%, rounded up
			log.Printf("[supervisor] utilization %.2f sustained, scaling up %d -> %d", u, alive, target)
			s.pool.Resize(target)
			s.highSince = time.Time{}
		}
	case u < s.cfg.ScaleDownUtil:
		s.highSince = time.Time{}
		if s.lowSince.IsZero() {
			s.lowSince = now
		} else if now.Sub(s.lowSince) > s.cfg.ScaleDownAfter {
			alive := s.pool.Alive()
			target := alive - (alive+3)/4
			log.Printf("[supervisor] utilization %.2f sustained low, scaling down %d -> %d", u, alive, target)
			s.pool.Resize(target)
			s.lowSince = time.Time{}
		}
	default:
		s.highSince = time.Time{}
		s.lowSince = time.Time{}
	}
}
