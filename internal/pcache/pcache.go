// Package pcache maintains the priority-symbol cache: the authoritative
// mapping from symbol to priority class consulted on queue admission and
// promotion. The mapping is a read-mostly snapshot replaced atomically on
// refresh, so admission decisions never take a lock.
package pcache

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Class is a symbol's priority class.
type Class string

const (
	ClassTop       Class = "top"
	ClassSecondary Class = "secondary"
	ClassNone      Class = "none"
)

// Source supplies the symbol→class mapping, typically the universe catalog.
type Source interface {
	ListPrioritySymbols(ctx context.Context) (map[string]Class, error)
}

// Cache holds the current snapshot and refreshes it on an interval.
type Cache struct {
	src      Source
	interval time.Duration
	snap     atomic.Value // map[string]Class

	refreshes atomic.Uint64
	failures  atomic.Uint64
}

// New creates a cache with an empty snapshot. Call Refresh or Run to load.
func New(src Source, interval time.Duration) *Cache {
	c := &Cache{src: src, interval: interval}
	c.snap.Store(map[string]Class{})
	return c
}

// NewStatic creates a cache with a fixed mapping and no refresh source.
// Used in tests and when the catalog is unavailable.
func NewStatic(m map[string]Class) *Cache {
	c := &Cache{}
	if m == nil {
		m = map[string]Class{}
	}
	c.snap.Store(m)
	return c
}

// PriorityFor returns the class for a symbol; unknown symbols are ClassNone.
func (c *Cache) PriorityFor(symbol string) Class {
	m := c.snap.Load().(map[string]Class)
	if cl, ok := m[symbol]; ok {
		return cl
	}
	return ClassNone
}

// ShouldProcess gates non-priority traffic under queue pressure.
// Level 0 approves everything; level 1 approves the priority set
// (top and secondary); levels 2 and 3 approve top symbols only.
func (c *Cache) ShouldProcess(symbol string, level int) bool {
	if level <= 0 {
		return true
	}
	switch c.PriorityFor(symbol) {
	case ClassTop:
		return true
	case ClassSecondary:
		return level <= 1
	default:
		return false
	}
}

// Size returns the number of symbols in the current snapshot.
func (c *Cache) Size() int {
	return len(c.snap.Load().(map[string]Class))
}

// Refresh replaces the snapshot from the source. The old snapshot stays
// live for readers that already hold it.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.src == nil {
		return nil
	}
	m, err := c.src.ListPrioritySymbols(ctx)
	if err != nil {
		c.failures.Add(1)
		return err
	}
	if m == nil {
		m = map[string]Class{}
	}
	c.snap.Store(m)
	c.refreshes.Add(1)
	return nil
}

// Run refreshes immediately and then on every interval tick.
// Blocks until ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		log.Printf("[pcache] initial refresh failed: %v", err)
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(ctx); err != nil {
				log.Printf("[pcache] refresh failed: %v", err)
			}
		}
	}
}

// Stats reports refresh activity.
func (c *Cache) Stats() (refreshes, failures uint64) {
	return c.refreshes.Load(), c.failures.Load()
}
