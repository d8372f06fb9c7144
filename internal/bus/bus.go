// Package bus publishes processed events and synchronizer notifications
// on Redis pub/sub and provides the end-of-day wait used by the daily
// sync run.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"tickstock/internal/model"
	"tickstock/internal/universe"

	goredis "github.com/go-redis/redis/v8"
)

// Pub/sub channels.
const (
	ChannelSyncComplete    = "tickstock.cache.sync_complete"
	ChannelUniverseUpdated = "tickstock.universe.updated"
	ChannelEODComplete     = "tickstock.eod.complete"
	eventChannelPrefix     = "tickstock.events."
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Service  string // stamped into every envelope
}

// Bus is a Redis-backed publisher. Publish failures are logged and
// counted, never fatal: the processing pipeline keeps running without
// the bus.
type Bus struct {
	client  *goredis.Client
	service string

	published atomic.Uint64
	errors    atomic.Uint64
}

// Client returns the underlying Redis client for health checks.
func (b *Bus) Client() *goredis.Client { return b.client }

// New creates a Bus and pings the server.
func New(cfg Config) (*Bus, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	service := cfg.Service
	if service == "" {
		service = "tickstock"
	}
	log.Printf("[bus] connected to %s", cfg.Addr)
	return &Bus{client: client, service: service}, nil
}

// envelope wraps a payload with the standard stamp fields.
func (b *Bus) envelope(eventType string, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		out[k] = v
	}
	out["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	out["service"] = b.service
	out["event_type"] = eventType
	return out
}

func (b *Bus) publish(ctx context.Context, channel string, env map[string]any) error {
	data, err := json.Marshal(env)
	if err != nil {
		b.errors.Add(1)
		return fmt.Errorf("bus marshal %s: %w", channel, err)
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.errors.Add(1)
		return fmt.Errorf("bus publish %s: %w", channel, err)
	}
	b.published.Add(1)
	return nil
}

// PublishEvent publishes one processed event on its per-kind channel.
func (b *Bus) PublishEvent(ctx context.Context, ev model.Event) error {
	if ev == nil {
		return nil
	}
	return b.publish(ctx, eventChannelPrefix+string(ev.Kind()),
		b.envelope(string(ev.Kind()), ev.Transport()))
}

// RunDisplay drains display-bound events and publishes each on its
// per-kind channel. Blocks until ctx is cancelled or the channel is
// closed.
func (b *Bus) RunDisplay(ctx context.Context, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := b.PublishEvent(ctx, ev); err != nil {
				log.Printf("[bus] display publish failed: %v", err)
			}
		}
	}
}

// PublishSyncComplete implements universe.Publisher.
func (b *Bus) PublishSyncComplete(ctx context.Context, result universe.Result) error {
	return b.publish(ctx, ChannelSyncComplete, b.envelope("sync_complete", map[string]any{
		"run_id":        result.RunID,
		"started_at":    result.StartedAt.UTC().Format(time.RFC3339),
		"duration_ms":   result.Duration.Milliseconds(),
		"within_window": result.WithinWindow,
		"eod_received":  result.EODReceived,
		"total_changes": result.TotalChanges,
		"tasks":         result.Tasks,
	}))
}

// PublishUniverseUpdated implements universe.Publisher.
func (b *Bus) PublishUniverseUpdated(ctx context.Context, universeKey string, changes []universe.Change) error {
	return b.publish(ctx, ChannelUniverseUpdated, b.envelope("universe_updated", map[string]any{
		"universe": universeKey,
		"changes":  changes,
	}))
}

// PublishDetail implements universe.Publisher.
func (b *Bus) PublishDetail(ctx context.Context, channel string, payload map[string]any) error {
	eventType, _ := payload["task"].(string)
	if eventType == "" {
		eventType = "detail"
	}
	return b.publish(ctx, channel, b.envelope(eventType, payload))
}

// WaitEOD implements universe.EODWaiter: blocks until a message arrives
// on the EOD channel or the timeout elapses. Returns false (no error) on
// timeout so the caller can proceed anyway.
func (b *Bus) WaitEOD(ctx context.Context, timeout time.Duration) (bool, error) {
	sub := b.client.Subscribe(ctx, ChannelEODComplete)
	defer sub.Close()

	// Force the subscription onto the wire before waiting.
	if _, err := sub.Receive(ctx); err != nil {
		return false, fmt.Errorf("eod subscribe: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case msg, ok := <-ch:
			if !ok {
				return false, fmt.Errorf("eod subscription closed")
			}
			log.Printf("[bus] EOD signal received on %s (%d bytes)", msg.Channel, len(msg.Payload))
			return true, nil
		}
	}
}

// Stats reports publish counters.
func (b *Bus) Stats() (published, errors uint64) {
	return b.published.Load(), b.errors.Load()
}

// Close closes the Redis client.
func (b *Bus) Close() error {
	return b.client.Close()
}
