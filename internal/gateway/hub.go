// Package gateway fans processed events out to WebSocket clients, each
// holding its own filter snapshot, and serves bundle snapshots over REST.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"tickstock/internal/filter"
	"tickstock/internal/markethours"
	"tickstock/internal/model"
	"tickstock/internal/pressure"

	"github.com/gorilla/websocket"
)

// Hub manages WebSocket clients and event fan-out. Each connected client
// carries an immutable filter snapshot; updating filters swaps the
// snapshot atomically so in-flight broadcasts see a consistent config.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	window   *eventWindow
	pressure *pressure.Tracker

	// Stats supplies the pipeline counters included in the periodic
	// status broadcast. Optional.
	Stats func() map[string]any

	sent  uint64
	drops uint64
}

// NewHub creates a Hub. tracker may be nil.
func NewHub(tracker *pressure.Tracker) *Hub {
	return &Hub{
		clients:  make(map[*Client]bool),
		window:   newEventWindow(),
		pressure: tracker,
	}
}

// Run drains display events from the worker pool, records them in the
// snapshot window, and broadcasts to matching clients. Blocks until ctx
// is cancelled or the channel is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan model.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			h.Publish(ev)
		}
	}
}

// Publish broadcasts one event to every client whose filters pass it.
// The envelope is marshaled once and shared across clients.
func (h *Hub) Publish(ev model.Event) {
	if ev == nil {
		return
	}
	h.window.Add(ev)

	data, err := json.Marshal(map[string]any{
		"type": string(ev.Kind()),
		"data": ev.Transport(),
		"ts":   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	now := float64(time.Now().Unix())

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !filter.PassEvent(client.Filters(), ev, now) {
			continue
		}
		select {
		case client.send <- data:
			h.sent++
		default:
			// Slow consumer: drop rather than stall the fan-out.
			h.drops++
		}
	}
}

// Snapshot returns the current event window filtered through cfg.
// A nil cfg passes everything.
func (h *Hub) Snapshot(cfg *filter.Config) filter.Bundle {
	return filter.Apply(cfg, h.window.Bundle())
}

// HandleWSRequest registers an upgraded connection as a client.
func (h *Hub) HandleWSRequest(conn *websocket.Conn) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	conn.EnableWriteCompression(true)

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)

	go client.sendInitialState()
	go client.writePump()
	go client.readPump()
}

// RemoveClient detaches a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendStats reports fan-out counters.
func (h *Hub) SendStats() (sent, drops uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sent, h.drops
}

// StartStatusBroadcast pushes a status frame to every client every
// interval: market session, pipeline counters, and buy/sell pressure.
func (h *Hub) StartStatusBroadcast(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			frame := map[string]any{
				"type":          "status",
				"market_open":   markethours.IsMarketOpen(now),
				"market_status": markethours.StatusString(now),
				"window_events": h.window.Len(),
				"ts":            now.UTC().Format(time.RFC3339Nano),
			}
			if h.Stats != nil {
				frame["pipeline"] = h.Stats()
			}
			if h.pressure != nil {
				frame["pressure"] = h.pressure.Snapshot(now)
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}
