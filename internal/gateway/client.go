package gateway

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"tickstock/internal/filter"

	"github.com/gorilla/websocket"
)

// Client represents a single WebSocket peer. Its filter config is stored
// as an atomic snapshot: broadcasts load it once per event and never see
// a half-applied update.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	filters atomic.Pointer[filter.Config]
}

// Filters returns the client's current filter snapshot (nil = pass all).
func (c *Client) Filters() *filter.Config {
	return c.filters.Load()
}

// sendInitialState delivers a bundle snapshot so a fresh client has
// context before the live stream starts.
func (c *Client) sendInitialState() {
	snap := c.hub.Snapshot(c.Filters())
	envelope, err := json.Marshal(map[string]any{
		"type":    "snapshot",
		"bundle":  snap,
		"initial": true,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- envelope:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Write coalescing: batch queued messages into a single
			// frame with newline separators.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Println("[gateway] ws client disconnected")
	}()

	c.conn.SetReadLimit(16384)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}

		var base struct {
			Type string `json:"type"`
			Ping int64  `json:"ping"`
		}
		if json.Unmarshal(msg, &base) != nil {
			continue
		}

		switch base.Type {
		case "SET_FILTERS":
			var req struct {
				ReqID   string         `json:"req_id"`
				Filters *filter.Config `json:"filters"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				c.sendError(req.ReqID, "invalid SET_FILTERS: "+err.Error())
				continue
			}
			c.handleSetFilters(req.ReqID, req.Filters)

		case "CLEAR_FILTERS":
			c.filters.Store(nil)
			c.sendAck("", "filters cleared")

		case "GET_SNAPSHOT":
			go c.sendInitialState()

		default:
			if base.Ping > 0 {
				pong, _ := json.Marshal(map[string]any{
					"type":      "pong",
					"ping":      base.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
				select {
				case c.send <- pong:
				default:
				}
			}
		}
	}
}

// handleSetFilters validates and installs a new filter snapshot. Invalid
// configs are rejected whole; the previous snapshot stays in effect.
func (c *Client) handleSetFilters(reqID string, cfg *filter.Config) {
	if err := filter.Validate(cfg); err != nil {
		c.sendError(reqID, err.Error())
		return
	}
	c.filters.Store(cfg)
	log.Printf("[gateway] client filters updated")
	c.sendAck(reqID, "filters applied")
}

func (c *Client) sendAck(reqID, msg string) {
	data, _ := json.Marshal(map[string]any{
		"type":   "ack",
		"req_id": reqID,
		"msg":    msg,
	})
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(reqID, msg string) {
	data, _ := json.Marshal(map[string]any{
		"type":   "error",
		"req_id": reqID,
		"error":  msg,
	})
	select {
	case c.send <- data:
	default:
	}
}
