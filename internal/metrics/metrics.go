// Package metrics exposes Prometheus instrumentation and the health
// endpoint for the event processing pipeline.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the event core.
type Metrics struct {
	EventsIngested *prometheus.CounterVec // labels: kind
	EventsDropped  *prometheus.CounterVec // labels: reason
	EventsEmitted  *prometheus.CounterVec // labels: kind

	QueueDepth       prometheus.Gauge
	QueueUtilization prometheus.Gauge
	QueueAgeP95      prometheus.Gauge

	WorkersAlive      prometheus.Gauge
	WorkerDispatched  prometheus.Counter
	WorkerErrors      prometheus.Counter
	DisplayDrops      prometheus.Counter
	DisplaySaturation prometheus.Gauge

	BreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	BreakerTrips prometheus.Counter

	BusPublished prometheus.Counter
	BusErrors    prometheus.Counter

	WSClients prometheus.Gauge

	MarketState   prometheus.Gauge // 0=closed, 1=open
	ThrottleLevel prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_events_ingested_total",
			Help: "Events admitted into the priority queue (by kind)",
		}, []string{"kind"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_events_dropped_total",
			Help: "Events rejected at admission or expired on poll (by reason)",
		}, []string{"reason"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventcore_events_emitted_total",
			Help: "Display events fanned out to subscribers (by kind)",
		}, []string{"kind"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_queue_depth",
			Help: "Current priority queue occupancy",
		}),
		QueueUtilization: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_queue_utilization",
			Help: "Queue occupancy as a fraction of capacity",
		}),
		QueueAgeP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_queue_age_p95_seconds",
			Help: "95th percentile queue residence time",
		}),

		WorkersAlive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_workers_alive",
			Help: "Worker goroutines currently running",
		}),
		WorkerDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_worker_dispatched_total",
			Help: "Events dispatched by the worker pool",
		}),
		WorkerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_worker_errors_total",
			Help: "Worker dispatch panics recovered",
		}),
		DisplayDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_display_drops_total",
			Help: "Display events dropped because the fan-out channel was full",
		}),
		DisplaySaturation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_display_saturation_pct",
			Help: "Display channel fill percentage (len/cap * 100)",
		}),

		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_queue_breaker_state",
			Help: "Queue insert circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_queue_breaker_trips_total",
			Help: "Times the queue insert breaker tripped open",
		}),

		BusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_bus_published_total",
			Help: "Messages published on Redis pub/sub",
		}),
		BusErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_bus_errors_total",
			Help: "Redis publish failures",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_ws_clients",
			Help: "Connected WebSocket clients",
		}),

		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
		ThrottleLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventcore_throttle_level",
			Help: "Current admission throttle level (0=none, 3=extreme)",
		}),
	}

	prometheus.MustRegister(
		m.EventsIngested,
		m.EventsDropped,
		m.EventsEmitted,
		m.QueueDepth,
		m.QueueUtilization,
		m.QueueAgeP95,
		m.WorkersAlive,
		m.WorkerDispatched,
		m.WorkerErrors,
		m.DisplayDrops,
		m.DisplaySaturation,
		m.BreakerState,
		m.BreakerTrips,
		m.BusPublished,
		m.BusErrors,
		m.WSClients,
		m.MarketState,
		m.ThrottleLevel,
	)

	return m
}

// PipelineProbe supplies the live gauge values the collector samples.
type PipelineProbe struct {
	QueueDepth       func() int
	QueueUtilization func() float64
	QueueAgeP95      func() float64
	WorkersAlive     func() int
	BreakerState     func() int
	MarketOpen       func() bool
	ThrottleLevel    func() int
	WSClients        func() int
}

// StartCollector samples gauge probes every interval until ctx ends.
func (m *Metrics) StartCollector(ctx context.Context, probe PipelineProbe, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if probe.QueueDepth != nil {
					m.QueueDepth.Set(float64(probe.QueueDepth()))
				}
				if probe.QueueUtilization != nil {
					m.QueueUtilization.Set(probe.QueueUtilization())
				}
				if probe.QueueAgeP95 != nil {
					m.QueueAgeP95.Set(probe.QueueAgeP95())
				}
				if probe.WorkersAlive != nil {
					m.WorkersAlive.Set(float64(probe.WorkersAlive()))
				}
				if probe.BreakerState != nil {
					m.BreakerState.Set(float64(probe.BreakerState()))
				}
				if probe.MarketOpen != nil {
					if probe.MarketOpen() {
						m.MarketState.Set(1)
					} else {
						m.MarketState.Set(0)
					}
				}
				if probe.ThrottleLevel != nil {
					m.ThrottleLevel.Set(float64(probe.ThrottleLevel()))
				}
				if probe.WSClients != nil {
					m.WSClients.Set(float64(probe.WSClients()))
				}
			}
		}
	}()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastEventTime  time.Time `json:"last_event_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	QueueOK        bool      `json:"queue_ok"`
	WorkersOK      bool      `json:"workers_ok"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		QueueOK:   true,
		WorkersOK: true,
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastEventTime(t time.Time) {
	h.mu.Lock()
	h.LastEventTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetQueueOK(v bool) {
	h.mu.Lock()
	h.QueueOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWorkersOK(v bool) {
	h.mu.Lock()
	h.WorkersOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial probe and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.QueueOK || !h.WorkersOK || !h.RedisConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.QueueOK && !h.WorkersOK {
		overallStatus = "unhealthy"
	}

	eventAge := ""
	if !h.LastEventTime.IsZero() {
		eventAge = time.Since(h.LastEventTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastEventTime   string  `json:"last_event_time"`
		EventAge        string  `json:"event_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		QueueOK         bool    `json:"queue_ok"`
		WorkersOK       bool    `json:"workers_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastEventTime:   h.LastEventTime.Format(time.RFC3339),
		EventAge:        eventAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		QueueOK:         h.QueueOK,
		WorkersOK:       h.WorkersOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
