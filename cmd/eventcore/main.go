package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tickstock/config"
	"tickstock/internal/bus"
	"tickstock/internal/detect"
	"tickstock/internal/feed"
	"tickstock/internal/gateway"
	"tickstock/internal/logger"
	"tickstock/internal/markethours"
	"tickstock/internal/metrics"
	"tickstock/internal/model"
	"tickstock/internal/pcache"
	"tickstock/internal/pressure"
	"tickstock/internal/queue"
	"tickstock/internal/universe"
	"tickstock/internal/worker"
)

// tapSink offers events into the queue and feeds the pressure tracker
// on the side. Implements detect.Sink.
type tapSink struct {
	q  *queue.PriorityQueue
	tr *pressure.Tracker
}

func (s tapSink) Offer(ev model.Event) bool {
	s.tr.Observe(ev)
	return s.q.Offer(ev)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[eventcore] starting...")

	cfg := config.Load()
	logger.Init("eventcore", logger.ParseLevel(cfg.LogLevel))
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Universe catalog + priority cache ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	var cache *pcache.Cache
	cat, err := universe.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		log.Printf("[eventcore] WARNING: catalog open failed: %v (priority cache disabled)", err)
	} else {
		defer cat.Close()
		health.SetSQLiteOK(true)
		cache = pcache.New(universe.NewPrioritySource(cat), cfg.PriorityCacheRefresh)
		if err := cache.Refresh(ctx); err != nil {
			log.Printf("[eventcore] WARNING: priority cache initial refresh failed: %v", err)
		}
		go cache.Run(ctx)
	}

	// ---- Priority queue ----
	q := queue.New(queue.Config{
		MaxSize:             cfg.MaxQueueSize,
		OverflowThreshold:   cfg.QueueOverflowThreshold,
		MaxEventAge:         cfg.MaxEventAge,
		BreakerFailMax:      cfg.BreakerFailMax,
		BreakerResetTimeout: cfg.BreakerResetTimeout,
		OpenWindowSymbols:   cfg.ParsePrioritySymbols(),
	}, cache)
	q.Diagnostics().OnAccept = func(kind model.Kind) {
		prom.EventsIngested.WithLabelValues(string(kind)).Inc()
	}
	q.Diagnostics().OnDrop = func(reason queue.DropReason, kind model.Kind) {
		prom.EventsDropped.WithLabelValues(string(reason)).Inc()
	}
	q.Breaker().OnStateChange = func(from, to queue.BreakerState) {
		log.Printf("[eventcore] queue breaker %s -> %s", from, to)
		if to == queue.BreakerOpen {
			prom.BreakerTrips.Inc()
		}
		health.SetQueueOK(to != queue.BreakerOpen)
	}
	go q.Diagnostics().RunSummary(ctx, time.Minute)

	// ---- Detectors over shared ticker state ----
	states := model.NewStateStore(16)
	tracker := pressure.New(time.Minute)
	tracker.SetTracked(cfg.ParsePrioritySymbols())
	engine := detect.New(states, tapSink{q: q, tr: tracker}, detect.Config{})

	// ---- Worker pool + supervisor ----
	pool := worker.NewPool(q, states, engine, worker.Config{
		MinWorkers:     cfg.MinWorkers,
		MaxWorkers:     cfg.MaxWorkers,
		BatchSize:      cfg.WorkerEventBatchSize,
		CollectTimeout: cfg.WorkerCollectionTimeout,
	})
	pool.OnDispatch = func(kind model.Kind) { prom.WorkerDispatched.Inc() }
	pool.OnError = func() { prom.WorkerErrors.Inc() }
	pool.OnDisplayDrop = func() { prom.DisplayDrops.Inc() }
	pool.Start(cfg.WorkerPoolSize)

	sup := worker.NewSupervisor(pool, q, worker.SupervisorConfig{})
	go sup.Run(ctx)

	// ---- Redis bus (optional: pipeline runs without it) ----
	var rdb *goredis.Client
	b, err := bus.New(bus.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Service:  "eventcore",
	})
	if err != nil {
		log.Printf("[eventcore] WARNING: redis init failed: %v (continuing without bus)", err)
	} else {
		defer b.Close()
		rdb = b.Client()
		health.SetRedisConnected(true)
	}

	if cat != nil {
		health.StartLivenessChecker(ctx, rdb, cat.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, rdb, nil, 10*time.Second)
	}

	// ---- Gateway hub + display fan-out ----
	hub := gateway.NewHub(tracker)
	hub.Stats = func() map[string]any {
		return map[string]any{
			"queue":   q.Stats(),
			"workers": pool.Health(),
		}
	}
	go hub.StartStatusBroadcast(ctx, 2*time.Second)

	busCh := make(chan model.Event, cfg.EventBatchSize)
	if b != nil {
		go b.RunDisplay(ctx, busCh)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-pool.Display():
				if !ok {
					return
				}
				prom.EventsEmitted.WithLabelValues(string(ev.Kind())).Inc()
				health.SetLastEventTime(time.Now())
				hub.Publish(ev)
				if b != nil {
					select {
					case busCh <- ev:
					default:
					}
				}
			}
		}
	}()

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, rdb, start)
	gwSrv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		log.Printf("[eventcore] gateway listening on %s", cfg.GatewayAddr)
		if err := gwSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[eventcore] gateway server error: %v", err)
		}
	}()

	// ---- Gauge collector ----
	prom.StartCollector(ctx, metrics.PipelineProbe{
		QueueDepth: q.Size,
		QueueUtilization: func() float64 {
			return float64(q.Size()) / float64(q.Capacity())
		},
		QueueAgeP95: func() float64 {
			_, p95, _ := q.Diagnostics().AgePercentiles()
			return p95
		},
		WorkersAlive:  pool.Alive,
		BreakerState:  func() int { return int(q.Breaker().State()) },
		MarketOpen:    func() bool { return markethours.IsMarketOpen(time.Now()) },
		ThrottleLevel: q.ThrottleLevel,
		WSClients:     hub.ClientCount,
	}, 5*time.Second)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.SetWorkersOK(pool.Alive() > 0)
			}
		}
	}()

	// ---- Feed ----
	symbols := parseSymbols(getEnv("FEED_SYMBOLS", "AAPL,MSFT,NVDA,TSLA,AMZN,SPY,QQQ"))
	sim := feed.NewSimulator(engine, feed.SimConfig{Symbols: symbols})
	go sim.Run(ctx)
	health.SetFeedConnected(true)

	log.Printf("[eventcore] pipeline ready: %d symbols, queue cap %d, workers %d..%d",
		len(symbols), cfg.MaxQueueSize, cfg.MinWorkers, cfg.MaxWorkers)
	log.Printf("[eventcore] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown ----
	<-sigCh
	log.Println("[eventcore] shutdown signal received, cleaning up...")
	cancel()
	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[eventcore] shutdown complete.")
}

func parseSymbols(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
