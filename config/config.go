package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string
	LogLevel      string

	// Priority queue
	MaxQueueSize           int
	QueueOverflowThreshold float64
	MaxEventAge            time.Duration
	EventBatchSize         int // bound on display events buffered toward the bus

	// Circuit breaker around queue inserts
	BreakerFailMax      int
	BreakerResetTimeout time.Duration

	// Worker pool
	WorkerPoolSize          int
	MinWorkers              int
	MaxWorkers              int
	WorkerEventBatchSize    int
	WorkerCollectionTimeout time.Duration

	// Priority cache
	PriorityCacheRefresh time.Duration

	// Market-open priority symbols (comma-separated)
	MarketOpenPrioritySymbols string

	// Universe synchronizer
	SyncTimeout    time.Duration
	EODWaitTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/universe.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		MaxQueueSize:           getEnvInt("MAX_QUEUE_SIZE", 100000),
		QueueOverflowThreshold: getEnvFloat("QUEUE_OVERFLOW_DROP_THRESHOLD", 0.98),
		MaxEventAge:            time.Duration(getEnvInt("MAX_EVENT_AGE_MS", 120000)) * time.Millisecond,
		EventBatchSize:         getEnvInt("EVENT_BATCH_SIZE", 1000),

		BreakerFailMax:      getEnvInt("CIRCUIT_BREAKER_FAIL_MAX", 5),
		BreakerResetTimeout: time.Duration(getEnvFloat("CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30) * float64(time.Second)),

		WorkerPoolSize:          getEnvInt("WORKER_POOL_SIZE", 12),
		MinWorkers:              getEnvInt("MIN_WORKER_POOL_SIZE", 8),
		MaxWorkers:              getEnvInt("MAX_WORKER_POOL_SIZE", 16),
		WorkerEventBatchSize:    getEnvInt("WORKER_EVENT_BATCH_SIZE", 500),
		WorkerCollectionTimeout: time.Duration(getEnvFloat("WORKER_COLLECTION_TIMEOUT_SECONDS", 0.5) * float64(time.Second)),

		PriorityCacheRefresh: time.Duration(getEnvInt("PRIORITY_CACHE_REFRESH_SECONDS", 300)) * time.Second,

		MarketOpenPrioritySymbols: getEnv("MARKET_OPEN_PRIORITY_SYMBOLS", "SPY,QQQ,IWM,DIA"),

		SyncTimeout:    time.Duration(getEnvInt("SYNC_TIMEOUT_MINUTES", 30)) * time.Minute,
		EODWaitTimeout: time.Duration(getEnvInt("EOD_WAIT_TIMEOUT_SECONDS", 3600)) * time.Second,
	}
}

// ParsePrioritySymbols splits MarketOpenPrioritySymbols into uppercase
// symbols, skipping blanks.
func (c *Config) ParsePrioritySymbols() []string {
	parts := strings.Split(c.MarketOpenPrioritySymbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
