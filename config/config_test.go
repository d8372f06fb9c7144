package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("redis addr: %s", cfg.RedisAddr)
	}
	if cfg.MaxQueueSize != 100000 {
		t.Errorf("max queue size: %d", cfg.MaxQueueSize)
	}
	if cfg.QueueOverflowThreshold != 0.98 {
		t.Errorf("overflow threshold: %v", cfg.QueueOverflowThreshold)
	}
	if cfg.MaxEventAge != 2*time.Minute {
		t.Errorf("max event age: %v", cfg.MaxEventAge)
	}
	if cfg.WorkerCollectionTimeout != 500*time.Millisecond {
		t.Errorf("collection timeout: %v", cfg.WorkerCollectionTimeout)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "500")
	t.Setenv("QUEUE_OVERFLOW_DROP_THRESHOLD", "0.9")
	t.Setenv("CIRCUIT_BREAKER_TIMEOUT_SECONDS", "1.5")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("MIN_WORKER_POOL_SIZE", "2")
	t.Setenv("MAX_WORKER_POOL_SIZE", "6")
	t.Setenv("EVENT_BATCH_SIZE", "256")

	cfg := Load()
	if cfg.MaxQueueSize != 500 {
		t.Errorf("max queue size: %d", cfg.MaxQueueSize)
	}
	if cfg.QueueOverflowThreshold != 0.9 {
		t.Errorf("overflow threshold: %v", cfg.QueueOverflowThreshold)
	}
	if cfg.BreakerResetTimeout != 1500*time.Millisecond {
		t.Errorf("breaker timeout: %v", cfg.BreakerResetTimeout)
	}
	if cfg.RedisAddr != "redis:6380" {
		t.Errorf("redis addr: %s", cfg.RedisAddr)
	}
	if cfg.MinWorkers != 2 || cfg.MaxWorkers != 6 {
		t.Errorf("worker bounds: %d..%d", cfg.MinWorkers, cfg.MaxWorkers)
	}
	if cfg.EventBatchSize != 256 {
		t.Errorf("event batch size: %d", cfg.EventBatchSize)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_QUEUE_SIZE", "not-a-number")
	t.Setenv("QUEUE_OVERFLOW_DROP_THRESHOLD", "high")

	cfg := Load()
	if cfg.MaxQueueSize != 100000 {
		t.Errorf("invalid int should fall back: %d", cfg.MaxQueueSize)
	}
	if cfg.QueueOverflowThreshold != 0.98 {
		t.Errorf("invalid float should fall back: %v", cfg.QueueOverflowThreshold)
	}
}

func TestParsePrioritySymbols(t *testing.T) {
	cfg := &Config{MarketOpenPrioritySymbols: " spy, QQQ ,,iwm "}
	got := cfg.ParsePrioritySymbols()
	want := []string{"SPY", "QQQ", "IWM"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	cfg.MarketOpenPrioritySymbols = ""
	if got := cfg.ParsePrioritySymbols(); len(got) != 0 {
		t.Errorf("empty input: %v", got)
	}
}
