// cmd/universesync — universe synchronizer CLI.
//
// Modes:
//
//	--daily-sync          wait for the EOD signal, then run all tasks
//	--test-sync           run all tasks immediately (no EOD wait)
//	--market-cap-update   run only the market-cap rerank task
//	--ipo-assignment      run only the IPO assignment task
//	--delisting-cleanup   run only the delisted-symbol cleanup task
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tickstock/config"
	"tickstock/internal/bus"
	"tickstock/internal/logger"
	"tickstock/internal/universe"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		dailySync       = flag.Bool("daily-sync", false, "wait for EOD, then run all sync tasks")
		testSync        = flag.Bool("test-sync", false, "run all sync tasks immediately")
		marketCapUpdate = flag.Bool("market-cap-update", false, "run the market-cap rerank task only")
		ipoAssignment   = flag.Bool("ipo-assignment", false, "run the IPO assignment task only")
		delistedCleanup = flag.Bool("delisting-cleanup", false, "run the delisted-symbol cleanup task only")
	)
	flag.Parse()

	cfg := config.Load()
	logger.Init("universesync", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[universesync] interrupt, cancelling...")
		cancel()
	}()

	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	cat, err := universe.OpenSQLite(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[universesync] catalog open failed: %v", err)
	}
	defer cat.Close()

	// The bus is optional: one-shot task modes work offline.
	var pub universe.Publisher
	var eod universe.EODWaiter
	if b, err := bus.New(bus.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Service:  "universesync",
	}); err != nil {
		log.Printf("[universesync] WARNING: redis unavailable: %v (notifications disabled)", err)
	} else {
		defer b.Close()
		pub = b
		eod = b
	}

	sync := universe.NewSynchronizer(cat, pub, eod, universe.SyncConfig{
		SyncTimeout:    cfg.SyncTimeout,
		EODWaitTimeout: cfg.EODWaitTimeout,
	})

	switch {
	case *dailySync:
		res, err := sync.RunDaily(ctx)
		if err != nil {
			log.Fatalf("[universesync] daily sync failed: %v", err)
		}
		report(res)

	case *testSync:
		res, err := sync.RunAll(ctx)
		if err != nil {
			log.Fatalf("[universesync] sync failed: %v", err)
		}
		report(res)

	case *marketCapUpdate:
		runOne(ctx, sync, "market_cap_rerank")
	case *ipoAssignment:
		runOne(ctx, sync, "ipo_assignment")
	case *delistedCleanup:
		runOne(ctx, sync, "delisting_cleanup")

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func runOne(ctx context.Context, sync *universe.Synchronizer, task string) {
	tr, err := sync.RunTask(ctx, task)
	if err != nil {
		log.Fatalf("[universesync] task %s failed: %v", task, err)
	}
	out, _ := json.MarshalIndent(tr, "", "  ")
	os.Stdout.Write(append(out, '\n'))
	if tr.Err != "" {
		os.Exit(1)
	}
}

// report prints the run result. Exceeding the sync window is reported
// but is not a failure.
func report(res universe.Result) {
	out, _ := json.MarshalIndent(res, "", "  ")
	os.Stdout.Write(append(out, '\n'))
	if !res.WithinWindow {
		log.Printf("[universesync] WARNING: run took %s, over the configured window", res.Duration)
	}
	failed := 0
	for _, t := range res.Tasks {
		if t.Err != "" {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("[universesync] %d of %d tasks reported errors", failed, len(res.Tasks))
	}
}
