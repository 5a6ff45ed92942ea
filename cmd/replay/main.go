package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-sentinel/internal/config"
	"token-sentinel/internal/dedup"
	"token-sentinel/internal/dispatch"
	"token-sentinel/internal/pipeline"
	"token-sentinel/internal/poster"
	"token-sentinel/internal/storage/clickhouse"
	"token-sentinel/internal/storage/memory"
)

func main() {
	configPath := flag.String("config", "sentinel.yaml", "Path to the YAML configuration file")
	fromTime := flag.String("from-time", "", "Start time (RFC3339, required)")
	toTime := flag.String("to-time", "", "End time (RFC3339, required)")
	outputJSON := flag.Bool("json", false, "Output summary as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	if *fromTime == "" || *toTime == "" {
		logger.Fatal("--from-time and --to-time are required")
	}
	from, err := time.Parse(time.RFC3339, *fromTime)
	if err != nil {
		logger.Fatalf("parse from-time: %v", err)
	}
	to, err := time.Parse(time.RFC3339, *toTime)
	if err != nil {
		logger.Fatalf("parse to-time: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if cfg.Storage.ClickHouseDSN == "" {
		logger.Fatal("storage.clickhouse_dsn is required: replay reads recorded verdict history")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	conn, err := clickhouse.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		logger.Fatalf("connect to clickhouse: %v", err)
	}
	defer conn.Close()
	history := clickhouse.NewVerdictHistoryStore(conn)

	// The replay gate and dispatcher are throwaways over in-memory signal
	// storage, with alerts going to the log instead of the live channel.
	signals := memory.NewSignalStore()
	gate := dedup.NewGate(dedup.GateOptions{
		Cooldown:            cfg.Dedup.Cooldown,
		EscalationThreshold: cfg.Dedup.EscalationThreshold,
		BucketCapacity:      cfg.Dedup.BucketCapacity,
		RefillPerMinute:     cfg.Dedup.RefillPerMinute,
		QueueDepth:          cfg.Dedup.QueueDepth,
		MaxPostsPerDay:      cfg.Dedup.MaxPostsPerDay,
		Signals:             signals,
		Logger:              logger,
	}, from.UnixMilli())
	dispatcher := dispatch.New(gate, poster.NewLog(logger), dispatch.Options{
		IdempotencyBucket: cfg.Dispatch.IdempotencyBucket,
		Signals:           signals,
		Logger:            logger,
	})

	replayer, err := pipeline.NewReplayer(pipeline.ReplayOptions{
		History:    history,
		Gate:       gate,
		Dispatcher: dispatcher,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("create replayer: %v", err)
	}

	sum, err := replayer.Replay(ctx, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		logger.Fatalf("replay: %v", err)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			logger.Fatalf("encode summary: %v", err)
		}
		return
	}

	fmt.Printf("Replayed %s .. %s\n", from.Format(time.RFC3339), to.Format(time.RFC3339))
	fmt.Printf("  verdicts: %d\n", sum.Verdicts)
	for decision, n := range sum.Decisions {
		fmt.Printf("  %-10s %d\n", string(decision)+":", n)
	}
	fmt.Printf("  posted:    %d\n", sum.Posted)
	fmt.Printf("  failed:    %d\n", sum.Failed)
}
