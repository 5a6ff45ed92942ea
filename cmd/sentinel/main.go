package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"token-sentinel/internal/adapter"
	"token-sentinel/internal/bus"
	"token-sentinel/internal/config"
	"token-sentinel/internal/dedup"
	"token-sentinel/internal/dispatch"
	"token-sentinel/internal/health"
	"token-sentinel/internal/observability"
	"token-sentinel/internal/pipeline"
	"token-sentinel/internal/poster"
	"token-sentinel/internal/scorer"
	"token-sentinel/internal/social"
	"token-sentinel/internal/solana"
	"token-sentinel/internal/state"
	"token-sentinel/internal/storage"
	chstore "token-sentinel/internal/storage/clickhouse"
	"token-sentinel/internal/storage/memory"
	"token-sentinel/internal/storage/migrations"
	pgstore "token-sentinel/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "sentinel.yaml", "Path to the YAML configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	flag.Parse()

	logger := log.New(os.Stdout, "[sentinel] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	healthReg := health.NewRegistry(5 * time.Minute)

	// Start metrics server if enabled
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.Handle("/health", healthReg)
			logger.Printf("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, logger, cfg, healthReg)

	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// run wires every component from configuration and blocks until ctx is
// cancelled.
func run(ctx context.Context, logger *log.Logger, cfg *config.Config, healthReg *health.Registry) error {
	// Stores default to memory; persistent backends replace them below.
	var snapshots storage.SnapshotStore = memory.NewSnapshotStore()
	var cursors storage.CursorStore = memory.NewCursorStore()
	var signals storage.SignalStore = memory.NewSignalStore()
	var history storage.VerdictHistoryStore = memory.NewVerdictHistoryStore()

	if !cfg.Storage.UseMemory {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		snapshots = pgstore.NewSnapshotStore(pool)
		cursors = pgstore.NewCursorStore(pool)
		signals = pgstore.NewSignalStore(pool)
		logger.Println("Using PostgreSQL storage")

		if cfg.Storage.ClickHouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
			if err != nil {
				return fmt.Errorf("clickhouse migrations: %w", err)
			}
			defer conn.Close()
			history = chstore.NewVerdictHistoryStore(conn)
			logger.Println("Using ClickHouse verdict history")
		}
	}

	eventBus := bus.New()
	defer eventBus.Close()

	store := state.NewStore(state.StoreOptions{
		Shards:           cfg.State.Shards,
		LiquidityDeltas:  cfg.State.LiquidityDeltas,
		MentionWindow:    cfg.State.MentionWindow,
		TradeWindow:      cfg.State.TradeWindow,
		WhaleWindow:      cfg.State.WhaleWindow,
		EventRefs:        cfg.State.EventRefs,
		DedupRing:        cfg.State.DedupRing,
		LargeTransferMin: cfg.Wallets.LargeWalletMin,
		Snapshots:        snapshots,
		Logger:           logger,
	})

	sc := scorer.New(scorer.Config{
		LiquidityDropPct:      cfg.Scorer.LiquidityDropPct,
		LiquidityDropWindow:   cfg.Scorer.LiquidityDropWindow,
		LiquidityWeight:       cfg.Scorer.LiquidityWeight,
		ConcentrationTopShare: cfg.Scorer.ConcentrationTopShare,
		ConcentrationWeight:   cfg.Scorer.ConcentrationWeight,
		HoneypotMinBuys:       cfg.Scorer.HoneypotMinBuys,
		HoneypotMaxSellRatio:  cfg.Scorer.HoneypotMaxSellRatio,
		HoneypotWeight:        cfg.Scorer.HoneypotWeight,
		MentionSpikeMult:      cfg.Scorer.MentionSpikeMult,
		MentionMinBaseline:    cfg.Scorer.MentionMinBaseline,
		MentionWeight:         cfg.Scorer.MentionWeight,
		WhaleInflowMin:        cfg.Scorer.WhaleInflowMin,
		WhaleWeight:           cfg.Scorer.WhaleWeight,
	})

	gate := dedup.NewGate(dedup.GateOptions{
		Cooldown:            cfg.Dedup.Cooldown,
		EscalationThreshold: cfg.Dedup.EscalationThreshold,
		BucketCapacity:      cfg.Dedup.BucketCapacity,
		RefillPerMinute:     cfg.Dedup.RefillPerMinute,
		QueueDepth:          cfg.Dedup.QueueDepth,
		MaxPostsPerDay:      cfg.Dedup.MaxPostsPerDay,
		Signals:             signals,
		OnDailyCap: func() {
			observability.RecordSuppression(string(dedup.DecisionDailyCap))
		},
		Logger: logger,
	}, time.Now().UnixMilli())

	post, err := buildPoster(cfg, logger)
	if err != nil {
		return err
	}
	logger.Printf("Posting alerts via %s", post.Name())

	m := observability.DefaultMetrics
	dispatcher := dispatch.New(gate, post, dispatch.Options{
		MaxAttempts:       cfg.Dispatch.MaxAttempts,
		BaseDelay:         cfg.Dispatch.BaseDelay,
		MaxDelay:          cfg.Dispatch.MaxDelay,
		IdempotencyBucket: cfg.Dispatch.IdempotencyBucket,
		Signals:           signals,
		Logger:            logger,
		OnDispatched:      func() { m.AlertsPosted.WithLabelValues(post.Name()).Inc() },
		OnFailed:          func() { m.DispatchFailures.Inc() },
		OnAttempt:         func() { m.DispatchAttempts.Inc() },
	})

	rpc := solana.NewHTTPClient(cfg.Solana.RPCURL)
	wsCfg := solana.DefaultWSConfig()
	wsCfg.Logger = logger
	ws, err := solana.NewWS(ctx, cfg.Solana.WSURL, &wsCfg)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	sources, err := buildSources(cfg, rpc, ws, eventBus, cursors, healthReg, logger)
	if err != nil {
		return err
	}
	logger.Printf("Starting %d event sources", len(sources))

	pipe, err := pipeline.New(pipeline.Options{
		Sources:            sources,
		Bus:                eventBus,
		State:              store,
		Scorer:             sc,
		Gate:               gate,
		Dispatcher:         dispatcher,
		History:            history,
		Workers:            cfg.Bus.Workers,
		QueueCapacity:      cfg.Bus.QueueCapacity,
		CheckpointInterval: cfg.State.CheckpointInterval,
		ArchiveHorizon:     cfg.State.ArchiveHorizon,
		ArchiveSweepEvery:  cfg.State.ArchiveSweepEvery,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	return pipe.Run(ctx)
}

// buildSources creates every enabled event source from configuration.
func buildSources(cfg *config.Config, rpc solana.RPCClient, ws solana.WSClient, eventBus *bus.Bus, cursors storage.CursorStore, healthReg *health.Registry, logger *log.Logger) ([]adapter.Source, error) {
	var sources []adapter.Source
	for _, p := range cfg.Solana.Pools {
		name := p.Name
		if name == "" {
			name = "chain-" + p.Address[:8]
		}
		chain, err := adapter.NewChain(adapter.ChainOptions{
			Name:      name,
			Pool:      p.Address,
			Mint:      p.Mint,
			QuoteMint: p.QuoteMint,
			RPC:       rpc,
			WS:        ws,
			Bus:       eventBus,
			Cursors:   cursors,
			Health:    healthReg,
			Logger:    logger,
		})
		if err != nil {
			return nil, fmt.Errorf("pool %s: %w", p.Address, err)
		}
		sources = append(sources, chain)
	}

	if len(cfg.Solana.Mints) > 0 {
		holders, err := adapter.NewHolders(adapter.HoldersOptions{
			Mints:  cfg.Solana.Mints,
			TopN:   cfg.Solana.HoldersTopN,
			Every:  cfg.Solana.HoldersEvery,
			RPC:    rpc,
			Bus:    eventBus,
			Health: healthReg,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("holders source: %w", err)
		}
		sources = append(sources, holders)
	}

	if cfg.Wallets.Enabled {
		wallet, err := adapter.NewWallet(adapter.WalletOptions{
			Wallets:      cfg.Wallets.Watched,
			Mints:        cfg.Solana.Mints,
			PollInterval: cfg.Wallets.PollInterval,
			RPC:          rpc,
			Bus:          eventBus,
			Cursors:      cursors,
			Health:       healthReg,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet source: %w", err)
		}
		sources = append(sources, wallet)
	}

	if cfg.Social.Enabled {
		client := social.NewClient(cfg.Social.APIURL, cfg.Social.BearerToken, cfg.Social.Timeout)
		src, err := adapter.NewSocial(adapter.SocialOptions{
			Queries:      cfg.Social.Queries,
			PollInterval: cfg.Social.PollInterval,
			Client:       client,
			Bus:          eventBus,
			Cursors:      cursors,
			Health:       healthReg,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("social source: %w", err)
		}
		sources = append(sources, src)
	}

	if cfg.Kafka.Enabled {
		kafka, err := adapter.NewKafka(adapter.KafkaOptions{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Bus:     eventBus,
			Health:  healthReg,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka source: %w", err)
		}
		sources = append(sources, kafka)
	}

	return sources, nil
}

func buildPoster(cfg *config.Config, logger *log.Logger) (dispatch.Poster, error) {
	switch cfg.Poster.Kind {
	case "telegram":
		return poster.NewTelegram(cfg.Poster.BotToken, cfg.Poster.ChatID)
	case "log":
		return poster.NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown poster kind %q", cfg.Poster.Kind)
	}
}
