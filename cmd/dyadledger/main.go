package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dyadledger/internal/config"
	"dyadledger/internal/engine"
	"dyadledger/internal/ledger"
	"dyadledger/internal/observability"
	"dyadledger/internal/oracle"
	"dyadledger/internal/persistence"
	"dyadledger/internal/query"
	"dyadledger/internal/registry"
	"dyadledger/internal/server"
	"dyadledger/internal/stream"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: dyadledger starting...")

	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("FATAL: invalid config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	if cfg.Postgres.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Postgres.MigrationsDir)
		if err := migrator.Up(ctx); err != nil {
			log.Fatalf("FATAL: run migrations: %v", err)
		}
		log.Println("INFO: migrations applied")
	}

	snapMgr := persistence.NewSnapshotManager(db)

	// --- Recovery: snapshot + event log head ---
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		log.Printf("WARN: failed to load snapshot: %v", err)
	}

	startSequence, err := snapMgr.LatestSequence(ctx)
	if err != nil {
		log.Fatalf("FATAL: read event log head: %v", err)
	}
	if snap != nil && snap.Globals.Sequence > startSequence {
		startSequence = snap.Globals.Sequence
	}
	if snap != nil {
		log.Printf("INFO: loaded snapshot (sequence=%d, positions=%d)", snap.Globals.Sequence, len(snap.Positions))
	} else {
		log.Println("INFO: no snapshot found, cold start")
	}

	// --- Core state ---
	reg := registry.New(cfg.Protocol.MaxPositions)
	stable := ledger.NewInMemoryLedger()
	vault := ledger.NewInMemoryVault()

	if snap != nil {
		if err := reg.Restore(snap.Positions, snap.NextPositionID); err != nil {
			log.Fatalf("FATAL: restore positions: %v", err)
		}
		if err := stable.Restore(snap.Balances, snap.TotalSupply); err != nil {
			log.Fatalf("FATAL: restore balances: %v", err)
		}
		vaultBal, ok := new(big.Int).SetString(snap.VaultBalance, 10)
		if !ok {
			log.Fatalf("FATAL: restore vault balance: bad amount %q", snap.VaultBalance)
		}
		vault.SetBalance(vaultBal)
	}

	// --- Oracle ---
	var feed oracle.PriceFeed
	switch cfg.Oracle.Mode {
	case "chainlink":
		client, err := oracle.DialEVMClient(cfg.Oracle.EVMEndpoint)
		if err != nil {
			log.Fatalf("FATAL: dial evm endpoint: %v", err)
		}
		defer client.Close()
		feed, err = oracle.NewChainlinkFeed(client, common.HexToAddress(cfg.Oracle.Aggregator))
		if err != nil {
			log.Fatalf("FATAL: chainlink feed: %v", err)
		}
		log.Printf("INFO: chainlink oracle at %s", cfg.Oracle.Aggregator)
	default:
		feed = oracle.NewStaticFeed(cfg.Oracle.StaticPriceAmount())
		log.Printf("INFO: static oracle at price %s", cfg.Oracle.StaticPrice)
	}

	// Resume the block clock from the persisted height so the sync
	// cooldown keeps its meaning across restarts.
	var blockBase uint64
	if snap != nil {
		blockBase = snap.Globals.CurrentBlock
	}
	blockInterval, _ := time.ParseDuration(cfg.Protocol.BlockInterval)
	blocks := engine.NewTickerBlocks(blockInterval, blockBase)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks (backpressure), the publish channel drops.
	persistChan := make(chan engine.Output, 1024)
	publishChan := make(chan engine.Output, 4096)

	// Bridge channels for the workers (avoids import cycles).
	persistRowChan := make(chan persistence.EventRow, 1024)
	publishEvtChan := make(chan stream.PublishableEvent, 4096)

	// --- Engine ---
	eng := engine.New(
		engine.Config{
			DepositMinimum:        cfg.Protocol.DepositMinimumAmount(),
			MaxPositions:          cfg.Protocol.MaxPositions,
			SyncCooldownBlocks:    cfg.Protocol.SyncCooldownBlocks,
			MinCollateralRatioBps: cfg.Protocol.MinCollateralRatioBps,
			MaxMintedRatioBps:     cfg.Protocol.MaxMintedRatioBps,
			PriceScale:            new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil),
			PoolAddress:           common.HexToAddress(cfg.Protocol.PoolAddress),
			TrustedLiquidator:     common.HexToAddress(cfg.Protocol.TrustedLiquidator),
		},
		reg, stable, vault, feed, blocks,
		startSequence,
		persistChan, publishChan,
		metrics,
	)
	if snap != nil {
		globals := snap.Globals
		globals.Sequence = startSequence
		if err := eng.RestoreGlobals(globals); err != nil {
			log.Fatalf("FATAL: restore globals: %v", err)
		}
	}

	// --- NATS ---
	var publisher *stream.Publisher
	if cfg.NATS.Enabled {
		nc, js, err := stream.Connect(cfg.NATS.URL)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := stream.EnsureStream(ctx, js); err != nil {
			log.Fatalf("FATAL: ensure NATS stream: %v", err)
		}
		publisher = stream.NewPublisher(js, publishEvtChan)
	}

	// --- Services ---
	queryService := query.NewService(db)
	apiServer := server.New(cfg.Server.APIAddr, eng, queryService, healthChecker, metrics)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	// 1. Persistence worker
	persistWorker := persistence.NewWorker(db, persistRowChan, cfg.Persist.BatchSize, mustDuration(cfg.Persist.FlushTimeout), metrics)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. Outbound publisher
	if publisher != nil {
		go func() {
			errChan <- publisher.Run(ctx)
		}()
	}

	// 3. Engine output bridges
	go bridgePersist(persistChan, persistRowChan)
	go bridgePublish(publishChan, publishEvtChan, metrics)

	// 4. HTTP API server. Tracked separately from errChan: shutdown must
	// wait for in-flight handlers before the engine channels close.
	apiDone := make(chan error, 1)
	go func() {
		log.Printf("INFO: API server listening on %s", cfg.Server.APIAddr)
		apiDone <- apiServer.Run(ctx)
	}()

	// 5. Periodic snapshots
	snapshotInterval := mustDuration(cfg.Persist.SnapshotInterval)
	go runPeriodicSnapshots(ctx, eng, snapMgr, snapshotInterval, metrics)

	// 6. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Printf("INFO: metrics server listening on %s/metrics", cfg.Server.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Printf("INFO: dyadledger ready (sequence=%d, api=%s, metrics=%s)",
		startSequence, cfg.Server.APIAddr, cfg.Server.MetricsAddr)

	// --- Wait for shutdown signal ---
	apiStopped := false
	select {
	case sig := <-sigChan:
		log.Printf("INFO: received signal %s, shutting down...", sig)
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	case err := <-apiDone:
		apiStopped = true
		log.Printf("ERROR: api server exited: %v, shutting down...", err)
	}

	// --- Graceful shutdown: stop intake, flush workers, final snapshot ---
	healthChecker.SetReady(false)
	cancel()

	// In-flight handlers may still emit; the engine channels stay open
	// until the API server finishes draining.
	if !apiStopped {
		select {
		case <-apiDone:
		case <-time.After(15 * time.Second):
			log.Println("WARN: api server did not stop in time")
		}
	}

	close(persistChan)
	close(publishChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, eng, snapMgr, metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Println("INFO: final snapshot saved")
	}

	log.Println("INFO: dyadledger shutdown complete")
}

// bridgePersist converts engine outputs to event log rows. Closing the
// input channel propagates to the worker for its final flush.
func bridgePersist(in <-chan engine.Output, out chan<- persistence.EventRow) {
	defer close(out)
	for output := range in {
		env := output.Envelope
		out <- persistence.EventRow{
			Sequence:  env.Sequence,
			EventID:   env.EventID,
			EventType: env.Type.String(),
			Block:     env.Block,
			Payload:   persistence.MarshalPayload(env.Payload),
			Timestamp: env.Timestamp,
		}
	}
}

func bridgePublish(in <-chan engine.Output, out chan<- stream.PublishableEvent, metrics *observability.Metrics) {
	defer close(out)
	for output := range in {
		env := output.Envelope
		evt := stream.PublishableEvent{
			Sequence:  env.Sequence,
			EventID:   env.EventID,
			EventType: env.Type.String(),
			Block:     env.Block,
			Payload:   env.Payload,
			Timestamp: env.Timestamp,
		}
		select {
		case out <- evt:
		default:
			if metrics != nil {
				metrics.PublishDrops.Inc()
			}
		}
	}
}

func runPeriodicSnapshots(
	ctx context.Context,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	interval time.Duration,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := takeSnapshot(ctx, eng, snapMgr, metrics); err != nil {
				log.Printf("ERROR: periodic snapshot failed: %v", err)
			}
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	state := eng.Snapshot()
	snap := &persistence.SnapshotData{
		Globals:        state.Globals,
		Positions:      state.Positions,
		NextPositionID: state.NextPositionID,
		Balances:       state.Balances,
		TotalSupply:    state.TotalSupply,
		VaultBalance:   state.VaultBalance,
		CreatedAt:      time.Now().UTC(),
	}

	size, err := snapMgr.SaveSnapshot(ctx, snap)
	if err != nil {
		return err
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
	}
	log.Printf("INFO: snapshot saved (sequence=%d, size=%d bytes)", snap.Globals.Sequence, size)
	return nil
}

// mustDuration parses a duration already checked by config validation.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("FATAL: bad duration %q: %v", s, err)
	}
	return d
}
