// Package main runs the position engine: the SOL price poller, the decision
// loop and the metrics endpoint, until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"solana-position-engine/internal/allocation"
	"solana-position-engine/internal/blocklist"
	"solana-position-engine/internal/config"
	"solana-position-engine/internal/decision"
	"solana-position-engine/internal/execution"
	"solana-position-engine/internal/forecast"
	"solana-position-engine/internal/keystore"
	"solana-position-engine/internal/ledger"
	"solana-position-engine/internal/logger"
	"solana-position-engine/internal/observability"
	"solana-position-engine/internal/pricefeed"
	"solana-position-engine/internal/risk"
	"solana-position-engine/internal/solana"
	"solana-position-engine/internal/storage"
	chstore "solana-position-engine/internal/storage/clickhouse"
	"solana-position-engine/internal/storage/memory"
	"solana-position-engine/internal/storage/migrations"
	pgstore "solana-position-engine/internal/storage/postgres"
	"solana-position-engine/internal/tracing"
)

// allStores holds all storage implementations.
type allStores struct {
	wallets         storage.WalletStore
	positions       storage.PositionStore
	uow             storage.UnitOfWork
	tokens          storage.TokenStore
	classifications storage.ClassificationStore
	audits          storage.AuditStore
	assessments     storage.RiskAssessmentStore
	liquidity       storage.LiquidityTimeseriesStore
	settlements     storage.SettlementStore
}

func main() {
	// Flags override the config file and environment.
	configPath := flag.String("config", os.Getenv("ENGINE_CONFIG"), "Path to YAML config file")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	migrate := flag.Bool("migrate", false, "Apply database migrations before starting")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *useMemory {
			c.Storage.UseMemory = true
		}
		if *migrate {
			c.Storage.Migrate = true
		}
		if *metricsAddr != "" {
			c.Metrics.Addr = *metricsAddr
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	log, logCloser, err := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down, waiting for the current tick")
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Error("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(2 * time.Minute):
			log.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, log)
	close(done)
	if err != nil {
		log.WithError(err).Error("engine stopped")
		logCloser.Close()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	if err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Destination: cfg.Tracing.Output,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	encKey, err := keystore.ParseEncryptionKey(cfg.Keystore.EncryptionKey)
	if err != nil {
		return err
	}
	keys, err := keystore.Open(keystore.OpenOptions{Path: cfg.Keystore.Path, EncryptionKey: encKey, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("open keystore: %w", err)
	}
	defer keys.Close()
	if refs, err := keys.Refs(); err == nil {
		log.WithField("keys", len(refs)).Info("keystore opened")
	}

	policy := cfg.Retry.Policy()
	rpc := solana.NewHTTPClient(cfg.Solana.RPCEndpoint, solana.WithRetryPolicy(policy))

	var watcher solana.SignatureWatcher
	if cfg.Solana.WSEndpoint != "" {
		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = log
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSEndpoint, &wsCfg)
		if err != nil {
			return fmt.Errorf("connect websocket: %w", err)
		}
		defer ws.Close()
		watcher = ws
	} else {
		log.Warn("no websocket endpoint, confirmations rely on status polling")
	}

	prices := pricefeed.NewHTTPSource(cfg.Price.BaseURL,
		pricefeed.WithTimeout(cfg.Price.Timeout),
		pricefeed.WithRetryPolicy(policy))
	solCache := pricefeed.NewCache(cfg.Price.MaxAge)
	poller := pricefeed.NewPoller(prices, solCache, cfg.Price.PollInterval, log)

	positions := ledger.New(stores.positions, log)
	allocator := allocation.New(stores.wallets, stores.uow, positions, log)

	executor := execution.New(execution.Options{
		DEX:     execution.NewJupiterClient(cfg.DEX.BaseURL, cfg.DEX.Timeout, policy),
		RPC:     rpc,
		Watcher: watcher,
		Keys:    keys,
		Journal: stores.settlements,
		Prices:  solCache,
		Config: execution.Config{
			SlippageBps:    cfg.DEX.SlippageBps,
			Commitment:     solana.Commitment(cfg.Solana.Commitment),
			ConfirmTimeout: cfg.Execution.ConfirmTimeout,
			PollInterval:   cfg.Execution.PollInterval,
			UnknownGrace:   cfg.Execution.UnknownGrace,
		},
		Policy:  policy,
		Metrics: observability.DefaultMetrics,
		Logger:  log,
	})

	tiers, err := cfg.RiskTiers()
	if err != nil {
		return err
	}
	loop := decision.New(decision.Options{
		Tokens:    stores.tokens,
		Wallets:   stores.wallets,
		Journal:   stores.settlements,
		Ledger:    positions,
		Allocator: allocator,
		Blocklist: blocklist.New(stores.classifications, log),
		Risk: risk.NewScorer(risk.Options{
			AuditStore:      stores.audits,
			LiquidityStore:  stores.liquidity,
			AssessmentStore: stores.assessments,
			Window:          cfg.Decision.RiskWindow,
			Logger:          log,
		}),
		Forecast: forecast.NewHTTPModel(cfg.Forecast.BaseURL, cfg.Forecast.Timeout, policy),
		Executor: executor,
		SOLPrice: solCache,
		Prices:   prices,
		Config: decision.Config{
			Interval:     cfg.Decision.Interval,
			Threshold:    cfg.Decision.Threshold,
			AllowedTiers: tiers,
			TargetReturn: cfg.Decision.TargetReturn,
			Timeout:      cfg.Decision.Timeout,
		},
		Metrics: observability.DefaultMetrics,
		Logger:  log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return poller.Run(gctx)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	if cfg.Metrics.Addr != "" {
		srv := newMetricsServer(cfg.Metrics.Addr)
		g.Go(func() error {
			log.WithField("addr", cfg.Metrics.Addr).Info("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		log.Warn("using in-memory storage, nothing is persisted")
		book := memory.NewBook()
		return &allStores{
			wallets:         memory.NewWalletStore(book),
			positions:       memory.NewPositionStore(book),
			uow:             memory.NewUnitOfWork(book),
			tokens:          memory.NewTokenStore(),
			classifications: memory.NewClassificationStore(),
			audits:          memory.NewAuditStore(),
			assessments:     memory.NewRiskAssessmentStore(),
			liquidity:       memory.NewLiquidityTimeseriesStore(),
			settlements:     memory.NewSettlementStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Storage.Migrate {
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
		log.WithField("applied", applied).Info("postgres migrations done")
	}

	// ClickHouse
	var chConn *chstore.Conn
	if cfg.Storage.Migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (system of record)
		wallets:         pgstore.NewWalletStore(pool),
		positions:       pgstore.NewPositionStore(pool),
		uow:             pgstore.NewUnitOfWork(pool),
		tokens:          pgstore.NewTokenStore(pool),
		classifications: pgstore.NewClassificationStore(pool),
		audits:          pgstore.NewAuditStore(pool),
		assessments:     pgstore.NewRiskAssessmentStore(pool),
		settlements:     pgstore.NewSettlementStore(pool),

		// ClickHouse stores (time series)
		liquidity: chstore.NewLiquidityTimeseriesStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}
