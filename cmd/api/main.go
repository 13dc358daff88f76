package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/camly/backend/internal/abuse"
	"github.com/camly/backend/internal/attempts"
	"github.com/camly/backend/internal/auth"
	"github.com/camly/backend/internal/chain"
	"github.com/camly/backend/internal/claims"
	"github.com/camly/backend/internal/config"
	"github.com/camly/backend/internal/eligibility"
	"github.com/camly/backend/internal/events"
	"github.com/camly/backend/internal/execution"
	"github.com/camly/backend/internal/ledger"
	"github.com/camly/backend/internal/mint"
	"github.com/camly/backend/internal/repository"
	"github.com/camly/backend/internal/scheduler"
	"github.com/camly/backend/internal/validation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Failed to apply reward schema", "error", err)
		os.Exit(1)
	}

	// Claim attempt counter: Redis when configured, otherwise per process.
	var counter attempts.Counter = attempts.NewMemoryCounter()
	if cfg.RedisURL != "" {
		rdb, err := attempts.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			slog.Error("Redis unavailable", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		counter = attempts.NewRedisCounter(rdb)
		slog.Info("Claim attempts counted in Redis")
	}

	// Events: in-process bus, forwarded to NATS when configured.
	var forward []events.Publisher
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(events.NATSConfig{
			URL:            cfg.NATSURL,
			Name:           "camly-rewards",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  -1,
			ConnectTimeout: 5 * time.Second,
		}, logger)
		if err != nil {
			slog.Error("NATS unavailable", "error", err)
			os.Exit(1)
		}
		defer nc.Drain()
		forward = append(forward, events.NewNATSPublisher(nc, "camly.rewards", logger))
	}
	bus := events.NewBus(logger, forward...)

	validator, err := validation.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Repositories
	accountRepo := repository.NewAccountRepo(pool)
	profileRepo := repository.NewProfileRepo(pool)
	activityRepo := repository.NewActivityRepo(pool)
	ledgerRepo := ledger.NewRepository(pool)
	claimRepo := claims.NewRepository(pool)
	mintRepo := mint.NewRepository(pool)

	chainClient := chain.NewClient(cfg.ChainRelayerURL, cfg.ChainAPIKey, cfg.ChainTimeout, logger)

	abuseSvc := abuse.NewService(profileRepo, activityRepo, counter, logger)
	eligibilitySvc := eligibility.NewService(profileRepo, activityRepo, mintRepo, logger)
	ledgerSvc := ledger.NewService(pool, accountRepo, ledgerRepo, abuseSvc, bus, logger, cfg.BulkApproveConcurrency)
	claimSvc := claims.NewService(pool, accountRepo, claimRepo, profileRepo, chainClient, counter, bus, claims.Config{
		MinThreshold: cfg.MinClaimThreshold,
		DailyCap:     cfg.DailyClaimCap,
		PendingTTL:   cfg.ClaimPendingTTL,
		ChainTimeout: cfg.ChainTimeout,
	}, logger)

	// Mint jobs: insert func is set after River client is created (breaks init cycle)
	var insertMu sync.Mutex
	var insertFn mint.InsertMintJobTxFunc
	insertMintJob := func(ctx context.Context, tx pgx.Tx, args execution.MintJobArgs) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			return errors.New("river insert not wired")
		}
		return fn(ctx, tx, args)
	}

	mintSvc := mint.NewService(pool, accountRepo, mintRepo, eligibilitySvc, abuseSvc, chainClient, validator, insertMintJob, bus, mint.Config{
		TokenDecimals:   cfg.TokenDecimals,
		FunPerToken:     cfg.FunPerToken,
		ChainTimeout:    cfg.ChainTimeout,
		BulkConcurrency: cfg.BulkApproveConcurrency,
	}, logger)

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewMintWorker(mintSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 4},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args execution.MintJobArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}
	insertMu.Unlock()

	sched, err := scheduler.New(claimSvc, ledgerSvc, scheduler.Config{
		SweepInterval:     cfg.SweepInterval,
		ReconcileInterval: cfg.ReconcileInterval,
	}, logger)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	authSvc := auth.NewService(cfg.JWTSecret)

	apiRouter := newRouter(routeDeps{
		eligibility: eligibilitySvc,
		mints:       mintSvc,
		claims:      claimSvc,
		ledger:      ledgerSvc,
		suspicion:   abuseSvc,
		wallets:     profileRepo,
		bus:         bus,
		tokens:      authSvc,
		counter:     counter,
		cfg:         cfg,
		logger:      logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes mint jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}
	sched.Start()

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down")
	if err := sched.Shutdown(); err != nil {
		slog.Warn("Scheduler shutdown", "error", err)
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := riverClient.Stop(stopCtx); err != nil {
		slog.Warn("River client stop", "error", err)
	}
}
