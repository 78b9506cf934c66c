package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/careops/hospital-scheduling/internal/api"
	"github.com/careops/hospital-scheduling/internal/config"
	"github.com/careops/hospital-scheduling/internal/db"
	"github.com/careops/hospital-scheduling/internal/notify"
	"github.com/careops/hospital-scheduling/internal/observability/metrics"
	"github.com/careops/hospital-scheduling/internal/redisclient"
	"github.com/careops/hospital-scheduling/internal/scheduling"
	"github.com/careops/hospital-scheduling/pkg/logging"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("config load error", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("api-server starting", "env", cfg.Env, "http_port", cfg.HTTPPort, "version", version)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Error("postgres connection error", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Error("redis connection error", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", "error", err)
		}
	}()
	logger.Info("connected to Redis")

	grid := scheduling.GridConfig{
		StartMin:        cfg.OperatingStartMin,
		EndMin:          cfg.OperatingEndMin,
		StepMin:         cfg.SlotStepMin,
		MaxAlternatives: cfg.MaxAlternatives,
	}

	m := metrics.NewSchedulingMetrics(prometheus.DefaultRegisterer)
	store := scheduling.NewPgStore(pgPool)
	detector := scheduling.NewConflictDetector(store, grid)
	resolver := scheduling.NewIdentityResolver(store, logger)
	assigner := scheduling.NewAutoAssigner(store, detector)
	executor := scheduling.NewCommitExecutor(grid)
	notifier := notify.NewPublisher(rdb, logger)
	ledger := scheduling.NewLedger(store, detector, executor, notifier, logger, m, cfg.ProposalTTL)
	gateway := scheduling.NewIntentGateway(store, resolver, detector, assigner, ledger, scheduling.PermitAll{}, logger, m)

	router := api.NewRouter(api.RouterConfig{
		Gateway: gateway,
		Ledger:  ledger,
		Store:   store,
		PgPool:  pgPool,
		Redis:   rdb,
		Logger:  logger,
		Env:     cfg.Env,
		Version: version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("api-server stopped")
}
