package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/api"
	"github.com/hackgods/consult-scheduling/internal/appointment"
	"github.com/hackgods/consult-scheduling/internal/availability"
	"github.com/hackgods/consult-scheduling/internal/clock"
	"github.com/hackgods/consult-scheduling/internal/config"
	"github.com/hackgods/consult-scheduling/internal/db"
	"github.com/hackgods/consult-scheduling/internal/identity"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/metrics"
	"github.com/hackgods/consult-scheduling/internal/payout"
	redisclient "github.com/hackgods/consult-scheduling/internal/redis"
	"github.com/hackgods/consult-scheduling/internal/store"
	"github.com/hackgods/consult-scheduling/internal/store/memory"
	pgstore "github.com/hackgods/consult-scheduling/internal/store/postgres"
	"github.com/hackgods/consult-scheduling/internal/video"
	"github.com/hackgods/consult-scheduling/pkg/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk, err := clock.System(cfg.ClockTimezone)
	if err != nil {
		return err
	}

	var (
		st     store.Store
		checks []api.Check
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection: %w", err)
		}
		defer pool.Close()
		logger.Info("connected to Postgres")

		st = pgstore.New(pool)
		checks = append(checks, api.PostgresCheck(pool))
	case config.StoreDriverMemory:
		logger.Warn("using in-memory store, state is lost on restart")
		st = memory.New()
	}

	var locker redisclient.Locker = redisclient.NopLocker{}
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("redis connection: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn("error closing redis", zap.Error(err))
			}
		}()
		logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		locker = redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL, cfg.LockWait, logger.Named("lock"))
		checks = append(checks, api.RedisCheck(rdb))
	} else {
		logger.Info("REDIS_ADDR not set, booking lock disabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	provider, err := video.NewJWTProvider(cfg.VideoAPIKey, cfg.VideoAPISecret)
	if err != nil {
		return err
	}

	l := ledger.New(m)
	planner := availability.NewPlanner(st, clk, availability.Options{
		HorizonDays:  cfg.SlotHorizonDays,
		SlotDuration: cfg.SlotDuration,
	}, logger.Named("availability"))

	appointments := appointment.NewService(appointment.Deps{
		Store:   st,
		Ledger:  l,
		Slots:   planner,
		Video:   video.WithRetry(provider, cfg.VideoTimeout, m, logger.Named("video")),
		Locker:  locker,
		Clock:   clk,
		Metrics: m,
		Logger:  logger.Named("appointment"),
	})

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Planner:      planner,
		Credits:      ledger.NewService(st, l, clk, logger.Named("credits")),
		Payouts:      payout.NewProcessor(st, l, clk, m, logger.Named("payout")),
		Resolver:     identity.NewJWTResolver(cfg.AuthJWTSecret),
		Logger:       logger.Named("http"),
		Checks:       checks,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Env:          cfg.Env,
		Version:      version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("api-server stopped")
	return nil
}
