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

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/consult-scheduling/internal/config"
	"github.com/hackgods/consult-scheduling/internal/db"
	"github.com/hackgods/consult-scheduling/internal/ledger"
	"github.com/hackgods/consult-scheduling/internal/metrics"
	"github.com/hackgods/consult-scheduling/internal/store"
	pgstore "github.com/hackgods/consult-scheduling/internal/store/postgres"
	"github.com/hackgods/consult-scheduling/pkg/logging"
)

func main() {
	repair := flag.Bool("repair", false, "rewrite drifted balances from the transaction log")
	once := flag.Bool("once", false, "run a single audit and exit")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics on this address")
	flag.Parse()

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

	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal("ledger-audit needs the postgres store", zap.String("store", cfg.StoreDriver))
	}

	logger.Info("ledger-audit starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Bool("repair", *repair),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	a := &auditor{
		store:  pgstore.New(pool),
		ledger: ledger.New(metrics.New(reg)),
		repair: *repair,
		logger: logger,
	}

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	// Run once at startup
	a.runOnce(rootCtx)
	if *once {
		return
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping ledger audit")
			return
		case <-ticker.C:
			a.runOnce(rootCtx)
		}
	}
}

type auditor struct {
	store  store.Store
	ledger *ledger.Ledger
	repair bool
	logger *zap.Logger
}

func (a *auditor) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	start := time.Now()
	var (
		drifted  int
		repaired int
	)
	err := a.store.WithinTx(runCtx, func(ctx context.Context, tx store.Tx) error {
		found, err := a.ledger.Reconcile(ctx, tx)
		if err != nil {
			return err
		}
		drifted = len(found)
		for _, p := range found {
			a.logger.Warn("balance drift",
				zap.String("account_id", p.AccountID.String()),
				zap.Int64("cached", p.Cached),
				zap.Int64("from_log", p.FromLog),
			)
		}
		if !a.repair || drifted == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(found))
		for _, p := range found {
			ids = append(ids, p.AccountID)
		}
		repaired, err = a.ledger.Repair(ctx, tx, ids)
		return err
	})
	if err != nil {
		a.logger.Error("ledger audit failed", zap.Error(err))
		return
	}

	a.logger.Info("ledger audit complete",
		zap.Int("drifted", drifted),
		zap.Int("repaired", repaired),
		zap.Duration("took", time.Since(start)),
	)
}
