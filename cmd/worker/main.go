package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foire/backend/internal/config"
	"foire/backend/internal/db"
	"foire/backend/internal/logging"
	"foire/backend/internal/metrics"
	"foire/backend/internal/payments"
	"foire/backend/internal/payments/wave"
	"foire/backend/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "worker")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	if !cfg.WaveEnabled() {
		logger.Warn("worker_idle", "detail", "WAVE_API_KEY is not set, nothing to reconcile")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)
	client := wave.NewClient(wave.Config{
		BaseURL:           cfg.Wave.BaseURL,
		APIKey:            cfg.Wave.APIKey,
		RequestsPerSecond: cfg.Wave.RequestsPerSecond,
	}, nil, logger)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		srv := &http.Server{Addr: cfg.Metrics.WorkerAddr, Handler: m.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			_ = srv.Close()
		}()
	}

	// Transitions only; the worker never initiates a checkout.
	dispatcher := payments.NewDispatcher(repo, nil, payments.DispatcherOptions{Metrics: m, Logger: logger})

	interval := cfg.Reconcile.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	r := &reconciler{
		store:       repo,
		sessions:    client,
		apply:       dispatcher,
		metrics:     m,
		logger:      logger,
		minAge:      cfg.Reconcile.MinAge,
		batch:       cfg.Reconcile.Batch,
		maxAttempts: cfg.Reconcile.MaxAttempts,
		now:         time.Now,
	}

	logger.Info("worker_started", "interval", interval, "min_age", cfg.Reconcile.MinAge, "max_attempts", cfg.Reconcile.MaxAttempts)
	r.run(ctx, interval)
	logger.Info("shutdown")
}
