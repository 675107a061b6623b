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
	"foire/backend/internal/http/handlers"
	"foire/backend/internal/idempotency"
	"foire/backend/internal/integrations"
	"foire/backend/internal/logging"
	"foire/backend/internal/metrics"
	"foire/backend/internal/payments"
	"foire/backend/internal/payments/orangemoney"
	stripeprovider "foire/backend/internal/payments/stripe"
	"foire/backend/internal/payments/wave"
	"foire/backend/internal/rate"
	"foire/backend/internal/repository"
	"foire/backend/internal/ticketing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, cleanup, err := logging.New(cfg.Logging, "api")
	if err != nil {
		log.Fatalf("log error: %v", err)
	}
	defer func() {
		_ = cleanup()
	}()
	slog.SetDefault(logger)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db error", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := repository.New(pool)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	var idem payments.IdempotencyStore
	if cfg.Redis.Addr != "" {
		rdb, err := idempotency.NewClient(ctx, idempotency.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("redis error", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = rdb.Close()
		}()
		idem = idempotency.NewStore(rdb, cfg.Redis.IdempotencyTTL)
	} else {
		logger.Warn("redis_disabled", "detail", "payment initiation runs without idempotency keys")
	}

	adapters := []payments.Adapter{
		payments.NewOfflineAdapter(payments.ProviderCash, cfg.Offline.CashInstructions),
		payments.NewOfflineAdapter(payments.ProviderBankTransfer, cfg.Offline.BankTransferInstructions),
	}

	var waveSessions handlers.WaveSessions
	if cfg.WaveEnabled() {
		waveClient := wave.NewClient(wave.Config{
			BaseURL:           cfg.Wave.BaseURL,
			APIKey:            cfg.Wave.APIKey,
			RequestsPerSecond: cfg.Wave.RequestsPerSecond,
		}, nil, logger)
		adapters = append(adapters, wave.NewAdapter(waveClient, wave.AdapterConfig{
			SuccessURL: cfg.BaseURL + "/payment/success",
			ErrorURL:   cfg.BaseURL + "/payment/error",
		}))
		waveSessions = waveClient
		if cfg.Wave.WebhookSecret == "" {
			logger.Warn("wave_webhook_secret_missing", "detail", "wave webhooks will be rejected")
		}
	}

	if cfg.OrangeMoneyEnabled() {
		tokens := orangemoney.NewTokenManager(orangemoney.TokenManagerConfig{
			AuthHeader: cfg.OrangeMoney.AuthHeader,
			TokenURL:   cfg.OrangeMoney.TokenURL,
		}, nil)
		omClient := orangemoney.NewClient(orangemoney.Config{
			BaseURL:     cfg.OrangeMoney.BaseURL,
			MerchantKey: cfg.OrangeMoney.MerchantKey,
			Country:     cfg.OrangeMoney.Country,
		}, tokens, nil, logger)
		notifyURL := cfg.OrangeMoney.NotifyURL
		if notifyURL == "" {
			notifyURL = cfg.BaseURL + "/api/webhooks/orange-money"
		}
		adapters = append(adapters, orangemoney.NewAdapter(omClient, orangemoney.AdapterConfig{
			NotifyURL: notifyURL,
			ReturnURL: cfg.BaseURL + "/payment/success",
			CancelURL: cfg.BaseURL + "/payment/error",
			Currency:  cfg.OrangeMoney.Currency,
			Locale:    cfg.OrangeMoney.DefaultLocale,
		}))
	}

	if cfg.StripeEnabled() {
		adapters = append(adapters, stripeprovider.NewAdapter(cfg.Stripe.SecretKey, nil, stripeprovider.AdapterConfig{
			SuccessURL: cfg.BaseURL + "/payment/success",
			CancelURL:  cfg.BaseURL + "/payment/error",
		}))
		if cfg.Stripe.WebhookSecret == "" {
			logger.Warn("stripe_webhook_secret_missing", "detail", "stripe webhooks will be rejected")
		}
	}

	dispatcher := payments.NewDispatcher(repo, adapters, payments.DispatcherOptions{
		Idempotency: idem,
		LockTTL:     cfg.Redis.LockTTL,
		Metrics:     m,
		Logger:      logger,
	})

	var images ticketing.ImageStore
	if cfg.S3.Bucket != "" {
		s3Client, err := integrations.NewS3(ctx, cfg.S3)
		if err != nil {
			logger.Error("s3 error", "error", err)
			os.Exit(1)
		}
		images = s3Client
	}

	h := handlers.New(handlers.Deps{
		Store:      repo,
		Dispatcher: dispatcher,
		Validator:  ticketing.NewValidator(repo),
		Issuer:     ticketing.NewIssuer(repo, images, logger),
		Purchaser:  ticketing.NewPurchaser(repo),
		Wave:       waveSessions,
		Config:     cfg,
		Metrics:    m,
		Logger:     logger,
	})
	router := handlers.NewRouter(h, handlers.RouterOptions{
		ScanLimiter:    rate.NewWindowLimiter(cfg.Scan.RateLimit, cfg.Scan.RateWindow),
		MetricsPath:    cfg.Metrics.Path,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", cfg.HTTPAddr, "providers", len(adapters))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
}
