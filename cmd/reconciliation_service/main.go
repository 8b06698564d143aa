package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	billingapp "github.com/ehsan-hn/SmsHub/internal/billing/app"
	billingpg "github.com/ehsan-hn/SmsHub/internal/billing/repository/postgres"
	"github.com/ehsan-hn/SmsHub/internal/platform/cache"
	"github.com/ehsan-hn/SmsHub/internal/platform/config"
	"github.com/ehsan-hn/SmsHub/internal/platform/database"
	"github.com/ehsan-hn/SmsHub/internal/platform/logger"
	smsapp "github.com/ehsan-hn/SmsHub/internal/sms/app"
	smsdomain "github.com/ehsan-hn/SmsHub/internal/sms/domain"
	"github.com/ehsan-hn/SmsHub/internal/sms/provider"
	smspg "github.com/ehsan-hn/SmsHub/internal/sms/repository/postgres"
)

const serviceName = "reconciliation-service"

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("Reconciliation service starting",
		"interval", cfg.ReconcileInterval,
		"stale_after", cfg.ReconcileStaleAfter,
		"metrics_port", cfg.MetricsPort,
	)

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	balanceCache, err := cache.NewRedisCache(mainCtx, cfg.RedisAddr)
	if err != nil {
		appLogger.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer balanceCache.Close()

	billingSvc := billingapp.NewTransactionService(
		billingpg.NewPgUserRepository(),
		billingpg.NewPgTransactionRepository(),
		dbPool,
		balanceCache,
		appLogger,
	)
	smsRepo := smspg.NewPgSMSRepository()

	// The poller only resolves terminal states, never re-queues, so it keeps
	// no dispatcher.
	smsSvc := smsapp.NewSMSService(
		smsRepo,
		billingSvc,
		dbPool,
		nil,
		smsapp.Costs{Standard: cfg.CostStandard, Express: cfg.CostExpress},
		cfg.SenderNumber,
		appLogger,
	)

	magfa := provider.NewMagfaProvider(provider.MagfaConfig{
		Username: cfg.MagfaUsername,
		Password: cfg.MagfaPassword,
		Domain:   cfg.MagfaDomain,
		Endpoint: cfg.MagfaEndpoint,
	}, appLogger)
	registry := provider.NewRegistry()
	registry.Register("", magfa)
	registry.Register(cfg.MagfaSenderPrefix, magfa)

	poller := smsapp.NewPoller(smsSvc, smsRepo, dbPool, registry, smsapp.PollerConfig{
		Interval:    cfg.ReconcileInterval,
		StaleAfter:  cfg.ReconcileStaleAfter,
		TouchStatus: smsdomain.Status(cfg.ReconcileTouchStatus),
		ChunkSize:   cfg.StatusChunkSize,
	}, appLogger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		if err := poller.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		appLogger.Info("Metrics server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			appLogger.Info("Shutdown signal received", "signal", sig.String())
		case <-groupCtx.Done():
		}
		mainCancel()
		return metricsServer.Shutdown(context.Background())
	})

	appLogger.Info("Reconciliation service is ready")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Reconciliation service shut down")
}
