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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/ehsan-hn/SmsHub/internal/api/http"
	billingapp "github.com/ehsan-hn/SmsHub/internal/billing/app"
	billingpg "github.com/ehsan-hn/SmsHub/internal/billing/repository/postgres"
	"github.com/ehsan-hn/SmsHub/internal/platform/cache"
	"github.com/ehsan-hn/SmsHub/internal/platform/config"
	"github.com/ehsan-hn/SmsHub/internal/platform/database"
	"github.com/ehsan-hn/SmsHub/internal/platform/logger"
	"github.com/ehsan-hn/SmsHub/internal/platform/messagebroker"
	smsapp "github.com/ehsan-hn/SmsHub/internal/sms/app"
	smspg "github.com/ehsan-hn/SmsHub/internal/sms/repository/postgres"
)

const (
	serviceName     = "api-service"
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	appLogger := logger.New(cfg.LogLevel).With("service", serviceName)
	appLogger.Info("API service starting", "http_port", cfg.HTTPPort, "metrics_port", cfg.MetricsPort)

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

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, serviceName, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	billingSvc := billingapp.NewTransactionService(
		billingpg.NewPgUserRepository(),
		billingpg.NewPgTransactionRepository(),
		dbPool,
		balanceCache,
		appLogger,
	)
	smsSvc := smsapp.NewSMSService(
		smspg.NewPgSMSRepository(),
		billingSvc,
		dbPool,
		smsapp.NewNATSDispatcher(natsClient),
		smsapp.Costs{Standard: cfg.CostStandard, Express: cfg.CostExpress},
		cfg.SenderNumber,
		appLogger,
	)

	router := apihttp.NewRouter(
		apihttp.NewBillingHandler(billingSvc, appLogger),
		apihttp.NewSMSHandler(smsSvc, appLogger),
	)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("HTTP server starting", "address", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var shutdownErrs error
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrs = errors.Join(shutdownErrs, fmt.Errorf("api http shutdown: %w", err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			shutdownErrs = errors.Join(shutdownErrs, fmt.Errorf("metrics http shutdown: %w", err))
		}
		return shutdownErrs
	})

	appLogger.Info("API service is ready")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("API service shut down")
}
