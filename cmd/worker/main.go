package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sokohub/sokohub-backend/internal/cron"
	"github.com/sokohub/sokohub-backend/internal/notifications"
	paymentssvc "github.com/sokohub/sokohub-backend/internal/payments"
	"github.com/sokohub/sokohub-backend/internal/payments/retry"
	"github.com/sokohub/sokohub-backend/pkg/config"
	"github.com/sokohub/sokohub-backend/pkg/db"
	"github.com/sokohub/sokohub-backend/pkg/logger"
	"github.com/sokohub/sokohub-backend/pkg/metrics"
	"github.com/sokohub/sokohub-backend/pkg/migrate"
	"github.com/sokohub/sokohub-backend/pkg/mpesa"
	"github.com/sokohub/sokohub-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	mpesaClient, err := mpesa.NewClient(context.Background(), cfg.Mpesa, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mpesa client", err)
		os.Exit(1)
	}

	notifier := notifications.NewHTTPNotifier(cfg.Notifier, logg)

	paymentsRepo := paymentssvc.NewRepository(dbClient.DB())
	paymentsService, err := paymentssvc.NewService(paymentsRepo, dbClient, mpesaClient, notifier, paymentMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	retryService, err := retry.NewService(paymentsRepo, dbClient, paymentsService, paymentMetrics, cfg.PaymentRetry, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment retry service", err)
		os.Exit(1)
	}
	defer retryService.Close()

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:  logg,
		Reader:  paymentsRepo,
		Retrier: retryService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconcile job", err)
		os.Exit(1)
	}

	stockJob, err := cron.NewStockConflictJob(cron.StockConflictJobParams{
		Logger: logg,
		DB:     dbClient,
		Store:  cron.NewOrderStore(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stock conflict job", err)
		os.Exit(1)
	}

	// Each cadence gets its own scheduler and lock so a slow stock sweep
	// never delays payment reconciliation.
	paymentScheduler, err := newScheduler(logg, redisClient, cronMetrics, "payments", cfg, cfg.Cron.PaymentReconcileInterval, reconcileJob)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment scheduler", err)
		os.Exit(1)
	}
	stockScheduler, err := newScheduler(logg, redisClient, cronMetrics, "stock", cfg, cfg.Cron.StockConflictInterval, stockJob)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock scheduler", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting worker")

	var wg sync.WaitGroup
	for _, service := range []*cron.Service{paymentScheduler, stockScheduler} {
		wg.Add(1)
		go func(svc *cron.Service) {
			defer wg.Done()
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "cron scheduler stopped unexpectedly", err)
			}
		}(service)
	}
	wg.Wait()

	logg.Info(ctx, "worker shutting down gracefully")
}

func newScheduler(
	logg *logger.Logger,
	redisClient *redis.Client,
	cronMetrics *metrics.CronJobMetrics,
	name string,
	cfg *config.Config,
	interval time.Duration,
	jobs ...cron.Job,
) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, name+":"+cfg.App.Env, cfg.Cron.LockTTL)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: interval,
	})
}
