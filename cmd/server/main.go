package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/miauchat/dispatch/internal/api"
	"github.com/miauchat/dispatch/internal/config"
	"github.com/miauchat/dispatch/internal/db"
	"github.com/miauchat/dispatch/internal/metrics"
	"github.com/miauchat/dispatch/internal/provider"
	"github.com/miauchat/dispatch/internal/queue"
	"github.com/miauchat/dispatch/internal/ratelimiter"
	"github.com/miauchat/dispatch/internal/repository"
	"github.com/miauchat/dispatch/internal/service"
	"github.com/miauchat/dispatch/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ---- database ----
	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	q := queue.New(logger.Named("conversation_queue"), m.QueueHooks())
	metrics.RegisterQueueGauges(reg, q)

	repo := repository.NewPgMessageRepository(pool)
	prov := provider.NewWebhookProvider(cfg.GatewayURL, cfg.GatewayToken, cfg.GatewayTimeout)
	limiter := ratelimiter.NewPerChannel(cfg.RateLimits())

	onSent, onFailed := m.SendHooks()
	sender := worker.NewSender(repo, prov, limiter, cfg.RetryBackoff, logger, worker.MetricHooks{
		OnSent:   onSent,
		OnFailed: onFailed,
	})
	svc := service.NewMessageService(repo, q, sender, cfg.SendWaitTimeout, logger)

	// ---- background pollers ----
	// Context for all background goroutines; cancelled on shutdown signal.
	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	pollers := worker.NewPool(
		worker.NewRetryWorker(repo, svc, cfg.RetryInterval, logger),
		worker.NewSchedulerWorker(repo, svc, cfg.SchedulerInterval, logger),
	)
	pollers.Start(workerCtx)

	// ---- HTTP server ----
	router := api.NewRouter(svc, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	// Start server in a goroutine so it does not block the shutdown listener.
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ---- graceful shutdown ----
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")

	// 1. Stop accepting new HTTP requests.
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 2. Stop the pollers so nothing new is submitted.
	cancelWorkers()
	pollers.Wait()

	// 3. Drop queued sends and wait for in-flight ones. Dropped messages stay
	// queued in the database.
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("conversation queues did not drain", zap.Error(err))
	}

	logger.Info("server stopped cleanly")
}
