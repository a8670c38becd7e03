package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/kargo-dash/kargo-dash/internal/app"
	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/kpi"
	"github.com/kargo-dash/kargo-dash/internal/platform/cache"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/shared"
	"github.com/kargo-dash/kargo-dash/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	// Same fail-fast matrix check as the HTTP entrypoint. The worker never
	// authorizes requests, but a broken matrix is a deployment defect worth
	// refusing to start on.
	if _, err := authz.NewMatrix(); err != nil {
		logger.Error("invalid access matrix", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	kpiCache := kpi.NewCache(redisClient, cfg.KPICacheTTL)
	kpiRepo := kpi.NewRepository(pool)
	kpiService := kpi.NewService(kpiRepo, kpiCache)

	refreshJob := jobs.NewKPIRefreshJob(kpiService, logger, nil)
	slaScanJob := jobs.NewSLAScanJob(pool, logger, nil)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, nil)

	refreshTask, err := jobs.NewKPIRefreshTask(jobs.KPIRefreshPayload{Reason: "nightly"})
	if err != nil {
		logger.Error("build kpi refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	slaScanTask, err := jobs.NewSLAScanTask(jobs.SLAScanPayload{EscalateAfterHours: 24})
	if err != nil {
		logger.Error("build sla scan task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{RetentionHours: 72})
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskKPIRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskSLAScan, Handler: slaScanJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: slaScanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
