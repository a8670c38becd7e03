package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/kargo-dash/kargo-dash/internal/app"
	"github.com/kargo-dash/kargo-dash/internal/auth"
	"github.com/kargo-dash/kargo-dash/internal/authz"
	"github.com/kargo-dash/kargo-dash/internal/crm"
	"github.com/kargo-dash/kargo-dash/internal/dashboard"
	"github.com/kargo-dash/kargo-dash/internal/dso"
	"github.com/kargo-dash/kargo-dash/internal/kpi"
	"github.com/kargo-dash/kargo-dash/internal/observability"
	"github.com/kargo-dash/kargo-dash/internal/platform/cache"
	"github.com/kargo-dash/kargo-dash/internal/platform/db"
	"github.com/kargo-dash/kargo-dash/internal/profile"
	"github.com/kargo-dash/kargo-dash/internal/shared"
	"github.com/kargo-dash/kargo-dash/internal/ticketing"
	"github.com/kargo-dash/kargo-dash/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	// The permission matrix is validated before anything binds a port. A hole
	// in the matrix is a build defect, not a runtime condition.
	matrix, err := authz.NewMatrix()
	if err != nil {
		logger.Error("invalid access matrix", slog.Any("error", err))
		os.Exit(1)
	}
	gate := authz.NewGate(matrix)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "kargo_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager, csrfManager)

	profileRepo := profile.NewRepository(dbpool)
	profileService := profile.NewService(profileRepo)

	metrics := observability.NewMetrics()
	authzMiddleware := authz.Middleware{Gate: gate, Resolver: profileService, Logger: logger, Denials: metrics}

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	crmRepo := crm.NewRepository(dbpool)
	crmService := crm.NewService(crmRepo, idempotencyStore, auditLogger)
	crmHandler := crm.NewHandler(logger, crmService, authzMiddleware)

	ticketingRepo := ticketing.NewRepository(dbpool)
	ticketingService := ticketing.NewService(ticketingRepo, auditLogger)
	ticketingHandler := ticketing.NewHandler(logger, ticketingService, authzMiddleware, jobsClient)

	dsoRepo := dso.NewRepository(dbpool)
	dsoService := dso.NewService(dsoRepo, idempotencyStore, auditLogger)
	dsoHandler := dso.NewHandler(logger, dsoService, authzMiddleware)

	kpiCache := kpi.NewCache(redisClient, cfg.KPICacheTTL)
	kpiRepo := kpi.NewRepository(dbpool)
	kpiService := kpi.NewService(kpiRepo, kpiCache)
	kpiHandler := kpi.NewHandler(logger, kpiService, authzMiddleware, jobsClient)
	if err := kpiCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("kpi cache invalidation listener", slog.Any("error", err))
	}

	dashboardService := dashboard.NewService(gate, crmService, ticketingService, dsoService, kpiService)
	dashboardHandler := dashboard.NewHandler(logger, dashboardService, authzMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthHandler:      authHandler,
		DashboardHandler: dashboardHandler,
		KPIHandler:       kpiHandler,
		CRMHandler:       crmHandler,
		TicketingHandler: ticketingHandler,
		DSOHandler:       dsoHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
