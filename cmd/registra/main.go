package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/registra-sms/registra/internal/app"
	"github.com/registra-sms/registra/internal/audit"
	audithttp "github.com/registra-sms/registra/internal/audit/http"
	"github.com/registra-sms/registra/internal/finance"
	"github.com/registra-sms/registra/internal/mutation"
	"github.com/registra-sms/registra/internal/observability"
	"github.com/registra-sms/registra/internal/platform/cache"
	"github.com/registra-sms/registra/internal/platform/db"
	"github.com/registra-sms/registra/internal/shared"
	"github.com/registra-sms/registra/internal/student"
	"github.com/registra-sms/registra/jobs"
	"github.com/registra-sms/registra/report"
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

	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionTTL)
	sessionLocker := shared.NewSessionLocker(redisClient, cfg.SessionLockTTL)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	sectionStore := student.NewStore(dbpool)
	auditRepo := audit.NewPGRepository(dbpool)
	auditService := audit.NewService(auditRepo)

	financeRepo := finance.NewRepository(dbpool)

	coordinator := mutation.NewCoordinator(sectionStore, auditService, sessionLocker, logger)
	notifier := jobs.NewPaymentNotifier(jobClient)
	financeService := finance.NewService(financeRepo, sectionStore, coordinator, notifier, logger)
	coordinator.AddRefresher(financeService)

	mutationHandler := mutation.NewHandler(logger, coordinator, sectionStore)
	idempotency := shared.NewIdempotencyStore(dbpool)
	go func() {
		ticker := time.NewTicker(12 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := idempotency.Cleanup(ctx, 24*time.Hour); err != nil {
					logger.Warn("idempotency cleanup", slog.Any("error", err))
				}
			}
		}
	}()

	financeHandler := finance.NewHandler(logger, financeService, idempotency)
	auditHandler := audithttp.NewHandler(logger, auditService)
	reportHandler := report.NewHandler(report.NewClient(cfg.GotenbergURL), financeService, logger)

	metrics := observability.NewMetrics()

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		SessionManager:  sessionManager,
		MutationHandler: mutationHandler,
		FinanceHandler:  financeHandler,
		AuditHandler:    auditHandler,
		ReportHandler:   reportHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
