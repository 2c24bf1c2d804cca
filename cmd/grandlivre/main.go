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

	"github.com/grandlivre/grandlivre/internal/app"
	"github.com/grandlivre/grandlivre/internal/balances"
	"github.com/grandlivre/grandlivre/internal/closing"
	"github.com/grandlivre/grandlivre/internal/coa"
	"github.com/grandlivre/grandlivre/internal/journal"
	"github.com/grandlivre/grandlivre/internal/observability"
	"github.com/grandlivre/grandlivre/internal/periods"
	"github.com/grandlivre/grandlivre/internal/platform/cache"
	"github.com/grandlivre/grandlivre/internal/platform/db"
	"github.com/grandlivre/grandlivre/internal/shared"
	"github.com/grandlivre/grandlivre/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	closeLock := shared.NewCloseLock(redisClient, cfg.CloseLockTTL)

	coaService := coa.NewService(coa.NewRepository(pool))
	coaHandler := coa.NewHandler(logger, coaService, cfg.DefaultCurrency)

	periodsService := periods.NewService(periods.NewRepository(pool), auditLogger, closeLock)
	periodsService.WithMetrics(metrics)
	periodsHandler := periods.NewHandler(logger, periodsService)

	journalService := journal.NewService(journal.NewRepository(pool), auditLogger, metrics)
	journalHandler := journal.NewHandler(logger, journalService, cfg.DefaultCurrency)

	balancesService := balances.NewService(balances.NewRepository(pool), coaService, periodsService)
	balancesHandler := balances.NewHandler(logger, balancesService, cfg.DefaultCurrency)

	closingService := closing.NewService(logger, periodsService, balancesService, journalService,
		coaService, closeLock, cfg.RetainedEarningsCode)
	closingHandler := closing.NewHandler(logger, closingService, cfg.DefaultCurrency)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AccountsHandler: coaHandler,
		PeriodsHandler:  periodsHandler,
		JournalHandler:  journalHandler,
		BalancesHandler: balancesHandler,
		ClosingHandler:  closingHandler,
		JobHandler:      jobHandler,
		Pool:            pool,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ledger listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
