package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/integration"
	"github.com/meridian-erp/meridian-erp/internal/inventory"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/outbox"
	"github.com/meridian-erp/meridian-erp/internal/procurement"
	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
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

	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	audit := shared.NewAuditLogger(pool)
	idem := shared.NewIdempotencyStore(pool)
	locker := shared.NewJobLocker(redisClient)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, audit)

	outboxRepo := outbox.NewRepository(pool)
	salesRepo := sales.NewRepository(pool)
	procurementRepo := procurement.NewRepository(pool)

	hooks := integration.NewHooks(ledgerService, outboxRepo, salesRepo, procurementRepo, logger, cfg.OutboxMaxAttempts)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, audit)
	inventoryService.WithDeliverer(hooks)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOutboxRedrive, Handler: jobs.NewOutboxRedriveHandler(hooks, locker, cfg.JobLockTTL, logger)},
			{Type: jobs.TaskIntegrityCheck, Handler: jobs.NewIntegrityCheckHandler(ledgerService, inventoryService, idem, cfg.IdempotencyRetention, locker, cfg.JobLockTTL, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OutboxRedriveSpec, Task: jobs.NewOutboxRedriveTask(), Options: []asynq.Option{asynq.MaxRetry(0)}},
			{Spec: cfg.IntegrityCheckSpec, Task: jobs.NewIntegrityCheckTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
