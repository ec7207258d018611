/**
 * @description
 * Main entry point for the wallet engine. Initializes configuration, the
 * PostgreSQL pool, Redis, RabbitMQ, the provider clients, the core services
 * and the HTTP server, wires everything together, starts the cron scheduler
 * and the reconcile consumer, and shuts it all down gracefully.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5/pgxpool: PostgreSQL connection pooling.
 * - github.com/joho/godotenv: .env loading for local development.
 * - internal packages and pkg/ provider clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/DesignerDev23/MiiMii-sub002/internal/api"
	"github.com/DesignerDev23/MiiMii-sub002/internal/config"
	"github.com/DesignerDev23/MiiMii-sub002/internal/domain"
	"github.com/DesignerDev23/MiiMii-sub002/internal/jobs"
	"github.com/DesignerDev23/MiiMii-sub002/internal/onboarding"
	"github.com/DesignerDev23/MiiMii-sub002/internal/orchestrator"
	"github.com/DesignerDev23/MiiMii-sub002/internal/pricing"
	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
	"github.com/DesignerDev23/MiiMii-sub002/internal/wallet"
	"github.com/DesignerDev23/MiiMii-sub002/internal/webhook"
	"github.com/DesignerDev23/MiiMii-sub002/pkg/kycclient"
	"github.com/DesignerDev23/MiiMii-sub002/pkg/rabbitmq"
	"github.com/DesignerDev23/MiiMii-sub002/pkg/sterlingclient"
	"github.com/DesignerDev23/MiiMii-sub002/pkg/vasclient"
)

func main() {
	// .env is optional; real deployments inject environment variables.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"jwt secret must be configured\" env=JWT_SECRET")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("starting wallet engine", "port", cfg.Port)

	// Database pool.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Redis is optional; the pricing cache degrades to the kv table.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; price caching disabled", "error", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				logger.Warn("redis ping failed; price caching disabled", "error", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				logger.Info("redis connected")
			}
			cancelPing()
		}
	}

	// RabbitMQ producer; fall back to a no-op publisher when unavailable.
	var publisher rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		publisher = &rabbitmq.EventProducerFallback{}
	} else {
		defer producer.Close()
		publisher = producer
		logger.Info("rabbitmq producer connected")
	}

	// Provider clients.
	bank := sterlingclient.NewClient(
		cfg.SterlingBaseURL,
		cfg.SterlingClientID,
		cfg.SterlingClientSecret,
		cfg.SterlingWebhookSecret,
		cfg.ProviderTimeout(),
	)
	vas := vasclient.NewClient(cfg.VASBaseURL, cfg.VASAPIKey, cfg.ProviderTimeout())
	kyc := kycclient.NewClient(cfg.KYCBaseURL, cfg.KYCAPIKey, cfg.ProviderTimeout())

	// Core services.
	repository := store.NewPostgresRepository(dbpool)
	wallets := wallet.NewService(repository, bank, logger)
	prices := pricing.NewService(repository, redisClient, logger)
	onboardingSvc := onboarding.NewService(repository, kyc, bank, logger, onboarding.Limits{
		Daily:   cfg.DefaultDailyLimitKobo,
		Monthly: cfg.DefaultMonthlyLimit,
	})
	orchestratorSvc := orchestrator.NewService(repository, wallets, bank, vas, prices, publisher, logger, orchestrator.Config{
		PINMaxAttempts:     cfg.PINMaxAttempts,
		PINLockout:         cfg.PINLockout(),
		BankTransferFee:    cfg.BankTransferFeeKobo,
		MinTransferAmount:  cfg.MinTransferAmountKobo,
		ProviderMaxRetries: cfg.ProviderMaxRetries,
	})
	webhookSvc := webhook.NewService(repository, wallets, orchestratorSvc, publisher, logger, webhook.Config{
		InboundFee: cfg.InboundFeeKobo,
	})
	webhookHandler := webhook.NewHandler(webhookSvc, bank, "sterling")

	// Reconcile consumer: inbound credits enqueue a per-wallet reconcile
	// request; the hourly sync remains the safety net when the queue is down.
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq consumer unavailable; relying on scheduled sync", "error", err)
	} else {
		defer consumer.Close()
		handlers := rabbitmq.WalletEventHandlers{
			Reconcile: func(event domain.ReconcileWalletEvent) bool {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ProviderTimeout()+5*time.Second)
				defer cancel()
				if err := wallets.Reconcile(ctx, event.UserID, event.Reason); err != nil {
					logger.Warn("queued reconcile failed", "user_id", event.UserID, "error", err)
				}
				return true // scheduled sync covers failures, do not requeue
			},
		}
		if err := consumer.ConsumeWalletEvents("wallet.reconcile.queue", handlers); err != nil {
			logger.Warn("reconcile consumer start failed", "error", err)
		}
	}

	// Periodic jobs.
	jobRunner := jobs.NewJobs(repository, wallets, orchestratorSvc, onboardingSvc, logger, jobs.Config{
		PendingSweepAge: cfg.PendingSweepAge(),
		MaintenanceFee:  cfg.MaintenanceFeeKobo,
	})
	scheduler := jobs.NewScheduler(jobRunner, logger, jobs.Schedules{
		PendingSweep:       cfg.PendingSweepSchedule,
		MaintenanceFee:     cfg.MaintenanceFeeSchedule,
		VirtualAccountLoop: cfg.VARetrySchedule,
		BalanceSync:        cfg.BalanceSyncSchedule,
	})
	scheduler.Start()

	// HTTP server.
	handlers := api.NewHandlers(onboardingSvc, wallets, orchestratorSvc, prices, logger, cfg.JWTSecret)
	router := api.NewRouter(handlers, webhookHandler, cfg.JWTSecret)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	<-scheduler.Stop().Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}
