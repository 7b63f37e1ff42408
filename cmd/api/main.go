package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payment-orchestrator/config"
	httpHandler "payment-orchestrator/internal/adapter/http/handler"
	"payment-orchestrator/internal/adapter/mpesa"
	pgStorage "payment-orchestrator/internal/adapter/storage/postgres"
	redisStorage "payment-orchestrator/internal/adapter/storage/redis"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/internal/service"
	"payment-orchestrator/pkg/logger"

	"github.com/rs/zerolog"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Payment Orchestrator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories and stores
	txRepo := pgStorage.NewTransactionRepo(pool)
	jobRepo := pgStorage.NewNotificationJobRepo(pool)
	tokenStore := redisStorage.NewTokenStore(rdb)

	// Initialize upstream gateway client
	gateway := mpesa.NewClient(cfg.Mpesa, &http.Client{Timeout: cfg.Mpesa.Timeout}, log)

	// Initialize core services
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewTokenCacheService(gateway, tokenStore, cfg.Mpesa.TokenMargin, log)
	bankLookup := service.NewStaticBankLookup(cfg.Banks)

	// Initialize business services
	webhookSvc := service.NewWebhookService(jobRepo, txRepo, sigSvc, nil, cfg.Webhook, log)
	lifecycleSvc := service.NewLifecycleService(txRepo, gateway, tokenSvc, bankLookup, webhookSvc, log)
	c2bSvc := service.NewC2BService(txRepo, webhookSvc, log)
	reportingSvc := service.NewReportingService(txRepo)

	// Background workers: delivery loop and stale-transaction sweeper
	go webhookSvc.Run(ctx)
	go runStaleSweeper(ctx, lifecycleSvc, cfg.Lifecycle, log)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LifecycleSvc:   lifecycleSvc,
		C2BSvc:         c2bSvc,
		WebhookSvc:     webhookSvc,
		ReportingSvc:   reportingSvc,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// runStaleSweeper periodically times out initiated transactions whose
// push result never arrived.
func runStaleSweeper(ctx context.Context, svc ports.LifecycleService, cfg config.LifecycleConfig, log zerolog.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.HandleStaleTransactions(ctx, cfg.StaleAfter)
			if err != nil {
				log.Error().Err(err).Msg("stale transaction sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("timed_out", n).Msg("stale transactions timed out")
			}
		}
	}
}
