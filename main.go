package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"settlement-service/internal/api"
	"settlement-service/internal/broadcast"
	"settlement-service/internal/config"
	"settlement-service/internal/db"
	"settlement-service/internal/kafka"
	"settlement-service/internal/logging"
	"settlement-service/internal/metrics"
	"settlement-service/internal/polling"
	"settlement-service/internal/provider"
	"settlement-service/internal/settlement"
	"settlement-service/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoadConfig(".")

	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics)

	connStr := db.GetConnStr()
	db.RunMigrations(connStr, "migrations")

	pool, err := db.GetPool(connStr)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repo := db.NewPaymentRepository(pool)

	providerClient := provider.NewClient(cfg.Provider, logger)
	verifier := webhook.NewVerifier(config.GetRequired("WEBHOOK_SECRET"))

	writer := kafka.NewWriter(cfg.Kafka)
	defer writer.Close()

	notifier := broadcast.NewKafkaNotifier(writer, logger)

	orchestrator := settlement.NewOrchestrator(repo, providerClient, providerClient, verifier, notifier, cfg.Callback, logger)

	manager := polling.NewManager(orchestrator, notifier, logger)
	defer manager.Shutdown()

	manager.StartJanitor(time.Hour, cfg.Polling.CleanupMaxAgeHrs)

	orchestrator.UseSessionStarter(manager, polling.Config{
		IntervalMs:        cfg.Polling.IntervalMs,
		MaxAttempts:       cfg.Polling.MaxAttempts,
		BackoffMultiplier: cfg.Polling.BackoffMultiplier,
		MaxBackoffMs:      cfg.Polling.MaxBackoffMs,
		EnableBroadcast:   true,
	})

	mux := http.NewServeMux()
	api.NewHandler(orchestrator, manager, logger).Register(mux)

	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	logger.Info("Starting settlement service", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
