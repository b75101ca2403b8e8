package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kursadbilgin/appointment-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/appointment-dispatch/internal/config"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/queue"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("appointment-dispatch worker stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		return fmt.Errorf("RABBITMQ_URL is required for the dispatch worker")
	}

	metrics := observability.NewMetrics()

	infra, err := bootstrap.OpenInfra(cfg, false, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	sender, err := bootstrap.NewSender(cfg)
	if err != nil {
		return fmt.Errorf("whatsapp provider init failed: %w", err)
	}

	dispatcher, err := bootstrap.NewDispatcher(cfg, infra, sender, metrics, logger)
	if err != nil {
		return err
	}

	rabbitMQ, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("rabbitmq initialization failed: %w", err)
	}
	consumer := queue.NewRabbitMQConsumer(rabbitMQ, 1, logger.Named("consumer"))
	defer consumer.Close() //nolint:errcheck

	worker, err := service.NewDispatchWorker(consumer, dispatcher, cfg.WorkerConcurrency, logger.Named("worker"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("appointment-dispatch worker started", zap.Int("concurrency", cfg.WorkerConcurrency))
	err = worker.Start(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("appointment-dispatch worker stopped")
	return err
}
