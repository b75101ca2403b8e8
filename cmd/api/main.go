package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/appointment-dispatch/internal/bootstrap"
	"github.com/kursadbilgin/appointment-dispatch/internal/config"
	"github.com/kursadbilgin/appointment-dispatch/internal/handler"
	infraredis "github.com/kursadbilgin/appointment-dispatch/internal/infra/redis"
	"github.com/kursadbilgin/appointment-dispatch/internal/ingest"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/queue"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
	"github.com/kursadbilgin/appointment-dispatch/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	maxUploadBytes  = 32 << 20
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
		logger.Fatal("appointment-dispatch api stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()

	infra, err := bootstrap.OpenInfra(cfg, true, logger)
	if err != nil {
		return err
	}
	defer infra.Close()

	loc, err := cfg.ReportLocation()
	if err != nil {
		return err
	}

	sender, err := bootstrap.NewSender(cfg)
	if err != nil {
		return fmt.Errorf("whatsapp provider init failed: %w", err)
	}

	batches, messages := infra.Repositories()

	ingestService, err := service.NewIngestService(batches, ingest.NewParser(logger.Named("parser")), logger.Named("ingest"))
	if err != nil {
		return err
	}
	ingestService.SetMetrics(metrics)

	reportService, err := service.NewReportService(batches, messages, loc, logger.Named("report"))
	if err != nil {
		return err
	}

	correlator, err := service.NewWebhookCorrelator(messages, sender, cfg.WebhookVerifyToken, logger.Named("webhook"))
	if err != nil {
		return err
	}
	correlator.SetMetrics(metrics)
	if infra.Redis != nil {
		dedup, err := infraredis.NewEventDeduplicator(infra.Redis, infraredis.EventTTL)
		if err != nil {
			return fmt.Errorf("webhook dedup init failed: %w", err)
		}
		correlator.SetDeduplicator(dedup)
	}

	checks := map[string]handler.Pinger{
		"postgres": handler.PingFunc(infra.SQLDB.PingContext),
	}
	if ping := infra.PingRedis(); ping != nil {
		checks["redis"] = handler.PingFunc(ping)
	}

	var (
		trigger  service.BatchDispatcher
		inline   *service.Dispatcher
		rabbitMQ *queue.RabbitMQ
	)
	if cfg.QueueDispatch() {
		rabbitMQ, err = queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("rabbitmq initialization failed: %w", err)
		}
		publisher := queue.NewRabbitMQPublisher(rabbitMQ)
		defer publisher.Close() //nolint:errcheck

		trigger, err = service.NewQueueDispatchTrigger(batches, publisher, logger.Named("dispatch"))
		if err != nil {
			return err
		}
		checks["rabbitmq"] = handler.PingFunc(func(context.Context) error {
			if !rabbitMQ.Healthy() {
				return fmt.Errorf("rabbitmq connection closed")
			}
			return nil
		})
	} else {
		inline, err = bootstrap.NewDispatcher(cfg, infra, sender, metrics, logger)
		if err != nil {
			return err
		}
		trigger = inline
	}

	app := fiber.New(fiber.Config{
		AppName:               "appointment-dispatch",
		BodyLimit:             maxUploadBytes,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger.Named("http")),
	})
	app.Use(transport.RequestID())
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, checks)
	if err := handler.RegisterWebhookRoutes(app, correlator); err != nil {
		return err
	}
	if err := handler.RegisterBatchRoutes(app, ingestService, reportService, trigger); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("appointment-dispatch api started",
			zap.Int("port", cfg.APIPort),
			zap.Bool("queueDispatch", cfg.QueueDispatch()),
		)
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	err = g.Wait()

	if inline != nil {
		logger.Info("waiting for in-flight dispatch runs")
		inline.Wait()
	}
	logger.Info("appointment-dispatch api stopped")
	return err
}
