package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/queue"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

// BatchRunner executes a dispatch run synchronously.
type BatchRunner interface {
	Run(ctx context.Context, batchID string) (*DispatchReport, error)
}

// QueueDispatchTrigger hands dispatch requests to the worker process
// through the broker instead of running them in the API process.
type QueueDispatchTrigger struct {
	batches   repository.BatchRepository
	publisher queue.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewQueueDispatchTrigger(batches repository.BatchRepository, publisher queue.Publisher, logger *zap.Logger) (*QueueDispatchTrigger, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueDispatchTrigger{
		batches:   batches,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (t *QueueDispatchTrigger) Dispatch(ctx context.Context, batchID string) error {
	if _, err := t.batches.GetByID(ctx, batchID); err != nil {
		return err
	}

	requestID, _ := observability.RequestIDFromContext(ctx)
	job := queue.DispatchJob{
		BatchID:     batchID,
		RequestID:   requestID,
		RequestedAt: t.now().UTC(),
	}
	if err := t.publisher.Publish(ctx, job); err != nil {
		return fmt.Errorf("failed to enqueue dispatch job: %w", err)
	}

	observability.WithContextLogger(t.logger, ctx).Info("dispatch job enqueued", zap.String("batchId", batchID))
	return nil
}

// DispatchWorker consumes dispatch jobs and runs them to completion.
type DispatchWorker struct {
	consumer    queue.Consumer
	runner      BatchRunner
	concurrency int
	logger      *zap.Logger
}

func NewDispatchWorker(consumer queue.Consumer, runner BatchRunner, concurrency int, logger *zap.Logger) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("batch runner is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		runner:      runner,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start runs concurrency consumers until ctx is cancelled. Each consumer
// works one batch at a time.
func (w *DispatchWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started", zap.Int("workerId", workerID))

			if err := w.consumer.Consume(groupCtx, w.handleJob); err != nil {
				w.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (w *DispatchWorker) handleJob(ctx context.Context, job queue.DispatchJob) error {
	batchID := strings.TrimSpace(job.BatchID)
	if job.RequestID != "" {
		ctx = observability.WithRequestID(ctx, job.RequestID)
	}
	ctx = observability.WithBatchID(ctx, batchID)
	logger := observability.WithContextLogger(w.logger, ctx)

	report, err := w.runner.Run(ctx, batchID)
	if err != nil {
		return fmt.Errorf("dispatch run for batch %s: %w", batchID, err)
	}

	logger.Info("dispatch job completed",
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return nil
}
