package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/provider"
	"github.com/kursadbilgin/appointment-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"go.uber.org/zap"
)

// DefaultDispatchInterval is the minimum gap between two provider calls of
// one dispatch run.
const DefaultDispatchInterval = time.Second

// TemplateFormatter builds the provider request for a stored message.
type TemplateFormatter interface {
	Format(msg domain.Message) (provider.TemplateMessage, error)
}

// BatchDispatcher starts processing of a batch and returns without waiting
// for it to finish.
type BatchDispatcher interface {
	Dispatch(ctx context.Context, batchID string) error
}

// DispatchReport summarizes one run over a batch's PENDING snapshot.
type DispatchReport struct {
	BatchID string
	Total   int
	Sent    int
	Failed  int
	// Skipped counts messages whose outcome could not be written, either
	// because another run already moved them or the store failed.
	Skipped int
}

type Dispatcher struct {
	batches   repository.BatchRepository
	messages  repository.MessageRepository
	formatter TemplateFormatter
	sender    provider.Sender
	limiter   ratelimit.RateLimiter
	interval  time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	runs sync.WaitGroup
}

func NewDispatcher(
	batches repository.BatchRepository,
	messages repository.MessageRepository,
	formatter TemplateFormatter,
	sender provider.Sender,
	interval time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if batches == nil || messages == nil {
		return nil, fmt.Errorf("batch and message repositories are required")
	}
	if formatter == nil {
		return nil, fmt.Errorf("formatter is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if interval < DefaultDispatchInterval {
		interval = DefaultDispatchInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		batches:   batches,
		messages:  messages,
		formatter: formatter,
		sender:    sender,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SetRateLimiter adds a provider-wide cap shared with other processes on
// top of the per-run interval.
func (d *Dispatcher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if d == nil {
		return
	}
	d.limiter = limiter
}

// Dispatch checks that the batch exists and starts Run in the background.
// The run is detached from ctx cancellation; use Wait to drain it.
func (d *Dispatcher) Dispatch(ctx context.Context, batchID string) error {
	if _, err := d.batches.GetByID(ctx, batchID); err != nil {
		return err
	}

	runCtx := observability.WithBatchID(context.WithoutCancel(ctx), batchID)

	d.runs.Add(1)
	go func() {
		defer d.runs.Done()

		if _, err := d.Run(runCtx, batchID); err != nil {
			observability.WithContextLogger(d.logger, runCtx).Error("dispatch run aborted", zap.Error(err))
		}
	}()

	return nil
}

// Wait blocks until every background run started by Dispatch has returned.
func (d *Dispatcher) Wait() {
	d.runs.Wait()
}

// Run sends every message that is PENDING at call time, one at a time in
// position order, with the dispatch interval between consecutive sends.
// Per-message failures are recorded and never stop the run; only ctx
// cancellation or failing to read the snapshot does.
func (d *Dispatcher) Run(ctx context.Context, batchID string) (*DispatchReport, error) {
	ctx = observability.WithBatchID(ctx, batchID)
	logger := observability.WithContextLogger(d.logger, ctx)

	pending, err := d.messages.ListPending(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}

	report := &DispatchReport{BatchID: batchID, Total: len(pending)}
	if len(pending) == 0 {
		logger.Info("no pending messages to dispatch")
		return report, nil
	}

	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	logger.Info("dispatch run started", zap.Int("pending", len(pending)))
	started := d.now()

	for i, msg := range pending {
		if i > 0 {
			if err := d.sleep(ctx, d.interval); err != nil {
				return report, err
			}
		}
		if err := d.dispatchOne(ctx, msg, report); err != nil {
			return report, err
		}
	}

	logger.Info("dispatch run finished",
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("elapsed", d.now().Sub(started)),
	)
	return report, nil
}

// dispatchOne returns an error only when ctx is done; the message is then
// left PENDING for a later run.
func (d *Dispatcher) dispatchOne(ctx context.Context, msg domain.Message, report *DispatchReport) error {
	logger := observability.WithContextLogger(d.logger, ctx).With(zap.String("messageId", msg.ID))

	tpl, err := d.formatter.Format(msg)
	if err != nil {
		logger.Warn("message could not be formatted", zap.Error(err))
		d.metrics.IncMessageFailed("format_error")
		d.record(ctx, msg, domain.FailedOutcome(err.Error(), d.now().UTC()), report)
		return nil
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, ratelimit.ProviderKey); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("provider rate limiter unavailable, sending anyway", zap.Error(err))
		}
	}

	sendStart := d.now()
	providerID, sendErr := d.sender.SendTemplate(ctx, tpl)
	d.metrics.ObserveProviderSend("template", d.now().Sub(sendStart))

	if sendErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("provider rejected message",
			zap.Error(sendErr),
			zap.Bool("transient", provider.IsTransient(sendErr)),
		)
		d.metrics.IncMessageFailed(provider.FailureReason(sendErr))
		d.record(ctx, msg, domain.FailedOutcome(sendErr.Error(), d.now().UTC()), report)
		return nil
	}

	d.metrics.IncMessageSent()
	// Once the provider accepted the message the outcome is written even if
	// ctx is already done.
	d.record(context.WithoutCancel(ctx), msg, domain.SentOutcome(providerID, d.now().UTC()), report)
	return nil
}

func (d *Dispatcher) record(ctx context.Context, msg domain.Message, outcome domain.DeliveryOutcome, report *DispatchReport) {
	err := d.messages.UpdateDeliveryOutcome(ctx, msg.ID, outcome)
	switch {
	case err == nil:
		if outcome.Status == domain.StatusSent {
			report.Sent++
		} else {
			report.Failed++
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		report.Skipped++
		observability.WithContextLogger(d.logger, ctx).Error("message already left PENDING, outcome dropped",
			zap.String("messageId", msg.ID),
			zap.String("outcome", outcome.Status.String()),
			zap.Error(err),
		)
	default:
		report.Skipped++
		observability.WithContextLogger(d.logger, ctx).Error("failed to record delivery outcome",
			zap.String("messageId", msg.ID),
			zap.String("outcome", outcome.Status.String()),
			zap.String("providerMessageId", outcome.ProviderMessageID),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
