package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/ingest"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"go.uber.org/zap"
)

const maxBatchRecords = 10000

// IngestResult describes one imported file.
type IngestResult struct {
	Batch     *domain.Batch
	Malformed []*domain.MalformedRecordError
	Rejected  int
}

type IngestService struct {
	batches repository.BatchRepository
	parser  *ingest.Parser
	logger  *zap.Logger
	metrics *observability.Metrics
	newID   func() string
	now     func() time.Time
}

func NewIngestService(batches repository.BatchRepository, parser *ingest.Parser, logger *zap.Logger) (*IngestService, error) {
	if batches == nil {
		return nil, fmt.Errorf("batch repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if parser == nil {
		parser = ingest.NewParser(logger)
	}

	return &IngestService{
		batches: batches,
		parser:  parser,
		logger:  logger,
		newID:   uuid.NewString,
		now:     time.Now,
	}, nil
}

func (s *IngestService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// CreateBatch persists a batch and one PENDING message per record, in
// record order, as a single unit.
func (s *IngestService) CreateBatch(ctx context.Context, sourceName string, records []domain.Record) (*domain.Batch, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: batch must include at least one record", domain.ErrValidation)
	}
	if len(records) > maxBatchRecords {
		return nil, fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchRecords)
	}

	now := s.now().UTC()
	batch := &domain.Batch{
		ID:           s.newID(),
		SourceName:   strings.TrimSpace(sourceName),
		TotalRecords: len(records),
		CreatedAt:    now,
	}

	messages := make([]*domain.Message, 0, len(records))
	for i, record := range records {
		if err := record.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		msg := domain.NewPendingMessage(s.newID(), batch.ID, i, record)
		msg.CreatedAt = now
		messages = append(messages, &msg)
	}

	if err := s.batches.CreateWithMessages(ctx, batch, messages); err != nil {
		return nil, fmt.Errorf("failed to persist batch: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("batch created",
		zap.String("batchId", batch.ID),
		zap.String("source", batch.SourceName),
		zap.Int("records", batch.TotalRecords),
	)

	return batch, nil
}

// ImportFile parses r and creates a batch from its accepted records.
// Malformed and rejected lines are skipped and reported in the result.
func (s *IngestService) ImportFile(ctx context.Context, sourceName string, r io.Reader) (*IngestResult, error) {
	parsed, err := s.parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.metrics.AddRecordsIngested("accepted", len(parsed.Records))
	s.metrics.AddRecordsIngested("malformed", len(parsed.Malformed))
	s.metrics.AddRecordsIngested("rejected", parsed.Rejected)

	if len(parsed.Records) == 0 {
		return nil, fmt.Errorf("%w: file has no valid records (%d malformed, %d rejected)",
			domain.ErrValidation, len(parsed.Malformed), parsed.Rejected)
	}

	batch, err := s.CreateBatch(ctx, sourceName, parsed.Records)
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		Batch:     batch,
		Malformed: parsed.Malformed,
		Rejected:  parsed.Rejected,
	}, nil
}
