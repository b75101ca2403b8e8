package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"go.uber.org/zap"
)

const (
	exportHeader          = "TELEFONE|STATUS|DATA_ENVIO|ID_MENSAGEM|ERRO|CONFIRMACAO|DATA_CONFIRMACAO"
	exportTimestampLayout = "02/01/2006 15:04:05"
)

var exportFieldSanitizer = strings.NewReplacer("|", " ", "\r", " ", "\n", " ")

// ExportFileName is the attachment name of a batch report.
func ExportFileName(batchID string) string {
	return fmt.Sprintf("retorno_lote_%s.txt", batchID)
}

type ReportService struct {
	batches  repository.BatchRepository
	messages repository.MessageRepository
	location *time.Location
	logger   *zap.Logger
}

func NewReportService(
	batches repository.BatchRepository,
	messages repository.MessageRepository,
	location *time.Location,
	logger *zap.Logger,
) (*ReportService, error) {
	if batches == nil || messages == nil {
		return nil, fmt.Errorf("batch and message repositories are required")
	}
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReportService{
		batches:  batches,
		messages: messages,
		location: location,
		logger:   logger,
	}, nil
}

// BatchSummary returns delivery counts per status plus the reply-derived
// counts for one batch.
func (s *ReportService) BatchSummary(ctx context.Context, batchID string) (*domain.BatchOverview, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}

	counts, err := s.messages.GetBatchSummary(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize batch: %w", err)
	}

	summary := &domain.BatchOverview{Batch: *batch}
	for _, c := range counts {
		summary.TotalMessages += c.Count
		summary.RepliesReceived += c.RepliesReceived
		summary.AwaitingReply += c.AwaitingReply

		switch c.Status {
		case domain.StatusPending:
			summary.Pending += c.Count
		case domain.StatusSent:
			summary.Sent += c.Count
		case domain.StatusFailed:
			summary.Failed += c.Count
		}
	}

	return summary, nil
}

func (s *ReportService) ListMessages(ctx context.Context, batchID string) ([]domain.Message, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}
	return s.messages.ListByBatch(ctx, batchID)
}

func (s *ReportService) ListBatches(ctx context.Context) ([]domain.BatchOverview, error) {
	return s.batches.List(ctx)
}

// ExportBatch writes the pipe-delimited report for a batch: a header line
// and one line per message in position order.
func (s *ReportService) ExportBatch(ctx context.Context, batchID string, w io.Writer) error {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return err
	}

	messages, err := s.messages.ListByBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list batch messages: %w", err)
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(exportHeader + "\n"); err != nil {
		return err
	}
	for i := range messages {
		if _, err := bw.WriteString(s.exportLine(&messages[i]) + "\n"); err != nil {
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		return err
	}

	s.logger.Debug("batch exported", zap.String("batchId", batchID), zap.Int("lines", len(messages)))
	return nil
}

func (s *ReportService) exportLine(m *domain.Message) string {
	confirmation := ""
	if m.ConfirmationStatus != nil {
		confirmation = m.ConfirmationStatus.String()
	}

	return strings.Join([]string{
		sanitizeExportField(m.Phone),
		m.Status.String(),
		s.formatTimestamp(m.SentAt),
		sanitizeExportField(derefString(m.ProviderMessageID)),
		sanitizeExportField(derefString(m.ErrorDetail)),
		confirmation,
		s.formatTimestamp(m.ConfirmedAt),
	}, "|")
}

func (s *ReportService) formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(s.location).Format(exportTimestampLayout)
}

func sanitizeExportField(value string) string {
	return exportFieldSanitizer.Replace(value)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
