package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"gorm.io/gorm"
)

// StatusCount is one row of the per-status grouping of a batch.
type StatusCount struct {
	Status          domain.DeliveryStatus `gorm:"column:status"`
	Count           int                   `gorm:"column:count"`
	RepliesReceived int                   `gorm:"column:replies_received"`
	AwaitingReply   int                   `gorm:"column:awaiting_reply"`
}

type MessageRepository interface {
	ListPending(ctx context.Context, batchID string) ([]domain.Message, error)
	ListByBatch(ctx context.Context, batchID string) ([]domain.Message, error)
	UpdateDeliveryOutcome(ctx context.Context, messageID string, outcome domain.DeliveryOutcome) error
	UpdateConfirmation(ctx context.Context, providerMessageID string, status domain.ConfirmationStatus, at time.Time) error
	GetBatchSummary(ctx context.Context, batchID string) ([]StatusCount, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) ListPending(ctx context.Context, batchID string) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ? AND status = ?", batchID, domain.StatusPending).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return messagesToDomain(models), nil
}

func (r *GormMessageRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.Message, error) {
	var models []MessageModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return messagesToDomain(models), nil
}

// UpdateDeliveryOutcome applies a terminal delivery state to a PENDING
// message. The status guard lives in the UPDATE itself so concurrent or
// duplicate writers cannot overwrite a terminal row.
func (r *GormMessageRepo) UpdateDeliveryOutcome(ctx context.Context, messageID string, outcome domain.DeliveryOutcome) error {
	if err := outcome.Validate(); err != nil {
		return err
	}

	at := outcome.At.UTC()
	updates := map[string]any{
		"status":     outcome.Status,
		"updated_at": time.Now().UTC(),
	}
	switch outcome.Status {
	case domain.StatusSent:
		updates["provider_message_id"] = outcome.ProviderMessageID
		updates["sent_at"] = at
	case domain.StatusFailed:
		updates["error_detail"] = outcome.ErrorDetail
	}

	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("id = ? AND status = ?", messageID, domain.StatusPending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&MessageModel{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return fmt.Errorf("%w: message %s is no longer PENDING", domain.ErrInvalidTransition, messageID)
}

// UpdateConfirmation overwrites the reply of the SENT message carrying the
// provider id. Zero matches is reported as domain.ErrNotFound.
func (r *GormMessageRepo) UpdateConfirmation(
	ctx context.Context,
	providerMessageID string,
	status domain.ConfirmationStatus,
	at time.Time,
) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid confirmation status %q", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Where("provider_message_id = ? AND status = ?", providerMessageID, domain.StatusSent).
		Updates(map[string]any{
			"confirmation_status": status.String(),
			"confirmed_at":        at.UTC(),
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormMessageRepo) GetBatchSummary(ctx context.Context, batchID string) ([]StatusCount, error) {
	var counts []StatusCount
	err := r.db.WithContext(ctx).
		Model(&MessageModel{}).
		Select(`status, COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN confirmation_status IS NOT NULL THEN 1 ELSE 0 END), 0) AS replies_received,
			COALESCE(SUM(CASE WHEN status = ? AND confirmation_status IS NULL THEN 1 ELSE 0 END), 0) AS awaiting_reply`,
			domain.StatusSent,
		).
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	return counts, nil
}
