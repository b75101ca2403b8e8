package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"gorm.io/gorm"
)

const insertChunkSize = 100

type BatchRepository interface {
	CreateWithMessages(ctx context.Context, b *domain.Batch, messages []*domain.Message) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	List(ctx context.Context) ([]domain.BatchOverview, error)
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

// CreateWithMessages inserts the batch and all of its messages in one
// transaction. Nothing is visible unless every row was written.
func (r *GormBatchRepo) CreateWithMessages(ctx context.Context, b *domain.Batch, messages []*domain.Message) error {
	if b == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if b.TotalRecords != len(messages) {
		return fmt.Errorf("%w: total records %d does not match %d messages", domain.ErrValidation, b.TotalRecords, len(messages))
	}

	now := time.Now().UTC()
	batchModel := batchModelFromDomain(b)
	if batchModel.CreatedAt.IsZero() {
		batchModel.CreatedAt = now
	}

	models := make([]MessageModel, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			return fmt.Errorf("%w: nil message in batch", domain.ErrValidation)
		}
		if m.BatchID != b.ID {
			return fmt.Errorf("%w: message %s belongs to batch %s", domain.ErrValidation, m.ID, m.BatchID)
		}
		if m.Status != domain.StatusPending {
			return fmt.Errorf("%w: message %s must start PENDING", domain.ErrValidation, m.ID)
		}
		model := messageModelFromDomain(m)
		if model.CreatedAt.IsZero() {
			model.CreatedAt = now
		}
		models = append(models, *model)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batchModel).Error; err != nil {
			return fmt.Errorf("failed to insert batch: %w", err)
		}
		if len(models) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&models, insertChunkSize).Error; err != nil {
			return fmt.Errorf("failed to insert messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	*b = *batchModelToDomain(batchModel)
	for i := range models {
		*messages[i] = *messageModelToDomain(&models[i])
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

type batchOverviewRow struct {
	ID              string    `gorm:"column:id"`
	SourceName      string    `gorm:"column:source_name"`
	TotalRecords    int       `gorm:"column:total_records"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	TotalMessages   int       `gorm:"column:total_messages"`
	Sent            int       `gorm:"column:sent"`
	Failed          int       `gorm:"column:failed"`
	Pending         int       `gorm:"column:pending"`
	RepliesReceived int       `gorm:"column:replies_received"`
	AwaitingReply   int       `gorm:"column:awaiting_reply"`
}

func (r *GormBatchRepo) List(ctx context.Context) ([]domain.BatchOverview, error) {
	var rows []batchOverviewRow
	err := r.db.WithContext(ctx).
		Table("batches AS b").
		Select(`b.id, b.source_name, b.total_records, b.created_at,
			COUNT(m.id) AS total_messages,
			COALESCE(SUM(CASE WHEN m.status = ? THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN m.status = ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN m.status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN m.confirmation_status IS NOT NULL THEN 1 ELSE 0 END), 0) AS replies_received,
			COALESCE(SUM(CASE WHEN m.status = ? AND m.confirmation_status IS NULL THEN 1 ELSE 0 END), 0) AS awaiting_reply`,
			domain.StatusSent, domain.StatusFailed, domain.StatusPending, domain.StatusSent,
		).
		Joins("LEFT JOIN messages AS m ON m.batch_id = b.id").
		Group("b.id").
		Order("b.created_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	overviews := make([]domain.BatchOverview, 0, len(rows))
	for _, row := range rows {
		overviews = append(overviews, domain.BatchOverview{
			Batch: domain.Batch{
				ID:           row.ID,
				SourceName:   row.SourceName,
				TotalRecords: row.TotalRecords,
				CreatedAt:    row.CreatedAt,
			},
			TotalMessages:   row.TotalMessages,
			Sent:            row.Sent,
			Failed:          row.Failed,
			Pending:         row.Pending,
			RepliesReceived: row.RepliesReceived,
			AwaitingReply:   row.AwaitingReply,
		})
	}
	return overviews, nil
}
