package repository

import (
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
)

// MessageModel is the persistence model for the messages table.
type MessageModel struct {
	ID                 string                `gorm:"type:uuid;primaryKey"`
	BatchID            string                `gorm:"type:uuid;not null"`
	Position           int                   `gorm:"not null"`
	Name               string                `gorm:"type:varchar(255);not null"`
	Phone              string                `gorm:"type:varchar(32);not null"`
	Kind               string                `gorm:"type:varchar(50)"`
	ScheduledDate      string                `gorm:"type:varchar(32)"`
	ScheduledTime      string                `gorm:"type:varchar(16)"`
	Location           string                `gorm:"type:varchar(255)"`
	ProviderName       string                `gorm:"type:varchar(255)"`
	Note               string                `gorm:"type:text"`
	Status             domain.DeliveryStatus `gorm:"type:varchar(20);not null"`
	ProviderMessageID  *string               `gorm:"type:varchar(255)"`
	ErrorDetail        *string               `gorm:"type:text"`
	SentAt             *time.Time
	ConfirmationStatus *string `gorm:"type:varchar(20)"`
	ConfirmedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (MessageModel) TableName() string {
	return "messages"
}

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	SourceName   string `gorm:"type:varchar(255)"`
	TotalRecords int    `gorm:"not null"`
	CreatedAt    time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

func messageModelFromDomain(m *domain.Message) *MessageModel {
	if m == nil {
		return nil
	}

	return &MessageModel{
		ID:                 m.ID,
		BatchID:            m.BatchID,
		Position:           m.Position,
		Name:               m.Name,
		Phone:              m.Phone,
		Kind:               m.Kind,
		ScheduledDate:      m.Date,
		ScheduledTime:      m.Time,
		Location:           m.Location,
		ProviderName:       m.ProviderName,
		Note:               m.Note,
		Status:             m.Status,
		ProviderMessageID:  m.ProviderMessageID,
		ErrorDetail:        m.ErrorDetail,
		SentAt:             m.SentAt,
		ConfirmationStatus: confirmationToModel(m.ConfirmationStatus),
		ConfirmedAt:        m.ConfirmedAt,
		CreatedAt:          m.CreatedAt,
	}
}

func messageModelToDomain(m *MessageModel) *domain.Message {
	if m == nil {
		return nil
	}

	return &domain.Message{
		ID:                 m.ID,
		BatchID:            m.BatchID,
		Position:           m.Position,
		Name:               m.Name,
		Phone:              m.Phone,
		Kind:               m.Kind,
		Date:               m.ScheduledDate,
		Time:               m.ScheduledTime,
		Location:           m.Location,
		ProviderName:       m.ProviderName,
		Note:               m.Note,
		Status:             m.Status,
		ProviderMessageID:  m.ProviderMessageID,
		ErrorDetail:        m.ErrorDetail,
		SentAt:             m.SentAt,
		ConfirmationStatus: confirmationFromModel(m.ConfirmationStatus),
		ConfirmedAt:        m.ConfirmedAt,
		CreatedAt:          m.CreatedAt,
	}
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:           b.ID,
		SourceName:   b.SourceName,
		TotalRecords: b.TotalRecords,
		CreatedAt:    b.CreatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:           m.ID,
		SourceName:   m.SourceName,
		TotalRecords: m.TotalRecords,
		CreatedAt:    m.CreatedAt,
	}
}

func messagesToDomain(models []MessageModel) []domain.Message {
	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}
	return messages
}

func confirmationToModel(c *domain.ConfirmationStatus) *string {
	if c == nil {
		return nil
	}
	value := c.String()
	return &value
}

func confirmationFromModel(v *string) *domain.ConfirmationStatus {
	if v == nil {
		return nil
	}
	status := domain.ConfirmationStatus(*v)
	return &status
}
