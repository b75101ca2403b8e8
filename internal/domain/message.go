package domain

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DefaultNote replaces an absent note in ingested records.
const DefaultNote = "Nenhuma observação adicional"

// DeliveryStatus represents the delivery state of a message.
type DeliveryStatus string

const (
	StatusPending DeliveryStatus = "PENDING"
	StatusSent    DeliveryStatus = "SENT"
	StatusFailed  DeliveryStatus = "FAILED"
)

func (s DeliveryStatus) String() string { return string(s) }

func (s DeliveryStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery transition is allowed.
func (s DeliveryStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseDeliveryStatus(s string) (DeliveryStatus, error) {
	st := DeliveryStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid delivery status %q", ErrValidation, s)
	}
	return st, nil
}

// ConfirmationStatus is the recipient's classified reply.
type ConfirmationStatus string

const (
	ConfirmationConfirm    ConfirmationStatus = "CONFIRM"
	ConfirmationCancel     ConfirmationStatus = "CANCEL"
	ConfirmationReschedule ConfirmationStatus = "RESCHEDULE"
)

func (c ConfirmationStatus) String() string { return string(c) }

func (c ConfirmationStatus) IsValid() bool {
	switch c {
	case ConfirmationConfirm, ConfirmationCancel, ConfirmationReschedule:
		return true
	}
	return false
}

// ClassifyReply maps a free-text button payload onto a confirmation outcome.
// Matching is by substring on the NFC-normalized, upper-cased token, in
// priority order CONFIRMAR, then CANCELAR/NÃO, then REAGENDAR.
func ClassifyReply(token string) (ConfirmationStatus, bool) {
	normalized := strings.ToUpper(norm.NFC.String(token))
	switch {
	case strings.Contains(normalized, "CONFIRMAR"):
		return ConfirmationConfirm, true
	case strings.Contains(normalized, "CANCELAR"), strings.Contains(normalized, "NÃO"):
		return ConfirmationCancel, true
	case strings.Contains(normalized, "REAGENDAR"):
		return ConfirmationReschedule, true
	}
	return "", false
}

// Record is one accepted line of an ingest file.
type Record struct {
	Name         string
	Phone        string
	Kind         string
	Date         string
	Time         string
	Location     string
	ProviderName string
	Note         string
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(r.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return nil
}

// Message is one recipient's notification, tracked through delivery and
// confirmation.
type Message struct {
	ID       string
	BatchID  string
	Position int

	Name         string
	Phone        string
	Kind         string
	Date         string
	Time         string
	Location     string
	ProviderName string
	Note         string

	Status            DeliveryStatus
	ProviderMessageID *string
	ErrorDetail       *string
	SentAt            *time.Time

	ConfirmationStatus *ConfirmationStatus
	ConfirmedAt        *time.Time

	CreatedAt time.Time
}

// NewPendingMessage builds the initial PENDING message for a record.
func NewPendingMessage(id string, batchID string, position int, r Record) Message {
	note := strings.TrimSpace(r.Note)
	if note == "" {
		note = DefaultNote
	}

	return Message{
		ID:           id,
		BatchID:      batchID,
		Position:     position,
		Name:         strings.TrimSpace(r.Name),
		Phone:        strings.TrimSpace(r.Phone),
		Kind:         strings.TrimSpace(r.Kind),
		Date:         strings.TrimSpace(r.Date),
		Time:         strings.TrimSpace(r.Time),
		Location:     strings.TrimSpace(r.Location),
		ProviderName: strings.TrimSpace(r.ProviderName),
		Note:         note,
		Status:       StatusPending,
	}
}

// DeliveryOutcome is the result of one dispatch attempt for a PENDING message.
type DeliveryOutcome struct {
	Status            DeliveryStatus
	ProviderMessageID string
	ErrorDetail       string
	At                time.Time
}

func SentOutcome(providerMessageID string, at time.Time) DeliveryOutcome {
	return DeliveryOutcome{Status: StatusSent, ProviderMessageID: providerMessageID, At: at}
}

func FailedOutcome(detail string, at time.Time) DeliveryOutcome {
	return DeliveryOutcome{Status: StatusFailed, ErrorDetail: detail, At: at}
}

func (o DeliveryOutcome) Validate() error {
	switch o.Status {
	case StatusSent:
		if strings.TrimSpace(o.ProviderMessageID) == "" {
			return fmt.Errorf("%w: provider message id is required for SENT", ErrValidation)
		}
	case StatusFailed:
		if strings.TrimSpace(o.ErrorDetail) == "" {
			return fmt.Errorf("%w: error detail is required for FAILED", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: outcome status must be SENT or FAILED, got %q", ErrValidation, o.Status)
	}
	return nil
}

// Apply moves a PENDING message to the outcome's terminal state.
func (m *Message) Apply(o DeliveryOutcome) error {
	if m.Status != StatusPending {
		return fmt.Errorf("%w: message %s is %s", ErrInvalidTransition, m.ID, m.Status)
	}
	if err := o.Validate(); err != nil {
		return err
	}

	at := o.At
	m.Status = o.Status
	switch o.Status {
	case StatusSent:
		id := o.ProviderMessageID
		m.ProviderMessageID = &id
		m.ErrorDetail = nil
		m.SentAt = &at
	case StatusFailed:
		detail := o.ErrorDetail
		m.ErrorDetail = &detail
		m.ProviderMessageID = nil
	}
	return nil
}

// Confirm records a reply; repeated replies overwrite the previous one.
func (m *Message) Confirm(status ConfirmationStatus, at time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: invalid confirmation status %q", ErrValidation, status)
	}
	if m.Status != StatusSent {
		return fmt.Errorf("%w: message %s is not SENT", ErrConflict, m.ID)
	}
	m.ConfirmationStatus = &status
	m.ConfirmedAt = &at
	return nil
}
