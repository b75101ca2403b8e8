package formatter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/provider"
)

const (
	kindConsulta = "CONSULTA"
	dateLayout   = "02/01/2006"
)

var (
	errUnparseableDate = errors.New("unrecognized date format")
	errEmptyPhone      = errors.New("phone is empty")

	acceptedDateLayouts = []string{"2006-01-02", dateLayout, time.RFC3339}
)

// Templates holds the approved template names per appointment kind.
type Templates struct {
	Consulta string
	Exame    string
}

type Formatter struct {
	templates Templates
	language  string
}

func New(templates Templates, language string) (*Formatter, error) {
	if strings.TrimSpace(templates.Consulta) == "" || strings.TrimSpace(templates.Exame) == "" {
		return nil, fmt.Errorf("%w: both template names are required", domain.ErrValidation)
	}
	if strings.TrimSpace(language) == "" {
		return nil, fmt.Errorf("%w: template language is required", domain.ErrValidation)
	}

	return &Formatter{templates: templates, language: language}, nil
}

// Format builds the template request for msg. Consultations use the
// consultation template; every other kind falls back to the exam template.
// Body parameters are, in order: name, date (dd/mm/yyyy), time, location,
// provider name, note.
func (f *Formatter) Format(msg domain.Message) (provider.TemplateMessage, error) {
	phone := strings.TrimSpace(msg.Phone)
	if phone == "" {
		return provider.TemplateMessage{}, &domain.FormatError{MessageID: msg.ID, Field: "phone", Err: errEmptyPhone}
	}

	date, err := formatDate(msg.Date)
	if err != nil {
		return provider.TemplateMessage{}, &domain.FormatError{MessageID: msg.ID, Field: "date", Err: err}
	}

	note := strings.TrimSpace(msg.Note)
	if note == "" {
		note = domain.DefaultNote
	}

	return provider.TemplateMessage{
		To:       phone,
		Template: f.templateFor(msg.Kind),
		Language: f.language,
		Parameters: []string{
			msg.Name,
			date,
			msg.Time,
			msg.Location,
			msg.ProviderName,
			note,
		},
	}, nil
}

func (f *Formatter) templateFor(kind string) string {
	if strings.EqualFold(strings.TrimSpace(kind), kindConsulta) {
		return f.templates.Consulta
	}
	return f.templates.Exame
}

func formatDate(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	for _, layout := range acceptedDateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format(dateLayout), nil
		}
	}
	return "", fmt.Errorf("%w: %q", errUnparseableDate, raw)
}
