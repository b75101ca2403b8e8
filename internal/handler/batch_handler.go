package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
	"github.com/kursadbilgin/appointment-dispatch/internal/transport"
)

const uploadFormField = "file"

type BatchImporter interface {
	ImportFile(ctx context.Context, sourceName string, r io.Reader) (*service.IngestResult, error)
}

type BatchReporter interface {
	BatchSummary(ctx context.Context, batchID string) (*domain.BatchOverview, error)
	ListMessages(ctx context.Context, batchID string) ([]domain.Message, error)
	ListBatches(ctx context.Context) ([]domain.BatchOverview, error)
	ExportBatch(ctx context.Context, batchID string, w io.Writer) error
}

type BatchHandler struct {
	importer   BatchImporter
	reporter   BatchReporter
	dispatcher service.BatchDispatcher
}

func NewBatchHandler(importer BatchImporter, reporter BatchReporter, dispatcher service.BatchDispatcher) (*BatchHandler, error) {
	if importer == nil {
		return nil, fmt.Errorf("batch importer is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("batch reporter is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("batch dispatcher is required")
	}
	return &BatchHandler{importer: importer, reporter: reporter, dispatcher: dispatcher}, nil
}

func RegisterBatchRoutes(router fiber.Router, importer BatchImporter, reporter BatchReporter, dispatcher service.BatchDispatcher) error {
	h, err := NewBatchHandler(importer, reporter, dispatcher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches", h.ListBatches)
	v1.Get("/batches/:batchId", h.GetBatchSummary)
	v1.Get("/batches/:batchId/messages", h.ListMessages)
	v1.Post("/batches/:batchId/dispatch", h.DispatchBatch)
	v1.Get("/batches/:batchId/export", h.ExportBatch)

	return nil
}

type batchResponse struct {
	BatchID      string    `json:"batchId"`
	SourceName   string    `json:"sourceName"`
	TotalRecords int       `json:"totalRecords"`
	CreatedAt    time.Time `json:"createdAt"`
}

type malformedLineResponse struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

type createBatchResponse struct {
	batchResponse
	Malformed []malformedLineResponse `json:"malformed"`
	Rejected  int                     `json:"rejected"`
}

type batchOverviewResponse struct {
	batchResponse
	TotalMessages   int `json:"totalMessages"`
	Sent            int `json:"sent"`
	Failed          int `json:"failed"`
	Pending         int `json:"pending"`
	RepliesReceived int `json:"repliesReceived"`
	AwaitingReply   int `json:"awaitingReply"`
}

type messageResponse struct {
	ID                 string     `json:"id"`
	Position           int        `json:"position"`
	Name               string     `json:"name"`
	Phone              string     `json:"phone"`
	Kind               string     `json:"kind"`
	Date               string     `json:"date"`
	Time               string     `json:"time"`
	Location           string     `json:"location"`
	ProviderName       string     `json:"providerName"`
	Note               string     `json:"note"`
	Status             string     `json:"status"`
	ProviderMessageID  *string    `json:"providerMessageId,omitempty"`
	ErrorDetail        *string    `json:"errorDetail,omitempty"`
	SentAt             *time.Time `json:"sentAt,omitempty"`
	ConfirmationStatus *string    `json:"confirmationStatus,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
}

type listMessagesResponse struct {
	BatchID string            `json:"batchId"`
	Data    []messageResponse `json:"data"`
}

type listBatchesResponse struct {
	Data []batchOverviewResponse `json:"data"`
}

// CreateBatch imports an uploaded pipe-delimited file as one batch.
func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	header, err := c.FormFile(uploadFormField)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "multipart field \"file\" is required")
	}

	file, err := header.Open()
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "uploaded file could not be read")
	}
	defer file.Close()

	result, err := h.importer.ImportFile(c.UserContext(), header.Filename, file)
	if err != nil {
		return toHTTPError(err)
	}

	malformed := make([]malformedLineResponse, 0, len(result.Malformed))
	for _, m := range result.Malformed {
		malformed = append(malformed, malformedLineResponse{Line: m.Line, Reason: m.Reason})
	}

	return c.Status(fiber.StatusCreated).JSON(createBatchResponse{
		batchResponse: toBatchResponse(result.Batch),
		Malformed:     malformed,
		Rejected:      result.Rejected,
	})
}

func (h *BatchHandler) ListBatches(c *fiber.Ctx) error {
	overviews, err := h.reporter.ListBatches(c.UserContext())
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]batchOverviewResponse, 0, len(overviews))
	for i := range overviews {
		data = append(data, toBatchOverviewResponse(&overviews[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listBatchesResponse{Data: data})
}

func (h *BatchHandler) GetBatchSummary(c *fiber.Ctx) error {
	summary, err := h.reporter.BatchSummary(c.UserContext(), batchIDParam(c))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchOverviewResponse(summary))
}

func (h *BatchHandler) ListMessages(c *fiber.Ctx) error {
	batchID := batchIDParam(c)
	messages, err := h.reporter.ListMessages(c.UserContext(), batchID)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]messageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i]))
	}
	return c.Status(fiber.StatusOK).JSON(listMessagesResponse{BatchID: batchID, Data: data})
}

// DispatchBatch starts a run in the background and answers 202 at once.
func (h *BatchHandler) DispatchBatch(c *fiber.Ctx) error {
	batchID := batchIDParam(c)
	if err := h.dispatcher.Dispatch(c.UserContext(), batchID); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"batchId": batchID,
		"status":  "dispatching",
	})
}

// ExportBatch renders the full report before writing so a mid-export
// failure still maps to an error status.
func (h *BatchHandler) ExportBatch(c *fiber.Ctx) error {
	batchID := batchIDParam(c)

	var buf bytes.Buffer
	if err := h.reporter.ExportBatch(c.UserContext(), batchID, &buf); err != nil {
		return toHTTPError(err)
	}

	c.Attachment(service.ExportFileName(batchID))
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusOK).Send(buf.Bytes())
}

func batchIDParam(c *fiber.Ctx) string {
	return strings.TrimSpace(c.Params("batchId"))
}

func toBatchResponse(b *domain.Batch) batchResponse {
	if b == nil {
		return batchResponse{}
	}
	return batchResponse{
		BatchID:      b.ID,
		SourceName:   b.SourceName,
		TotalRecords: b.TotalRecords,
		CreatedAt:    b.CreatedAt,
	}
}

func toBatchOverviewResponse(o *domain.BatchOverview) batchOverviewResponse {
	if o == nil {
		return batchOverviewResponse{}
	}
	return batchOverviewResponse{
		batchResponse:   toBatchResponse(&o.Batch),
		TotalMessages:   o.TotalMessages,
		Sent:            o.Sent,
		Failed:          o.Failed,
		Pending:         o.Pending,
		RepliesReceived: o.RepliesReceived,
		AwaitingReply:   o.AwaitingReply,
	}
}

func toMessageResponse(m *domain.Message) messageResponse {
	resp := messageResponse{
		ID:                m.ID,
		Position:          m.Position,
		Name:              m.Name,
		Phone:             m.Phone,
		Kind:              m.Kind,
		Date:              m.Date,
		Time:              m.Time,
		Location:          m.Location,
		ProviderName:      m.ProviderName,
		Note:              m.Note,
		Status:            m.Status.String(),
		ProviderMessageID: m.ProviderMessageID,
		ErrorDetail:       m.ErrorDetail,
		SentAt:            m.SentAt,
		ConfirmedAt:       m.ConfirmedAt,
	}
	if m.ConfirmationStatus != nil {
		status := m.ConfirmationStatus.String()
		resp.ConfirmationStatus = &status
	}
	return resp
}

// toHTTPError keeps client errors readable and leaves everything else to
// the transport error handler.
func toHTTPError(err error) error {
	code := transport.StatusFor(err)
	if code >= fiber.StatusInternalServerError {
		return err
	}
	return fiber.NewError(code, err.Error())
}
