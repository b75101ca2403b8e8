package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
)

func TestBatchHandler_CreateBatch(t *testing.T) {
	t.Parallel()

	const file = "NOME|TELEFONE\nAna|5511|consulta|2024-05-01|10:00|Clinic|Dr. A|x\n"

	importer := &stubImporter{
		importFn: func(ctx context.Context, sourceName string, r io.Reader) (*service.IngestResult, error) {
			content, err := io.ReadAll(r)
			if err != nil {
				return nil, err
			}
			if string(content) != file || sourceName != "agenda.txt" {
				return nil, fmt.Errorf("unexpected upload %q: %q", sourceName, content)
			}
			return &service.IngestResult{
				Batch: &domain.Batch{ID: "b-1", SourceName: sourceName, TotalRecords: 1, CreatedAt: time.Now()},
				Malformed: []*domain.MalformedRecordError{
					{Line: 3, Reason: "expected at least 7 fields, got 2"},
				},
				Rejected: 2,
			}, nil
		},
	}
	app := newBatchTestApp(t, importer, &stubReporter{}, &stubDispatcher{})

	resp, body := performUpload(t, app, "/v1/batches", "file", "agenda.txt", file)
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		BatchID      string `json:"batchId"`
		TotalRecords int    `json:"totalRecords"`
		Rejected     int    `json:"rejected"`
		Malformed    []struct {
			Line int `json:"line"`
		} `json:"malformed"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "b-1" || parsed.TotalRecords != 1 || parsed.Rejected != 2 {
		t.Fatalf("response = %+v", parsed)
	}
	if len(parsed.Malformed) != 1 || parsed.Malformed[0].Line != 3 {
		t.Fatalf("malformed = %+v, want line 3", parsed.Malformed)
	}
}

func TestBatchHandler_CreateBatchErrors(t *testing.T) {
	t.Parallel()

	importer := &stubImporter{
		importFn: func(ctx context.Context, sourceName string, r io.Reader) (*service.IngestResult, error) {
			return nil, fmt.Errorf("%w: file has no valid records", domain.ErrValidation)
		},
	}
	app := newBatchTestApp(t, importer, &stubReporter{}, &stubDispatcher{})

	resp, _ := performUpload(t, app, "/v1/batches", "other", "agenda.txt", "x")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing file field", resp.StatusCode)
	}

	resp, body := performUpload(t, app, "/v1/batches", "file", "agenda.txt", "header only\n")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for empty batch", resp.StatusCode)
	}
	if !strings.Contains(string(body), "no valid records") {
		t.Fatalf("body = %s, want validation message", body)
	}
}

func TestBatchHandler_ListAndSummary(t *testing.T) {
	t.Parallel()

	overview := domain.BatchOverview{
		Batch:           domain.Batch{ID: "b-1", SourceName: "agenda.txt", TotalRecords: 3},
		TotalMessages:   3,
		Sent:            2,
		Failed:          1,
		RepliesReceived: 1,
		AwaitingReply:   1,
	}
	reporter := &stubReporter{
		batchesFn: func(ctx context.Context) ([]domain.BatchOverview, error) {
			return []domain.BatchOverview{overview}, nil
		},
		summaryFn: func(ctx context.Context, batchID string) (*domain.BatchOverview, error) {
			if batchID != "b-1" {
				return nil, domain.ErrNotFound
			}
			o := overview
			return &o, nil
		},
	}
	app := newBatchTestApp(t, &stubImporter{}, reporter, &stubDispatcher{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	var list struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if len(list.Data) != 1 || list.Data[0]["batchId"] != "b-1" || list.Data[0]["awaitingReply"] != float64(1) {
		t.Fatalf("list = %+v", list.Data)
	}

	resp, body = performRequest(t, app, http.MethodGet, "/v1/batches/b-1", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	var summary map[string]any
	if err := json.Unmarshal(body, &summary); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if summary["sent"] != float64(2) || summary["failed"] != float64(1) || summary["repliesReceived"] != float64(1) {
		t.Fatalf("summary = %+v", summary)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/missing", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBatchHandler_ListMessages(t *testing.T) {
	t.Parallel()

	providerID := "wamid.1"
	confirmed := domain.ConfirmationConfirm
	reporter := &stubReporter{
		messagesFn: func(ctx context.Context, batchID string) ([]domain.Message, error) {
			return []domain.Message{
				{ID: "m-1", BatchID: batchID, Position: 1, Name: "Ana", Phone: "5511", Status: domain.StatusSent, ProviderMessageID: &providerID, ConfirmationStatus: &confirmed},
				{ID: "m-2", BatchID: batchID, Position: 2, Name: "Bia", Phone: "5522", Status: domain.StatusPending},
			}, nil
		},
	}
	app := newBatchTestApp(t, &stubImporter{}, reporter, &stubDispatcher{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1/messages", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}

	var parsed struct {
		BatchID string           `json:"batchId"`
		Data    []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.BatchID != "b-1" || len(parsed.Data) != 2 {
		t.Fatalf("response = %+v", parsed)
	}
	if parsed.Data[0]["confirmationStatus"] != confirmed.String() || parsed.Data[0]["providerMessageId"] != providerID {
		t.Fatalf("first message = %+v", parsed.Data[0])
	}
	if _, ok := parsed.Data[1]["confirmationStatus"]; ok {
		t.Fatalf("pending message should omit confirmationStatus: %+v", parsed.Data[1])
	}
}

func TestBatchHandler_DispatchBatch(t *testing.T) {
	t.Parallel()

	var gotRequestID string
	dispatcher := &stubDispatcher{
		dispatchFn: func(ctx context.Context, batchID string) error {
			if batchID == "missing" {
				return fmt.Errorf("batch %s: %w", batchID, domain.ErrNotFound)
			}
			if batchID == "broken" {
				return errors.New("broker unavailable")
			}
			gotRequestID, _ = observability.RequestIDFromContext(ctx)
			return nil
		},
	}
	app := newBatchTestApp(t, &stubImporter{}, &stubReporter{}, dispatcher)

	req := httptest.NewRequest(http.MethodPost, "/v1/batches/b-1/dispatch", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-7")
	resp, body := doRequest(t, app, req)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, body)
	}
	if gotRequestID != "req-7" {
		t.Fatalf("request id = %q, want req-7", gotRequestID)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/missing/dispatch", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodPost, "/v1/batches/broken/dispatch", "")
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestBatchHandler_ExportBatch(t *testing.T) {
	t.Parallel()

	const report = "TELEFONE|STATUS|DATA_ENVIO|ID_MENSAGEM|ERRO|CONFIRMACAO|DATA_CONFIRMACAO\n5511|SENT|01/05/2024 07:00:00|wamid.1|||\n"
	reporter := &stubReporter{
		exportFn: func(ctx context.Context, batchID string, w io.Writer) error {
			if batchID != "b-1" {
				return domain.ErrNotFound
			}
			_, err := io.WriteString(w, report)
			return err
		},
	}
	app := newBatchTestApp(t, &stubImporter{}, reporter, &stubDispatcher{})

	resp, body := performRequest(t, app, http.MethodGet, "/v1/batches/b-1/export", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, body)
	}
	if string(body) != report {
		t.Fatalf("body = %q, want %q", body, report)
	}
	if got := resp.Header.Get(fiber.HeaderContentType); !strings.HasPrefix(got, fiber.MIMETextPlain) {
		t.Fatalf("content type = %q, want text/plain", got)
	}
	if got := resp.Header.Get(fiber.HeaderContentDisposition); !strings.Contains(got, "retorno_lote_b-1.txt") {
		t.Fatalf("content disposition = %q, want attachment name", got)
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/v1/batches/missing/export", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestNewBatchHandlerRequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewBatchHandler(nil, &stubReporter{}, &stubDispatcher{}); err == nil {
		t.Fatal("expected error for nil importer")
	}
	if _, err := NewBatchHandler(&stubImporter{}, nil, &stubDispatcher{}); err == nil {
		t.Fatal("expected error for nil reporter")
	}
	if _, err := NewBatchHandler(&stubImporter{}, &stubReporter{}, nil); err == nil {
		t.Fatal("expected error for nil dispatcher")
	}
}
