package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
	"github.com/kursadbilgin/appointment-dispatch/internal/transport"
	"go.uber.org/zap"
)

type stubImporter struct {
	importFn func(ctx context.Context, sourceName string, r io.Reader) (*service.IngestResult, error)
}

func (s *stubImporter) ImportFile(ctx context.Context, sourceName string, r io.Reader) (*service.IngestResult, error) {
	if s.importFn == nil {
		return nil, domain.ErrValidation
	}
	return s.importFn(ctx, sourceName, r)
}

type stubReporter struct {
	summaryFn  func(ctx context.Context, batchID string) (*domain.BatchOverview, error)
	messagesFn func(ctx context.Context, batchID string) ([]domain.Message, error)
	batchesFn  func(ctx context.Context) ([]domain.BatchOverview, error)
	exportFn   func(ctx context.Context, batchID string, w io.Writer) error
}

func (s *stubReporter) BatchSummary(ctx context.Context, batchID string) (*domain.BatchOverview, error) {
	if s.summaryFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.summaryFn(ctx, batchID)
}

func (s *stubReporter) ListMessages(ctx context.Context, batchID string) ([]domain.Message, error) {
	if s.messagesFn == nil {
		return nil, domain.ErrNotFound
	}
	return s.messagesFn(ctx, batchID)
}

func (s *stubReporter) ListBatches(ctx context.Context) ([]domain.BatchOverview, error) {
	if s.batchesFn == nil {
		return nil, nil
	}
	return s.batchesFn(ctx)
}

func (s *stubReporter) ExportBatch(ctx context.Context, batchID string, w io.Writer) error {
	if s.exportFn == nil {
		return domain.ErrNotFound
	}
	return s.exportFn(ctx, batchID, w)
}

type stubDispatcher struct {
	dispatchFn func(ctx context.Context, batchID string) error
}

func (s *stubDispatcher) Dispatch(ctx context.Context, batchID string) error {
	if s.dispatchFn == nil {
		return nil
	}
	return s.dispatchFn(ctx, batchID)
}

type stubInboundEvents struct {
	verifyFn func(mode, token, challenge string) (string, bool)
	handleFn func(ctx context.Context, payload []byte) service.InboundResult
}

func (s *stubInboundEvents) Verify(mode, token, challenge string) (string, bool) {
	if s.verifyFn == nil {
		return "", false
	}
	return s.verifyFn(mode, token, challenge)
}

func (s *stubInboundEvents) HandleInboundEvent(ctx context.Context, payload []byte) service.InboundResult {
	if s.handleFn == nil {
		return service.InboundResult{}
	}
	return s.handleFn(ctx, payload)
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	app.Use(transport.RequestID())
	return app
}

func newBatchTestApp(t *testing.T, importer BatchImporter, reporter BatchReporter, dispatcher service.BatchDispatcher) *fiber.App {
	t.Helper()

	app := newTestApp(t)
	if err := RegisterBatchRoutes(app, importer, reporter, dispatcher); err != nil {
		t.Fatalf("RegisterBatchRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return doRequest(t, app, req)
}

func performUpload(t *testing.T, app *fiber.App, path string, field string, fileName string, content string) (*http.Response, []byte) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile(field, fileName)
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	if _, err := io.WriteString(part, content); err != nil {
		t.Fatalf("write form file error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("multipart close error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(fiber.HeaderContentType, writer.FormDataContentType())
	return doRequest(t, app, req)
}

func doRequest(t *testing.T, app *fiber.App, req *http.Request) (*http.Response, []byte) {
	t.Helper()

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}
