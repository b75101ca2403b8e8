package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/provider"
	"github.com/kursadbilgin/appointment-dispatch/internal/queue"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
)

// memStore is an in-memory batch store with the same guards as the SQL
// repositories: all-or-nothing batch creation, PENDING-only delivery
// writes, SENT-only confirmation writes.
type memStore struct {
	mu       sync.Mutex
	batches  map[string]domain.Batch
	messages map[string]*domain.Message

	createErr error
	updateErr error
}

var (
	_ repository.BatchRepository   = (*memStore)(nil)
	_ repository.MessageRepository = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		batches:  map[string]domain.Batch{},
		messages: map[string]*domain.Message{},
	}
}

func (s *memStore) CreateWithMessages(ctx context.Context, b *domain.Batch, messages []*domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return s.createErr
	}
	if b.TotalRecords != len(messages) {
		return fmt.Errorf("%w: total mismatch", domain.ErrValidation)
	}

	staged := make(map[string]*domain.Message, len(messages))
	for _, m := range messages {
		if m.BatchID != b.ID || m.Status != domain.StatusPending {
			return fmt.Errorf("%w: bad message %s", domain.ErrValidation, m.ID)
		}
		if _, exists := s.messages[m.ID]; exists {
			return fmt.Errorf("%w: duplicate message %s", domain.ErrConflict, m.ID)
		}
		copied := *m
		staged[m.ID] = &copied
	}

	s.batches[b.ID] = *b
	for id, m := range staged {
		s.messages[id] = m
	}
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (s *memStore) List(ctx context.Context) ([]domain.BatchOverview, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.batches))
	for id := range s.batches {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)

	out := make([]domain.BatchOverview, 0, len(ids))
	for _, id := range ids {
		overview, err := (&ReportService{batches: s, messages: s}).BatchSummary(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *overview)
	}
	return out, nil
}

func (s *memStore) sorted(batchID string, keep func(*domain.Message) bool) []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Message
	for _, m := range s.messages {
		if m.BatchID == batchID && keep(m) {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *memStore) ListPending(ctx context.Context, batchID string) ([]domain.Message, error) {
	return s.sorted(batchID, func(m *domain.Message) bool { return m.Status == domain.StatusPending }), nil
}

func (s *memStore) ListByBatch(ctx context.Context, batchID string) ([]domain.Message, error) {
	return s.sorted(batchID, func(*domain.Message) bool { return true }), nil
}

func (s *memStore) UpdateDeliveryOutcome(ctx context.Context, messageID string, outcome domain.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.updateErr != nil {
		return s.updateErr
	}
	m, ok := s.messages[messageID]
	if !ok {
		return domain.ErrNotFound
	}
	return m.Apply(outcome)
}

func (s *memStore) UpdateConfirmation(ctx context.Context, providerMessageID string, status domain.ConfirmationStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID && m.Status == domain.StatusSent {
			return m.Confirm(status, at)
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) GetBatchSummary(ctx context.Context, batchID string) ([]repository.StatusCount, error) {
	byStatus := map[domain.DeliveryStatus]*repository.StatusCount{}
	for _, m := range s.sorted(batchID, func(*domain.Message) bool { return true }) {
		c, ok := byStatus[m.Status]
		if !ok {
			c = &repository.StatusCount{Status: m.Status}
			byStatus[m.Status] = c
		}
		c.Count++
		if m.ConfirmationStatus != nil {
			c.RepliesReceived++
		} else if m.Status == domain.StatusSent {
			c.AwaitingReply++
		}
	}

	out := make([]repository.StatusCount, 0, len(byStatus))
	for _, c := range byStatus {
		out = append(out, *c)
	}
	return out, nil
}

func (s *memStore) message(id string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

// seedBatch stores a batch with one PENDING message per phone.
func (s *memStore) seedBatch(t *testing.T, batchID string, phones ...string) []domain.Message {
	t.Helper()

	batch := &domain.Batch{ID: batchID, SourceName: "seed.txt", TotalRecords: len(phones)}
	msgs := make([]*domain.Message, 0, len(phones))
	for i, phone := range phones {
		m := domain.NewPendingMessage(fmt.Sprintf("%s-m%d", batchID, i), batchID, i, domain.Record{
			Name:         "Paciente",
			Phone:        phone,
			Kind:         "consulta",
			Date:         "2024-05-01",
			Time:         "10:00",
			Location:     "Clinic",
			ProviderName: "Dr. Silva",
		})
		msgs = append(msgs, &m)
	}
	if err := s.CreateWithMessages(context.Background(), batch, msgs); err != nil {
		t.Fatalf("seedBatch() error = %v", err)
	}

	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

type sentText struct {
	To   string
	Body string
}

type fakeSender struct {
	mu sync.Mutex

	sendTemplateFn func(ctx context.Context, msg provider.TemplateMessage) (string, error)
	sendTextFn     func(ctx context.Context, to string, body string) (string, error)

	templates []provider.TemplateMessage
	texts     []sentText
}

func (f *fakeSender) SendTemplate(ctx context.Context, msg provider.TemplateMessage) (string, error) {
	f.mu.Lock()
	f.templates = append(f.templates, msg)
	n := len(f.templates)
	f.mu.Unlock()

	if f.sendTemplateFn != nil {
		return f.sendTemplateFn(ctx, msg)
	}
	return fmt.Sprintf("wamid.%d", n), nil
}

func (f *fakeSender) SendText(ctx context.Context, to string, body string) (string, error) {
	f.mu.Lock()
	f.texts = append(f.texts, sentText{To: to, Body: body})
	f.mu.Unlock()

	if f.sendTextFn != nil {
		return f.sendTextFn(ctx, to, body)
	}
	return "wamid.ack", nil
}

func (f *fakeSender) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

type fakeFormatter struct {
	formatFn func(msg domain.Message) (provider.TemplateMessage, error)
}

func (f fakeFormatter) Format(msg domain.Message) (provider.TemplateMessage, error) {
	if f.formatFn != nil {
		return f.formatFn(msg)
	}
	return provider.TemplateMessage{To: msg.Phone, Template: "tpl"}, nil
}

type fakeRateLimiter struct {
	waitFn func(ctx context.Context, key string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, key string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, key)
	}
	return nil
}

type fakeDedup struct {
	firstSeenFn func(ctx context.Context, id string) (bool, error)
}

func (f *fakeDedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	return f.firstSeenFn(ctx, id)
}

type fakePublisher struct {
	publishFn func(ctx context.Context, job queue.DispatchJob) error
}

func (f *fakePublisher) Publish(ctx context.Context, job queue.DispatchJob) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, job)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.JobHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.JobHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeConsumer) Close() error { return nil }

type fakeRunner struct {
	runFn func(ctx context.Context, batchID string) (*DispatchReport, error)
}

func (f *fakeRunner) Run(ctx context.Context, batchID string) (*DispatchReport, error) {
	return f.runFn(ctx, batchID)
}

// recordingSleep captures requested delays without waiting.
type recordingSleep struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, d)
	return ctx.Err()
}

func (r *recordingSleep) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
