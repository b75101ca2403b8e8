package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/appointment-dispatch/internal/domain"
	"github.com/kursadbilgin/appointment-dispatch/internal/observability"
	"github.com/kursadbilgin/appointment-dispatch/internal/provider"
	"github.com/kursadbilgin/appointment-dispatch/internal/repository"
	"go.uber.org/zap"
)

const subscribeMode = "subscribe"

var acknowledgments = map[domain.ConfirmationStatus]string{
	domain.ConfirmationConfirm: "✅ Agendamento confirmado!\n\n" +
		"Obrigado pela confirmação. Sua presença está confirmada para o dia e horário agendados.\n\n" +
		"Te esperamos! 😊",
	domain.ConfirmationCancel: "❌ Agendamento cancelado.\n\n" +
		"Seu agendamento foi cancelado conforme solicitado.\n\n" +
		"Para reagendar, entre em contato conosco pelos nossos canais de atendimento.\n\n" +
		"Estamos à disposição!",
	domain.ConfirmationReschedule: "📅 Solicitação de reagendamento recebida!\n\n" +
		"Nossa equipe entrará em contato com você em breve para verificar a melhor data e horário disponíveis.\n\n" +
		"Aguarde nosso retorno. Obrigado!",
}

// AcknowledgmentText returns the auto-reply sent for a classified reply.
func AcknowledgmentText(status domain.ConfirmationStatus) string {
	return acknowledgments[status]
}

// EventDeduplicator claims inbound event ids.
type EventDeduplicator interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

// InboundResult tallies what one webhook delivery contained and what was
// done with it.
type InboundResult struct {
	Malformed    bool
	Replies      int
	Ignored      int
	Duplicates   int
	Unclassified int
	Correlated   int
	Unmatched    int
	Acknowledged int
	Statuses     int
}

type WebhookCorrelator struct {
	messages    repository.MessageRepository
	sender      provider.Sender
	dedup       EventDeduplicator
	verifyToken string
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewWebhookCorrelator(
	messages repository.MessageRepository,
	sender provider.Sender,
	verifyToken string,
	logger *zap.Logger,
) (*WebhookCorrelator, error) {
	if messages == nil {
		return nil, fmt.Errorf("message repository is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if verifyToken == "" {
		return nil, fmt.Errorf("webhook verify token is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookCorrelator{
		messages:    messages,
		sender:      sender,
		verifyToken: verifyToken,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (c *WebhookCorrelator) SetMetrics(metrics *observability.Metrics) {
	if c == nil {
		return
	}
	c.metrics = metrics
}

// SetDeduplicator enables suppression of redelivered inbound messages.
func (c *WebhookCorrelator) SetDeduplicator(dedup EventDeduplicator) {
	if c == nil {
		return
	}
	c.dedup = dedup
}

// Verify answers the subscription handshake. It returns the challenge to
// echo when mode and token match.
func (c *WebhookCorrelator) Verify(mode, token, challenge string) (string, bool) {
	if mode != subscribeMode {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(c.verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}

// HandleInboundEvent processes every message and status in a webhook
// delivery. It never fails: problems are logged and counted so the caller
// can always acknowledge the delivery.
func (c *WebhookCorrelator) HandleInboundEvent(ctx context.Context, payload []byte) InboundResult {
	var result InboundResult
	logger := observability.WithContextLogger(c.logger, ctx)

	envelope, err := provider.ParseWebhookEnvelope(payload)
	if err != nil {
		logger.Warn("ignoring undecodable webhook payload", zap.Error(err))
		c.metrics.IncWebhookEvent("malformed")
		result.Malformed = true
		return result
	}

	for _, msg := range envelope.Messages() {
		c.handleMessage(ctx, logger, msg, &result)
	}

	for _, status := range envelope.Statuses() {
		result.Statuses++
		c.metrics.IncWebhookEvent("status")
		logger.Info("delivery status received",
			zap.String("providerMessageId", status.ID),
			zap.String("status", status.Status),
			zap.String("recipient", status.RecipientID),
		)
	}

	return result
}

func (c *WebhookCorrelator) handleMessage(ctx context.Context, logger *zap.Logger, msg provider.InboundMessage, result *InboundResult) {
	logger = logger.With(zap.String("inboundId", msg.ID), zap.String("from", msg.From))

	token, ok := msg.ReplyToken()
	if !ok {
		result.Ignored++
		c.metrics.IncWebhookEvent("ignored")
		logger.Debug("ignoring non-button message", zap.String("type", msg.Type))
		return
	}

	if c.dedup != nil {
		first, err := c.dedup.FirstSeen(ctx, msg.ID)
		if err != nil {
			logger.Warn("event dedup unavailable, processing anyway", zap.Error(err))
		} else if !first {
			result.Duplicates++
			c.metrics.IncWebhookEvent("duplicate")
			logger.Info("duplicate reply delivery skipped")
			return
		}
	}

	result.Replies++
	c.metrics.IncWebhookEvent("reply")

	status, ok := domain.ClassifyReply(token)
	if !ok {
		result.Unclassified++
		logger.Info("reply not classified", zap.String("token", token))
		return
	}

	if repliedTo := msg.RepliedTo(); repliedTo != "" {
		err := c.messages.UpdateConfirmation(ctx, repliedTo, status, c.now().UTC())
		switch {
		case err == nil:
			result.Correlated++
			c.metrics.IncConfirmation(status.String())
			logger.Info("confirmation recorded",
				zap.String("providerMessageId", repliedTo),
				zap.String("confirmation", status.String()),
			)
		case errors.Is(err, domain.ErrNotFound):
			result.Unmatched++
			logger.Info("reply does not match a sent message", zap.String("providerMessageId", repliedTo))
		default:
			result.Unmatched++
			logger.Error("failed to record confirmation",
				zap.String("providerMessageId", repliedTo),
				zap.Error(err),
			)
		}
	} else {
		result.Unmatched++
		logger.Info("reply carries no context id")
	}

	start := c.now()
	_, err := c.sender.SendText(ctx, msg.From, AcknowledgmentText(status))
	c.metrics.ObserveProviderSend("text", c.now().Sub(start))
	if err != nil {
		logger.Error("failed to send acknowledgment", zap.Error(err))
		return
	}
	result.Acknowledged++
}
