package handler

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/appointment-dispatch/internal/service"
)

type InboundEventHandler interface {
	Verify(mode, token, challenge string) (string, bool)
	HandleInboundEvent(ctx context.Context, payload []byte) service.InboundResult
}

type WebhookHandler struct {
	events InboundEventHandler
}

func NewWebhookHandler(events InboundEventHandler) (*WebhookHandler, error) {
	if events == nil {
		return nil, fmt.Errorf("inbound event handler is required")
	}
	return &WebhookHandler{events: events}, nil
}

func RegisterWebhookRoutes(router fiber.Router, events InboundEventHandler) error {
	h, err := NewWebhookHandler(events)
	if err != nil {
		return err
	}

	router.Get("/webhook", h.Verify)
	router.Post("/webhook", h.Receive)
	return nil
}

// Verify answers the provider's subscription handshake.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	challenge, ok := h.events.Verify(c.Query("hub.mode"), c.Query("hub.verify_token"), c.Query("hub.challenge"))
	if !ok {
		return c.SendStatus(fiber.StatusForbidden)
	}
	return c.Status(fiber.StatusOK).SendString(challenge)
}

// Receive always acknowledges with 200, otherwise the provider keeps
// redelivering the same event.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	h.events.HandleInboundEvent(c.UserContext(), payload)
	return c.SendStatus(fiber.StatusOK)
}
