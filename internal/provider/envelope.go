package provider

import (
	"encoding/json"
	"fmt"
)

// WebhookEnvelope is the notification body the Cloud API posts to the
// webhook endpoint.
type WebhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string       `json:"field"`
	Value WebhookValue `json:"value"`
}

type WebhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []StatusUpdate   `json:"statuses"`
}

type InboundMessage struct {
	ID          string              `json:"id"`
	From        string              `json:"from"`
	Timestamp   string              `json:"timestamp"`
	Type        string              `json:"type"`
	Context     *MessageContext     `json:"context,omitempty"`
	Button      *ButtonReply        `json:"button,omitempty"`
	Interactive *InteractiveMessage `json:"interactive,omitempty"`
	Text        *TextBody           `json:"text,omitempty"`
}

// MessageContext points at the outbound message being replied to.
type MessageContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

// ButtonReply is a quick-reply button press on a template message.
type ButtonReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

type InteractiveMessage struct {
	Type        string            `json:"type"`
	ButtonReply *InteractiveReply `json:"button_reply,omitempty"`
}

type InteractiveReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type TextBody struct {
	Body string `json:"body"`
}

type StatusUpdate struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

func ParseWebhookEnvelope(payload []byte) (*WebhookEnvelope, error) {
	var envelope WebhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode webhook payload: %w", err)
	}
	return &envelope, nil
}

// Messages flattens every inbound message across entries and changes.
func (e *WebhookEnvelope) Messages() []InboundMessage {
	if e == nil {
		return nil
	}

	var out []InboundMessage
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Messages...)
		}
	}
	return out
}

func (e *WebhookEnvelope) Statuses() []StatusUpdate {
	if e == nil {
		return nil
	}

	var out []StatusUpdate
	for _, entry := range e.Entry {
		for _, change := range entry.Changes {
			out = append(out, change.Value.Statuses...)
		}
	}
	return out
}

// ReplyToken returns the button token carried by a quick-reply or
// interactive button message. ok is false for any other message type.
func (m InboundMessage) ReplyToken() (string, bool) {
	switch m.Type {
	case "button":
		if m.Button == nil {
			return "", false
		}
		if m.Button.Payload != "" {
			return m.Button.Payload, true
		}
		return m.Button.Text, m.Button.Text != ""
	case "interactive":
		if m.Interactive == nil || m.Interactive.ButtonReply == nil {
			return "", false
		}
		reply := m.Interactive.ButtonReply
		if reply.ID != "" {
			return reply.ID, true
		}
		return reply.Title, reply.Title != ""
	}
	return "", false
}

// RepliedTo returns the provider id of the message being answered.
func (m InboundMessage) RepliedTo() string {
	if m.Context == nil {
		return ""
	}
	return m.Context.ID
}
