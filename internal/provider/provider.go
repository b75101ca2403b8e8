package provider

import "context"

// Sender is the outbound messaging port. Both calls return the
// provider-assigned message id on success and a *ProviderError otherwise.
type Sender interface {
	SendTemplate(ctx context.Context, msg TemplateMessage) (string, error)
	SendText(ctx context.Context, to string, body string) (string, error)
}

// TemplateMessage is a pre-approved template addressed to one recipient.
// Parameters fill the template body placeholders in order.
type TemplateMessage struct {
	To         string
	Template   string
	Language   string
	Parameters []string
}
