package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultSendTimeout = 10 * time.Second
	messagingProduct   = "whatsapp"

	// graphThrottleCode is returned with HTTP 400 when the phone number's
	// throughput limit is exceeded.
	graphThrottleCode = 130429
)

type WhatsAppConfig struct {
	APIURL        string
	PhoneNumberID string
	Token         string
}

// WhatsAppProvider sends messages through the WhatsApp Cloud API.
type WhatsAppProvider struct {
	client   *resty.Client
	endpoint string
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Template         *templatePayload `json:"template,omitempty"`
	Text             *textPayload     `json:"text,omitempty"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type textPayload struct {
	Body string `json:"body"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type graphErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewWhatsAppProvider(cfg WhatsAppConfig) (*WhatsAppProvider, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)

	return NewWhatsAppProviderWithClient(cfg, client)
}

func NewWhatsAppProviderWithClient(cfg WhatsAppConfig, client *resty.Client) (*WhatsAppProvider, error) {
	apiURL := strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if apiURL == "" {
		return nil, fmt.Errorf("whatsapp api url is required")
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid whatsapp api url: %w", err)
	}
	phoneNumberID := strings.TrimSpace(cfg.PhoneNumberID)
	if phoneNumberID == "" {
		return nil, fmt.Errorf("whatsapp phone number id is required")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("whatsapp token is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	// A resend after an ambiguous failure could deliver a duplicate reminder.
	client.SetRetryCount(0)
	client.SetAuthToken(strings.TrimSpace(cfg.Token))

	return &WhatsAppProvider{
		client:   client,
		endpoint: apiURL + "/" + url.PathEscape(phoneNumberID) + "/messages",
	}, nil
}

func (p *WhatsAppProvider) SendTemplate(ctx context.Context, msg TemplateMessage) (string, error) {
	if strings.TrimSpace(msg.Template) == "" {
		return "", &ProviderError{Message: "template name is required"}
	}

	params := make([]templateParameter, 0, len(msg.Parameters))
	for _, value := range msg.Parameters {
		params = append(params, templateParameter{Type: "text", Text: value})
	}

	tpl := &templatePayload{
		Name:     msg.Template,
		Language: templateLanguage{Code: msg.Language},
	}
	if len(params) > 0 {
		tpl.Components = []templateComponent{{Type: "body", Parameters: params}}
	}

	return p.send(ctx, sendRequest{
		MessagingProduct: messagingProduct,
		To:               msg.To,
		Type:             "template",
		Template:         tpl,
	})
}

func (p *WhatsAppProvider) SendText(ctx context.Context, to string, body string) (string, error) {
	return p.send(ctx, sendRequest{
		MessagingProduct: messagingProduct,
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

func (p *WhatsAppProvider) send(ctx context.Context, reqBody sendRequest) (string, error) {
	if p == nil || p.client == nil {
		return "", fmt.Errorf("provider is not initialized")
	}
	if strings.TrimSpace(reqBody.To) == "" {
		return "", &ProviderError{Message: "recipient is required"}
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(reqBody).
		SetResult(&sendResponse{}).
		SetError(&graphErrorResponse{}).
		Post(p.endpoint)
	if err != nil {
		return "", &ProviderError{
			Message:   "provider request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return "", &ProviderError{
			Message:   "provider returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		result, _ := response.Result().(*sendResponse)
		if result == nil || len(result.Messages) == 0 || strings.TrimSpace(result.Messages[0].ID) == "" {
			return "", &ProviderError{
				StatusCode: statusCode,
				Message:    "provider response carried no message id",
			}
		}
		return result.Messages[0].ID, nil
	}

	providerErr := &ProviderError{
		StatusCode: statusCode,
		Transient:  isTransientHTTPStatus(statusCode),
	}
	if graphErr, ok := response.Error().(*graphErrorResponse); ok && graphErr.Error.Message != "" {
		providerErr.Code = graphErr.Error.Code
		providerErr.Message = graphErr.Error.Message
		if graphErr.Error.Code == graphThrottleCode {
			providerErr.Transient = true
		}
	} else {
		providerErr.Message = providerErrorMessage(statusCode, strings.TrimSpace(response.String()))
	}

	return "", providerErr
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
