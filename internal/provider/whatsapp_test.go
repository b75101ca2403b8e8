package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *WhatsAppProvider {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := NewWhatsAppProvider(WhatsAppConfig{
		APIURL:        server.URL + "/v18.0/",
		PhoneNumberID: "12345",
		Token:         "secret",
	})
	if err != nil {
		t.Fatalf("NewWhatsAppProvider() error = %v", err)
	}
	return p
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestWhatsAppProviderSendTemplate(t *testing.T) {
	t.Parallel()

	var gotBody sendRequest
	var gotPath, gotAuth string

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		writeJSON(w, http.StatusOK, `{"messaging_product":"whatsapp","messages":[{"id":"wamid.123"}]}`)
	})

	id, err := p.SendTemplate(context.Background(), TemplateMessage{
		To:         "5599999",
		Template:   "lembrete_consulta",
		Language:   "pt_BR",
		Parameters: []string{"Bruno", "01/05/2024"},
	})
	if err != nil {
		t.Fatalf("SendTemplate() unexpected error: %v", err)
	}
	if id != "wamid.123" {
		t.Fatalf("id = %q, want wamid.123", id)
	}

	if gotPath != "/v18.0/12345/messages" {
		t.Fatalf("path = %q, want /v18.0/12345/messages", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q, want bearer token", gotAuth)
	}
	if gotBody.MessagingProduct != "whatsapp" || gotBody.Type != "template" || gotBody.To != "5599999" {
		t.Fatalf("unexpected envelope: %+v", gotBody)
	}
	if gotBody.Template == nil || gotBody.Template.Name != "lembrete_consulta" || gotBody.Template.Language.Code != "pt_BR" {
		t.Fatalf("unexpected template: %+v", gotBody.Template)
	}
	params := gotBody.Template.Components[0].Parameters
	if len(params) != 2 || params[0].Text != "Bruno" || params[1].Type != "text" {
		t.Fatalf("unexpected parameters: %+v", params)
	}
}

func TestWhatsAppProviderSendText(t *testing.T) {
	t.Parallel()

	var gotBody sendRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, `{"messages":[{"id":"wamid.txt"}]}`)
	})

	id, err := p.SendText(context.Background(), "5599999", "Obrigado")
	if err != nil {
		t.Fatalf("SendText() unexpected error: %v", err)
	}
	if id != "wamid.txt" {
		t.Fatalf("id = %q, want wamid.txt", id)
	}
	if gotBody.Type != "text" || gotBody.Text == nil || gotBody.Text.Body != "Obrigado" || gotBody.Template != nil {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestWhatsAppProviderErrorClassification(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
		wantCode      int
	}{
		{name: "invalid parameter is permanent", statusCode: http.StatusBadRequest, body: `{"error":{"message":"Invalid parameter","code":100}}`, wantCode: 100},
		{name: "throughput limit is transient", statusCode: http.StatusBadRequest, body: `{"error":{"message":"Rate limit hit","code":130429}}`, wantTransient: true, wantCode: 130429},
		{name: "expired token is permanent", statusCode: http.StatusUnauthorized, body: `{"error":{"message":"Session expired","code":190}}`, wantCode: 190},
		{name: "server error is transient", statusCode: http.StatusInternalServerError, body: `{}`, wantTransient: true},
		{name: "too many requests is transient", statusCode: http.StatusTooManyRequests, body: `{}`, wantTransient: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.statusCode, tc.body)
			})

			_, err := p.SendTemplate(context.Background(), TemplateMessage{To: "1", Template: "t"})
			if err == nil {
				t.Fatal("expected error")
			}

			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("expected ProviderError, got %T", err)
			}
			if providerErr.StatusCode != tc.statusCode {
				t.Fatalf("StatusCode = %d, want %d", providerErr.StatusCode, tc.statusCode)
			}
			if providerErr.Code != tc.wantCode {
				t.Fatalf("Code = %d, want %d", providerErr.Code, tc.wantCode)
			}
			if got := IsTransient(err); got != tc.wantTransient {
				t.Fatalf("IsTransient() = %v, want %v", got, tc.wantTransient)
			}
		})
	}
}

func TestWhatsAppProviderMissingMessageID(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"messages":[]}`)
	})

	_, err := p.SendTemplate(context.Background(), TemplateMessage{To: "1", Template: "t"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("error = %v, want ProviderError", err)
	}
	if providerErr.Transient {
		t.Fatal("missing id should not be transient")
	}
}

func TestWhatsAppProviderRejectsEmptyRecipient(t *testing.T) {
	t.Parallel()

	called := false
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	if _, err := p.SendText(context.Background(), " ", "hi"); err == nil {
		t.Fatal("expected error for empty recipient")
	}
	if called {
		t.Fatal("provider should not be called without a recipient")
	}
}

func TestWhatsAppProviderTimeoutIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{"messages":[{"id":"late"}]}`)
	}))
	defer server.Close()

	client := resty.New()
	client.SetTimeout(30 * time.Millisecond)

	p, err := NewWhatsAppProviderWithClient(WhatsAppConfig{
		APIURL:        server.URL,
		PhoneNumberID: "1",
		Token:         "t",
	}, client)
	if err != nil {
		t.Fatalf("NewWhatsAppProviderWithClient() error = %v", err)
	}

	_, err = p.SendText(context.Background(), "1", "hi")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !IsTransient(err) {
		t.Fatalf("IsTransient() = false, want true (err=%v)", err)
	}
	if FailureReason(err) != "provider_transient" {
		t.Fatalf("FailureReason() = %q, want provider_transient", FailureReason(err))
	}
}

func TestNewWhatsAppProviderValidatesConfig(t *testing.T) {
	t.Parallel()

	testCases := []WhatsAppConfig{
		{PhoneNumberID: "1", Token: "t"},
		{APIURL: "not a url", PhoneNumberID: "1", Token: "t"},
		{APIURL: "https://graph.facebook.com/v18.0", Token: "t"},
		{APIURL: "https://graph.facebook.com/v18.0", PhoneNumberID: "1"},
	}

	for _, cfg := range testCases {
		if _, err := NewWhatsAppProvider(cfg); err == nil {
			t.Fatalf("NewWhatsAppProvider(%+v) expected error", cfg)
		}
	}
}
