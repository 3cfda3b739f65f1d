package resend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"

	"gainable/config"
	"gainable/providers"
)

func TestSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/emails" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"email_123"}`))
	}))
	defer srv.Close()

	cfg := &config.Config{ResendAPIKey: "re_test", MailFrom: "Gainable <noreply@gainable.test>"}
	m := NewMailer(cfg, zap.NewNop())
	base, _ := url.Parse(srv.URL + "/")
	m.client.BaseURL = base

	id, err := m.Send(context.Background(), providers.Email{
		To:      []string{"pro@example.test"},
		Cc:      []string{"admin@gainable.test"},
		ReplyTo: "client@example.test",
		Subject: "Nouvelle demande",
		HTML:    "<p>Bonjour</p>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if id != "email_123" {
		t.Errorf("id = %q", id)
	}
	if got["from"] != cfg.MailFrom || got["subject"] != "Nouvelle demande" {
		t.Errorf("payload = %v", got)
	}
}

func TestSendWithoutRecipient(t *testing.T) {
	m := NewMailer(&config.Config{}, zap.NewNop())
	if _, err := m.Send(context.Background(), providers.Email{Subject: "x"}); err == nil {
		t.Fatal("expected error for empty recipient list")
	}
}
