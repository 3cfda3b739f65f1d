package stripe

import (
	"testing"

	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"gainable/config"
	"gainable/providers"
)

const secret = "whsec_test_secret"

func newTestBilling() *Billing {
	return NewBilling(&config.Config{StripeSecretKey: "sk_test_x", StripeWebhookSecret: secret}, zap.NewNop())
}

func sign(t *testing.T, payload string) ([]byte, string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: []byte(payload), Secret: secret})
	return sp.Payload, sp.Header
}

func TestParseWebhook_CheckoutCompleted(t *testing.T) {
	payload, header := sign(t, `{"id":"evt_1","object":"event","type":"checkout.session.completed","api_version":"2023-10-16",
"data":{"object":{"id":"cs_1","object":"checkout.session","client_reference_id":"42","customer":"cus_9","subscription":"sub_7"}}}`)

	ev, err := newTestBilling().ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Type != providers.EventCheckoutCompleted || ev.ExpertID != 42 || ev.SubscriptionID != "sub_7" || ev.CustomerID != "cus_9" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestParseWebhook_SubscriptionUpdated(t *testing.T) {
	payload, header := sign(t, `{"id":"evt_2","object":"event","type":"customer.subscription.updated","api_version":"2023-10-16",
"data":{"object":{"id":"sub_7","object":"subscription","customer":"cus_9","status":"active","created":1700000000,
"current_period_end":1733000000,"cancel_at_period_end":true,"metadata":{"expert_id":"42"}}}}`)

	ev, err := newTestBilling().ParseWebhook(payload, header)
	if err != nil {
		t.Fatalf("ParseWebhook: %v", err)
	}
	if ev.Subscription == nil || !ev.Subscription.CancelAtPeriodEnd || ev.Subscription.Created.Unix() != 1700000000 {
		t.Fatalf("unexpected subscription %+v", ev.Subscription)
	}
	if ev.ExpertID != 42 {
		t.Fatalf("ExpertID = %d, want 42", ev.ExpertID)
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload, _ := sign(t, `{"id":"evt_3","object":"event","type":"invoice.paid","data":{"object":{}}}`)
	if _, err := newTestBilling().ParseWebhook(payload, "t=1,v1=deadbeef"); err == nil {
		t.Fatalf("expected a signature error")
	}
}
