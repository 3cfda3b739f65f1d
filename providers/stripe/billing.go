package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"gainable/config"
	"gainable/providers"
)

const expertIDKey = "expert_id"

// Billing implements providers.BillingProvider on top of the Stripe API.
type Billing struct {
	Config *config.Config
	Logger *zap.Logger
	api    *client.API
}

// NewBilling creates a Stripe-backed billing provider.
func NewBilling(cfg *config.Config, logger *zap.Logger) *Billing {
	api := &client.API{}
	api.Init(cfg.StripeSecretKey, nil)
	return &Billing{Config: cfg, Logger: logger, api: api}
}

// GetSubscription retrieves a subscription by its Stripe ID.
func (b *Billing) GetSubscription(ctx context.Context, id string) (*providers.BillingSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := b.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	return toSubscription(sub), nil
}

// CancelAtPeriodEnd schedules the subscription to end with its current period.
func (b *Billing) CancelAtPeriodEnd(ctx context.Context, id string) (*providers.BillingSubscription, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := b.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, mapError(err)
	}
	b.Logger.Info("Stripe subscription set to cancel at period end", zap.String("subscription_id", id))
	return toSubscription(sub), nil
}

// ListInvoices lists the most recent invoices of a customer.
func (b *Billing) ListInvoices(ctx context.Context, customerID string) ([]providers.Invoice, error) {
	params := &stripe.InvoiceListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	params.Limit = stripe.Int64(24)

	var out []providers.Invoice
	it := b.api.Invoices.List(params)
	for it.Next() {
		inv := it.Invoice()
		out = append(out, providers.Invoice{
			ID:         inv.ID,
			Number:     inv.Number,
			Status:     string(inv.Status),
			AmountPaid: inv.AmountPaid,
			Currency:   string(inv.Currency),
			Created:    time.Unix(inv.Created, 0).UTC(),
			HostedURL:  inv.HostedInvoiceURL,
			PDFURL:     inv.InvoicePDF,
		})
	}
	if err := it.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

// CreateCheckoutSession opens a subscription checkout and returns its URL.
func (b *Billing) CreateCheckoutSession(ctx context.Context, req providers.CheckoutRequest) (string, error) {
	expertID := strconv.FormatUint(uint64(req.ExpertID), 10)
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(b.Config.StripePriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(expertID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{expertIDKey: expertID},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(expertIDKey, expertID)
	params.Context = ctx

	s, err := b.api.CheckoutSessions.New(params)
	if err != nil {
		return "", mapError(err)
	}
	b.Logger.Info("Stripe checkout session created", zap.String("session_id", s.ID), zap.Uint("expert_id", req.ExpertID))
	return s.URL, nil
}

// ParseWebhook verifies the Stripe signature and decodes the events the
// marketplace handles. Other event types come back with only ID and Type set.
func (b *Billing) ParseWebhook(payload []byte, signature string) (*providers.BillingEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, b.Config.StripeWebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("verify webhook signature: %w", err)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (*providers.BillingEvent, error) {
	out := &providers.BillingEvent{ID: event.ID, Type: providers.BillingEventType(event.Type)}
	if event.Data == nil {
		return out, nil
	}

	switch out.Type {
	case providers.EventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		if s.Subscription != nil {
			out.SubscriptionID = s.Subscription.ID
		}
		if s.Customer != nil {
			out.CustomerID = s.Customer.ID
		}
		out.ExpertID = parseExpertID(s.ClientReferenceID)
		if out.ExpertID == 0 {
			out.ExpertID = parseExpertID(s.Metadata[expertIDKey])
		}
	case providers.EventInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
	case providers.EventSubscriptionUpdated, providers.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		out.Subscription = toSubscription(&sub)
		out.SubscriptionID = sub.ID
		out.CustomerID = out.Subscription.CustomerID
		out.ExpertID = out.Subscription.ExpertID
	}
	return out, nil
}

func toSubscription(sub *stripe.Subscription) *providers.BillingSubscription {
	out := &providers.BillingSubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		Created:           time.Unix(sub.Created, 0).UTC(),
		CurrentPeriodEnd:  time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		ExpertID:          parseExpertID(sub.Metadata[expertIDKey]),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PlanID = sub.Items.Data[0].Price.ID
	}
	return out
}

func parseExpertID(s string) uint {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

func mapError(err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.Code == stripe.ErrorCodeResourceMissing {
		return fmt.Errorf("%w: %s", providers.ErrNotFound, serr.Msg)
	}
	return err
}
