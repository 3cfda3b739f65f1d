// Package providers declares the third-party collaborators the marketplace
// talks to. Each sub-package implements one of them.
package providers

import (
	"context"
	"errors"
	"time"

	"gainable/geo"
)

// ErrNotFound is returned by a provider when the looked-up entity does not exist upstream.
var ErrNotFound = errors.New("not found upstream")

// Geocoder turns a free-text address into coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (geo.Point, error)
}

// Attachment is a file sent along with an email.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Email is one outbound message.
type Email struct {
	To          []string
	Cc          []string
	ReplyTo     string
	Subject     string
	HTML        string
	Text        string
	Attachments []Attachment
}

// Mailer sends transactional email. Only the provider's immediate
// acknowledgment is awaited.
type Mailer interface {
	Send(ctx context.Context, msg Email) (string, error)
}

// Company is the registry record behind a SIRET number.
type Company struct {
	Siret      string
	Name       string
	PostalCode string
	City       string
	Active     bool
}

// CompanyRegistry looks up professionals in the government company registry.
type CompanyRegistry interface {
	LookupSiret(ctx context.Context, siret string) (*Company, error)
}

// BillingSubscription is the provider's view of a subscription.
type BillingSubscription struct {
	ID                string
	CustomerID        string
	Status            string
	PlanID            string
	Created           time.Time
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	ExpertID          uint
}

// Invoice is a billed period.
type Invoice struct {
	ID         string    `json:"id"`
	Number     string    `json:"number"`
	Status     string    `json:"status"`
	AmountPaid int64     `json:"amount_paid"`
	Currency   string    `json:"currency"`
	Created    time.Time `json:"created"`
	HostedURL  string    `json:"hosted_url,omitempty"`
	PDFURL     string    `json:"pdf_url,omitempty"`
}

// CheckoutRequest describes a subscription checkout for one expert.
type CheckoutRequest struct {
	ExpertID      uint
	CustomerEmail string
	CustomerID    string
	SuccessURL    string
	CancelURL     string
}

// BillingEventType enumerates the webhook events the marketplace reacts to.
type BillingEventType string

const (
	EventCheckoutCompleted   BillingEventType = "checkout.session.completed"
	EventInvoicePaid         BillingEventType = "invoice.paid"
	EventSubscriptionUpdated BillingEventType = "customer.subscription.updated"
	EventSubscriptionDeleted BillingEventType = "customer.subscription.deleted"
)

// BillingEvent is a verified webhook event reduced to what the marketplace needs.
type BillingEvent struct {
	ID             string
	Type           BillingEventType
	SubscriptionID string
	CustomerID     string
	ExpertID       uint
	// Subscription is filled for subscription.* events.
	Subscription *BillingSubscription
}

// BillingProvider is the subscription billing backend (Stripe in production).
type BillingProvider interface {
	GetSubscription(ctx context.Context, id string) (*BillingSubscription, error)
	CancelAtPeriodEnd(ctx context.Context, id string) (*BillingSubscription, error)
	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	ParseWebhook(payload []byte, signature string) (*BillingEvent, error)
}

// ArticleAssistant drafts a structured article outline for an expert.
type ArticleAssistant interface {
	SuggestOutline(ctx context.Context, topic, city string) ([]byte, error)
}
