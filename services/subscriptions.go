package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gainable/config"
	"gainable/models"
	"gainable/providers"
)

const billingProvider = "stripe"

// SubscriptionCanceled is the local status of a subscription the provider deleted.
const SubscriptionCanceled = "canceled"

// CancellationWindowStart returns the first moment a subscription created at
// created may be cancelled: one calendar month before its first anniversary.
func CancellationWindowStart(created time.Time) time.Time {
	return created.AddDate(1, 0, 0).AddDate(0, -1, 0)
}

// CanCancel reports whether the commitment window is open at now.
func CanCancel(created, now time.Time) bool {
	return now.After(CancellationWindowStart(created))
}

// SubscriptionService manages expert subscriptions against the billing provider.
type SubscriptionService struct {
	Config  *config.Config
	DB      *gorm.DB
	Billing providers.BillingProvider
	Logger  *zap.Logger
	Metrics *Metrics
	Now     func() time.Time
}

// NewSubscriptionService creates a new SubscriptionService.
func NewSubscriptionService(cfg *config.Config, db *gorm.DB, billing providers.BillingProvider, logger *zap.Logger, m *Metrics) *SubscriptionService {
	return &SubscriptionService{Config: cfg, DB: db, Billing: billing, Logger: logger, Metrics: m, Now: time.Now}
}

// Get returns the local subscription of an expert.
func (s *SubscriptionService) Get(ctx context.Context, expertID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.DB.WithContext(ctx).Where("expert_id = ?", expertID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Cancel schedules the expert's subscription to end with the current period,
// provided the commitment window is open. Nothing is written locally before
// the provider confirms.
func (s *SubscriptionService) Cancel(ctx context.Context, expertID uint) (*models.Subscription, error) {
	sub, err := s.Get(ctx, expertID)
	if err != nil {
		return nil, err
	}

	remote, err := s.Billing.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		s.Metrics.Cancellations.WithLabelValues("upstream_error").Inc()
		s.Logger.Error("Failed to retrieve subscription from billing provider",
			zap.String("subscription_id", sub.StripeSubscriptionID), zap.Error(err))
		return nil, &UpstreamError{Provider: billingProvider, Err: err}
	}

	created := remote.Created
	if created.IsZero() {
		created = sub.CreatedAt
	}
	if !CanCancel(created, s.Now()) {
		unlock := CancellationWindowStart(created)
		s.Metrics.Cancellations.WithLabelValues("locked").Inc()
		return nil, &PolicyError{
			Reason:     "la résiliation n'est possible que durant le dernier mois de l'engagement de 12 mois",
			UnlockDate: &unlock,
			Code:       http.StatusBadRequest,
		}
	}

	updated, err := s.Billing.CancelAtPeriodEnd(ctx, sub.StripeSubscriptionID)
	if err != nil {
		s.Metrics.Cancellations.WithLabelValues("upstream_error").Inc()
		s.Logger.Error("Billing provider refused cancellation",
			zap.String("subscription_id", sub.StripeSubscriptionID), zap.Error(err))
		return nil, &UpstreamError{Provider: billingProvider, Err: err}
	}
	s.Metrics.Cancellations.WithLabelValues("scheduled").Inc()

	mirror(sub, updated)
	sub.CancelAtPeriodEnd = true
	// The provider already holds the cancellation; the next webhook repairs a failed cache write.
	if err := s.DB.WithContext(ctx).Save(sub).Error; err != nil {
		s.Logger.Error("Cancellation scheduled but local subscription not updated",
			zap.Uint("expert_id", expertID), zap.Error(err))
	}
	s.Logger.Info("Subscription set to cancel at period end",
		zap.Uint("expert_id", expertID),
		zap.String("subscription_id", sub.StripeSubscriptionID))
	return sub, nil
}

// Checkout opens a billing checkout for the expert and returns its URL.
func (s *SubscriptionService) Checkout(ctx context.Context, expertID uint) (string, error) {
	var expert models.Expert
	if err := s.DB.WithContext(ctx).First(&expert, expertID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}

	req := providers.CheckoutRequest{
		ExpertID:      expert.ID,
		CustomerEmail: expert.Email,
		SuccessURL:    s.Config.PublicBaseURL + "/espace-pro/abonnement?checkout=success",
		CancelURL:     s.Config.PublicBaseURL + "/espace-pro/abonnement?checkout=cancel",
	}
	if sub, err := s.Get(ctx, expertID); err == nil {
		if sub.Status == "active" || sub.Status == "trialing" {
			return "", &PolicyError{Reason: "un abonnement est déjà actif", Code: http.StatusBadRequest}
		}
		req.CustomerID = sub.StripeCustomerID
	}

	url, err := s.Billing.CreateCheckoutSession(ctx, req)
	if err != nil {
		return "", &UpstreamError{Provider: billingProvider, Err: err}
	}
	return url, nil
}

// Invoices lists the billed periods of the expert's subscription.
func (s *SubscriptionService) Invoices(ctx context.Context, expertID uint) ([]providers.Invoice, error) {
	sub, err := s.Get(ctx, expertID)
	if err != nil {
		return nil, err
	}
	if sub.StripeCustomerID == "" {
		return []providers.Invoice{}, nil
	}
	invoices, err := s.Billing.ListInvoices(ctx, sub.StripeCustomerID)
	if err != nil {
		return nil, &UpstreamError{Provider: billingProvider, Err: err}
	}
	return invoices, nil
}

// HandleWebhook verifies a billing webhook and applies it to the local cache.
func (s *SubscriptionService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.Billing.ParseWebhook(payload, signature)
	if err != nil {
		s.Logger.Warn("Rejected billing webhook", zap.Error(err))
		return invalid("signature", "webhook signature invalide")
	}
	return s.ApplyEvent(ctx, ev)
}

// ApplyEvent mirrors a verified billing event into the local tables.
func (s *SubscriptionService) ApplyEvent(ctx context.Context, ev *providers.BillingEvent) error {
	log := s.Logger.With(zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))

	switch ev.Type {
	case providers.EventCheckoutCompleted:
		if ev.ExpertID == 0 || ev.SubscriptionID == "" {
			log.Warn("Checkout event without expert or subscription, ignoring")
			return nil
		}
		remote, err := s.Billing.GetSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			return &UpstreamError{Provider: billingProvider, Err: err}
		}
		remote.ExpertID = ev.ExpertID
		if remote.CustomerID == "" {
			remote.CustomerID = ev.CustomerID
		}
		return s.upsert(ctx, remote, func(tx *gorm.DB) error {
			return tx.Model(&models.Expert{}).
				Where("id = ? AND status = ?", ev.ExpertID, models.ExpertPendingPayment).
				Update("status", models.ExpertActive).Error
		})

	case providers.EventInvoicePaid:
		if ev.SubscriptionID == "" {
			return nil
		}
		remote, err := s.Billing.GetSubscription(ctx, ev.SubscriptionID)
		if err != nil {
			return &UpstreamError{Provider: billingProvider, Err: err}
		}
		return s.refresh(ctx, remote, log)

	case providers.EventSubscriptionUpdated:
		if ev.Subscription == nil {
			return nil
		}
		if ev.Subscription.ExpertID != 0 {
			return s.upsert(ctx, ev.Subscription, nil)
		}
		return s.refresh(ctx, ev.Subscription, log)

	case providers.EventSubscriptionDeleted:
		var sub models.Subscription
		err := s.DB.WithContext(ctx).Where("stripe_subscription_id = ?", ev.SubscriptionID).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Deleted subscription unknown locally", zap.String("subscription_id", ev.SubscriptionID))
			return nil
		}
		if err != nil {
			return err
		}
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&sub).Updates(map[string]any{"status": SubscriptionCanceled, "cancel_at_period_end": false}).Error; err != nil {
				return err
			}
			return tx.Model(&models.Expert{}).Where("id = ?", sub.ExpertID).
				Update("status", models.ExpertSuspended).Error
		})
	}

	log.Debug("Ignoring billing event")
	return nil
}

// upsert creates or refreshes the subscription row of remote.ExpertID and runs
// extra inside the same transaction.
func (s *SubscriptionService) upsert(ctx context.Context, remote *providers.BillingSubscription, extra func(tx *gorm.DB) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sub models.Subscription
		err := tx.Where("expert_id = ?", remote.ExpertID).First(&sub).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sub = models.Subscription{ExpertID: remote.ExpertID, CreatedAt: remote.Created}
		case err != nil:
			return err
		}
		if sub.StripeSubscriptionID != remote.ID && !remote.Created.IsZero() {
			// A new subscription restarts the commitment.
			sub.CreatedAt = remote.Created
		}
		mirror(&sub, remote)
		if err := tx.Save(&sub).Error; err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
}

// refresh updates an existing row by provider ID. Unknown IDs are ignored.
func (s *SubscriptionService) refresh(ctx context.Context, remote *providers.BillingSubscription, log *zap.Logger) error {
	var sub models.Subscription
	err := s.DB.WithContext(ctx).Where("stripe_subscription_id = ?", remote.ID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("Subscription unknown locally", zap.String("subscription_id", remote.ID))
		return nil
	}
	if err != nil {
		return err
	}
	mirror(&sub, remote)
	return s.DB.WithContext(ctx).Save(&sub).Error
}

// SyncAll refreshes every local subscription from the provider.
func (s *SubscriptionService) SyncAll(ctx context.Context) (int, error) {
	var subs []models.Subscription
	if err := s.DB.WithContext(ctx).Where("status <> ?", SubscriptionCanceled).Find(&subs).Error; err != nil {
		return 0, err
	}
	synced := 0
	for i := range subs {
		remote, err := s.Billing.GetSubscription(ctx, subs[i].StripeSubscriptionID)
		if err != nil {
			return synced, &UpstreamError{Provider: billingProvider, Err: err}
		}
		mirror(&subs[i], remote)
		if err := s.DB.WithContext(ctx).Save(&subs[i]).Error; err != nil {
			return synced, err
		}
		synced++
	}
	return synced, nil
}

func mirror(sub *models.Subscription, remote *providers.BillingSubscription) {
	if remote.ID != "" {
		sub.StripeSubscriptionID = remote.ID
	}
	if remote.CustomerID != "" {
		sub.StripeCustomerID = remote.CustomerID
	}
	if remote.Status != "" {
		sub.Status = remote.Status
	}
	if remote.PlanID != "" {
		sub.PlanID = remote.PlanID
	}
	if !remote.CurrentPeriodEnd.IsZero() {
		end := remote.CurrentPeriodEnd
		sub.CurrentPeriodEnd = &end
	}
	sub.CancelAtPeriodEnd = remote.CancelAtPeriodEnd
}
