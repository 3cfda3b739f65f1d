package models

import "time"

// Subscription mirrors the billing provider's subscription for one expert.
// The provider is authoritative; this row is refreshed from webhooks.
type Subscription struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ExpertID             uint   `json:"expert_id" gorm:"uniqueIndex;not null"`
	StripeSubscriptionID string `json:"stripe_subscription_id" gorm:"uniqueIndex;not null"`
	StripeCustomerID     string `json:"stripe_customer_id" gorm:"index"`

	Status            string     `json:"status" gorm:"type:varchar(32);index"`
	PlanID            string     `json:"plan_id"`
	CurrentPeriodEnd  *time.Time `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end" gorm:"default:false"`
}

// TableName sets the table name explicitly.
func (Subscription) TableName() string {
	return "subscriptions"
}
