package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the payment processor's subscription state.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription records the reconciled state of a Stripe subscription.
type Subscription struct {
	ID                   uuid.UUID          `json:"id" db:"id"`
	UserID               uuid.UUID          `json:"user_id" db:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id" db:"stripe_subscription_id"`
	StripePriceID        string             `json:"stripe_price_id" db:"stripe_price_id"`
	Tier                 Tier               `json:"tier" db:"tier"`
	Status               SubscriptionStatus `json:"status" db:"status"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end" db:"current_period_end"`
	CreatedAt            time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" db:"updated_at"`
}
