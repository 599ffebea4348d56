package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier represents a subscription tier
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierEnterprise:
		return true
	}
	return false
}

// User represents a user in the system
type User struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	FullName         *string    `json:"full_name,omitempty" db:"full_name"`
	Tier             Tier       `json:"subscription_tier" db:"subscription_tier"`
	StripeCustomerID *string    `json:"-" db:"stripe_customer_id"`
	TenantID         *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	IsAdmin          bool       `json:"is_admin" db:"is_admin"`
	EmailVerified    bool       `json:"email_verified" db:"email_verified"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
