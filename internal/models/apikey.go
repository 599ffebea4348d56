package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey represents an enterprise API key
type APIKey struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	UserID      uuid.UUID  `json:"user_id" db:"user_id"`
	KeyHash     string     `json:"-" db:"key_hash"`
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	Name        *string    `json:"name,omitempty" db:"name"`
	Permissions []string   `json:"permissions" db:"permissions"`
	RateLimit   int        `json:"rate_limit" db:"rate_limit"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// HasPermission reports whether the key may perform the given action tag.
// A key holding "admin" may perform anything.
func (k *APIKey) HasPermission(action string) bool {
	for _, p := range k.Permissions {
		if p == action || p == "admin" {
			return true
		}
	}
	return false
}
