package models

import (
	"time"

	"github.com/google/uuid"
)

// PolicyKind distinguishes the three uses of the policy gate.
type PolicyKind string

const (
	PolicyKindUsage   PolicyKind = "usage"   // subscription tier operation limits
	PolicyKindDRM     PolicyKind = "drm"     // per-document access limits
	PolicyKindFeature PolicyKind = "feature" // white-label feature flags
)

// SubjectClass identifies who a policy applies to.
type SubjectClass string

const (
	SubjectUser      SubjectClass = "user"
	SubjectAPIKey    SubjectClass = "api_key"
	SubjectAnonymous SubjectClass = "anonymous"
	SubjectTenant    SubjectClass = "tenant"
)

// Policy is a named set of constraints for a (subject-class, action) pair.
// Immutable once created except for explicit administrative edits.
type Policy struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	Name           string        `json:"name" db:"name"`
	Kind           PolicyKind    `json:"kind" db:"kind"`
	SubjectClass   SubjectClass  `json:"subject_class" db:"subject_class"`
	MaxCount       int64         `json:"max_count" db:"max_count"`
	PeriodLength   time.Duration `json:"period_length" db:"period_length"`
	AllowedActions []string      `json:"allowed_actions" db:"allowed_actions"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty" db:"expires_at"`
	IPAllowlist    []string      `json:"ip_allowlist,omitempty" db:"ip_allowlist"`
	CreatedBy      *uuid.UUID    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at" db:"updated_at"`
	RevokedAt      *time.Time    `json:"revoked_at,omitempty" db:"revoked_at"`
}

// PermitsAction reports whether the action tag is covered by the policy.
// An empty AllowedActions set permits every action.
func (p *Policy) PermitsAction(action string) bool {
	if len(p.AllowedActions) == 0 {
		return true
	}
	for _, a := range p.AllowedActions {
		if a == action {
			return true
		}
	}
	return false
}
