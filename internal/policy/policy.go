// Package policy implements the platform's single allow/deny gate.
//
// Subscription usage limits, per-document DRM limits, and white-label
// feature flags all evaluate through the same contract: a subject, an
// action tag, and a resolved policy produce a Decision, with an atomic
// counter increment on Allow and an audit record for every evaluation.
package policy

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/audit"
	"github.com/snackpdf/platform/internal/models"
)

// Action tags drawn from the platform's fixed vocabulary.
const (
	ActionMerge       = "pdf:merge"
	ActionSplit       = "pdf:split"
	ActionCompress    = "pdf:compress"
	ActionConvert     = "pdf:convert"
	ActionOCR         = "pdf:ocr"
	ActionExtractText = "pdf:extract_text"
	ActionRotate      = "pdf:rotate"
	ActionWatermark   = "pdf:watermark"
	ActionProtect     = "pdf:protect"
	ActionBatch       = "pdf:batch"
	ActionUpload      = "file:upload"
	ActionView        = "view"
	ActionDownload    = "download"
	ActionPrint       = "print"
)

// Denial reasons. These strings are part of the client-visible contract.
const (
	ReasonPolicyExpired      = "policy expired"
	ReasonActionNotPermitted = "action not permitted"
	ReasonAddressNotAllowed  = "address not allowed"
	ReasonLimitExceeded      = "limit exceeded"
)

// Subject identifies who is requesting an action. Resolution happens
// upstream of the gate; the gate only consumes the result.
type Subject struct {
	ID    string
	Class models.SubjectClass
	Addr  string // client address, used for CIDR allowlists
}

// Decision is the outcome of one evaluation. Reason is empty on Allow.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	// Remaining is the count left in the current period after this
	// evaluation. Negative when the policy carries no counter.
	Remaining int64 `json:"remaining"`
}

// ConfigurationError reports policy parameters that make the counter
// semantics undefined. It is a setup fault, not a business outcome.
type ConfigurationError struct {
	Field string
	Value int64
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid policy configuration: %s = %d", e.Field, e.Value)
}

// Gate evaluates policies against subjects and persists the side effects.
type Gate struct {
	counters CounterStore
	recorder audit.Recorder
	// defaultAllow controls the no-policy-configured case. Inherited
	// from the previous platform as a documented soft-launch default.
	defaultAllow bool
}

// NewGate creates a gate. The recorder must never block; pass an
// audit.Sink in production.
func NewGate(counters CounterStore, recorder audit.Recorder, defaultAllow bool) *Gate {
	return &Gate{
		counters:     counters,
		recorder:     recorder,
		defaultAllow: defaultAllow,
	}
}

// Evaluate decides whether subject may perform action under policy at
// the supplied clock reading. A nil policy falls back to the configured
// default posture. Business-rule failures are Deny decisions, never
// errors; the only error conditions are invalid policy parameters and
// counter-store failures.
func (g *Gate) Evaluate(ctx context.Context, subject Subject, action string, pol *models.Policy, now time.Time) (Decision, error) {
	if pol == nil {
		decision := Decision{Allowed: g.defaultAllow, Remaining: -1}
		if !g.defaultAllow {
			decision.Reason = ReasonActionNotPermitted
		}
		g.finish(ctx, subject, action, "", decision, now)
		return decision, nil
	}

	if pol.MaxCount <= 0 {
		return Decision{}, &ConfigurationError{Field: "max_count", Value: pol.MaxCount}
	}
	if pol.PeriodLength <= 0 {
		return Decision{}, &ConfigurationError{Field: "period_length", Value: int64(pol.PeriodLength)}
	}

	if pol.ExpiresAt != nil && !now.Before(*pol.ExpiresAt) {
		return g.deny(ctx, subject, action, pol, ReasonPolicyExpired, now), nil
	}

	if !pol.PermitsAction(action) {
		return g.deny(ctx, subject, action, pol, ReasonActionNotPermitted, now), nil
	}

	if len(pol.IPAllowlist) > 0 && !addrAllowed(subject.Addr, pol.IPAllowlist) {
		return g.deny(ctx, subject, action, pol, ReasonAddressNotAllowed, now), nil
	}

	key := CounterKey(subject.ID, action, PeriodIndex(now, pol.PeriodLength))
	value, incremented, err := g.counters.IncrementIfBelow(ctx, key, pol.MaxCount, counterTTL(pol.PeriodLength))
	if err != nil {
		return Decision{}, fmt.Errorf("failed to update counter for %s: %w", key, err)
	}

	if !incremented {
		decision := g.deny(ctx, subject, action, pol, ReasonLimitExceeded, now)
		return decision, nil
	}

	decision := Decision{Allowed: true, Remaining: pol.MaxCount - value}
	g.finish(ctx, subject, action, pol.ID.String(), decision, now)
	return decision, nil
}

func (g *Gate) deny(ctx context.Context, subject Subject, action string, pol *models.Policy, reason string, now time.Time) Decision {
	decision := Decision{Allowed: false, Reason: reason}
	g.finish(ctx, subject, action, pol.ID.String(), decision, now)
	return decision
}

// finish emits the audit record and the decision log entry. Runs for
// every decision, Allow and Deny alike.
func (g *Gate) finish(ctx context.Context, subject Subject, action, policyID string, decision Decision, now time.Time) {
	var subjectID *string
	if subject.Class != models.SubjectAnonymous && subject.ID != "" {
		id := subject.ID
		subjectID = &id
	}

	metadata := map[string]any{
		"subject_class": string(subject.Class),
	}
	if policyID != "" {
		metadata["policy_id"] = policyID
	}
	if subject.Addr != "" {
		metadata["addr"] = subject.Addr
	}

	g.recorder.Record(ctx, audit.NewEvent(subjectID, action, decision.Allowed, decision.Reason, now, metadata))

	if !decision.Allowed {
		log.Debug().
			Str("subject_id", subject.ID).
			Str("action", action).
			Str("policy_id", policyID).
			Str("reason", decision.Reason).
			Msg("Policy denied")
	}
}

// PeriodIndex derives the counter window for a clock reading. Windows
// are aligned to the Unix epoch, so rollover needs no reset job: an
// idle gate self-heals at the next boundary because a new period uses a
// new key.
func PeriodIndex(now time.Time, periodLength time.Duration) int64 {
	return now.UnixNano() / int64(periodLength)
}

// CounterKey builds the storage key for a (subject, action, period) tuple.
func CounterKey(subjectID, action string, periodIndex int64) string {
	return fmt.Sprintf("gate:%s:%s:%d", subjectID, action, periodIndex)
}

// counterTTL keeps spent counter keys around for one extra period so
// in-flight requests at a boundary still see a consistent window.
func counterTTL(periodLength time.Duration) time.Duration {
	return 2 * periodLength
}

func addrAllowed(addr string, allowlist []string) bool {
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	for _, cidr := range allowlist {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			continue
		}
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}
