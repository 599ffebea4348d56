package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

func testStripeConfig() *config.StripeConfig {
	return &config.StripeConfig{
		WebhookSecret:     "whsec_test",
		SuccessURL:        "https://app.example.com/billing/success",
		CancelURL:         "https://app.example.com/billing/cancel",
		PortalURL:         "https://app.example.com/billing",
		ProMonthlyPriceID: "price_pro_monthly",
		ProYearlyPriceID:  "price_pro_yearly",
		EnterprisePriceID: "price_enterprise",
	}
}

func TestPlans_Catalog(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	plans := svc.Plans()
	require.Len(t, plans, 3)
	assert.Equal(t, "pro_monthly", plans[0].Key)
	assert.Equal(t, "pro_yearly", plans[1].Key)
	assert.Equal(t, "enterprise", plans[2].Key)

	for _, plan := range plans {
		assert.NotEmpty(t, plan.Name)
		assert.NotEmpty(t, plan.PriceID)
		assert.NotEmpty(t, plan.Features)
	}

	monthly, ok := svc.PlanByKey("pro_monthly")
	require.True(t, ok)
	assert.Equal(t, models.TierPro, monthly.Tier)

	enterprise, ok := svc.PlanByKey("enterprise")
	require.True(t, ok)
	assert.Equal(t, models.TierEnterprise, enterprise.Tier)

	_, ok = svc.PlanByKey("lifetime")
	assert.False(t, ok)
}

func TestTierForPriceID(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	assert.Equal(t, models.TierPro, svc.TierForPriceID("price_pro_monthly"))
	assert.Equal(t, models.TierPro, svc.TierForPriceID("price_pro_yearly"))
	assert.Equal(t, models.TierEnterprise, svc.TierForPriceID("price_enterprise"))

	// Unknown or missing prices never grant a paid tier.
	assert.Equal(t, models.TierFree, svc.TierForPriceID("price_deleted_legacy"))
	assert.Equal(t, models.TierFree, svc.TierForPriceID(""))
}

func TestMapSubscriptionStatus(t *testing.T) {
	cases := map[stripe.SubscriptionStatus]models.SubscriptionStatus{
		stripe.SubscriptionStatusActive:            models.SubscriptionActive,
		stripe.SubscriptionStatusTrialing:          models.SubscriptionActive,
		stripe.SubscriptionStatusPastDue:           models.SubscriptionPastDue,
		stripe.SubscriptionStatusUnpaid:            models.SubscriptionPastDue,
		stripe.SubscriptionStatusCanceled:          models.SubscriptionCanceled,
		stripe.SubscriptionStatusIncompleteExpired: models.SubscriptionCanceled,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapSubscriptionStatus(in), "status %s", in)
	}
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	payload := []byte(`{"type":"checkout.session.completed"}`)
	err := svc.HandleWebhook(context.Background(), payload, "t=123,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidWebhookSig)

	err = svc.HandleWebhook(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidWebhookSig)
}

func TestHandleWebhook_IgnoresUnhandledEventTypes(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	event := stripe.Event{Type: "customer.updated"}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	err = svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, "whsec_test"))
	assert.NoError(t, err)
}

func TestHandleWebhook_AcceptsOtherAPIVersions(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	// Accounts pinned to older API versions sign perfectly valid
	// events; only the signature decides acceptance.
	event := stripe.Event{Type: "customer.updated", APIVersion: "2020-08-27"}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	err = svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, "whsec_test"))
	assert.NoError(t, err)

	// A version mismatch never excuses a bad signature.
	err = svc.HandleWebhook(context.Background(), payload, signPayload(t, payload, "whsec_wrong"))
	assert.ErrorIs(t, err, ErrInvalidWebhookSig)
}

func TestCreateCheckoutSession_UnknownPlan(t *testing.T) {
	svc := NewService(nil, testStripeConfig())

	_, err := svc.CreateCheckoutSession(context.Background(), uuid.New(), &CreateCheckoutRequest{PlanKey: "platinum"})
	assert.ErrorIs(t, err, ErrUnknownPlan)

	// A plan with no configured price cannot be purchased either.
	cfg := testStripeConfig()
	cfg.EnterprisePriceID = ""
	svc = NewService(nil, cfg)
	_, err = svc.CreateCheckoutSession(context.Background(), uuid.New(), &CreateCheckoutRequest{PlanKey: "enterprise"})
	assert.ErrorIs(t, err, ErrUnknownPlan)
}

func signPayload(t *testing.T, payload []byte, secret string) string {
	t.Helper()
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, secret)
	return fmt.Sprintf("t=%d,v1=%x", now.Unix(), sig)
}
