package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/monitoring"
	"github.com/stripe/stripe-go/v76"
	portalsession "github.com/stripe/stripe-go/v76/billingportal/session"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Service errors
var (
	ErrInvalidWebhookSig = errors.New("invalid webhook signature")
	ErrUnknownPlan       = errors.New("unknown subscription plan")
	ErrUserNotFound      = errors.New("user not found")
	ErrNoCustomer        = errors.New("user has no billing account")
)

// Plan describes a purchasable subscription. Price is the display
// amount; the charged amount always comes from the Stripe price object.
type Plan struct {
	Key      string          `json:"key"`
	Name     string          `json:"name"`
	Tier     models.Tier     `json:"tier"`
	PriceID  string          `json:"-"`
	Price    decimal.Decimal `json:"price"`
	Interval string          `json:"interval"`
	Features []string        `json:"features"`
}

// Service handles subscription billing through Stripe.
type Service struct {
	db     *pgxpool.Pool
	config *config.StripeConfig
	plans  map[string]Plan
}

// NewService creates a billing service and registers the plan catalog.
func NewService(db *pgxpool.Pool, cfg *config.StripeConfig) *Service {
	if cfg.SecretKey != "" {
		stripe.Key = cfg.SecretKey
	}

	plans := map[string]Plan{
		"pro_monthly": {
			Key:      "pro_monthly",
			Name:     "Pro Monthly",
			Tier:     models.TierPro,
			PriceID:  cfg.ProMonthlyPriceID,
			Price:    decimal.RequireFromString("9.99"),
			Interval: "month",
			Features: []string{
				"Unlimited PDF operations",
				"Advanced tools (OCR, compression)",
				"Priority processing",
				"Email support",
			},
		},
		"pro_yearly": {
			Key:      "pro_yearly",
			Name:     "Pro Yearly",
			Tier:     models.TierPro,
			PriceID:  cfg.ProYearlyPriceID,
			Price:    decimal.RequireFromString("99.99"),
			Interval: "year",
			Features: []string{
				"Unlimited PDF operations",
				"Advanced tools (OCR, compression)",
				"Priority processing",
				"Email support",
				"2 months free",
			},
		},
		"enterprise": {
			Key:      "enterprise",
			Name:     "Enterprise",
			Tier:     models.TierEnterprise,
			PriceID:  cfg.EnterprisePriceID,
			Price:    decimal.RequireFromString("49.99"),
			Interval: "month",
			Features: []string{
				"Everything in Pro",
				"API access",
				"White-label options",
				"Custom integrations",
				"Phone support",
			},
		},
	}

	return &Service{
		db:     db,
		config: cfg,
		plans:  plans,
	}
}

// Plans returns the purchasable plan catalog.
func (s *Service) Plans() []Plan {
	out := make([]Plan, 0, len(s.plans))
	for _, key := range []string{"pro_monthly", "pro_yearly", "enterprise"} {
		out = append(out, s.plans[key])
	}
	return out
}

// PlanByKey looks up a plan.
func (s *Service) PlanByKey(key string) (Plan, bool) {
	plan, ok := s.plans[key]
	return plan, ok
}

// TierForPriceID maps a Stripe price to a tier; unknown prices mean free.
func (s *Service) TierForPriceID(priceID string) models.Tier {
	if priceID == "" {
		return models.TierFree
	}
	for _, plan := range s.plans {
		if plan.PriceID == priceID {
			return plan.Tier
		}
	}
	return models.TierFree
}

// CreateCheckoutRequest represents a checkout session creation request
type CreateCheckoutRequest struct {
	PlanKey string `json:"plan" binding:"required"`
}

// CreateCheckoutResponse represents a checkout session creation response
type CreateCheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutSession creates a Stripe checkout session for a
// subscription plan, creating the Stripe customer on first purchase.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uuid.UUID, req *CreateCheckoutRequest) (*CreateCheckoutResponse, error) {
	plan, ok := s.plans[req.PlanKey]
	if !ok || plan.PriceID == "" {
		return nil, ErrUnknownPlan
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(customerID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(plan.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.config.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.config.CancelURL),
		Metadata: map[string]string{
			"user_id": userID.String(),
			"plan":    plan.Key,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create Stripe checkout session: %w", err)
	}

	monitoring.RecordSubscriptionEvent(plan.Key, "checkout_started")

	return &CreateCheckoutResponse{
		SessionID:   sess.ID,
		CheckoutURL: sess.URL,
	}, nil
}

// CreatePortalSession creates a Stripe customer portal session so a
// subscriber can manage billing themselves.
func (s *Service) CreatePortalSession(ctx context.Context, userID uuid.UUID) (string, error) {
	var customerID *string
	err := s.db.QueryRow(ctx, "SELECT stripe_customer_id FROM users WHERE id = $1", userID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if customerID == nil || *customerID == "" {
		return "", ErrNoCustomer
	}

	sess, err := portalsession.New(&stripe.BillingPortalSessionParams{
		Customer:  stripe.String(*customerID),
		ReturnURL: stripe.String(s.config.PortalURL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}

	return sess.URL, nil
}

// ensureCustomer returns the user's Stripe customer ID, creating the
// customer first if the user never purchased anything.
func (s *Service) ensureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	var email string
	var fullName *string
	var customerID *string
	err := s.db.QueryRow(ctx, `
		SELECT email, full_name, stripe_customer_id FROM users WHERE id = $1
	`, userID).Scan(&email, &fullName, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to look up user: %w", err)
	}

	if customerID != nil && *customerID != "" {
		return *customerID, nil
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"user_id": userID.String(),
		},
	}
	if fullName != nil {
		params.Name = stripe.String(*fullName)
	}

	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	_, err = s.db.Exec(ctx, "UPDATE users SET stripe_customer_id = $1 WHERE id = $2", cust.ID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to store customer ID: %w", err)
	}

	return cust.ID, nil
}

// HandleWebhook processes Stripe webhook events. Accounts pinned to a
// different Stripe API version still sign valid events, so version
// mismatch is not treated as a bad signature.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		monitoring.RecordWebhookEvent("unknown", "bad_signature")
		return ErrInvalidWebhookSig
	}

	err = s.dispatchEvent(ctx, event)
	status := "ok"
	if err != nil {
		status = "error"
	}
	monitoring.RecordWebhookEvent(string(event.Type), status)
	return err
}

func (s *Service) dispatchEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return s.handlePaymentSucceeded(ctx, event)
	case "invoice.payment_failed":
		return s.handlePaymentFailed(ctx, event)
	default:
		// Ignore other event types
		return nil
	}
}

// handleCheckoutCompleted records the new subscription from the
// completed checkout session's metadata.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	userIDStr := sess.Metadata["user_id"]
	if userIDStr == "" {
		return fmt.Errorf("missing user_id in session metadata")
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return fmt.Errorf("invalid user_id: %w", err)
	}

	plan, ok := s.plans[sess.Metadata["plan"]]
	if !ok {
		return ErrUnknownPlan
	}

	_, err = s.db.Exec(ctx, `
		UPDATE users SET subscription_tier = $1 WHERE id = $2
	`, plan.Tier, userID)
	if err != nil {
		return fmt.Errorf("failed to update user tier: %w", err)
	}

	monitoring.RecordSubscriptionEvent(plan.Key, "activated")
	log.Info().
		Str("user_id", userID.String()).
		Str("plan", plan.Key).
		Msg("Subscription activated")
	return nil
}

// handleSubscriptionChanged reconciles the stored subscription and the
// user's tier with the processor's state.
func (s *Service) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	userID, err := s.userByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}

	priceID := ""
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	tier := s.TierForPriceID(priceID)
	status := mapSubscriptionStatus(sub.Status)

	// An inactive subscription never grants a paid tier.
	effectiveTier := tier
	if status != models.SubscriptionActive {
		effectiveTier = models.TierFree
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO subscriptions (user_id, stripe_subscription_id, stripe_price_id, tier, status, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			stripe_price_id = EXCLUDED.stripe_price_id,
			tier = EXCLUDED.tier,
			status = EXCLUDED.status,
			current_period_end = EXCLUDED.current_period_end,
			updated_at = NOW()
	`, userID, sub.ID, priceID, tier, status, time.Unix(sub.CurrentPeriodEnd, 0))
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET subscription_tier = $1 WHERE id = $2
	`, effectiveTier, userID)
	if err != nil {
		return fmt.Errorf("failed to update user tier: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Str("user_id", userID.String()).
		Str("status", string(status)).
		Str("tier", string(effectiveTier)).
		Msg("Subscription reconciled")
	return nil
}

// handleSubscriptionDeleted drops the user back to the free tier.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription: %w", err)
	}

	userID, err := s.userByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE subscriptions SET status = $1, updated_at = NOW()
		WHERE stripe_subscription_id = $2
	`, models.SubscriptionCanceled, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to cancel subscription record: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE users SET subscription_tier = $1 WHERE id = $2
	`, models.TierFree, userID)
	if err != nil {
		return fmt.Errorf("failed to downgrade user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	monitoring.RecordSubscriptionEvent("", "canceled")
	log.Info().Str("user_id", userID.String()).Msg("Subscription canceled, user on free tier")
	return nil
}

// handlePaymentSucceeded records the successful renewal.
func (s *Service) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if invoice.Customer == nil {
		return nil
	}

	userID, err := s.userByCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		// Payments for customers we never created are not ours to track.
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	monitoring.RecordSubscriptionEvent("", "payment_succeeded")
	log.Info().
		Str("user_id", userID.String()).
		Int64("amount_paid", invoice.AmountPaid).
		Msg("Subscription payment succeeded")
	return nil
}

// handlePaymentFailed flags the subscription as past due. The tier is
// kept until the subscription actually lapses.
func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if invoice.Customer == nil {
		return nil
	}

	userID, err := s.userByCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE subscriptions SET status = $1, updated_at = NOW()
		WHERE user_id = $2 AND status = $3
	`, models.SubscriptionPastDue, userID, models.SubscriptionActive)
	if err != nil {
		return fmt.Errorf("failed to flag subscription past due: %w", err)
	}

	monitoring.RecordSubscriptionEvent("", "payment_failed")
	log.Warn().Str("user_id", userID.String()).Msg("Subscription payment failed")
	return nil
}

// GetSubscription returns a user's current subscription, or nil when the
// user never subscribed.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, stripe_subscription_id, stripe_price_id, tier, status, current_period_end, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(
		&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &sub.StripePriceID,
		&sub.Tier, &sub.Status, &sub.CurrentPeriodEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return &sub, nil
}

func (s *Service) userByCustomer(ctx context.Context, customerID string) (uuid.UUID, error) {
	var userID uuid.UUID
	err := s.db.QueryRow(ctx, `
		SELECT id FROM users WHERE stripe_customer_id = $1
	`, customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to find user by customer: %w", err)
	}
	return userID, nil
}

func mapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	default:
		return models.SubscriptionCanceled
	}
}
