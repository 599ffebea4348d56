// Package tenant manages white-label enterprise tenants: branding
// records, plan-based feature sets, and feature checks routed through
// the policy gate.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/policy"
)

// Service errors
var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrDuplicateDomain = errors.New("custom domain already in use")
)

// Plan types. Enterprise tenants get the premium feature set and
// higher limits.
const (
	PlanStandard   = "standard"
	PlanEnterprise = "enterprise"
)

// Default branding applied to new tenants.
const (
	defaultPrimaryColor   = "#007bff"
	defaultSecondaryColor = "#6c757d"
	defaultAccentColor    = "#28a745"
	defaultFontFamily     = "Inter, sans-serif"
)

// Limits are the per-tenant usage caps derived from the plan type.
type Limits struct {
	MonthlyOperations  int64 `json:"monthly_operations"`
	FileSizeMB         int64 `json:"file_size_mb"`
	APIRequestsPerHour int64 `json:"api_requests_per_hour"`
	ConcurrentUsers    int64 `json:"concurrent_users"`
}

// Service manages tenants and their feature policies.
type Service struct {
	db    *pgxpool.Pool
	store policy.Store
	gate  *policy.Gate
}

// NewService creates a tenant service. The policy store and gate back
// the feature checks.
func NewService(db *pgxpool.Pool, store policy.Store, gate *policy.Gate) *Service {
	return &Service{db: db, store: store, gate: gate}
}

// CreateTenantRequest represents a tenant creation request
type CreateTenantRequest struct {
	CompanyName string `json:"company_name" binding:"required,min=2,max=200"`
	PlanType    string `json:"plan_type"`
}

// UpdateBrandingRequest carries a partial branding edit. Nil fields are
// left unchanged.
type UpdateBrandingRequest struct {
	CompanyName    *string `json:"company_name,omitempty"`
	LogoURL        *string `json:"logo_url,omitempty"`
	PrimaryColor   *string `json:"primary_color,omitempty"`
	SecondaryColor *string `json:"secondary_color,omitempty"`
	AccentColor    *string `json:"accent_color,omitempty"`
	FontFamily     *string `json:"font_family,omitempty"`
	CustomDomain   *string `json:"custom_domain,omitempty"`
	FooterText     *string `json:"footer_text,omitempty"`
	SupportEmail   *string `json:"support_email,omitempty"`
}

const tenantColumns = `
	id, company_name, plan_type, logo_url, primary_color, secondary_color,
	accent_color, font_family, custom_domain, footer_text, support_email,
	is_active, created_at, updated_at`

func scanTenant(row pgx.Row) (*models.Tenant, error) {
	var t models.Tenant
	err := row.Scan(
		&t.ID, &t.CompanyName, &t.PlanType, &t.LogoURL, &t.PrimaryColor, &t.SecondaryColor,
		&t.AccentColor, &t.FontFamily, &t.CustomDomain, &t.FooterText, &t.SupportEmail,
		&t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Create provisions a tenant with default branding and a feature policy
// matching its plan. The policy's counter doubles as the tenant's
// monthly operations cap.
func (s *Service) Create(ctx context.Context, req *CreateTenantRequest, createdBy uuid.UUID) (*models.Tenant, error) {
	planType := req.PlanType
	if planType != PlanEnterprise {
		planType = PlanStandard
	}

	footer := fmt.Sprintf("© %d %s. All rights reserved.", time.Now().Year(), req.CompanyName)

	tenant, err := scanTenant(s.db.QueryRow(ctx, `
		INSERT INTO tenants (company_name, plan_type, primary_color, secondary_color,
			accent_color, font_family, footer_text, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, true)
		RETURNING `+tenantColumns,
		req.CompanyName, planType, defaultPrimaryColor, defaultSecondaryColor,
		defaultAccentColor, defaultFontFamily, footer,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	pol := &models.Policy{
		Name:           "tenant:" + tenant.ID.String(),
		Kind:           models.PolicyKindFeature,
		SubjectClass:   models.SubjectTenant,
		MaxCount:       s.Limits(planType).MonthlyOperations,
		PeriodLength:   30 * 24 * time.Hour,
		AllowedActions: featureActions(Features(planType)),
		CreatedBy:      &createdBy,
	}
	if err := s.store.Create(ctx, pol); err != nil {
		return nil, fmt.Errorf("failed to create tenant feature policy: %w", err)
	}
	if err := s.store.AttachToTenant(ctx, tenant.ID, pol.ID); err != nil {
		return nil, fmt.Errorf("failed to attach tenant feature policy: %w", err)
	}

	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("company", tenant.CompanyName).
		Str("plan", planType).
		Msg("Tenant created")
	return tenant, nil
}

// GetByID returns a tenant.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	tenant, err := scanTenant(s.db.QueryRow(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return tenant, nil
}

// List returns all tenants, newest first.
func (s *Service) List(ctx context.Context) ([]models.Tenant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// UpdateBranding applies a partial branding edit.
func (s *Service) UpdateBranding(ctx context.Context, id uuid.UUID, req *UpdateBrandingRequest) (*models.Tenant, error) {
	tenant, err := scanTenant(s.db.QueryRow(ctx, `
		UPDATE tenants SET
			company_name = COALESCE($2, company_name),
			logo_url = COALESCE($3, logo_url),
			primary_color = COALESCE($4, primary_color),
			secondary_color = COALESCE($5, secondary_color),
			accent_color = COALESCE($6, accent_color),
			font_family = COALESCE($7, font_family),
			custom_domain = COALESCE($8, custom_domain),
			footer_text = COALESCE($9, footer_text),
			support_email = COALESCE($10, support_email),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+tenantColumns,
		id, req.CompanyName, req.LogoURL, req.PrimaryColor, req.SecondaryColor,
		req.AccentColor, req.FontFamily, req.CustomDomain, req.FooterText, req.SupportEmail,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		if isUniqueViolation(err) {
			return nil, ErrDuplicateDomain
		}
		return nil, fmt.Errorf("failed to update tenant branding: %w", err)
	}
	return tenant, nil
}

// Deactivate marks a tenant inactive without deleting its data.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tenants SET is_active = false, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate tenant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// CheckFeature runs a tenant feature check through the policy gate. The
// check counts against the tenant's monthly operations cap when allowed.
// Tenants without a feature policy fall back to the gate's default
// posture.
func (s *Service) CheckFeature(ctx context.Context, tenantID uuid.UUID, feature string, addr string) (policy.Decision, error) {
	pol, err := s.store.ForTenantFeature(ctx, tenantID)
	if err != nil {
		return policy.Decision{}, err
	}

	subject := policy.Subject{
		ID:    "tenant:" + tenantID.String(),
		Class: models.SubjectTenant,
		Addr:  addr,
	}
	return s.gate.Evaluate(ctx, subject, FeatureAction(feature), pol, time.Now())
}

// Features returns the feature names enabled for a plan type.
func Features(planType string) []string {
	features := make([]string, 0, len(models.DefaultFeatures)+len(models.PremiumFeatures))
	features = append(features, models.DefaultFeatures...)
	if planType == PlanEnterprise {
		features = append(features, models.PremiumFeatures...)
	}
	return features
}

// Limits returns the usage caps for a plan type.
func (s *Service) Limits(planType string) Limits {
	if planType == PlanEnterprise {
		return Limits{
			MonthlyOperations:  50000,
			FileSizeMB:         100,
			APIRequestsPerHour: 10000,
			ConcurrentUsers:    500,
		}
	}
	return Limits{
		MonthlyOperations:  10000,
		FileSizeMB:         50,
		APIRequestsPerHour: 1000,
		ConcurrentUsers:    100,
	}
}

// FeatureAction maps a feature name to its gate action tag.
func FeatureAction(feature string) string {
	return "feature:" + feature
}

func featureActions(features []string) []string {
	actions := make([]string, len(features))
	for i, f := range features {
		actions[i] = FeatureAction(f)
	}
	return actions
}

// GenerateCSS renders a stylesheet from the tenant's branding so the
// frontend can theme itself with one request.
func (s *Service) GenerateCSS(tenant *models.Tenant) string {
	darker := darkenColor(tenant.PrimaryColor, 0.1)

	var b strings.Builder
	fmt.Fprintf(&b, "/* White-label CSS for %s */\n", tenant.CompanyName)
	b.WriteString(":root {\n")
	fmt.Fprintf(&b, "    --primary-color: %s;\n", tenant.PrimaryColor)
	fmt.Fprintf(&b, "    --secondary-color: %s;\n", tenant.SecondaryColor)
	fmt.Fprintf(&b, "    --accent-color: %s;\n", tenant.AccentColor)
	fmt.Fprintf(&b, "    --font-family: %s;\n", tenant.FontFamily)
	b.WriteString("}\n\n")
	b.WriteString("body { font-family: var(--font-family); }\n\n")
	b.WriteString(".btn-primary { background-color: var(--primary-color); border-color: var(--primary-color); }\n")
	fmt.Fprintf(&b, ".btn-primary:hover { background-color: %s; border-color: %s; }\n\n", darker, darker)
	b.WriteString(".navbar-brand { color: var(--primary-color) !important; }\n")
	b.WriteString(".text-primary { color: var(--primary-color) !important; }\n")
	b.WriteString(".bg-primary { background-color: var(--primary-color) !important; }\n\n")
	b.WriteString(".footer { background-color: var(--secondary-color); color: white; }\n")
	b.WriteString(".accent { color: var(--accent-color); }\n")
	b.WriteString(".bg-accent { background-color: var(--accent-color); }\n\n")
	b.WriteString(".custom-logo { max-height: 40px; width: auto; }\n")
	return b.String()
}

// darkenColor reduces each RGB channel of a #rrggbb color by amount.
// Malformed input is returned unchanged.
func darkenColor(color string, amount float64) string {
	hex := strings.TrimPrefix(color, "#")
	if len(hex) != 6 {
		return color
	}

	channels := make([]int64, 3)
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseInt(hex[i*2:i*2+2], 16, 64)
		if err != nil {
			return color
		}
		darkened := int64(float64(v) * (1 - amount))
		if darkened < 0 {
			darkened = 0
		}
		channels[i] = darkened
	}
	return fmt.Sprintf("#%02x%02x%02x", channels[0], channels[1], channels[2])
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
