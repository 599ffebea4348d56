package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a white-label enterprise tenant.
type Tenant struct {
	ID             uuid.UUID `json:"id" db:"id"`
	CompanyName    string    `json:"company_name" db:"company_name"`
	PlanType       string    `json:"plan_type" db:"plan_type"`
	LogoURL        *string   `json:"logo_url,omitempty" db:"logo_url"`
	PrimaryColor   string    `json:"primary_color" db:"primary_color"`
	SecondaryColor string    `json:"secondary_color" db:"secondary_color"`
	AccentColor    string    `json:"accent_color" db:"accent_color"`
	FontFamily     string    `json:"font_family" db:"font_family"`
	CustomDomain   *string   `json:"custom_domain,omitempty" db:"custom_domain"`
	FooterText     *string   `json:"footer_text,omitempty" db:"footer_text"`
	SupportEmail   *string   `json:"support_email,omitempty" db:"support_email"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultFeatures are available to every tenant.
var DefaultFeatures = []string{
	"pdf_merge", "pdf_split", "pdf_compress", "pdf_convert",
	"pdf_ocr", "pdf_extract_text", "pdf_rotate", "pdf_watermark",
	"batch_processing", "user_management",
}

// PremiumFeatures require an enterprise plan.
var PremiumFeatures = []string{
	"api_access", "analytics_dashboard", "custom_branding",
	"priority_support", "custom_integrations", "advanced_analytics",
}
