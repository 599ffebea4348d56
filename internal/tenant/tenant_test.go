package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/audit"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore resolves every tenant to one fixed feature policy.
type stubStore struct {
	policy.Store
	featurePolicy *models.Policy
}

func (s *stubStore) ForTenantFeature(ctx context.Context, tenantID uuid.UUID) (*models.Policy, error) {
	return s.featurePolicy, nil
}

func featureTestService(pol *models.Policy) (*Service, *audit.MemoryRecorder) {
	recorder := audit.NewMemoryRecorder()
	gate := policy.NewGate(policy.NewMemoryCounterStore(), recorder, false)
	return NewService(nil, &stubStore{featurePolicy: pol}, gate), recorder
}

func TestFeatures_PlanSets(t *testing.T) {
	standard := Features(PlanStandard)
	assert.ElementsMatch(t, models.DefaultFeatures, standard)

	enterprise := Features(PlanEnterprise)
	assert.Len(t, enterprise, len(models.DefaultFeatures)+len(models.PremiumFeatures))
	assert.Contains(t, enterprise, "api_access")
	assert.Contains(t, enterprise, "pdf_merge")
	assert.NotContains(t, standard, "api_access")
}

func TestLimits_PlanCaps(t *testing.T) {
	svc := &Service{}

	enterprise := svc.Limits(PlanEnterprise)
	assert.Equal(t, int64(50000), enterprise.MonthlyOperations)
	assert.Equal(t, int64(100), enterprise.FileSizeMB)

	standard := svc.Limits(PlanStandard)
	assert.Equal(t, int64(10000), standard.MonthlyOperations)
	assert.Equal(t, int64(50), standard.FileSizeMB)

	// Unknown plan types get the standard caps.
	assert.Equal(t, standard, svc.Limits("trial"))
}

func TestCheckFeature_EnabledAndDisabled(t *testing.T) {
	tenantID := uuid.New()
	pol := &models.Policy{
		ID:             uuid.New(),
		Name:           "tenant:" + tenantID.String(),
		Kind:           models.PolicyKindFeature,
		SubjectClass:   models.SubjectTenant,
		MaxCount:       10000,
		PeriodLength:   30 * 24 * time.Hour,
		AllowedActions: featureActions(Features(PlanStandard)),
	}
	svc, recorder := featureTestService(pol)

	decision, err := svc.CheckFeature(context.Background(), tenantID, "pdf_merge", "")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// Premium features are not in a standard tenant's action set.
	decision, err = svc.CheckFeature(context.Background(), tenantID, "api_access", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "action not permitted", decision.Reason)

	// Both checks were audited.
	assert.Len(t, recorder.Events(), 2)
}

func TestCheckFeature_NoPolicyUsesDefaultPosture(t *testing.T) {
	svc, _ := featureTestService(nil)

	decision, err := svc.CheckFeature(context.Background(), uuid.New(), "pdf_merge", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckFeature_CountsAgainstMonthlyCap(t *testing.T) {
	tenantID := uuid.New()
	pol := &models.Policy{
		ID:             uuid.New(),
		Kind:           models.PolicyKindFeature,
		SubjectClass:   models.SubjectTenant,
		MaxCount:       2,
		PeriodLength:   30 * 24 * time.Hour,
		AllowedActions: featureActions(Features(PlanStandard)),
	}
	svc, _ := featureTestService(pol)

	for i := 0; i < 2; i++ {
		decision, err := svc.CheckFeature(context.Background(), tenantID, "pdf_merge", "")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := svc.CheckFeature(context.Background(), tenantID, "pdf_merge", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "limit exceeded", decision.Reason)
}

func TestGenerateCSS(t *testing.T) {
	svc := &Service{}
	tenant := &models.Tenant{
		CompanyName:    "Acme Corporation",
		PrimaryColor:   "#007bff",
		SecondaryColor: "#6c757d",
		AccentColor:    "#28a745",
		FontFamily:     "Inter, sans-serif",
	}

	css := svc.GenerateCSS(tenant)
	assert.Contains(t, css, "/* White-label CSS for Acme Corporation */")
	assert.Contains(t, css, "--primary-color: #007bff;")
	assert.Contains(t, css, "--font-family: Inter, sans-serif;")
	// Hover state uses the darkened primary color.
	assert.Contains(t, css, darkenColor("#007bff", 0.1))
}

func TestDarkenColor(t *testing.T) {
	assert.Equal(t, "#006ee5", darkenColor("#007bff", 0.1))
	assert.Equal(t, "#000000", darkenColor("#000000", 0.5))
	assert.Equal(t, "#7f7f7f", darkenColor("#ffffff", 0.5))

	// Malformed colors come back untouched.
	assert.Equal(t, "red", darkenColor("red", 0.1))
	assert.Equal(t, "#fff", darkenColor("#fff", 0.1))
}
