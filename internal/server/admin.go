package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/analytics"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/policy"
	"github.com/snackpdf/platform/internal/tenant"
)

// CreatePolicyRequest is the admin policy creation payload. The period
// is given in seconds.
type CreatePolicyRequest struct {
	Name           string     `json:"name" binding:"required"`
	Kind           string     `json:"kind" binding:"required,oneof=usage drm feature"`
	SubjectClass   string     `json:"subject_class" binding:"required,oneof=user api_key anonymous tenant"`
	MaxCount       int64      `json:"max_count" binding:"required"`
	PeriodSeconds  int64      `json:"period_seconds" binding:"required"`
	AllowedActions []string   `json:"allowed_actions,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IPAllowlist    []string   `json:"ip_allowlist,omitempty"`
}

// UpdatePolicyRequest is a partial administrative edit.
type UpdatePolicyRequest struct {
	Name      *string    `json:"name,omitempty"`
	MaxCount  *int64     `json:"max_count,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// AttachPolicyRequest binds a policy to a document.
type AttachPolicyRequest struct {
	DocumentID uuid.UUID `json:"document_id" binding:"required"`
}

func (s *APIServer) handleListPolicies(c *gin.Context) {
	kind := models.PolicyKind(c.DefaultQuery("kind", string(models.PolicyKindUsage)))
	policies, err := s.policies.List(c.Request.Context(), kind)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

func (s *APIServer) handleCreatePolicy(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	pol := &models.Policy{
		Name:           req.Name,
		Kind:           models.PolicyKind(req.Kind),
		SubjectClass:   models.SubjectClass(req.SubjectClass),
		MaxCount:       req.MaxCount,
		PeriodLength:   time.Duration(req.PeriodSeconds) * time.Second,
		AllowedActions: req.AllowedActions,
		ExpiresAt:      req.ExpiresAt,
		IPAllowlist:    req.IPAllowlist,
		CreatedBy:      &userID,
	}

	if err := s.policies.Create(c.Request.Context(), pol); err != nil {
		var cfgErr *policy.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			respondError(c, apierrors.NewValidationError(cfgErr.Error()))
		case errors.Is(err, policy.ErrDuplicateName):
			respondError(c, apierrors.NewInvalidRequestError("Policy name already in use"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusCreated, pol)
}

func (s *APIServer) handleGetPolicy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid policy id"))
		return
	}

	pol, err := s.policies.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			respondError(c, apierrors.ErrPolicyNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, pol)
}

func (s *APIServer) handleUpdatePolicy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid policy id"))
		return
	}

	var req UpdatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	pol, err := s.policies.Update(c.Request.Context(), id, req.Name, req.MaxCount, req.ExpiresAt)
	if err != nil {
		var cfgErr *policy.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			respondError(c, apierrors.NewValidationError(cfgErr.Error()))
		case errors.Is(err, policy.ErrPolicyNotFound):
			respondError(c, apierrors.ErrPolicyNotFoundError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, pol)
}

func (s *APIServer) handleRevokePolicy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid policy id"))
		return
	}

	if err := s.policies.Revoke(c.Request.Context(), id); err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			respondError(c, apierrors.ErrPolicyNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Policy revoked"})
}

func (s *APIServer) handleAttachPolicy(c *gin.Context) {
	policyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid policy id"))
		return
	}

	var req AttachPolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	if err := s.policies.AttachToDocument(c.Request.Context(), req.DocumentID, policyID); err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Policy attached"})
}

// Tenant administration

func (s *APIServer) handleListTenants(c *gin.Context) {
	tenants, err := s.tenantService.List(c.Request.Context())
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants, "count": len(tenants)})
}

func (s *APIServer) handleCreateTenant(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req tenant.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	created, err := s.tenantService.Create(c.Request.Context(), &req, userID)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"tenant":   created,
		"features": tenant.Features(created.PlanType),
		"limits":   s.tenantService.Limits(created.PlanType),
	})
}

func (s *APIServer) handleGetTenant(c *gin.Context) {
	t, ok := s.tenantByID(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant":   t,
		"features": tenant.Features(t.PlanType),
		"limits":   s.tenantService.Limits(t.PlanType),
	})
}

func (s *APIServer) handleUpdateTenantBranding(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid tenant id"))
		return
	}

	var req tenant.UpdateBrandingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	updated, err := s.tenantService.UpdateBranding(c.Request.Context(), id, &req)
	if err != nil {
		switch {
		case errors.Is(err, tenant.ErrTenantNotFound):
			respondError(c, apierrors.ErrTenantNotFoundError)
		case errors.Is(err, tenant.ErrDuplicateDomain):
			respondError(c, apierrors.NewInvalidRequestError("Custom domain already in use"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *APIServer) handleDeactivateTenant(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid tenant id"))
		return
	}

	if err := s.tenantService.Deactivate(c.Request.Context(), id); err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(c, apierrors.ErrTenantNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Tenant deactivated"})
}

func (s *APIServer) handleCheckTenantFeature(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid tenant id"))
		return
	}

	decision, err := s.tenantService.CheckFeature(c.Request.Context(), id, c.Param("feature"), c.ClientIP())
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, decision)
}

// handleTenantCSS serves the tenant's branding stylesheet. Public so
// white-label frontends can link it directly.
func (s *APIServer) handleTenantCSS(c *gin.Context) {
	t, ok := s.tenantByID(c)
	if !ok {
		return
	}
	c.Data(http.StatusOK, "text/css; charset=utf-8", []byte(s.tenantService.GenerateCSS(t)))
}

func (s *APIServer) tenantByID(c *gin.Context) (*models.Tenant, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.NewInvalidRequestError("invalid tenant id"))
		return nil, false
	}

	t, err := s.tenantService.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			respondError(c, apierrors.ErrTenantNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return nil, false
	}
	return t, true
}

// Analytics

func (s *APIServer) handleUsageAnalytics(c *gin.Context) {
	period, ok := parsePeriod(c)
	if !ok {
		return
	}

	stats, err := s.analyticsService.Usage(c.Request.Context(), nil, period)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *APIServer) handleAPIAnalytics(c *gin.Context) {
	period, ok := parsePeriod(c)
	if !ok {
		return
	}

	report, err := s.analyticsService.APIUsage(c.Request.Context(), period)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *APIServer) handleSubjectAnalytics(c *gin.Context) {
	period, ok := parsePeriod(c)
	if !ok {
		return
	}

	report, err := s.analyticsService.ForSubject(c.Request.Context(), c.Param("id"), period)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, report)
}

// parsePeriod reads optional RFC 3339 start/end query params, defaulting
// to the trailing 30 days.
func parsePeriod(c *gin.Context) (analytics.Period, bool) {
	period := analytics.DefaultPeriod(time.Now())

	if start := c.Query("start"); start != "" {
		parsed, err := time.Parse(time.RFC3339, start)
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("start must be RFC 3339"))
			return analytics.Period{}, false
		}
		period.Start = parsed
	}
	if end := c.Query("end"); end != "" {
		parsed, err := time.Parse(time.RFC3339, end)
		if err != nil {
			respondError(c, apierrors.NewInvalidRequestError("end must be RFC 3339"))
			return analytics.Period{}, false
		}
		period.End = parsed
	}
	if !period.End.After(period.Start) {
		respondError(c, apierrors.NewInvalidRequestError("end must be after start"))
		return analytics.Period{}, false
	}
	return period, true
}
