package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/snackpdf/platform/internal/analytics"
	"github.com/snackpdf/platform/internal/apikey"
	"github.com/snackpdf/platform/internal/audit"
	"github.com/snackpdf/platform/internal/auth"
	"github.com/snackpdf/platform/internal/billing"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/dispatch"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/ingress"
	"github.com/snackpdf/platform/internal/logging"
	"github.com/snackpdf/platform/internal/middleware"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/monitoring"
	"github.com/snackpdf/platform/internal/policy"
	"github.com/snackpdf/platform/internal/tenant"
)

// APIServer represents the main API server
type APIServer struct {
	config           *config.Config
	router           *gin.Engine
	db               *pgxpool.Pool
	authService      *auth.Service
	apikeyService    *apikey.Service
	billingService   *billing.Service
	tenantService    *tenant.Service
	analyticsService *analytics.Service
	policies         policy.Store
	gate             *policy.Gate
	validator        *ingress.Validator
	files            *ingress.FileStore
	blobs            ingress.BlobStore
	processor        *dispatch.Client
	jwtAuthenticator *middleware.JWTAuthenticator
}

// NewAPIServer creates a new API server instance. Counter storage and
// the audit recorder are injected so the caller controls their
// lifecycle (Redis client, sink shutdown).
func NewAPIServer(cfg *config.Config, db *pgxpool.Pool, counters policy.CounterStore, recorder audit.Recorder) *APIServer {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware in order
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))
	router.Use(monitoring.MetricsMiddleware())
	router.Use(logging.RequestLogger())

	policyStore := policy.NewPostgresStore(db)
	gate := policy.NewGate(counters, recorder, cfg.Policy.DefaultAllow)

	srv := &APIServer{
		config:           cfg,
		router:           router,
		db:               db,
		authService:      auth.NewService(db, &cfg.JWT),
		apikeyService:    apikey.NewService(db),
		billingService:   billing.NewService(db, &cfg.Stripe),
		tenantService:    tenant.NewService(db, policyStore, gate),
		analyticsService: analytics.NewService(db),
		policies:         policyStore,
		gate:             gate,
		validator:        ingress.NewValidator(cfg.Storage.MaxFileSize),
		files:            ingress.NewFileStore(db),
		blobs:            ingress.NewHTTPBlobStore(&cfg.Storage),
		processor:        dispatch.NewClient(&cfg.Processing, nil),
		jwtAuthenticator: middleware.NewJWTAuthenticator(&cfg.JWT),
	}

	srv.setupRoutes()
	return srv
}

// Router returns the gin router
func (s *APIServer) Router() http.Handler {
	return s.router
}

// setupRoutes configures all API routes
func (s *APIServer) setupRoutes() {
	// Health check
	s.router.GET("/health", s.healthCheck)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		// Auth routes (public)
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", s.handleRegister)
			authGroup.POST("/login", s.handleLogin)
			authGroup.POST("/logout", s.handleLogout)
			authGroup.POST("/refresh", s.handleRefresh)
			authGroup.GET("/me", s.jwtAuthenticator.JWTAuth(), s.handleGetMe)
		}

		// File routes (protected)
		files := v1.Group("/files")
		files.Use(s.jwtAuthenticator.JWTAuth())
		{
			files.POST("/", s.handleUploadFile)
			files.GET("/", s.handleListFiles)
			files.GET("/:id", s.handleGetFile)
			files.GET("/:id/download", s.handleDownloadFile)
			files.DELETE("/:id", s.handleDeleteFile)
		}

		// PDF operation routes (protected)
		pdf := v1.Group("/pdf")
		pdf.Use(s.jwtAuthenticator.JWTAuth())
		{
			pdf.POST("/merge", s.handleMerge)
			pdf.POST("/split", s.handleSplit)
			pdf.POST("/compress", s.handleCompress)
			pdf.POST("/convert", s.handleConvert)
			pdf.POST("/ocr", s.handleOCR)
			pdf.POST("/extract-text", s.handleExtractText)
			pdf.POST("/rotate", s.handleRotate)
			pdf.POST("/watermark", s.handleWatermark)
			pdf.POST("/protect", s.handleProtect)
			pdf.POST("/unprotect", s.handleUnprotect)
			pdf.POST("/batch", s.handleBatch)
		}

		// Anonymous tools (free usage, gated by the anonymous class policy)
		public := v1.Group("/public/pdf")
		public.Use(middleware.AnonymousSubject())
		{
			public.POST("/merge", s.handleMerge)
			public.POST("/compress", s.handleCompress)
			public.POST("/rotate", s.handleRotate)
		}

		// Programmatic access via API keys
		api := v1.Group("/")
		api.Use(middleware.APIKeyAuth(s.apikeyService))
		{
			api.POST("/merge", middleware.RequirePermission(policy.ActionMerge), s.handleMerge)
			api.POST("/split", middleware.RequirePermission(policy.ActionSplit), s.handleSplit)
			api.POST("/compress", middleware.RequirePermission(policy.ActionCompress), s.handleCompress)
			api.POST("/convert", middleware.RequirePermission(policy.ActionConvert), s.handleConvert)
			api.POST("/ocr", middleware.RequirePermission(policy.ActionOCR), s.handleOCR)
			api.POST("/extract-text", middleware.RequirePermission(policy.ActionExtractText), s.handleExtractText)
			api.POST("/rotate", middleware.RequirePermission(policy.ActionRotate), s.handleRotate)
		}

		// API key management (protected, paid tiers only)
		keys := v1.Group("/keys")
		keys.Use(s.jwtAuthenticator.JWTAuth())
		keys.Use(middleware.RequirePaid())
		{
			keys.GET("/", s.handleListAPIKeys)
			keys.POST("/", s.handleCreateAPIKey)
			keys.DELETE("/:id", s.handleDeleteAPIKey)
		}

		// Billing routes
		billingGroup := v1.Group("/billing")
		{
			billingGroup.GET("/plans", s.handleListPlans)
			billingGroup.POST("/checkout", s.jwtAuthenticator.JWTAuth(), s.handleCheckout)
			billingGroup.POST("/portal", s.jwtAuthenticator.JWTAuth(), s.handlePortal)
			billingGroup.GET("/subscription", s.jwtAuthenticator.JWTAuth(), s.handleGetSubscription)
			billingGroup.POST("/webhook/stripe", s.handleStripeWebhook)
		}

		// Tenant branding (public, consumed by white-label frontends)
		v1.GET("/branding/:id/css", s.handleTenantCSS)

		// Admin routes (protected - requires admin)
		admin := v1.Group("/admin")
		admin.Use(s.jwtAuthenticator.JWTAuth())
		admin.Use(middleware.RequireAdmin(s.authService))
		{
			admin.GET("/policies", s.handleListPolicies)
			admin.POST("/policies", s.handleCreatePolicy)
			admin.GET("/policies/:id", s.handleGetPolicy)
			admin.PUT("/policies/:id", s.handleUpdatePolicy)
			admin.DELETE("/policies/:id", s.handleRevokePolicy)
			admin.POST("/policies/:id/attach", s.handleAttachPolicy)

			admin.GET("/tenants", s.handleListTenants)
			admin.POST("/tenants", s.handleCreateTenant)
			admin.GET("/tenants/:id", s.handleGetTenant)
			admin.PUT("/tenants/:id/branding", s.handleUpdateTenantBranding)
			admin.DELETE("/tenants/:id", s.handleDeactivateTenant)
			admin.GET("/tenants/:id/features/:feature", s.handleCheckTenantFeature)

			admin.GET("/analytics/usage", s.handleUsageAnalytics)
			admin.GET("/analytics/api", s.handleAPIAnalytics)
			admin.GET("/analytics/subjects/:id", s.handleSubjectAnalytics)
		}
	}
}

// healthCheck reports the server's own health plus its dependencies.
func (s *APIServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok", "processing": "ok"}

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if err := s.processor.Health(ctx); err != nil {
		checks["processing"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status": state,
		"brand":  s.config.Server.Brand,
		"checks": checks,
	})
}

// handleRegister handles user registration
func (s *APIServer) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Register(c.Request.Context(), &req)
	if err != nil {
		switch err {
		case auth.ErrEmailAlreadyExists:
			respondError(c, apierrors.NewInvalidRequestError("Email already registered"))
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	monitoring.RecordUserRegistered()
	c.JSON(http.StatusCreated, resp)
}

// handleLogin handles user login
func (s *APIServer) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), &req)
	if err != nil {
		if err == auth.ErrInvalidCredentials {
			respondError(c, apierrors.ErrInvalidCredentialsError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleLogout handles user logout
func (s *APIServer) handleLogout(c *gin.Context) {
	// For stateless JWT, logout is handled client-side by removing the token
	c.JSON(http.StatusOK, gin.H{"message": "Logged out successfully"})
}

// handleRefresh handles token refresh
func (s *APIServer) handleRefresh(c *gin.Context) {
	var req auth.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	tokens, err := s.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch err {
		case auth.ErrInvalidToken:
			respondError(c, apierrors.ErrInvalidCredentialsError)
		case auth.ErrTokenExpired:
			respondError(c, apierrors.ErrTokenExpiredError)
		case auth.ErrUserNotFound:
			respondError(c, apierrors.ErrUserNotFoundError)
		default:
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, tokens)
}

// handleGetMe returns the authenticated user's profile.
func (s *APIServer) handleGetMe(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := s.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		if err == auth.ErrUserNotFound {
			respondError(c, apierrors.ErrUserNotFoundError)
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"full_name":      user.FullName,
		"tier":           user.Tier,
		"email_verified": user.EmailVerified,
		"created_at":     user.CreatedAt,
	})
}

// currentUserID extracts the authenticated user id and responds with an
// auth error when it is missing or malformed.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr := middleware.GetUserIDFromContext(c)
	if userIDStr == "" {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		respondError(c, apierrors.ErrInvalidCredentialsError)
		return uuid.Nil, false
	}
	return userID, true
}

// respondError sends a standardized error response
func respondError(c *gin.Context, err *apierrors.APIError) {
	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: reqIDStr,
	})
}

// authorize runs the policy gate for the request's subject and action.
// On Deny it writes the error response and returns false. The remaining
// quota is exposed in a response header on Allow.
func (s *APIServer) authorize(c *gin.Context, action string) bool {
	subject := middleware.GetSubjectFromContext(c)
	ctx := c.Request.Context()

	pol, err := s.resolvePolicy(c, subject)
	if err != nil {
		respondError(c, apierrors.ErrInternalServerError)
		return false
	}

	start := time.Now()
	decision, err := s.gate.Evaluate(ctx, subject, action, pol, time.Now())
	if err != nil {
		var cfgErr *policy.ConfigurationError
		if errors.As(err, &cfgErr) {
			monitoring.RecordGateConfigError()
			respondError(c, apierrors.NewConfigurationError(cfgErr.Error()))
		} else {
			respondError(c, apierrors.ErrInternalServerError)
		}
		return false
	}
	monitoring.RecordGateDecision(action, decision.Allowed, decision.Reason, time.Since(start))

	if !decision.Allowed {
		respondError(c, apierrors.NewDeniedError(decision.Reason))
		return false
	}
	if decision.Remaining >= 0 {
		c.Header("X-Quota-Remaining", strconv.FormatInt(decision.Remaining, 10))
	}
	return true
}

// resolvePolicy picks the policy governing this subject: users get
// their tier policy, API keys and anonymous visitors get their class
// policy. When the store has no matching row the configured limits
// supply a fallback, so an unseeded database still meters; a nil
// result falls through to the gate's default posture. API keys carry
// their own hourly allowance, which overrides the class cap.
func (s *APIServer) resolvePolicy(c *gin.Context, subject policy.Subject) (*models.Policy, error) {
	ctx := c.Request.Context()
	switch subject.Class {
	case models.SubjectUser:
		tier := middleware.GetTierFromContext(c)
		pol, err := s.policies.ForTier(ctx, tier)
		if err != nil {
			return nil, err
		}
		if pol == nil {
			pol = s.fallbackTierPolicy(tier)
		}
		return pol, nil
	case models.SubjectAPIKey:
		pol, err := s.policies.ForSubjectClass(ctx, subject.Class)
		if err != nil {
			return nil, err
		}
		if pol == nil {
			pol = s.fallbackClassPolicy(subject.Class, s.config.Policy.APIKeyHourlyOps)
		}
		return applyKeyRateLimit(c, pol), nil
	case models.SubjectAnonymous:
		pol, err := s.policies.ForSubjectClass(ctx, subject.Class)
		if err != nil {
			return nil, err
		}
		if pol == nil {
			pol = s.fallbackClassPolicy(subject.Class, s.config.Policy.AnonymousHourlyOps)
		}
		return pol, nil
	default:
		return nil, nil
	}
}

// fallbackTierPolicy builds a usage policy from the configured monthly
// allowances. Unknown tiers get no fallback.
func (s *APIServer) fallbackTierPolicy(tier models.Tier) *models.Policy {
	var maxCount int64
	switch tier {
	case models.TierFree:
		maxCount = s.config.Policy.FreeMonthlyOps
	case models.TierPro:
		maxCount = s.config.Policy.ProMonthlyOps
	}
	if maxCount <= 0 {
		return nil
	}
	return &models.Policy{
		Name:         "tier:" + string(tier),
		Kind:         models.PolicyKindUsage,
		SubjectClass: models.SubjectUser,
		MaxCount:     maxCount,
		PeriodLength: 30 * 24 * time.Hour,
	}
}

func (s *APIServer) fallbackClassPolicy(class models.SubjectClass, hourlyOps int64) *models.Policy {
	if hourlyOps <= 0 {
		return nil
	}
	return &models.Policy{
		Name:         "class:" + string(class),
		Kind:         models.PolicyKindUsage,
		SubjectClass: class,
		MaxCount:     hourlyOps,
		PeriodLength: time.Hour,
	}
}

// applyKeyRateLimit substitutes the key's own hourly allowance for the
// class cap. The policy is copied so the store's row is never mutated.
func applyKeyRateLimit(c *gin.Context, pol *models.Policy) *models.Policy {
	key := middleware.GetAPIKeyFromContext(c)
	if key == nil || key.RateLimit <= 0 {
		return pol
	}
	if pol == nil {
		return &models.Policy{
			Name:         "key:" + key.KeyPrefix,
			Kind:         models.PolicyKindUsage,
			SubjectClass: models.SubjectAPIKey,
			MaxCount:     int64(key.RateLimit),
			PeriodLength: time.Hour,
		}
	}
	scoped := *pol
	scoped.MaxCount = int64(key.RateLimit)
	scoped.PeriodLength = time.Hour
	return &scoped
}
