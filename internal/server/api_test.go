package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/apikey"
	"github.com/snackpdf/platform/internal/audit"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/dispatch"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/ingress"
	"github.com/snackpdf/platform/internal/middleware"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/policy"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubPolicyStore serves canned policies for gate resolution. The
// embedded interface panics on anything the test does not stub.
type stubPolicyStore struct {
	policy.Store
	tierPolicy  *models.Policy
	classPolicy *models.Policy
}

func (s *stubPolicyStore) ForTier(ctx context.Context, tier models.Tier) (*models.Policy, error) {
	return s.tierPolicy, nil
}

func (s *stubPolicyStore) ForSubjectClass(ctx context.Context, class models.SubjectClass) (*models.Policy, error) {
	return s.classPolicy, nil
}

// gateServer builds an APIServer with in-memory gate stores so
// authorize can be exercised without a database.
func gateServer(store policy.Store, cfg *config.Config, defaultAllow bool) *APIServer {
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &APIServer{
		config:   cfg,
		policies: store,
		gate:     policy.NewGate(policy.NewMemoryCounterStore(), audit.NewMemoryRecorder(), defaultAllow),
	}
}

// gateRouter wires a single gated route for anonymous traffic.
func gateRouter(store policy.Store, defaultAllow bool) *gin.Engine {
	srv := gateServer(store, nil, defaultAllow)

	router := gin.New()
	router.POST("/op", middleware.AnonymousSubject(), func(c *gin.Context) {
		if !srv.authorize(c, policy.ActionMerge) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
	return router
}

func postOp(router *gin.Engine) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/op", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthorize_AllowedExposesRemainingQuota(t *testing.T) {
	store := &stubPolicyStore{classPolicy: &models.Policy{
		Name:         "class:anonymous",
		Kind:         models.PolicyKindUsage,
		SubjectClass: models.SubjectAnonymous,
		MaxCount:     5,
		PeriodLength: time.Hour,
	}}

	w := postOp(gateRouter(store, false))

	if w.Code != http.StatusOK {
		t.Fatalf("Gated request within quota should succeed, got status %d", w.Code)
	}
	if got := w.Header().Get("X-Quota-Remaining"); got != "4" {
		t.Errorf("Expected X-Quota-Remaining '4', got '%s'", got)
	}
}

func TestAuthorize_DeniesOverQuota(t *testing.T) {
	store := &stubPolicyStore{classPolicy: &models.Policy{
		Name:         "class:anonymous",
		Kind:         models.PolicyKindUsage,
		SubjectClass: models.SubjectAnonymous,
		MaxCount:     1,
		PeriodLength: time.Hour,
	}}
	router := gateRouter(store, false)

	if w := postOp(router); w.Code != http.StatusOK {
		t.Fatalf("First request should be within quota, got status %d", w.Code)
	}

	w := postOp(router)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Second request should exceed quota, got status %d", w.Code)
	}

	var resp apierrors.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if resp.Error.Message != "limit exceeded" {
		t.Errorf("Expected denial reason 'limit exceeded', got '%s'", resp.Error.Message)
	}
}

func TestAuthorize_DeniesUnpermittedAction(t *testing.T) {
	store := &stubPolicyStore{classPolicy: &models.Policy{
		Name:           "class:anonymous",
		Kind:           models.PolicyKindUsage,
		SubjectClass:   models.SubjectAnonymous,
		MaxCount:       5,
		PeriodLength:   time.Hour,
		AllowedActions: []string{policy.ActionCompress},
	}}

	w := postOp(gateRouter(store, false))

	if w.Code != http.StatusForbidden {
		t.Fatalf("Unpermitted action should return 403, got %d", w.Code)
	}
	var resp apierrors.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Message != "action not permitted" {
		t.Errorf("Expected reason 'action not permitted', got '%s'", resp.Error.Message)
	}
}

func TestAuthorize_NoPolicyFollowsDefaultPosture(t *testing.T) {
	if w := postOp(gateRouter(&stubPolicyStore{}, true)); w.Code != http.StatusOK {
		t.Errorf("Default-allow posture should admit unmatched subjects, got status %d", w.Code)
	}
	if w := postOp(gateRouter(&stubPolicyStore{}, false)); w.Code != http.StatusForbidden {
		t.Errorf("Default-deny posture should refuse unmatched subjects, got status %d", w.Code)
	}
}

func TestAuthorize_BadPolicyIsConfigurationError(t *testing.T) {
	store := &stubPolicyStore{classPolicy: &models.Policy{
		Name:         "class:anonymous",
		Kind:         models.PolicyKindUsage,
		SubjectClass: models.SubjectAnonymous,
		MaxCount:     0,
		PeriodLength: time.Hour,
	}}

	w := postOp(gateRouter(store, false))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Misconfigured policy should return 500, got %d", w.Code)
	}
	var resp apierrors.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Error.Code != apierrors.ErrBadConfiguration {
		t.Errorf("Expected configuration error code, got '%s'", resp.Error.Code)
	}
}

func TestAuthorize_ConfiguredFallbackWhenUnseeded(t *testing.T) {
	cfg := &config.Config{}
	cfg.Policy.AnonymousHourlyOps = 2
	srv := gateServer(&stubPolicyStore{}, cfg, false)

	router := gin.New()
	router.POST("/op", middleware.AnonymousSubject(), func(c *gin.Context) {
		if !srv.authorize(c, policy.ActionMerge) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	for i := 0; i < 2; i++ {
		if w := postOp(router); w.Code != http.StatusOK {
			t.Fatalf("Request %d should be within the configured allowance, got status %d", i+1, w.Code)
		}
	}
	if w := postOp(router); w.Code != http.StatusTooManyRequests {
		t.Errorf("Third request should exceed the configured allowance, got status %d", w.Code)
	}
}

func TestAuthorize_KeyRateLimitOverridesClassPolicy(t *testing.T) {
	store := &stubPolicyStore{classPolicy: &models.Policy{
		Name:         "class:api_key",
		Kind:         models.PolicyKindUsage,
		SubjectClass: models.SubjectAPIKey,
		MaxCount:     100,
		PeriodLength: time.Hour,
	}}
	srv := gateServer(store, nil, false)

	key := &models.APIKey{
		ID:          uuid.New(),
		KeyPrefix:   "pdf_testkey",
		Permissions: apikey.DefaultPermissions(),
		RateLimit:   1,
	}

	router := gin.New()
	router.POST("/op", func(c *gin.Context) {
		c.Set(middleware.ContextKeyAPIKey, key)
		c.Set(middleware.ContextKeySubject, policy.Subject{
			ID:    key.ID.String(),
			Class: models.SubjectAPIKey,
			Addr:  c.ClientIP(),
		})
		if !srv.authorize(c, policy.ActionMerge) {
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	w := postOp(router)
	if w.Code != http.StatusOK {
		t.Fatalf("First request should be within the key's allowance, got status %d", w.Code)
	}
	if got := w.Header().Get("X-Quota-Remaining"); got != "0" {
		t.Errorf("Key allowance should override the class cap, expected remaining '0', got '%s'", got)
	}
	if w := postOp(router); w.Code != http.StatusTooManyRequests {
		t.Errorf("Second request should exceed the key's allowance, got status %d", w.Code)
	}
}

// stubKeyValidator hands back a fixed key record for any raw key.
type stubKeyValidator struct {
	key *models.APIKey
}

func (v *stubKeyValidator) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	return v.key, nil
}

func TestAPIKeyRoutes_DefaultPermissionsReachHandlers(t *testing.T) {
	srv := gateServer(&stubPolicyStore{}, nil, true)
	validator := &stubKeyValidator{key: &models.APIKey{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		KeyPrefix:   "pdf_testkey",
		Permissions: apikey.DefaultPermissions(),
	}}

	handler := func(action string) gin.HandlerFunc {
		return func(c *gin.Context) {
			if !srv.authorize(c, action) {
				return
			}
			c.JSON(http.StatusOK, gin.H{"message": "ok"})
		}
	}

	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(validator))
	api.POST("/merge", middleware.RequirePermission(policy.ActionMerge), handler(policy.ActionMerge))
	api.POST("/split", middleware.RequirePermission(policy.ActionSplit), handler(policy.ActionSplit))
	api.POST("/compress", middleware.RequirePermission(policy.ActionCompress), handler(policy.ActionCompress))
	api.POST("/convert", middleware.RequirePermission(policy.ActionConvert), handler(policy.ActionConvert))
	api.POST("/extract-text", middleware.RequirePermission(policy.ActionExtractText), handler(policy.ActionExtractText))
	api.POST("/rotate", middleware.RequirePermission(policy.ActionRotate), handler(policy.ActionRotate))

	endpoints := []string{"/merge", "/split", "/compress", "/convert", "/extract-text", "/rotate"}
	for _, endpoint := range endpoints {
		req := httptest.NewRequest("POST", "/api/v1"+endpoint, nil)
		req.Header.Set("X-API-Key", "pdf_testkey0000")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Default-permission key should reach %s, got status %d: %s", endpoint, w.Code, w.Body.String())
		}
	}

	// OCR is not in the default set and must stay gated
	router.POST("/api/v1/ocr", middleware.APIKeyAuth(validator), middleware.RequirePermission(policy.ActionOCR), handler(policy.ActionOCR))
	req := httptest.NewRequest("POST", "/api/v1/ocr", nil)
	req.Header.Set("X-API-Key", "pdf_testkey0000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Key without the OCR permission should get 403, got %d", w.Code)
	}
}

func TestValidationAPIError_Mapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		code   apierrors.ErrorCode
		status int
	}{
		{"TooLarge", ingress.ErrFileTooLarge, apierrors.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"UnsupportedType", ingress.ErrUnsupportedType, apierrors.ErrUnsupportedType, http.StatusBadRequest},
		{"NotAPDF", ingress.ErrNotAPDF, apierrors.ErrUnsupportedType, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			apiErr := validationAPIError(tc.err)
			if apiErr.Code != tc.code {
				t.Errorf("Expected code %s, got %s", tc.code, apiErr.Code)
			}
			if apiErr.HTTPStatus != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, apiErr.HTTPStatus)
			}
		})
	}
}

func TestRespondDispatchError_Mapping(t *testing.T) {
	srv := &APIServer{}
	router := gin.New()

	var dispatchErr error
	router.POST("/fail", func(c *gin.Context) {
		srv.respondDispatchError(c, dispatchErr)
	})

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"Upstream", &dispatch.UpstreamError{Status: http.StatusUnprocessableEntity, Body: "encrypted PDF"}, http.StatusBadGateway},
		{"BadRequest", &dispatch.RequestError{Message: "at least 2 files required"}, http.StatusBadRequest},
		{"CircuitOpen", dispatch.ErrCircuitOpen, http.StatusServiceUnavailable},
		{"Timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"Unknown", context.Canceled, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dispatchErr = tc.err
			req := httptest.NewRequest("POST", "/fail", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, w.Code)
			}
		})
	}
}

func TestParsePeriod(t *testing.T) {
	router := gin.New()
	router.GET("/stats", func(c *gin.Context) {
		period, ok := parsePeriod(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"start": period.Start, "end": period.End})
	})

	get := func(query string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/stats"+query, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	t.Run("Defaults", func(t *testing.T) {
		if w := get(""); w.Code != http.StatusOK {
			t.Errorf("Missing params should fall back to defaults, got status %d", w.Code)
		}
	})

	t.Run("ExplicitRange", func(t *testing.T) {
		if w := get("?start=2026-01-01T00:00:00Z&end=2026-02-01T00:00:00Z"); w.Code != http.StatusOK {
			t.Errorf("Valid RFC 3339 range should be accepted, got status %d", w.Code)
		}
	})

	t.Run("MalformedStart", func(t *testing.T) {
		if w := get("?start=yesterday"); w.Code != http.StatusBadRequest {
			t.Errorf("Malformed start should return 400, got %d", w.Code)
		}
	})

	t.Run("InvertedRange", func(t *testing.T) {
		if w := get("?start=2026-02-01T00:00:00Z&end=2026-01-01T00:00:00Z"); w.Code != http.StatusBadRequest {
			t.Errorf("End before start should return 400, got %d", w.Code)
		}
	})
}

func TestRespondFile_Headers(t *testing.T) {
	router := gin.New()
	router.GET("/result", func(c *gin.Context) {
		respondFile(c, &dispatch.Result{Filename: "merged.pdf", Content: []byte("%PDF-1.7")})
	})

	req := httptest.NewRequest("GET", "/result", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Expected Content-Type application/pdf, got '%s'", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="merged.pdf"` {
		t.Errorf("Unexpected Content-Disposition: %s", cd)
	}
}
