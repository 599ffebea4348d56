package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-long-enough"

func init() {
	gin.SetMode(gin.TestMode)
}

func signToken(t *testing.T, subject string, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID: uuid.New().String(),
		Tier:   string(models.TierPro),
		Email:  "user@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func jwtRouter() *gin.Engine {
	authn := NewJWTAuthenticator(&config.JWTConfig{Secret: testSecret})
	r := gin.New()
	r.GET("/protected", authn.JWTAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserIDFromContext(c), "tier": string(GetTierFromContext(c))})
	})
	return r
}

func TestJWTAuth_ValidToken(t *testing.T) {
	r := jwtRouter()

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "access", time.Hour))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth_Rejections(t *testing.T) {
	r := jwtRouter()

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"garbage token", "Bearer not.a.token"},
		{"refresh token on access route", "Bearer " + signToken(t, "refresh", time.Hour)},
		{"expired token", "Bearer " + signToken(t, "access", -time.Hour)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

type stubValidator struct {
	key *models.APIKey
	err error
}

func (s *stubValidator) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	return s.key, s.err
}

func TestAPIKeyAuth(t *testing.T) {
	key := &models.APIKey{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Permissions: []string{"pdf:merge"},
	}
	r := gin.New()
	r.POST("/v1/merge", APIKeyAuth(&stubValidator{key: key}), RequirePermission("pdf:merge"), func(c *gin.Context) {
		subject := GetSubjectFromContext(c)
		c.JSON(http.StatusOK, gin.H{"subject": subject.ID, "class": string(subject.Class)})
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/merge", nil)
	req.Header.Set("X-API-Key", "pdf_abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), key.ID.String())
	assert.Contains(t, w.Body.String(), string(models.SubjectAPIKey))
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	r := gin.New()
	r.POST("/v1/merge", APIKeyAuth(&stubValidator{}), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/merge", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequirePermission_Denied(t *testing.T) {
	key := &models.APIKey{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		Permissions: []string{"pdf:merge"},
	}
	r := gin.New()
	r.POST("/v1/ocr", APIKeyAuth(&stubValidator{key: key}), RequirePermission("pdf:ocr"), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/ocr", nil)
	req.Header.Set("X-API-Key", "pdf_abc123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireTier(t *testing.T) {
	r := gin.New()
	r.GET("/pro", func(c *gin.Context) {
		c.Set(ContextKeyTier, string(models.TierFree))
		c.Next()
	}, RequirePaid(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/pro", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequestID_GeneratedAndEchoed(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Generated when absent.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// Echoed when present.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestAnonymousSubject(t *testing.T) {
	r := gin.New()
	r.Use(AnonymousSubject())
	r.GET("/", func(c *gin.Context) {
		subject := GetSubjectFromContext(c)
		c.JSON(http.StatusOK, gin.H{"class": string(subject.Class), "id": subject.ID})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(models.SubjectAnonymous))
	assert.Contains(t, w.Body.String(), "anon:")
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://snackpdf.com"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://snackpdf.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://snackpdf.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://snackpdf.com")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
