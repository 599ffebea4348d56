package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/apikey"
	"github.com/snackpdf/platform/internal/config"
	apierrors "github.com/snackpdf/platform/internal/errors"
	"github.com/snackpdf/platform/internal/models"
	"github.com/snackpdf/platform/internal/policy"
)

// Context keys for storing request identity
const (
	ContextKeyUserID  = "user_id"
	ContextKeyTier    = "tier"
	ContextKeyEmail   = "email"
	ContextKeyClaims  = "claims"
	ContextKeyAPIKey  = "api_key"
	ContextKeySubject = "subject"
	ContextKeyIsAdmin = "is_admin"
)

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// UserLoader resolves a user record for authorization checks.
type UserLoader interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// KeyValidator resolves a raw API key to its stored record.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error)
}

// JWTAuthenticator handles JWT token validation
type JWTAuthenticator struct {
	config *config.JWTConfig
}

// NewJWTAuthenticator creates a new JWT authenticator
func NewJWTAuthenticator(cfg *config.JWTConfig) *JWTAuthenticator {
	return &JWTAuthenticator{
		config: cfg,
	}
}

// JWTAuth creates a middleware that validates JWT tokens from the Authorization header
// It extracts the Bearer token, validates it, and sets user information in the context
func (j *JWTAuthenticator) JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		tokenString, err := extractBearerToken(authHeader)
		if err != nil {
			respondWithError(c, apierrors.ErrInvalidCredentialsError)
			c.Abort()
			return
		}

		claims, err := j.ValidateAccessToken(tokenString)
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				respondWithError(c, apierrors.ErrTokenExpiredError)
			} else {
				respondWithError(c, apierrors.ErrInvalidCredentialsError)
			}
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyTier, claims.Tier)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyClaims, claims)
		c.Set(ContextKeySubject, policy.Subject{
			ID:    claims.UserID,
			Class: models.SubjectUser,
			Addr:  c.ClientIP(),
		})

		c.Next()
	}
}

// ValidateAccessToken validates an access token and returns claims
func (j *JWTAuthenticator) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := j.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Subject != "access" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// validateToken parses and validates a JWT token
func (j *JWTAuthenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(j.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// extractBearerToken extracts the token from a Bearer authorization header
func extractBearerToken(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) {
		return "", ErrInvalidToken
	}
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidToken
	}
	return authHeader[len(bearerPrefix):], nil
}

// JWT validation errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// respondWithError sends a standardized error response
func respondWithError(c *gin.Context, err *apierrors.APIError) {
	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(err.HTTPStatus, apierrors.ErrorResponse{
		Error:     *err,
		RequestID: reqIDStr,
	})
}

// APIKeyAuth creates a middleware that authenticates requests by the
// X-API-Key header. The key's stored record is set in the context, and
// the gate subject becomes the key itself rather than its owner.
func APIKeyAuth(validator KeyValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := c.GetHeader("X-API-Key")
		if rawKey == "" {
			respondWithError(c, apierrors.ErrInvalidAPIKeyError)
			c.Abort()
			return
		}

		key, err := validator.ValidateAPIKey(c.Request.Context(), rawKey)
		if err != nil {
			respondWithError(c, apierrors.ErrInvalidAPIKeyError)
			c.Abort()
			return
		}

		c.Set(ContextKeyAPIKey, key)
		c.Set(ContextKeyUserID, key.UserID.String())
		c.Set(ContextKeySubject, policy.Subject{
			ID:    key.ID.String(),
			Class: models.SubjectAPIKey,
			Addr:  c.ClientIP(),
		})

		c.Next()
	}
}

// RequirePermission checks the API key in the context for an action tag.
// Must run after APIKeyAuth.
func RequirePermission(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := GetAPIKeyFromContext(c)
		if key == nil || !key.HasPermission(action) {
			respondWithError(c, &apierrors.APIError{
				Code:       apierrors.ErrForbidden,
				Message:    fmt.Sprintf("API key lacks permission %q", action),
				HTTPStatus: http.StatusForbidden,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireTier creates a middleware that checks if the user is on one of
// the given tiers. Must run after JWTAuth.
func RequireTier(allowedTiers ...models.Tier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tierStr, exists := c.Get(ContextKeyTier)
		if !exists {
			respondWithError(c, apierrors.ErrForbiddenError)
			c.Abort()
			return
		}

		tier := models.Tier(tierStr.(string))

		hasTier := false
		for _, t := range allowedTiers {
			if tier == t {
				hasTier = true
				break
			}
		}

		if !hasTier {
			respondWithError(c, &apierrors.APIError{
				Code:       apierrors.ErrTierRequired,
				Message:    fmt.Sprintf("Access denied. Required tier: %v", allowedTiers),
				HTTPStatus: http.StatusForbidden,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequirePaid is a convenience middleware that requires a paying tier
func RequirePaid() gin.HandlerFunc {
	return RequireTier(models.TierPro, models.TierEnterprise)
}

// RequireAdmin checks the stored user record for the admin flag.
// Token claims alone are not trusted for admin access.
func RequireAdmin(users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(GetUserIDFromContext(c))
		if err != nil {
			respondWithError(c, apierrors.ErrForbiddenError)
			c.Abort()
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), userID)
		if err != nil || !user.IsAdmin {
			respondWithError(c, apierrors.ErrForbiddenError)
			c.Abort()
			return
		}

		c.Set(ContextKeyIsAdmin, true)
		c.Next()
	}
}

// AnonymousSubject sets a gate subject for unauthenticated routes, keyed
// by client address.
func AnonymousSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeySubject); !exists {
			c.Set(ContextKeySubject, policy.Subject{
				ID:    "anon:" + c.ClientIP(),
				Class: models.SubjectAnonymous,
				Addr:  c.ClientIP(),
			})
		}
		c.Next()
	}
}

// GetUserIDFromContext extracts the user ID from the gin context
// Returns empty string if not found
func GetUserIDFromContext(c *gin.Context) string {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return ""
	}
	return userID.(string)
}

// GetTierFromContext extracts the subscription tier from the gin context
// Returns empty string if not found
func GetTierFromContext(c *gin.Context) models.Tier {
	tier, exists := c.Get(ContextKeyTier)
	if !exists {
		return ""
	}
	return models.Tier(tier.(string))
}

// GetEmailFromContext extracts the email from the gin context
// Returns empty string if not found
func GetEmailFromContext(c *gin.Context) string {
	email, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	return email.(string)
}

// GetClaimsFromContext extracts the full claims from the gin context
// Returns nil if not found
func GetClaimsFromContext(c *gin.Context) *Claims {
	claims, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	return claims.(*Claims)
}

// GetAPIKeyFromContext extracts the validated API key from the gin context
// Returns nil if not found
func GetAPIKeyFromContext(c *gin.Context) *models.APIKey {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil
	}
	return key.(*models.APIKey)
}

// GetSubjectFromContext extracts the gate subject from the gin context.
// Falls back to an anonymous subject keyed by client address.
func GetSubjectFromContext(c *gin.Context) policy.Subject {
	subject, exists := c.Get(ContextKeySubject)
	if !exists {
		return policy.Subject{
			ID:    "anon:" + c.ClientIP(),
			Class: models.SubjectAnonymous,
			Addr:  c.ClientIP(),
		}
	}
	return subject.(policy.Subject)
}

// RequestID adds a unique request ID to each request
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// CorrelationID adds a correlation ID for distributed tracing
// It can be passed from upstream services or generated if not present
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = c.GetString("request_id")
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
		}
		c.Set("correlation_id", correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Next()
	}
}

// GetRequestIDFromContext extracts the request ID from the gin context
// Returns empty string if not found
func GetRequestIDFromContext(c *gin.Context) string {
	requestID, exists := c.Get("request_id")
	if !exists {
		return ""
	}
	return requestID.(string)
}

// CORS configures CORS headers
func CORS(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowed := false
		for _, o := range allowedOrigins {
			if o == origin || o == "*" {
				allowed = true
				break
			}
		}

		if allowed {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID, X-API-Key")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Remaining")
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Max-Age", "43200") // 12 hours
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

var _ KeyValidator = (*apikey.Service)(nil)
