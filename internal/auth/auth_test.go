package auth

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/snackpdf/platform/internal/config"
	"github.com/snackpdf/platform/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testService(secret string) *Service {
	return NewService(nil, &config.JWTConfig{
		Secret:             secret,
		AccessTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
		Issuer:             "snackpdf",
	})
}

func testUser(tier models.Tier) *models.User {
	return &models.User{
		ID:        uuid.New(),
		Email:     "user@example.com",
		Tier:      tier,
		CreatedAt: time.Now(),
	}
}

func TestTokenPair_RoundTrip(t *testing.T) {
	svc := testService("test-secret-that-is-long-enough")
	user := testUser(models.TierPro)

	pair, err := svc.generateTokenPair(user)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), claims.UserID)
	assert.Equal(t, string(models.TierPro), claims.Tier)
	assert.Equal(t, user.Email, claims.Email)
}

func TestValidateAccessToken_RejectsRefreshToken(t *testing.T) {
	svc := testService("test-secret-that-is-long-enough")

	pair, err := svc.generateTokenPair(testUser(models.TierFree))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_RejectsWrongSecret(t *testing.T) {
	svc := testService("secret-one-that-is-long-enough!")
	other := testService("secret-two-that-is-long-enough!")

	pair, err := svc.generateTokenPair(testUser(models.TierFree))
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAccessToken_RejectsExpired(t *testing.T) {
	svc := NewService(nil, &config.JWTConfig{
		Secret:             "test-secret-that-is-long-enough",
		AccessTokenExpiry:  -time.Minute,
		RefreshTokenExpiry: -time.Minute,
		Issuer:             "snackpdf",
	})

	pair, err := svc.generateTokenPair(testUser(models.TierFree))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateAccessToken_RejectsGarbage(t *testing.T) {
	svc := testService("test-secret-that-is-long-enough")

	for _, token := range []string{"", "not-a-token", "a.b.c"} {
		_, err := svc.ValidateAccessToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken, "token %q", token)
	}
}

// Property: any generated token validates with the issuing secret and
// carries the user's identity intact, for every tier.
func TestProperty_TokenClaimsSurviveRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		secretLen := rapid.IntRange(16, 64).Draw(t, "secretLen")
		secret := ""
		for i := 0; i < secretLen; i++ {
			chars := "abcdefghijklmnopqrstuvwxyz0123456789"
			idx := rapid.IntRange(0, len(chars)-1).Draw(t, fmt.Sprintf("char%d", i))
			secret += string(chars[idx])
		}
		tier := rapid.SampledFrom([]models.Tier{
			models.TierFree, models.TierPro, models.TierEnterprise,
		}).Draw(t, "tier")

		svc := testService(secret)
		user := testUser(tier)

		pair, err := svc.generateTokenPair(user)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}

		claims, err := svc.ValidateAccessToken(pair.AccessToken)
		if err != nil {
			t.Fatalf("validate: %v", err)
		}
		if claims.UserID != user.ID.String() {
			t.Fatalf("user id mismatch: %s != %s", claims.UserID, user.ID)
		}
		if claims.Tier != string(tier) {
			t.Fatalf("tier mismatch: %s != %s", claims.Tier, tier)
		}
	})
}
