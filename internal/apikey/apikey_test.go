package apikey

import (
	"strings"
	"testing"

	"github.com/snackpdf/platform/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateAPIKey(t *testing.T) {
	rawKey, keyHash, keyPrefix, err := generateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(rawKey, "pdf_"))
	assert.Len(t, rawKey, len("pdf_")+64)
	assert.Len(t, keyHash, 64)
	assert.Equal(t, rawKey[:12], keyPrefix)
	assert.Equal(t, HashAPIKey(rawKey), keyHash)
}

func TestGenerateAPIKey_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		rawKey, _, _, err := generateAPIKey()
		require.NoError(t, err)
		assert.False(t, seen[rawKey], "duplicate key generated")
		seen[rawKey] = true
	}
}

func TestValidatePermissions(t *testing.T) {
	assert.NoError(t, ValidatePermissions(nil))
	assert.NoError(t, ValidatePermissions(DefaultPermissions()))
	assert.NoError(t, ValidatePermissions([]string{"admin"}))
	assert.NoError(t, ValidatePermissions([]string{policy.ActionOCR, policy.ActionBatch}))

	err := ValidatePermissions([]string{policy.ActionMerge, "pdf:steal"})
	assert.ErrorIs(t, err, ErrBadPermission)
}

func TestDefaultPermissions_ExcludePrivileged(t *testing.T) {
	for _, p := range DefaultPermissions() {
		assert.NotEqual(t, "admin", p)
		assert.NotEqual(t, policy.ActionOCR, p, "OCR is opt-in")
	}
}

// Property: the hash never leaks the raw key and is stable.
func TestProperty_HashIsStableAndOpaque(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := "pdf_" + rapid.StringMatching(`[0-9a-f]{64}`).Draw(t, "hexBody")

		h1 := HashAPIKey(raw)
		h2 := HashAPIKey(raw)
		if h1 != h2 {
			t.Fatalf("hash not stable: %s != %s", h1, h2)
		}
		if strings.Contains(h1, raw) || strings.Contains(raw, h1) {
			t.Fatal("hash must not contain the raw key")
		}
		if len(h1) != 64 {
			t.Fatalf("unexpected hash length %d", len(h1))
		}
	})
}
