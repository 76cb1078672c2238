package utils

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObfuscateRoundTrip(t *testing.T) {
	keys := []string{
		"sk-proj-abc123def456",
		"x",
		"a key with spaces and 中文",
	}
	for _, key := range keys {
		stored := ObfuscateKey(key)
		require.True(t, strings.HasPrefix(stored, ObfuscatedPrefix))
		assert.NotContains(t, stored[len(ObfuscatedPrefix):], key)
		assert.Equal(t, key, DeobfuscateKey(stored))
	}
}

func TestObfuscateIdempotent(t *testing.T) {
	stored := ObfuscateKey("sk-test-key")
	assert.Equal(t, stored, ObfuscateKey(stored))
}

func TestObfuscateEmpty(t *testing.T) {
	assert.Equal(t, "", ObfuscateKey(""))
	assert.Equal(t, "", DeobfuscateKey(""))
}

func TestDeobfuscatePlaintextPassthrough(t *testing.T) {
	assert.Equal(t, "sk-plain-key", DeobfuscateKey("sk-plain-key"))
}

func TestDeobfuscateLegacyColonFormat(t *testing.T) {
	legacy := base64.StdEncoding.EncodeToString([]byte("old-api-key")) + ":machine-tail"
	assert.Equal(t, "old-api-key", DeobfuscateKey(legacy))
}

func TestDeobfuscateCorruptValue(t *testing.T) {
	assert.Equal(t, "", DeobfuscateKey(ObfuscatedPrefix+"not!!base64@@"))
}
