package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeValue(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		value    string
		expected string
	}{
		{
			name:     "long api key keeps edges",
			key:      "api_key",
			value:    "sk-abcdef123456",
			expected: "sk-***456",
		},
		{
			name:     "short password fully masked",
			key:      "password",
			value:    "abc123",
			expected: "***",
		},
		{
			name:     "case insensitive key match",
			key:      "Authorization",
			value:    "Bearer tok_12345",
			expected: "Bea***345",
		},
		{
			name:     "substring match on key name",
			key:      "openai_api_key_v2",
			value:    "0123456789",
			expected: "012***789",
		},
		{
			name:     "plain key passes through",
			key:      "instruction",
			value:    "open the downloads folder",
			expected: "open the downloads folder",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeValue(tt.key, tt.value))
		})
	}
}

func TestSanitizeMapNested(t *testing.T) {
	in := map[string]interface{}{
		"instruction": "send the report",
		"email": map[string]interface{}{
			"smtp_host": "smtp.example.com",
			"password":  "hunter2hunter2",
		},
		"tokens": []interface{}{"tok_abcdef123", "tok_xyz987654"},
		"count":  3,
		"secret": 42,
	}

	out := SanitizeMap(in)

	assert.Equal(t, "send the report", out["instruction"])
	email, ok := out["email"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "smtp.example.com", email["smtp_host"])
	assert.Equal(t, "hun***er2", email["password"])

	tokens, ok := out["tokens"].([]interface{})
	require.True(t, ok)
	assert.Equal(t, "tok***123", tokens[0])
	assert.Equal(t, "tok***654", tokens[1])

	assert.Equal(t, 3, out["count"])
	assert.Equal(t, "***", out["secret"], "non-string sensitive values are replaced outright")

	// Original map is untouched.
	assert.Equal(t, "hunter2hunter2", in["email"].(map[string]interface{})["password"])
}

func TestSanitizeMapNil(t *testing.T) {
	assert.Nil(t, SanitizeMap(nil))
}
