package utils

import (
	"strings"
)

// Key names that mark a value as sensitive wherever they appear in logs,
// prompts or exported state.
var sensitiveKeywords = []string{
	"password", "passwd", "pwd", "pass",
	"key", "api_key", "apikey",
	"secret", "token", "access_token", "refresh_token",
	"auth", "authorization", "credential",
	"private", "private_key", "secret_key",
}

// IsSensitiveKey reports whether the key name refers to a secret.
func IsSensitiveKey(name string) bool {
	lowered := strings.ToLower(name)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// MaskValue hides the middle of a secret, keeping three characters on each
// side so log lines stay correlatable.
func MaskValue(value string) string {
	if len(value) > 6 {
		return value[:3] + "***" + value[len(value)-3:]
	}
	return "***"
}

// SanitizeValue masks value when its key is sensitive.
func SanitizeValue(key string, value string) string {
	if IsSensitiveKey(key) {
		return MaskValue(value)
	}
	return value
}

// SanitizeMap returns a deep copy with every sensitive value masked.
// Nested maps and slices are walked; non-string sensitive values are
// replaced outright.
func SanitizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = sanitizeEntry(k, v)
	}
	return out
}

func sanitizeEntry(key string, value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeMap(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = sanitizeEntry(key, item)
		}
		return out
	case string:
		return SanitizeValue(key, v)
	default:
		if IsSensitiveKey(key) {
			return "***"
		}
		return value
	}
}
