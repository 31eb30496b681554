package logging

import (
	"fmt"
	"regexp"
	"strings"
)

// Redactor scrubs credentials from log fields. Refresh tokens, access
// tokens, and the gateway's shared secret all pass through this package
// on their way to selection and retry logs.
type Redactor struct {
	patterns map[string]*redactPattern
	enabled  bool
}

// redactPattern contains a compiled regex and replacement string.
type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in credential pattern names.
const (
	PatternAccessToken  = "access_token"
	PatternRefreshToken = "refresh_token"
	PatternAPIKey       = "api_key"
	PatternBearerToken  = "bearer_token"
)

// NewRedactor creates a new Redactor with the built-in credential patterns.
func NewRedactor() *Redactor {
	r := &Redactor{
		patterns: make(map[string]*redactPattern),
		enabled:  true,
	}
	r.addDefaultPatterns()
	return r
}

// addDefaultPatterns adds built-in credential redaction patterns.
func (r *Redactor) addDefaultPatterns() {
	patterns := map[string]struct {
		regex       string
		replacement string
	}{
		// Google OAuth access tokens
		PatternAccessToken: {
			regex:       `ya29\.[a-zA-Z0-9._-]+`,
			replacement: "ya29.***",
		},

		// Google OAuth refresh tokens
		PatternRefreshToken: {
			regex:       `1//[a-zA-Z0-9_-]+`,
			replacement: "1//***",
		},

		// Anthropic-style API keys
		PatternAPIKey: {
			regex:       `sk-ant-[a-zA-Z0-9_-]+`,
			replacement: "sk-ant-***",
		},

		// Bearer tokens in header dumps
		PatternBearerToken: {
			regex:       `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`,
			replacement: "Bearer ***",
		},
	}

	for name, p := range patterns {
		r.patterns[name] = &redactPattern{
			name:        name,
			regex:       regexp.MustCompile(p.regex),
			replacement: p.replacement,
		}
	}
}

// RedactString redacts credentials from a string value.
func (r *Redactor) RedactString(value string) string {
	if !r.enabled || value == "" {
		return value
	}

	redacted := value
	for _, pattern := range r.patterns {
		redacted = pattern.regex.ReplaceAllString(redacted, pattern.replacement)
	}

	return redacted
}

// RedactArgs redacts credentials from variadic log arguments.
// Args are in the form: key1, value1, key2, value2, ...
func (r *Redactor) RedactArgs(args ...any) []any {
	if !r.enabled || len(args) == 0 {
		return args
	}

	redacted := make([]any, len(args))
	copy(redacted, args)

	for i := 1; i < len(redacted); i += 2 {
		key, ok := redacted[i-1].(string)
		if ok && r.isSensitiveKey(key) {
			redacted[i] = r.redactValue(redacted[i])
			continue
		}

		if str, ok := redacted[i].(string); ok {
			redacted[i] = r.RedactString(str)
		}
	}

	return redacted
}

// isSensitiveKey checks if a key name indicates credential data.
func (r *Redactor) isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)

	sensitiveKeys := []string{
		"password", "secret", "token",
		"api_key", "apikey",
		"auth", "authorization",
		"credential", "refresh_token", "access_token",
	}

	for _, sensitive := range sensitiveKeys {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}

	return false
}

// redactValue redacts a sensitive value completely.
func (r *Redactor) redactValue(value any) any {
	switch v := value.(type) {
	case string:
		if v == "" {
			return ""
		}
		// Keep a short prefix for correlation during debugging
		if len(v) <= 4 {
			return "***"
		}
		return v[:4] + "***"
	case fmt.Stringer:
		return "***"
	default:
		return "***"
	}
}

// RedactEmail redacts an email address partially (shows first char and domain).
// Account emails are pool identifiers, so logs keep enough to tell accounts
// apart without recording the full address.
func RedactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return email
	}

	username := parts[0]
	domain := parts[1]

	if len(username) == 0 {
		return "***@" + domain
	}

	return string(username[0]) + "***@" + domain
}

// RedactToken redacts a token, keeping only a short prefix.
func RedactToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return token[:4] + "***"
}
