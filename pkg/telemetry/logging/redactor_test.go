package logging

import (
	"strings"
	"testing"
)

func TestRedactString(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name     string
		input    string
		redacted string
	}{
		{
			name:     "access token",
			input:    "fetched token ya29.a0AfB_byCdEfGh-123",
			redacted: "ya29.a0AfB_byCdEfGh-123",
		},
		{
			name:     "refresh token",
			input:    "stored 1//0gAbCdEfGhIjKl",
			redacted: "1//0gAbCdEfGhIjKl",
		},
		{
			name:     "anthropic key",
			input:    "client sent sk-ant-api03-abc123",
			redacted: "sk-ant-api03-abc123",
		},
		{
			name:     "bearer header",
			input:    "Authorization: Bearer abc.def.ghi",
			redacted: "Bearer abc.def.ghi",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.RedactString(tt.input)
			if strings.Contains(out, tt.redacted) {
				t.Errorf("Expected %q to be redacted from %q", tt.redacted, out)
			}
		})
	}
}

func TestRedactStringLeavesPlainText(t *testing.T) {
	r := NewRedactor()

	input := "account a@example.com selected for gemini-3-pro"
	if out := r.RedactString(input); out != input {
		t.Errorf("Expected plain text unchanged, got %q", out)
	}
}

func TestRedactArgsBySensitiveKey(t *testing.T) {
	r := NewRedactor()

	args := r.RedactArgs("api_key", "supersecretvalue", "model", "gemini-3-pro")

	if args[1] == "supersecretvalue" {
		t.Error("Expected api_key value to be redacted")
	}
	if args[3] != "gemini-3-pro" {
		t.Errorf("Expected model value unchanged, got %v", args[3])
	}
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"alice@example.com", "a***@example.com"},
		{"@example.com", "***@example.com"},
		{"not-an-email", "not-an-email"},
	}

	for _, tt := range tests {
		if got := RedactEmail(tt.input); got != tt.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestRedactToken(t *testing.T) {
	if got := RedactToken("ya29.verylongtoken"); got != "ya29***" {
		t.Errorf("RedactToken() = %q, want %q", got, "ya29***")
	}
	if got := RedactToken("ab"); got != "***" {
		t.Errorf("RedactToken() = %q, want %q", got, "***")
	}
}
