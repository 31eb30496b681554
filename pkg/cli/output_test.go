package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormatterWriter(t *testing.T) {
	formatter := &TextFormatter{}
	var buf bytes.Buffer

	if err := formatter.FormatTo(&buf, "hello"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if got := buf.String(); got != "hello\n" {
		t.Errorf("FormatTo() = %q, want %q", got, "hello\n")
	}
}

func TestJSONFormatterWriter(t *testing.T) {
	tests := []struct {
		name   string
		indent bool
		data   any
	}{
		{"compact map", false, map[string]int{"requests": 3}},
		{"indented struct", true, struct {
			Model string `json:"model"`
			Count int    `json:"count"`
		}{"claude-sonnet-4-5", 7}},
		{"slice", true, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			formatter := &JSONFormatter{Indent: tt.indent}
			var buf bytes.Buffer

			if err := formatter.FormatTo(&buf, tt.data); err != nil {
				t.Fatalf("FormatTo() error = %v", err)
			}

			var decoded any
			if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
				t.Errorf("FormatTo() produced invalid JSON: %v", err)
			}
			if tt.indent && !strings.Contains(strings.TrimSpace(buf.String()), "\n") {
				t.Error("FormatTo() with indent produced single-line output")
			}
		})
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   string
	}{
		{FormatText, "*cli.TextFormatter"},
		{FormatJSON, "*cli.JSONFormatter"},
		{OutputFormat("bogus"), "*cli.TextFormatter"},
	}

	for _, tt := range tests {
		formatter := NewFormatter(tt.format)
		switch tt.want {
		case "*cli.TextFormatter":
			if _, ok := formatter.(*TextFormatter); !ok {
				t.Errorf("NewFormatter(%q) = %T, want TextFormatter", tt.format, formatter)
			}
		case "*cli.JSONFormatter":
			if _, ok := formatter.(*JSONFormatter); !ok {
				t.Errorf("NewFormatter(%q) = %T, want JSONFormatter", tt.format, formatter)
			}
		}
	}
}
