package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:    "valid JSON config",
			config:  Config{Level: "info", Format: "json", RedactSecrets: true},
			wantErr: false,
		},
		{
			name:    "valid text config",
			config:  Config{Level: "debug", Format: "text"},
			wantErr: false,
		},
		{
			name:    "valid console config",
			config:  Config{Level: "warn", Format: "console"},
			wantErr: false,
		},
		{
			name:    "empty defaults",
			config:  Config{},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			config:  Config{Level: "invalid", Format: "json"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			config:  Config{Level: "info", Format: "invalid"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.config.Writer = buf

			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "warn", Format: "json", Writer: buf})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("Expected debug message to be filtered")
	}
	if strings.Contains(output, "info message") {
		t.Error("Expected info message to be filtered")
	}
	if !strings.Contains(output, "warn message") {
		t.Error("Expected warn message in output")
	}
	if !strings.Contains(output, "error message") {
		t.Error("Expected error message in output")
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	logger.Info("account selected", "account", "a@example.com", "model", "gemini-3-pro")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Output is not valid JSON: %v", err)
	}
	if entry["msg"] != "account selected" {
		t.Errorf("Expected msg %q, got %v", "account selected", entry["msg"])
	}
	if entry["model"] != "gemini-3-pro" {
		t.Errorf("Expected model field, got %v", entry["model"])
	}
}

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", RedactSecrets: true, Writer: buf})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	logger.Info("token refreshed", "refresh_token", "1//0abcdefghijklmnop")

	output := buf.String()
	if strings.Contains(output, "0abcdefghijklmnop") {
		t.Errorf("Expected refresh token to be redacted, got: %s", output)
	}
}

func TestLoggerWith(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Format: "json", Writer: buf})
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}

	child := logger.Component("pool")
	child.Info("ready")

	if !strings.Contains(buf.String(), `"component":"pool"`) {
		t.Errorf("Expected component field in output, got: %s", buf.String())
	}
}
