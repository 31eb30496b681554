package catalog

import (
	"testing"

	"orbital-hq/callisto/pkg/signature"
)

func TestResolveServedIDs(t *testing.T) {
	c := New()

	tests := []struct {
		id         string
		upstreamID string
		family     signature.Family
		thinking   bool
	}{
		{"claude-sonnet-4-5", "antigravity-claude-sonnet-4-5", signature.FamilyClaude, false},
		{"claude-sonnet-4-5-thinking", "antigravity-claude-sonnet-4-5-thinking", signature.FamilyClaude, true},
		{"claude-opus-4-5-thinking", "antigravity-claude-opus-4-5-thinking", signature.FamilyClaude, true},
		{"gemini-3-pro-high", "gemini-3-pro-high", signature.FamilyGemini, true},
		{"gemini-3-flash", "gemini-3-flash", signature.FamilyGemini, false},
	}

	for _, tt := range tests {
		m, ok := c.Resolve(tt.id)
		if !ok {
			t.Errorf("Resolve(%q) not found", tt.id)
			continue
		}
		if m.UpstreamID != tt.upstreamID {
			t.Errorf("Resolve(%q) upstream = %q, want %q", tt.id, m.UpstreamID, tt.upstreamID)
		}
		if m.Family != tt.family {
			t.Errorf("Resolve(%q) family = %q, want %q", tt.id, m.Family, tt.family)
		}
		if m.Thinking != tt.thinking {
			t.Errorf("Resolve(%q) thinking = %v, want %v", tt.id, m.Thinking, tt.thinking)
		}
	}
}

func TestResolveAlias(t *testing.T) {
	c := New()

	m, ok := c.Resolve("gemini-3-pro-preview")
	if !ok {
		t.Fatal("Expected alias to resolve")
	}
	if m.ID != "gemini-3-pro-high" {
		t.Errorf("Expected alias to resolve to gemini-3-pro-high, got %q", m.ID)
	}
}

func TestResolveUnknown(t *testing.T) {
	c := New()
	if _, ok := c.Resolve("gpt-4"); ok {
		t.Error("Expected unknown model to not resolve")
	}
}

func TestMergeUpstream(t *testing.T) {
	c := New()
	before := len(c.IDs())

	c.MergeUpstream([]string{
		"gemini-3-pro-preview",       // alias of a known model, skipped
		"gemini-3-flash",             // already known, skipped
		"gemini-2.5-flash",           // new
		"antigravity-claude-opus-4-5-thinking", // upstream id of known model, skipped
		"",
	})

	ids := c.IDs()
	if len(ids) != before+1 {
		t.Fatalf("Expected exactly one new model, got %d -> %d: %v", before, len(ids), ids)
	}

	m, ok := c.Resolve("gemini-2.5-flash")
	if !ok {
		t.Fatal("Expected merged model to resolve")
	}
	if m.UpstreamID != "gemini-2.5-flash" {
		t.Errorf("Expected merged model to pass through, got %q", m.UpstreamID)
	}
	if m.Family != signature.FamilyGemini {
		t.Errorf("Expected gemini family, got %q", m.Family)
	}

	// Merging again is idempotent.
	c.MergeUpstream([]string{"gemini-2.5-flash"})
	if len(c.IDs()) != len(ids) {
		t.Error("Expected repeated merge to be idempotent")
	}
}
