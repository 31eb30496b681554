// Package catalog maps the model identifiers clients send to the
// identifiers the upstream expects. The gateway serves short stable names;
// the upstream knows some of them under prefixed or preview-suffixed
// identifiers.
package catalog

import (
	"sort"
	"sync"

	"orbital-hq/callisto/pkg/signature"
)

// Model describes one servable model.
type Model struct {
	// ID is the identifier clients use.
	ID string

	// UpstreamID is the identifier sent to the upstream service.
	UpstreamID string

	// Alias is the public preview name, when the upstream lists the model
	// under one. Requests using the alias resolve to the same model.
	Alias string

	// Family is the model family, which governs signature compatibility.
	Family signature.Family

	// Thinking reports whether the model emits thinking blocks.
	Thinking bool
}

// Catalog resolves served model identifiers. It starts from a static set
// and can absorb identifiers discovered from the upstream model listing.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[string]Model
	order  []string
	extras []string
}

// New creates a catalog populated with the static model set.
func New() *Catalog {
	c := &Catalog{byID: make(map[string]Model)}
	for _, m := range staticModels() {
		c.byID[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c
}

// staticModels is the built-in model set.
func staticModels() []Model {
	return []Model{
		{
			ID:         "claude-sonnet-4-5",
			UpstreamID: "antigravity-claude-sonnet-4-5",
			Family:     signature.FamilyClaude,
		},
		{
			ID:         "claude-sonnet-4-5-thinking",
			UpstreamID: "antigravity-claude-sonnet-4-5-thinking",
			Family:     signature.FamilyClaude,
			Thinking:   true,
		},
		{
			ID:         "claude-opus-4-5-thinking",
			UpstreamID: "antigravity-claude-opus-4-5-thinking",
			Family:     signature.FamilyClaude,
			Thinking:   true,
		},
		{
			ID:         "gemini-3-pro-high",
			UpstreamID: "gemini-3-pro-high",
			Alias:      "gemini-3-pro-preview",
			Family:     signature.FamilyGemini,
			Thinking:   true,
		},
		{
			ID:         "gemini-3-pro-low",
			UpstreamID: "gemini-3-pro-low",
			Alias:      "gemini-3-pro-low-preview",
			Family:     signature.FamilyGemini,
			Thinking:   true,
		},
		{
			ID:         "gemini-3-flash",
			UpstreamID: "gemini-3-flash",
			Alias:      "gemini-3-flash-preview",
			Family:     signature.FamilyGemini,
		},
	}
}

// Resolve looks up a model by served identifier or public alias.
func (c *Catalog) Resolve(model string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if m, ok := c.byID[model]; ok {
		return m, true
	}
	for _, m := range c.byID {
		if m.Alias != "" && m.Alias == model {
			return m, true
		}
	}
	return Model{}, false
}

// IDs returns the served identifiers in catalog order, followed by any
// upstream-discovered extras in sorted order.
func (c *Catalog) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.order)+len(c.extras))
	ids = append(ids, c.order...)
	ids = append(ids, c.extras...)
	return ids
}

// MergeUpstream records model identifiers reported by the upstream that
// the static catalog does not know. They are listed but resolve with the
// upstream identifier passed through unchanged.
func (c *Catalog) MergeUpstream(upstreamIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known := make(map[string]bool, len(c.byID))
	for id, m := range c.byID {
		known[id] = true
		if m.Alias != "" {
			known[m.Alias] = true
		}
		known[m.UpstreamID] = true
	}
	for _, extra := range c.extras {
		known[extra] = true
	}

	added := false
	for _, id := range upstreamIDs {
		if id == "" || known[id] {
			continue
		}
		c.byID[id] = Model{
			ID:         id,
			UpstreamID: id,
			Family:     signature.FamilyOf(id),
		}
		c.extras = append(c.extras, id)
		known[id] = true
		added = true
	}
	if added {
		sort.Strings(c.extras)
	}
}
