// Package progress keeps per-entity import counters and resolves the
// display label each entity is reported under.
package progress

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/language"

	"github.com/markduk/portalmover/internal/schema"
)

// EntityProgress counts write outcomes for one entity type.
type EntityProgress struct {
	Entity    string `json:"entity"`
	Label     string `json:"label"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Succeed records a successful write.
func (p *EntityProgress) Succeed() {
	p.Processed++
	p.Succeeded++
}

// Fail records a failed write.
func (p *EntityProgress) Fail() {
	p.Processed++
	p.Failed++
}

// Tracker owns the EntityProgress of one import run. Not safe for
// concurrent use; the import engine drives it from a single goroutine.
type Tracker struct {
	lang    language.Tag
	entries map[string]*EntityProgress
}

// NewTracker creates a tracker resolving labels in lang.
func NewTracker(lang language.Tag) *Tracker {
	return &Tracker{lang: lang, entries: map[string]*EntityProgress{}}
}

// Track returns the counters for entity, creating them on first use with
// the label resolved from the catalog.
func (t *Tracker) Track(entity string, c *schema.Catalog) *EntityProgress {
	if p, ok := t.entries[entity]; ok {
		return p
	}
	p := &EntityProgress{Entity: entity, Label: ResolveLabel(entity, c, t.lang)}
	t.entries[entity] = p
	return p
}

// Lookup returns the counters for entity without creating them.
func (t *Tracker) Lookup(entity string) (*EntityProgress, bool) {
	p, ok := t.entries[entity]
	return p, ok
}

// Snapshot returns copies of all counters ordered by entity name.
func (t *Tracker) Snapshot() []EntityProgress {
	out := make([]EntityProgress, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b EntityProgress) int { return strings.Compare(a.Entity, b.Entity) })
	return out
}

// Totals sums every entity's counters.
func (t *Tracker) Totals() EntityProgress {
	var total EntityProgress
	for _, p := range t.entries {
		total.Processed += p.Processed
		total.Succeeded += p.Succeeded
		total.Failed += p.Failed
	}
	return total
}

// Summary renders one line per entity, ordered by entity name.
func (t *Tracker) Summary() string {
	var b strings.Builder
	for _, p := range t.Snapshot() {
		fmt.Fprintf(&b, "%s: %d succeeded, %d failed (%d processed)\n", p.Label, p.Succeeded, p.Failed, p.Processed)
	}
	return b.String()
}

// ResolveLabel picks the display label for an entity:
//  1. the localized label from metadata
//  2. for an intersect entity, "A / B" from the two related entities
//  3. the raw logical name
func ResolveLabel(entity string, c *schema.Catalog, lang language.Tag) string {
	if c == nil {
		return entity
	}
	if label, ok := c.Label(entity, lang); ok {
		return label
	}
	if rel, ok := c.Relationship(entity); ok {
		return labelOrName(rel.Entity1, c, lang) + " / " + labelOrName(rel.Entity2, c, lang)
	}
	return entity
}

func labelOrName(entity string, c *schema.Catalog, lang language.Tag) string {
	if label, ok := c.Label(entity, lang); ok {
		return label
	}
	return entity
}
