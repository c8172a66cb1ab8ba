package schema

import (
	"slices"

	"golang.org/x/text/language"
)

// Label returns the entity's display label closest to the requested
// language. Any available label is preferred over none, so a catalog with
// only French labels still yields the French label for an English request.
func (c *Catalog) Label(entity string, want language.Tag) (string, bool) {
	e, ok := c.entities[entity]
	if !ok || len(e.Labels) == 0 {
		return "", false
	}

	keys := make([]string, 0, len(e.Labels))
	for k := range e.Labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	tags := make([]language.Tag, 0, len(keys))
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		tag, err := language.Parse(k)
		if err != nil {
			continue
		}
		tags = append(tags, tag)
		names = append(names, e.Labels[k])
	}
	if len(tags) == 0 {
		return "", false
	}

	_, idx, _ := language.NewMatcher(tags).Match(want)
	if names[idx] == "" {
		return "", false
	}
	return names[idx], true
}
