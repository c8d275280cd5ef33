package rules

import (
	"strings"

	"github.com/obsidianstack/analytics/pkg/types"
)

// Catalog is a device's signal definitions together with its component
// topology, indexed for filter matching.
type Catalog struct {
	signals    []types.SignalDefinition
	components map[string]types.Component
}

// NewCatalog indexes signals and components of one device instance.
func NewCatalog(signals []types.SignalDefinition, components []types.Component) *Catalog {
	c := &Catalog{
		signals:    signals,
		components: make(map[string]types.Component, len(components)),
	}
	for _, comp := range components {
		c.components[comp.ID] = comp
	}
	return c
}

// Signals returns every signal definition in the catalog.
func (c *Catalog) Signals() []types.SignalDefinition { return c.signals }

// FindType returns the first signal of the given type.
func (c *Catalog) FindType(typ string) (types.SignalDefinition, bool) {
	for _, s := range c.signals {
		if s.Type == typ {
			return s, true
		}
	}
	return types.SignalDefinition{}, false
}

// Select returns every signal for which keep reports true.
func (c *Catalog) Select(keep func(types.SignalDefinition) bool) []types.SignalDefinition {
	var out []types.SignalDefinition
	for _, s := range c.signals {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// Match returns the signals selected by filter, in catalog order.
func (c *Catalog) Match(filter string) []types.SignalDefinition {
	return c.Select(func(s types.SignalDefinition) bool { return c.matches(filter, s) })
}

func (c *Catalog) matches(filter string, sig types.SignalDefinition) bool {
	segs := strings.Split(strings.Trim(filter, "/"), "/")
	if len(segs) == 0 {
		return false
	}
	last := normalize(segs[len(segs)-1])
	if last != normalize(sig.ID) && last != normalize(sig.Type) {
		return false
	}

	// Remaining segments must appear among the ancestors, nearest first.
	ancestors := c.ancestors(sig.ComponentID)
	pos := 0
	for i := len(segs) - 2; i >= 0; i-- {
		want := normalize(segs[i])
		found := false
		for ; pos < len(ancestors); pos++ {
			a := ancestors[pos]
			if normalize(a.Type) == want || normalize(a.ID) == want || (a.Name != "" && normalize(a.Name) == want) {
				found = true
				pos++
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ancestors walks from the component id up to the root.
func (c *Catalog) ancestors(id string) []types.Component {
	var out []types.Component
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		comp, ok := c.components[id]
		if !ok {
			break
		}
		out = append(out, comp)
		id = comp.ParentID
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", " ", "").Replace(s))
}
