package rules

import (
	"strconv"
	"strings"

	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// SignalIDs returns the IDs of every signal any trigger of e depends on.
func (e *Event) SignalIDs(cat *Catalog) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, r := range e.Responses {
		for _, t := range r.Triggers {
			for _, s := range cat.Match(t.Filter) {
				if !seen[s.ID] {
					seen[s.ID] = true
					ids = append(ids, s.ID)
				}
			}
		}
	}
	return ids
}

// boundTrigger is a trigger with its filter resolved to signal IDs.
type boundTrigger struct {
	Trigger
	ids []string
}

// Evaluator binds e to a device catalog and returns a timeline.Evaluator.
// Filters are resolved once here, not per replay instant.
func (e *Event) Evaluator(cat *Catalog) timeline.Evaluator {
	bound := make([][]boundTrigger, len(e.Responses))
	for i, r := range e.Responses {
		for _, t := range r.Triggers {
			bt := boundTrigger{Trigger: t}
			for _, s := range cat.Match(t.Filter) {
				bt.ids = append(bt.ids, s.ID)
			}
			bound[i] = append(bound[i], bt)
		}
	}

	return func(snap timeline.Snapshot) (timeline.State, bool) {
		for i, r := range e.Responses {
			if allMatch(bound[i], snap) {
				return timeline.State{Label: r.Value, Description: r.Description}, true
			}
		}
		if e.Default != nil {
			return timeline.State{Label: e.Default.Value, Description: e.Default.Description}, true
		}
		return timeline.State{}, false
	}
}

func allMatch(triggers []boundTrigger, snap timeline.Snapshot) bool {
	for _, t := range triggers {
		if !t.matches(snap) {
			return false
		}
	}
	return true
}

// matches reports whether any selected signal currently satisfies t.
// Signals not yet observed never satisfy a trigger.
func (t boundTrigger) matches(snap timeline.Snapshot) bool {
	for _, id := range t.ids {
		s, ok := snap[id]
		if !ok {
			continue
		}
		if compare(s.Value, t.Modifier, t.Value) {
			return true
		}
	}
	return false
}

func compare(actual, modifier, want string) bool {
	switch modifier {
	case "", ModifierEqual:
		return strings.EqualFold(actual, want)
	case ModifierNot:
		return !strings.EqualFold(actual, want)
	case ModifierContains:
		return strings.Contains(strings.ToLower(actual), strings.ToLower(want))
	case ModifierGreaterThan, ModifierLessThan:
		a, err := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		if err != nil {
			return false
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(want), 64)
		if err != nil {
			return false
		}
		if modifier == ModifierGreaterThan {
			return a > w
		}
		return a < w
	default:
		return false
	}
}
