package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known event names.
const (
	EventStatus        = "Status"
	EventProgramStatus = "Program Status"
)

// Trigger modifiers.
const (
	ModifierEqual       = "equal"
	ModifierNot         = "not"
	ModifierGreaterThan = "greater_than"
	ModifierLessThan    = "less_than"
	ModifierContains    = "contains"
)

// ErrEventNotFound is returned when the requested event is not configured.
var ErrEventNotFound = errors.New("rules: event not configured")

// Config is the parsed events file.
type Config struct {
	Events []Event `yaml:"events"`
}

// Event is one named state classifier.
type Event struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Default     *Response  `yaml:"default"`
	Responses   []Response `yaml:"responses"`
}

// Response is one candidate state of an event.
type Response struct {
	Value       string    `yaml:"value"`
	Description string    `yaml:"description"`
	Triggers    []Trigger `yaml:"triggers"`
}

// Trigger is a single condition on the signals selected by Filter.
type Trigger struct {
	Filter string `yaml:"filter"`
	Value  string `yaml:"value"`

	// Modifier is one of: equal (default) | not | greater_than | less_than | contains.
	Modifier string `yaml:"modifier"`
}

// Find returns the event with the given name (case-insensitive).
func (c *Config) Find(name string) (*Event, error) {
	for i := range c.Events {
		if strings.EqualFold(c.Events[i].Name, name) {
			return &c.Events[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrEventNotFound, name)
}

// LoadFile reads and parses the events file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates an events document.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("rules: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Events))
	for i, e := range cfg.Events {
		if e.Name == "" {
			return fmt.Errorf("events[%d].name is required", i)
		}
		key := strings.ToLower(e.Name)
		if seen[key] {
			return fmt.Errorf("event %q defined more than once", e.Name)
		}
		seen[key] = true

		for j, r := range e.Responses {
			if r.Value == "" {
				return fmt.Errorf("event %q responses[%d].value is required", e.Name, j)
			}
			for k, t := range r.Triggers {
				if t.Filter == "" {
					return fmt.Errorf("event %q responses[%d].triggers[%d].filter is required", e.Name, j, k)
				}
				switch t.Modifier {
				case "", ModifierEqual, ModifierNot, ModifierGreaterThan, ModifierLessThan, ModifierContains:
				default:
					return fmt.Errorf("event %q trigger modifier %q unknown", e.Name, t.Modifier)
				}
			}
		}
	}
	return nil
}
