package types

import "time"

// Well-known signal categories and types.
const (
	CategoryCondition = "CONDITION"
	CategoryEvent     = "EVENT"
	CategorySample    = "SAMPLE"

	TypeProgram              = "PROGRAM"
	TypeExecution            = "EXECUTION"
	TypePathFeedrateOverride = "PATH_FEEDRATE_OVERRIDE"
	TypePathFeedrate         = "PATH_FEEDRATE"

	UnitsPercent = "PERCENT"

	// ConditionNormal is the condition level of a signal with no active alarm.
	ConditionNormal = "NORMAL"

	// Unavailable is the value reported for a signal with no known value.
	Unavailable = "UNAVAILABLE"
)

// Device is one monitored machine. InstanceID identifies its current
// signal set; definitions are versioned by instance.
type Device struct {
	ID         string `json:"device_id" yaml:"device_id"`
	InstanceID string `json:"instance_id" yaml:"instance_id"`
}

// Component is one node of a device's topology (Controller, Path, Axes...).
type Component struct {
	ID       string `json:"id" yaml:"id"`
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name,omitempty" yaml:"name"`
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id"`
}

// SignalDefinition describes one measurement channel of a device.
type SignalDefinition struct {
	ID          string `json:"id" yaml:"id"`
	Type        string `json:"type" yaml:"type"`
	Category    string `json:"category" yaml:"category"`
	Units       string `json:"units,omitempty" yaml:"units"`
	ComponentID string `json:"component_id,omitempty" yaml:"component_id"`
}

// Sample is a single time-stamped observation of a signal. Value is kept as
// text; numeric signals are parsed by the consumer. Condition is only set
// for CONDITION signals.
type Sample struct {
	DeviceID  string    `json:"device_id"`
	SignalID  string    `json:"signal_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
	Condition string    `json:"condition,omitempty"`
}
