package oee

import (
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// LabelActive is the Status label that counts as operating time.
const LabelActive = "Active"

// Availability is the uptime ratio of a window.
type Availability struct {
	OperatingTime         float64 `json:"operating_time"`
	PlannedProductionTime float64 `json:"planned_production_time"`
	Value                 float64 `json:"value"`
	Events                []Event `json:"events,omitempty"`

	// intervals is the full Status timeline, Active or not.
	intervals []timeline.Interval
}

// Event is one Active interval of an Availability result.
type Event struct {
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	Stop  time.Time `json:"stop"`
}

// Intervals returns the Status timeline the result was computed from.
func (a *Availability) Intervals() []timeline.Interval { return a.intervals }

// ComputeAvailability replays samples through evaluate over w. It returns
// nil when the replay yields no intervals. Events are only attached when
// details is set.
func ComputeAvailability(samples []types.Sample, w timeline.Window, now time.Time, evaluate timeline.Evaluator, details bool) *Availability {
	intervals := timeline.Replay(samples, w, now, evaluate)
	if len(intervals) == 0 {
		return nil
	}

	var (
		operating time.Duration
		events    []Event
	)
	for _, iv := range intervals {
		if iv.Label != LabelActive {
			continue
		}
		operating += iv.Duration()
		events = append(events, Event{Name: iv.Label, Start: iv.Start, Stop: iv.Stop})
	}
	planned := intervals[len(intervals)-1].Stop.Sub(intervals[0].Start)

	a := &Availability{
		OperatingTime:         round(operating.Seconds(), timePlaces),
		PlannedProductionTime: round(planned.Seconds(), timePlaces),
		intervals:             intervals,
	}
	a.Value = ratio(a.OperatingTime, a.PlannedProductionTime)
	if details {
		a.Events = events
	}
	return a
}
