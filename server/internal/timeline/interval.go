package timeline

import (
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
)

// Window is the requested evaluation range. A zero From means "start at the
// earliest sample"; a zero To means "up to now".
type Window struct {
	From time.Time
	To   time.Time
}

// End returns the instant the window closes at: To when bounded, else now.
func (w Window) End(now time.Time) time.Time {
	if !w.To.IsZero() {
		return w.To
	}
	return now
}

// Snapshot maps a signal ID to its most recent sample at the current replay
// instant. It is mutated in place while replay advances.
type Snapshot map[string]types.Sample

// Value returns the current value of signal id, or "" when it has not been
// observed yet.
func (s Snapshot) Value(id string) string {
	return s[id].Value
}

// Samples returns the snapshot contents as a slice (no particular order).
func (s Snapshot) Samples() []types.Sample {
	out := make([]types.Sample, 0, len(s))
	for _, smp := range s {
		out = append(out, smp)
	}
	return out
}

// State is the outcome of evaluating a Snapshot.
type State struct {
	Label       string
	Description string
}

// Evaluator classifies a Snapshot. ok is false when no state applies, in
// which case the current interval stays open.
type Evaluator func(snap Snapshot) (st State, ok bool)

// Interval is a closed, immutable range [Start, Stop) with a constant label.
type Interval struct {
	Label       string
	Description string
	Start       time.Time
	Stop        time.Time
}

// Duration returns Stop - Start.
func (i Interval) Duration() time.Duration { return i.Stop.Sub(i.Start) }

// Seconds returns the interval length in seconds.
func (i Interval) Seconds() float64 { return i.Duration().Seconds() }

// Level is an interval over which a tracked numeric value stayed constant.
type Level struct {
	Value float64
	Start time.Time
	Stop  time.Time
}

// Seconds returns the level's length in seconds.
func (l Level) Seconds() float64 { return l.Stop.Sub(l.Start).Seconds() }

// Overlap returns the length of the intersection of [s1, e1) and [s2, e2).
// Ranges that merely touch do not overlap.
func Overlap(s1, e1, s2, e2 time.Time) time.Duration {
	if !(s1.Before(e2) && s2.Before(e1)) {
		return 0
	}
	start := s1
	if s2.After(start) {
		start = s2
	}
	stop := e1
	if e2.Before(stop) {
		stop = e2
	}
	return stop.Sub(start)
}
