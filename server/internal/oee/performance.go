package oee

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// IsOverride reports whether sig carries a feed-rate override percentage.
func IsOverride(sig types.SignalDefinition) bool {
	return sig.Type == types.TypePathFeedrateOverride ||
		(sig.Type == types.TypePathFeedrate && sig.Units == types.UnitsPercent)
}

// Performance is the ideal versus actual operating time of a window.
type Performance struct {
	OperatingTime      float64            `json:"operating_time"`
	IdealOperatingTime float64            `json:"ideal_operating_time"`
	Value              float64            `json:"value"`
	Events             []PerformanceEvent `json:"events,omitempty"`
}

// PerformanceEvent is one override level and its contribution.
type PerformanceEvent struct {
	Name               string    `json:"name"`
	OperatingTime      float64   `json:"operating_time"`
	IdealOperatingTime float64   `json:"ideal_operating_time"`
	Start              time.Time `json:"start"`
	Stop               time.Time `json:"stop"`
}

// ComputePerformance segments the override samples over w and intersects
// every level with the Active intervals of status. It returns nil when no
// numeric override value is found.
func ComputePerformance(samples []types.Sample, w timeline.Window, now time.Time, status []timeline.Interval, details bool) *Performance {
	levels := timeline.Segment(samples, w, now)
	if len(levels) == 0 {
		return nil
	}

	// Totals are summed from the rounded event values so they always equal
	// the sum of the reported events.
	var (
		operating, ideal decimal.Decimal
		events           = make([]PerformanceEvent, 0, len(levels))
	)
	for _, lvl := range levels {
		var overlap time.Duration
		for _, iv := range status {
			if iv.Label != LabelActive {
				continue
			}
			overlap += timeline.Overlap(lvl.Start, lvl.Stop, iv.Start, iv.Stop)
		}
		op := round(overlap.Seconds(), timePlaces)
		id := round(overlap.Seconds()*(lvl.Value/100), timePlaces)
		operating = operating.Add(decimal.NewFromFloat(op))
		ideal = ideal.Add(decimal.NewFromFloat(id))

		events = append(events, PerformanceEvent{
			Name:               strconv.FormatFloat(lvl.Value, 'f', -1, 64),
			OperatingTime:      op,
			IdealOperatingTime: id,
			Start:              lvl.Start,
			Stop:               lvl.Stop,
		})
	}

	p := &Performance{
		OperatingTime:      operating.InexactFloat64(),
		IdealOperatingTime: ideal.InexactFloat64(),
	}
	p.Value = ratio(p.IdealOperatingTime, p.OperatingTime)
	if details {
		p.Events = events
	}
	return p
}
