package timeline

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
)

// parseLevel parses a sample value as a finite number.
func parseLevel(v string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Segment tracks the numeric value carried by samples (all samples are
// treated as one channel) and returns one Level per run of equal values.
// Unparsable values are skipped and the previous value is kept.
//
// The latest numeric value at or before the seed instant opens the first
// level at that instant. The last level always closes at w.End(now), so a
// value that never changes still yields one level spanning the window.
func Segment(samples []types.Sample, w Window, now time.Time) []Level {
	o, ok := order(samples, w)
	if !ok {
		return nil
	}

	var (
		out  []Level
		cur  Level
		open bool
	)

	for _, s := range o.samples[:o.split] {
		if v, ok := parseLevel(s.Value); ok {
			cur = Level{Value: v, Start: o.seedAt}
			open = true
		}
	}

	for i := o.split; i < len(o.samples); {
		at := o.samples[i].Timestamp
		next, changed := cur.Value, false
		for ; i < len(o.samples) && o.samples[i].Timestamp.Equal(at); i++ {
			if v, ok := parseLevel(o.samples[i].Value); ok {
				next, changed = v, true
			}
		}
		if !changed || (open && next == cur.Value) {
			continue
		}
		if open {
			cur.Stop = at
			out = append(out, cur)
		}
		cur = Level{Value: next, Start: at}
		open = true
	}

	if open {
		cur.Stop = clampEnd(cur.Start, w.End(now))
		out = append(out, cur)
	}
	return out
}
