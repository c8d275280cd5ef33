package oee

import (
	"time"

	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// Result is the OEE of one window or bucket.
type Result struct {
	Value        float64       `json:"oee"`
	From         *time.Time    `json:"from,omitempty"`
	To           *time.Time    `json:"to,omitempty"`
	Availability *Availability `json:"availability"`
	Performance  *Performance  `json:"performance"`
}

// Compose builds the Result for w from its availability and performance.
// Either may be nil.
func Compose(w timeline.Window, a *Availability, p *Performance) Result {
	r := Result{Availability: a, Performance: p}
	if !w.From.IsZero() {
		from := w.From
		r.From = &from
	}
	if !w.To.IsZero() {
		to := w.To
		r.To = &to
	}
	switch {
	case a == nil:
	case p != nil:
		r.Value = round(a.Value*p.Value, ratioPlaces)
	default:
		r.Value = a.Value
	}
	return r
}

// Buckets splits [from, to) into consecutive windows of length increment,
// the last one clipped to to. Zero-length buckets are never produced.
func Buckets(from, to time.Time, increment time.Duration) []timeline.Window {
	if increment <= 0 {
		return []timeline.Window{{From: from, To: to}}
	}
	var out []timeline.Window
	for start := from; start.Before(to); {
		end := start.Add(increment)
		if end.After(to) {
			end = to
		}
		out = append(out, timeline.Window{From: start, To: end})
		start = end
	}
	return out
}
