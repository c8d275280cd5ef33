package timeline

import (
	"sort"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
)

// Visitor is called once per distinct replay instant with the snapshot as it
// stands after every sample at that instant has been applied. The snapshot
// must not be retained after the call returns.
type Visitor func(at time.Time, snap Snapshot)

// ordered holds samples sorted for replay and the seed split point.
type ordered struct {
	samples []types.Sample
	seedAt  time.Time
	split   int // samples[:split] seed the snapshot, samples[split:] are events
}

// order sorts a copy of samples by timestamp (stable, so ties keep their
// input order), drops samples after a bounded window end and locates the
// seed instant.
func order(samples []types.Sample, w Window) (ordered, bool) {
	if len(samples) == 0 {
		return ordered{}, false
	}
	sorted := make([]types.Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	if !w.To.IsZero() {
		n := sort.Search(len(sorted), func(i int) bool { return sorted[i].Timestamp.After(w.To) })
		sorted = sorted[:n]
		if len(sorted) == 0 {
			return ordered{}, false
		}
	}

	seedAt := w.From
	if seedAt.IsZero() {
		seedAt = sorted[0].Timestamp
	}
	split := sort.Search(len(sorted), func(i int) bool { return sorted[i].Timestamp.After(seedAt) })
	return ordered{samples: sorted, seedAt: seedAt, split: split}, true
}

// Walk replays samples over w, calling visit at the seed instant (when any
// sample seeds the snapshot) and then at every distinct later timestamp in
// ascending order. It returns false, without calling visit, when no sample
// lies after the seed instant.
func Walk(samples []types.Sample, w Window, visit Visitor) bool {
	o, ok := order(samples, w)
	if !ok || o.split == len(o.samples) {
		return false
	}

	snap := make(Snapshot)
	for _, s := range o.samples[:o.split] {
		snap[s.SignalID] = s
	}
	if o.split > 0 {
		visit(o.seedAt, snap)
	}

	for i := o.split; i < len(o.samples); {
		at := o.samples[i].Timestamp
		for ; i < len(o.samples) && o.samples[i].Timestamp.Equal(at); i++ {
			snap[o.samples[i].SignalID] = o.samples[i]
		}
		visit(at, snap)
	}
	return true
}

// Replay evaluates the snapshot at every replay instant and returns the
// resulting label intervals. A new interval opens whenever the evaluated
// label differs from the open one; the last interval closes at w.End(now).
func Replay(samples []types.Sample, w Window, now time.Time, evaluate Evaluator) []Interval {
	var (
		out  []Interval
		cur  Interval
		open bool
	)

	Walk(samples, w, func(at time.Time, snap Snapshot) {
		st, ok := evaluate(snap)
		if !ok {
			return
		}
		if open && st.Label == cur.Label {
			return
		}
		if open {
			cur.Stop = at
			out = append(out, cur)
		}
		cur = Interval{Label: st.Label, Description: st.Description, Start: at}
		open = true
	})

	if open {
		cur.Stop = clampEnd(cur.Start, w.End(now))
		out = append(out, cur)
	}
	return out
}

// clampEnd keeps stop >= start when the wall clock lags the newest sample.
func clampEnd(start, end time.Time) time.Time {
	if end.Before(start) {
		return start
	}
	return end
}
