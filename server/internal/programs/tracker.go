package programs

import (
	"strings"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// Terminal Program Status labels.
const (
	LabelStopped   = "Stopped"
	LabelCompleted = "Completed"
)

// Program is one execution of a named program.
type Program struct {
	Name      string    `json:"name"`
	Start     time.Time `json:"start"`
	Stop      time.Time `json:"stop"`
	Completed bool      `json:"completed"`
	Events    []Event   `json:"events"`
}

// Event is one Program Status state observed during a program.
type Event struct {
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	ExecutionMode string    `json:"execution_mode"`
	Start         time.Time `json:"start"`
	Stop          time.Time `json:"stop"`
}

// Signals names the signals the tracker reads from each snapshot.
type Signals struct {
	Program   string
	Execution string
}

// tracker holds the open program and event while a replay advances.
type tracker struct {
	out   []Program
	prog  *Program
	event *Event
}

func (t *tracker) openEvent(at time.Time, st timeline.State, exec string) {
	t.event = &Event{Name: st.Label, Description: st.Description, ExecutionMode: exec, Start: at}
}

func (t *tracker) closeEvent(at time.Time) {
	if t.event == nil {
		return
	}
	t.event.Stop = at
	t.prog.Events = append(t.prog.Events, *t.event)
	t.event = nil
}

func (t *tracker) closeProgram(at time.Time, completed bool) {
	t.closeEvent(at)
	t.prog.Stop = at
	t.prog.Completed = completed
	t.out = append(t.out, *t.prog)
	t.prog = nil
}

func (t *tracker) step(at time.Time, st timeline.State, name, exec string) {
	terminal := st.Label == LabelStopped || st.Label == LabelCompleted

	if t.prog != nil {
		t.prog.Stop = at
		switch {
		case name != t.prog.Name:
			t.closeProgram(at, false)
		case terminal:
			t.closeProgram(at, st.Label == LabelCompleted)
			return
		}
	}

	if t.prog == nil {
		if name == "" || strings.EqualFold(name, types.Unavailable) || terminal {
			return
		}
		t.prog = &Program{Name: name, Start: at, Events: []Event{}}
		t.openEvent(at, st, exec)
		return
	}

	if t.event == nil || t.event.Name != st.Label {
		t.closeEvent(at)
		t.openEvent(at, st, exec)
	}
}

// Track replays samples over w and returns the programs observed, ordered by
// start. evaluate is the Program Status rule. Steps where evaluate reports
// no state are skipped. A program still running at the end of the replay
// closes at w.End(now) with Completed false.
func Track(samples []types.Sample, w timeline.Window, now time.Time, evaluate timeline.Evaluator, sig Signals) []Program {
	var t tracker
	timeline.Walk(samples, w, func(at time.Time, snap timeline.Snapshot) {
		st, ok := evaluate(snap)
		if !ok {
			return
		}
		t.step(at, st, snap.Value(sig.Program), snap.Value(sig.Execution))
	})

	if t.prog != nil {
		end := w.End(now)
		if end.Before(t.prog.Stop) {
			end = t.prog.Stop
		}
		t.closeProgram(end, false)
	}
	return t.out
}
