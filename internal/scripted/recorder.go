package scripted

import (
	"fmt"
	"strings"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// TraceEvent is one recorded listener notification.
type TraceEvent struct {
	Type  string       `json:"type"`
	State string       `json:"state,omitempty"`
	Time  rat.Rational `json:"time,omitzero"`
	Atoms []string     `json:"atoms,omitempty"`
}

// Recorder records every listener notification in arrival order, for
// asserting on observer sequences.
type Recorder struct {
	Events []TraceEvent

	// OnStarting and OnEnding, when set, run from inside the respective
	// callbacks; tests use them to defer activities or inject failures.
	OnStarting func(atoms []solver.Atom)
	OnEnding   func(atoms []solver.Atom)
}

var _ executor.Listener = (*Recorder)(nil)

func (r *Recorder) StateChanged(s executor.State) {
	r.Events = append(r.Events, TraceEvent{Type: "executor_state_changed", State: s.String()})
}

func (r *Recorder) Tick(time rat.Rational) {
	r.Events = append(r.Events, TraceEvent{Type: "tick", Time: time})
}

func (r *Recorder) Starting(atoms []solver.Atom) {
	r.Events = append(r.Events, TraceEvent{Type: "starting", Atoms: atomNames(atoms)})
	if r.OnStarting != nil {
		r.OnStarting(atoms)
	}
}

func (r *Recorder) Start(atoms []solver.Atom) {
	r.Events = append(r.Events, TraceEvent{Type: "start", Atoms: atomNames(atoms)})
}

func (r *Recorder) Ending(atoms []solver.Atom) {
	r.Events = append(r.Events, TraceEvent{Type: "ending", Atoms: atomNames(atoms)})
	if r.OnEnding != nil {
		r.OnEnding(atoms)
	}
}

func (r *Recorder) End(atoms []solver.Atom) {
	r.Events = append(r.Events, TraceEvent{Type: "end", Atoms: atomNames(atoms)})
}

func (r *Recorder) Delayed(atoms []solver.Atom) {
	r.Events = append(r.Events, TraceEvent{Type: "delayed", Atoms: atomNames(atoms)})
}

func (r *Recorder) Finished() {
	r.Events = append(r.Events, TraceEvent{Type: "finished"})
}

// Summary renders the trace as one line per event, e.g.
// "starting(a1)", "tick(3)", "executor_state_changed(finished)".
func (r *Recorder) Summary() []string {
	out := make([]string, len(r.Events))
	for i, ev := range r.Events {
		switch ev.Type {
		case "executor_state_changed":
			out[i] = fmt.Sprintf("%s(%s)", ev.Type, ev.State)
		case "tick":
			out[i] = fmt.Sprintf("tick(%s)", ev.Time)
		case "finished":
			out[i] = "finished"
		default:
			out[i] = fmt.Sprintf("%s(%s)", ev.Type, strings.Join(ev.Atoms, ","))
		}
	}
	return out
}

func atomNames(atoms []solver.Atom) []string {
	names := make([]string, len(atoms))
	for i, atm := range atoms {
		if named, ok := atm.(*Atom); ok {
			names[i] = named.Name()
		} else {
			names[i] = fmt.Sprintf("#%d", atm.ID())
		}
	}
	return names
}
