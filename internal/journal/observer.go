package journal

import (
	"log/slog"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// Observer is an executor listener appending every notification to a
// journal. Write failures are logged and dropped: telemetry must never
// stall a tick.
type Observer struct {
	solverID string
	j        *Journal
}

var _ executor.Listener = (*Observer)(nil)

// NewObserver creates an observer recording under solverID.
func NewObserver(solverID string, j *Journal) *Observer {
	return &Observer{solverID: solverID, j: j}
}

func (o *Observer) write(ev Event) {
	ev.SolverID = o.solverID
	if err := o.j.WriteEvent(ev); err != nil {
		slog.Warn("journal write failed", "solver", o.solverID, "type", ev.Type, "error", err)
	}
}

func (o *Observer) StateChanged(s executor.State) {
	o.write(Event{Type: "executor_state_changed", State: s.String()})
}

func (o *Observer) Tick(time rat.Rational) {
	o.write(Event{Type: "tick", Time: time})
}

func (o *Observer) Starting(atoms []solver.Atom) { o.write(Event{Type: "starting", Atoms: ids(atoms)}) }
func (o *Observer) Start(atoms []solver.Atom)    { o.write(Event{Type: "start", Atoms: ids(atoms)}) }
func (o *Observer) Ending(atoms []solver.Atom)   { o.write(Event{Type: "ending", Atoms: ids(atoms)}) }
func (o *Observer) End(atoms []solver.Atom)      { o.write(Event{Type: "end", Atoms: ids(atoms)}) }
func (o *Observer) Delayed(atoms []solver.Atom)  { o.write(Event{Type: "delayed", Atoms: ids(atoms)}) }
func (o *Observer) Finished()                    { o.write(Event{Type: "finished"}) }

func ids(atoms []solver.Atom) []uint64 {
	out := make([]uint64, len(atoms))
	for i, atm := range atoms {
		out[i] = atm.ID()
	}
	return out
}
