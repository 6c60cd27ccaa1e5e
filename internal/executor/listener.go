package executor

import (
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// Listener observes the execution of a plan.
//
// Listeners are invoked synchronously from inside Tick (and the other
// control methods) with the executor's lock held: a listener must not
// re-enter control methods on the same executor. The one sanctioned
// re-entry is DontStartYet/DontEndYet from within Starting/Ending, which is
// how an observer defers activities.
//
// Listeners are registered with Register and removed with Unregister; the
// executor never owns a listener's lifetime.
type Listener interface {
	// StateChanged is invoked on every controller transition.
	StateChanged(s State)

	// Tick is invoked after all transitions of a tick, with the new time.
	Tick(time rat.Rational)

	// Starting announces activities whose start pulse has been reached.
	// This is the moment to call DontStartYet for activities that are not
	// ready in the real world.
	Starting(atoms []solver.Atom)

	// Start announces activities that have started; their parameters are
	// committed from here on.
	Start(atoms []solver.Atom)

	// Ending announces activities whose end pulse has been reached.
	// This is the moment to call DontEndYet.
	Ending(atoms []solver.Atom)

	// End announces activities that have ended.
	End(atoms []solver.Atom)

	// Delayed announces activities whose start or end was deferred at the
	// current pulse; the tick re-solves and drains again afterwards.
	Delayed(atoms []solver.Atom)

	// Finished is invoked once the horizon has been reached.
	Finished()
}

// NopListener implements Listener with no-ops; embed it to observe a subset
// of the callbacks.
type NopListener struct{}

func (NopListener) StateChanged(State)     {}
func (NopListener) Tick(rat.Rational)      {}
func (NopListener) Starting([]solver.Atom) {}
func (NopListener) Start([]solver.Atom)    {}
func (NopListener) Ending([]solver.Atom)   {}
func (NopListener) End([]solver.Atom)      {}
func (NopListener) Delayed([]solver.Atom)  {}
func (NopListener) Finished()              {}

var _ Listener = NopListener{}
