package executor

import (
	"log/slog"

	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// itemBounds is a snapshot of an execution-time commitment on a single
// parameter. It is a tagged sum: exactly one of the three concrete kinds.
// Snapshots are replayed by the theory propagator whenever the owning
// record's guard literal becomes true, so the commitment survives solver
// backjumps without being welded into the problem.
type itemBounds interface {
	isBounds()
}

// boolBounds freezes a committed truth value.
type boolBounds struct {
	val solver.Lbool
}

// arithBounds keeps an inclusive [lb, ub] window over inf-rationals.
// A freeze is the degenerate window lb == ub.
type arithBounds struct {
	lb, ub rat.Rational
}

// varBounds pins a singleton value of a set-valued variable.
type varBounds struct {
	val solver.EnumVal
}

func (*boolBounds) isBounds()  {}
func (*arithBounds) isBounds() {}
func (*varBounds) isBounds()   {}

// adaptation is the per-activity record of injected execution bounds.
//
// INVARIANT: a record exists iff the activity's presence has been observed
// through a flaw-created signal, and it persists for the activity's
// lifetime. All bounds are guarded by sigmaXi, never by sigma itself: the
// clause !sigma | !xi | sigmaXi ties the guard to presence and liveness, so
// a backjump past either frees the guard and relaxes every bound with it.
type adaptation struct {
	sigmaXi solver.Lit
	bounds  map[solver.Item]itemBounds
}

// newAdaptation registers the atom with the store: a fresh guard literal,
// the watcher on it, the guard clause, and the seed bound on the time
// coordinate (an activity cannot start before the clock that has already
// run).
//
// Called from the flaw-created signal, before any solving has committed to
// the atom's presence.
func (e *Executor) newAdaptation(atm solver.Atom) {
	sat := e.slv.Sat()

	sigmaXi := sat.NewVar()
	sat.Watch(sigmaXi, e)
	e.allAtoms[sigmaXi] = atm

	// Either the atom is out of the plan, or the executor is dead, or the
	// execution bounds hold.
	if !sat.NewClause(atm.Sigma().Not(), e.xi.Not(), solver.NewLit(sigmaXi)) {
		slog.Error("guard clause rejected at creation", "atom", atm.ID())
	}

	ad := &adaptation{
		sigmaXi: solver.NewLit(sigmaXi),
		bounds:  make(map[solver.Item]itemBounds),
	}
	e.adaptations[atm] = ad

	pred := atm.Predicate()
	switch {
	case e.slv.IsImpulse(pred):
		if at, ok := atm.Get(solver.At); ok {
			ad.bounds[at] = &arithBounds{lb: e.currentTime, ub: rat.PositiveInfinity}
		}
	case e.slv.IsInterval(pred):
		if start, ok := atm.Get(solver.Start); ok {
			ad.bounds[start] = &arithBounds{lb: e.currentTime, ub: rat.PositiveInfinity}
		}
	}
}

// widenLb raises the lower bound of the arithmetic snapshot for itm,
// creating the snapshot from the solver's current bounds if absent. The
// upper bound is never touched by a delay.
func (ad *adaptation) widenLb(e *Executor, itm solver.Item, lb rat.Rational) *arithBounds {
	if b, ok := ad.bounds[itm]; ok {
		ab := b.(*arithBounds)
		ab.lb = lb
		return ab
	}
	_, ub := e.slv.ArithBounds(itm)
	ab := &arithBounds{lb: lb, ub: ub}
	ad.bounds[itm] = ab
	return ab
}

// freeze pins the arithmetic snapshot for itm to a single value, creating
// it if absent.
func (ad *adaptation) freeze(itm solver.Item, val rat.Rational) {
	if b, ok := ad.bounds[itm]; ok {
		ab := b.(*arithBounds)
		ab.lb, ab.ub = val, val
		return
	}
	ad.bounds[itm] = &arithBounds{lb: val, ub: val}
}
