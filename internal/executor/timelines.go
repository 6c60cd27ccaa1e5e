package executor

import (
	"log/slog"
	"sort"

	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// The pulse index answers "which activities start or end at the earliest
// future time?". It is derived state: discarded and rebuilt from the
// solver's current solution on every solution-found and every
// inconsistent-problem signal.
//
// INVARIANTS:
//   - every indexed atom has sigma evaluated True
//   - every indexed time is >= currentTime
//   - pulses equals the sorted union of the non-empty keys of sAtms/eAtms

// insertPulse adds t to the sorted pulse set if not present.
func (e *Executor) insertPulse(t rat.Rational) {
	i := sort.Search(len(e.pulses), func(i int) bool { return e.pulses[i].GreaterEq(t) })
	if i < len(e.pulses) && e.pulses[i].Equal(t) {
		return
	}
	e.pulses = append(e.pulses, rat.Rational{})
	copy(e.pulses[i+1:], e.pulses[i:])
	e.pulses[i] = t
}

// dropPulse removes the earliest pulse and its start/end entries.
func (e *Executor) dropPulse() {
	t := e.pulses[0]
	e.pulses = e.pulses[1:]
	delete(e.sAtms, t)
	delete(e.eAtms, t)
}

// rebuildTimelines rescans the active atoms of the relevant predicates and
// rebuilds the pulse index from scratch. Atoms entirely in the past are
// skipped; an interval already underway keeps only its end pulse.
//
// The rebuild also reconciles the executing set against the new solution:
// an adapt that removed a currently-executing activity leaves its presence
// literal no longer True, and such activities must not linger as executing.
func (e *Executor) rebuildTimelines() {
	slog.Debug("building timelines", "solver", e.slv.ID(), "time", e.currentTime)

	e.resetRelevantPredicates()
	e.sAtms = make(map[rat.Rational][]solver.Atom)
	e.eAtms = make(map[rat.Rational][]solver.Atom)
	e.pulses = e.pulses[:0]

	sat := e.slv.Sat()
	for _, pred := range e.relevantPredicates {
		impulse := e.slv.IsImpulse(pred)
		for _, atm := range pred.Instances() {
			if sat.Value(atm.Sigma()) != solver.True {
				continue
			}
			if impulse {
				at, ok := atm.Get(solver.At)
				if !ok {
					continue
				}
				t := e.slv.ArithValue(at)
				if t.Less(e.currentTime) {
					continue // already in the past
				}
				e.sAtms[t] = append(e.sAtms[t], atm)
				e.eAtms[t] = append(e.eAtms[t], atm)
				e.insertPulse(t)
			} else {
				endItm, ok := atm.Get(solver.End)
				if !ok {
					continue
				}
				end := e.slv.ArithValue(endItm)
				if end.Less(e.currentTime) {
					continue // already in the past
				}
				if startItm, ok := atm.Get(solver.Start); ok {
					start := e.slv.ArithValue(startItm)
					if start.GreaterEq(e.currentTime) {
						e.sAtms[start] = append(e.sAtms[start], atm)
						e.insertPulse(start)
					}
				}
				e.eAtms[end] = append(e.eAtms[end], atm)
				e.insertPulse(end)
			}
		}
	}

	for _, atms := range e.sAtms {
		sortAtoms(atms)
	}
	for _, atms := range e.eAtms {
		sortAtoms(atms)
	}

	e.reconcileExecuting()
}

// reconcileExecuting drops executing atoms whose presence no longer holds
// under the current solution and reports them as ended, so observers see a
// consistent lifecycle even across an adapt that removed them.
func (e *Executor) reconcileExecuting() {
	var stale []solver.Atom
	sat := e.slv.Sat()
	for atm := range e.executing {
		if sat.Value(atm.Sigma()) != solver.True {
			stale = append(stale, atm)
		}
	}
	if len(stale) == 0 {
		return
	}
	sortAtoms(stale)
	for _, atm := range stale {
		delete(e.executing, atm)
	}
	slog.Debug("dropped stale executing atoms", "solver", e.slv.ID(), "count", len(stale))
	for _, l := range e.listeners {
		l.End(stale)
	}
}

// resetRelevantPredicates recomputes the transitive set of predicates whose
// activities are punctual or interval, walking the solver's type hierarchy.
// Invoked on every read-type event that reshapes the problem, and at the
// start of every pulse-index rebuild.
func (e *Executor) resetRelevantPredicates() {
	seen := make(map[solver.Predicate]bool)
	e.relevantPredicates = e.relevantPredicates[:0]

	add := func(pred solver.Predicate) {
		if seen[pred] {
			return
		}
		if e.slv.IsImpulse(pred) || e.slv.IsInterval(pred) {
			seen[pred] = true
			e.relevantPredicates = append(e.relevantPredicates, pred)
		}
	}

	for _, pred := range e.slv.Predicates() {
		add(pred)
	}
	queue := append([]solver.Type(nil), e.slv.Types()...)
	for len(queue) > 0 {
		tp := queue[0]
		queue = queue[1:]
		queue = append(queue, tp.Types()...)
		for _, pred := range tp.Predicates() {
			add(pred)
		}
	}

	sort.Slice(e.relevantPredicates, func(i, j int) bool {
		return e.relevantPredicates[i].Name() < e.relevantPredicates[j].Name()
	})
}

// sortAtoms orders atoms by id so listener notifications are deterministic.
func sortAtoms(atms []solver.Atom) {
	sort.Slice(atms, func(i, j int) bool { return atms[i].ID() < atms[j].ID() })
}
