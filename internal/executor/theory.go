package executor

import (
	"github.com/plexec/plexec/internal/solver"
)

// The executor participates in the solver's propagation protocol as a
// theory module: execution bounds become real constraints exactly when
// their guard literal is committed true, and relax again when a backjump
// unassigns it. All propagation is driven from literal events; Check, Push
// and Pop are deliberately empty.

var _ solver.Theory = (*Executor)(nil)

// Propagate is invoked by the SAT core whenever a watched literal is
// assigned. For the liveness literal it replays every record whose guard is
// currently true; for a single guard it replays that record alone.
func (e *Executor) Propagate(p solver.Lit) bool {
	sat := e.slv.Sat()
	if p == e.xi {
		for _, atm := range e.atomsByGuard() {
			adapt := e.adaptations[atm]
			if sat.Value(adapt.sigmaXi) != solver.True {
				continue
			}
			for itm, bounds := range adapt.bounds {
				if !e.propagateBounds(itm, bounds, adapt.sigmaXi) {
					return false
				}
			}
		}
		return true
	}
	if sat.Value(solver.NewLit(p.V)) == solver.True {
		// a guard literal has been committed: the atom's bounds hold now
		atm, ok := e.allAtoms[p.V]
		if !ok {
			return true
		}
		adapt := e.adaptations[atm]
		for itm, bounds := range adapt.bounds {
			if !e.propagateBounds(itm, bounds, p) {
				return false
			}
		}
	}
	return true
}

// Check implements solver.Theory.
func (e *Executor) Check() bool { return true }

// Push implements solver.Theory.
func (e *Executor) Push() {}

// Pop implements solver.Theory.
func (e *Executor) Pop() {}

// Conflict implements solver.Theory: it drains the clause buffered by a
// failed Propagate for the SAT core to analyze.
func (e *Executor) Conflict() []solver.Lit {
	cnfl := e.conflict
	e.conflict = nil
	return cnfl
}

// propagateBounds pushes a single snapshot into the owning theory, tagging
// the mutation with the triggering literal so a later backjump unwinds it.
// A false return means e.conflict holds the falsified clause.
func (e *Executor) propagateBounds(itm solver.Item, bounds itemBounds, reason solver.Lit) bool {
	sat := e.slv.Sat()
	switch b := bounds.(type) {
	case *boolBounds:
		bi := itm.(solver.BoolItem)
		lit := bi.Lit()
		if b.val == solver.False {
			lit = lit.Not()
		}
		switch sat.Value(lit) {
		case solver.Undefined:
			sat.Record(lit, reason.Not())
		case solver.False:
			e.conflict = append(e.conflict, lit, reason.Not())
			return false
		}

	case *arithBounds:
		if itm.Kind() != solver.KindArith {
			return true
		}
		if e.slv.IsConstant(itm) {
			return true // nothing to propagate
		}
		lra := e.slv.Arith()
		v := lra.NewVar(itm)
		if !lra.SetLb(v, b.lb, reason) || !lra.SetUb(v, b.ub, reason) {
			e.swapConflict(lra)
			return false
		}

	case *varBounds:
		vi := itm.(solver.EnumItem)
		enum := e.slv.Enum()
		vals := enum.Value(vi.EnumVar())
		if len(vals) > 1 {
			sat.Record(enum.Allows(vi.EnumVar(), b.val), reason.Not())
		} else if len(vals) == 1 && vals[0].ID() != b.val.ID() {
			e.conflict = append(e.conflict, enum.Allows(vi.EnumVar(), b.val), reason.Not())
			return false
		}
	}
	return true
}

// swapConflict pulls the conflict clause out of the arithmetic sub-theory
// into the executor's buffer for the SAT core to analyze.
func (e *Executor) swapConflict(lra solver.ArithTheory) {
	e.conflict = append(e.conflict[:0], lra.Conflict()...)
}

// analyzeAndBackjump hands the buffered conflict to the SAT core and drains
// the buffer. False means the conflict is unresolvable.
func (e *Executor) analyzeAndBackjump() bool {
	cnfl := e.conflict
	e.conflict = nil
	return e.slv.Sat().AnalyzeAndBackjump(cnfl)
}
