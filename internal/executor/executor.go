// Package executor drives a timeline-based plan forward in real time and
// adapts it as requirements and failures arrive.
//
// The executor sits on the solver as a theory module: it never searches for
// plans itself, it injects execution-time constraints (delays and freezes)
// under per-activity guard literals so the solver can backtrack through
// them without losing real-world consistency.
//
// CRITICAL: a tick runs to completion as one atomic step. All control
// methods (Tick, Adapt, Start, Pause, Failure) serialize on one mutex; the
// running flag is additionally atomic so observers may poll it lock-free.
// Listeners are invoked with the lock held and must not re-enter control
// methods on the same instance.
package executor

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// Horizon is the problem-level expression whose value bounds the plan's end.
const Horizon = "horizon"

// Executor executes and adapts a plan owned by slv.
//
// INVARIANTS (hold after every public method returns):
//   - currentTime is non-decreasing, advancing by unitsPerTick per tick
//   - every pulse <= currentTime has been fully processed when Tick returns
//   - no atom is both executing and in the pulse index's start list
//   - state in {Finished, Failed} implies running == false
type Executor struct {
	mu  sync.Mutex
	slv solver.Solver

	name         string
	unitsPerTick rat.Rational
	currentTime  rat.Rational

	// xi is the liveness literal, pinned true for the executor's life; if
	// it is ever driven false the plan is unsalvageable.
	xi solver.Lit

	state               State
	running             atomic.Bool
	pendingRequirements bool
	fatal               *ExecutionError

	relevantPredicates []solver.Predicate

	adaptations map[solver.Atom]*adaptation
	allAtoms    map[solver.Var]solver.Atom

	dontStart map[solver.Atom]rat.Rational
	dontEnd   map[solver.Atom]rat.Rational

	sAtms  map[rat.Rational][]solver.Atom
	eAtms  map[rat.Rational][]solver.Atom
	pulses []rat.Rational

	executing map[solver.Atom]struct{}

	listeners []Listener

	// conflict is the clause handed to the SAT core on theory failure.
	conflict []solver.Lit
}

// New creates an executor attached to slv, advancing unitsPerTick plan
// units per tick. unitsPerTick must be positive and is immutable afterward.
func New(slv solver.Solver, name string, unitsPerTick rat.Rational) (*Executor, error) {
	if unitsPerTick.Sign() <= 0 || unitsPerTick.IsInfinite() {
		return nil, fmt.Errorf("units per tick must be a positive rational, got %s", unitsPerTick)
	}
	e := &Executor{
		slv:          slv,
		name:         name,
		unitsPerTick: unitsPerTick,
		currentTime:  rat.Zero,
		state:        Reasoning,
		adaptations:  make(map[solver.Atom]*adaptation),
		allAtoms:     make(map[solver.Var]solver.Atom),
		dontStart:    make(map[solver.Atom]rat.Rational),
		dontEnd:      make(map[solver.Atom]rat.Rational),
		sAtms:        make(map[rat.Rational][]solver.Atom),
		eAtms:        make(map[rat.Rational][]solver.Atom),
		executing:    make(map[solver.Atom]struct{}),
	}

	sat := slv.Sat()
	e.xi = solver.NewLit(sat.NewVar())
	sat.Watch(e.xi.V, e)

	slv.AddCoreListener(e)
	slv.AddSolverListener(e)

	e.resetRelevantPredicates()
	e.rebuildTimelines()
	return e, nil
}

// Solver returns the solver the executor is attached to.
func (e *Executor) Solver() solver.Solver { return e.slv }

// Name returns the executor's name.
func (e *Executor) Name() string { return e.name }

// State returns the controller state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentTime returns the current time in plan units.
func (e *Executor) CurrentTime() rat.Rational {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTime
}

// UnitsPerTick returns the plan units advanced per tick.
func (e *Executor) UnitsPerTick() rat.Rational { return e.unitsPerTick }

// IsRunning reports whether the clock is live. Lock-free so observers may
// poll it from callbacks.
func (e *Executor) IsRunning() bool { return e.running.Load() }

// ExecutingAtoms returns the activities whose start has fired and whose end
// has not, ordered by id.
func (e *Executor) ExecutingAtoms() []solver.Atom {
	e.mu.Lock()
	defer e.mu.Unlock()
	atms := make([]solver.Atom, 0, len(e.executing))
	for atm := range e.executing {
		atms = append(atms, atm)
	}
	sortAtoms(atms)
	return atms
}

// Register adds a listener. Listeners are notified in registration order.
func (e *Executor) Register(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Unregister removes a previously registered listener.
func (e *Executor) Unregister(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, reg := range e.listeners {
		if reg == l {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Init runs the initial solve, moving Reasoning to Idle (or Failed).
// The problem is fed to the solver beforehand, either directly or through
// Adapt.
func (e *Executor) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal != nil {
		return e.fatal
	}
	if !e.slv.Solve() {
		return e.failf(ErrCodeUnsat, "initial problem is inconsistent")
	}
	if e.fatal != nil {
		return e.fatal
	}
	e.pendingRequirements = false
	return nil
}

// Start lets the clock run: subsequent ticks drive the plan forward.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Finished || e.state == Failed {
		slog.Warn("start ignored in terminal state", "solver", e.slv.ID(), "state", e.state)
		return
	}
	e.running.Store(true)
	e.setState(Executing)
}

// Pause stops the clock; subsequent ticks are no-ops apart from pending
// requirement solving. An in-progress tick is never aborted.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Finished || e.state == Failed {
		return
	}
	e.running.Store(false)
	e.setState(Idle)
}

// Tick advances the plan by one time quantum: it solves pending
// requirements, drains every pulse up to the current time (notifying,
// delaying and freezing), checks the horizon, advances the clock and
// notifies observers.
func (e *Executor) Tick() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal != nil {
		return e.fatal
	}

	if e.pendingRequirements {
		if !e.slv.Solve() {
			return e.failf(ErrCodeUnsat, "no solution satisfies the adapted requirements")
		}
		if e.fatal != nil {
			return e.fatal
		}
		e.pendingRequirements = false
	}

	if !e.running.Load() {
		return nil
	}

	slog.Debug("tick", "solver", e.slv.ID(), "time", e.currentTime)

	if err := e.drainPulses(); err != nil {
		return err
	}

	if h, ok := e.slv.Get(Horizon); ok && e.state != Finished &&
		e.slv.ArithValue(h).LessEq(e.currentTime) && len(e.dontEnd) == 0 {
		e.running.Store(false)
		e.setState(Finished)
		for _, l := range e.listeners {
			l.Finished()
		}
	}

	e.currentTime = e.currentTime.Add(e.unitsPerTick)

	for _, l := range e.listeners {
		l.Tick(e.currentTime)
	}
	return nil
}

// drainPulses processes every pulse <= currentTime to fixpoint. Applied
// delays re-solve the problem and restart the drain, since they may move
// which activities fall at the current pulse; the drain never terminates
// with unresolved deferrals.
func (e *Executor) drainPulses() error {
	for len(e.pulses) > 0 && e.pulses[0].LessEq(e.currentTime) {
		t := e.pulses[0]
		starting := e.sAtms[t]
		ending := e.eAtms[t]

		if len(starting) > 0 {
			for _, l := range e.listeners {
				l.Starting(starting)
			}
		}
		if len(ending) > 0 {
			for _, l := range e.listeners {
				l.Ending(ending)
			}
		}

		var delayed []solver.Atom
		for _, atm := range starting {
			d, ok := e.dontStart[atm]
			if !ok {
				continue
			}
			if err := e.delay(atm, startCoordinate(e.slv, atm), d); err != nil {
				return err
			}
			delayed = append(delayed, atm)
			delete(e.dontStart, atm)
		}
		for _, atm := range ending {
			d, ok := e.dontEnd[atm]
			if !ok {
				continue
			}
			if err := e.delay(atm, endCoordinate(e.slv, atm), d); err != nil {
				return err
			}
			delayed = append(delayed, atm)
			delete(e.dontEnd, atm)
		}

		if len(delayed) > 0 {
			sortAtoms(delayed)
			for _, l := range e.listeners {
				l.Delayed(delayed)
			}
			// the delayed bounds may have spawned new flaws
			if !e.slv.Sat().Propagate() || !e.slv.Solve() {
				return e.failf(ErrCodeUnsat, "no solution accommodates the requested delays")
			}
			if e.fatal != nil {
				return e.fatal
			}
			continue // the index was rebuilt; restart the drain
		}

		if len(starting) > 0 {
			for _, atm := range starting {
				if err := e.freezeStart(atm); err != nil {
					return err
				}
				e.executing[atm] = struct{}{}
			}
			for _, l := range e.listeners {
				l.Start(starting)
			}
		}
		if len(ending) > 0 {
			for _, atm := range ending {
				if err := e.freezeEnd(atm); err != nil {
					return err
				}
				delete(e.executing, atm)
			}
			for _, l := range e.listeners {
				l.End(ending)
			}
		}

		e.dropPulse()
	}
	return nil
}

// delay pushes the named time coordinate of atm at least max(unitsPerTick,
// requested) past its current value, widening the record's lower bound and
// injecting it into the arithmetic theory under the record's guard.
func (e *Executor) delay(atm solver.Atom, coord string, requested rat.Rational) error {
	itm, ok := atm.Get(coord)
	if !ok {
		return e.failf(ErrCodeUnsupportedCoordinate, "atom %d has no %q coordinate", atm.ID(), coord)
	}
	if e.slv.IsConstant(itm) {
		return e.failf(ErrCodeConstantCoordinate, "cannot delay constant %q of atom %d", coord, atm.ID())
	}
	if itm.Kind() != solver.KindArith {
		return e.failf(ErrCodeUnsupportedCoordinate, "cannot delay non-arithmetic %q of atom %d", coord, atm.ID())
	}

	ad, ok := e.adaptations[atm]
	if !ok {
		return e.failf(ErrCodeUnsupportedCoordinate, "atom %d has no adaptation record", atm.ID())
	}
	lb := e.slv.ArithValue(itm).Add(rat.Max(e.unitsPerTick, requested))
	ad.widenLb(e, itm, lb)

	slog.Debug("delaying", "solver", e.slv.ID(), "atom", atm.ID(), "coord", coord, "lb", lb)

	lra := e.slv.Arith()
	if !lra.SetLb(lra.NewVar(itm), lb, ad.sigmaXi) {
		e.swapConflict(lra)
		if !e.analyzeAndBackjump() {
			return e.failf(ErrCodeConflict, "delaying %q of atom %d is inconsistent with the committed plan", coord, atm.ID())
		}
	}
	return nil
}

// freezeStart snapshots the committed value of every parameter of a
// starting atom (other than at, duration and end) into its record,
// additionally pinning real-valued parameters in the arithmetic theory so
// the commitment is live immediately.
func (e *Executor) freezeStart(atm solver.Atom) error {
	ad := e.adaptations[atm]
	sat := e.slv.Sat()
	lra := e.slv.Arith()
	enum := e.slv.Enum()

	vars := atm.Vars()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == solver.At || name == solver.Duration || name == solver.End {
			continue
		}
		itm := vars[name]
		switch itm.Kind() {
		case solver.KindBool:
			val := sat.Value(itm.(solver.BoolItem).Lit())
			if val == solver.Undefined {
				slog.Warn("starting atom with undefined boolean parameter", "atom", atm.ID(), "param", name)
				continue
			}
			ad.bounds[itm] = &boolBounds{val: val}

		case solver.KindArith:
			if e.slv.IsConstant(itm) {
				continue // nothing to propagate
			}
			val := e.slv.ArithValue(itm)
			ad.freeze(itm, val)
			if !lra.Set(lra.NewVar(itm), val, ad.sigmaXi) {
				e.swapConflict(lra)
				if !e.analyzeAndBackjump() {
					return e.failf(ErrCodeConflict, "freezing %q of atom %d is inconsistent with the committed plan", name, atm.ID())
				}
			}

		case solver.KindEnum:
			vals := enum.Value(itm.(solver.EnumItem).EnumVar())
			if len(vals) != 1 {
				slog.Warn("starting atom with unresolved enum parameter", "atom", atm.ID(), "param", name, "values", len(vals))
				continue
			}
			ad.bounds[itm] = &varBounds{val: vals[0]}
		}
	}
	return nil
}

// freezeEnd pins the time coordinate that just fired: at for punctual
// atoms, end for intervals.
func (e *Executor) freezeEnd(atm solver.Atom) error {
	coord := endCoordinate(e.slv, atm)
	itm, ok := atm.Get(coord)
	if !ok {
		return nil
	}
	if e.slv.IsConstant(itm) {
		return nil // nothing to propagate
	}
	if itm.Kind() != solver.KindArith {
		return nil
	}

	val := e.slv.ArithValue(itm)
	ad := e.adaptations[atm]
	ad.freeze(itm, val)

	lra := e.slv.Arith()
	if !lra.Set(lra.NewVar(itm), val, ad.sigmaXi) {
		e.swapConflict(lra)
		if !e.analyzeAndBackjump() {
			return e.failf(ErrCodeConflict, "freezing %q of atom %d is inconsistent with the committed plan", coord, atm.ID())
		}
	}
	return nil
}

// Adapt feeds new requirements into the solver. The SAT core is popped to
// root level first, discarding all speculative search; re-solving happens
// on the next tick.
func (e *Executor) Adapt(script string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adapt(func() error { return e.slv.Read(script) })
}

// AdaptFiles feeds requirement files into the solver; see Adapt.
func (e *Executor) AdaptFiles(files []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.adapt(func() error { return e.slv.ReadFiles(files) })
}

func (e *Executor) adapt(read func() error) error {
	if e.fatal != nil {
		return e.fatal
	}
	sat := e.slv.Sat()
	for !sat.RootLevel() {
		sat.Pop()
	}
	if err := read(); err != nil {
		return fmt.Errorf("read requirements: %w", err)
	}
	e.pendingRequirements = true
	return nil
}

// Failure reports that the given activities did not execute as planned; the
// solver must find a new plan that does not depend on them having
// succeeded. The negated presence literals form the conflict.
func (e *Executor) Failure(atoms []solver.Atom) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal != nil {
		return e.fatal
	}
	for _, atm := range atoms {
		e.conflict = append(e.conflict, atm.Sigma().Not())
	}
	if !e.analyzeAndBackjump() {
		return e.failf(ErrCodeConflict, "failed activities cannot be retracted from the committed plan")
	}
	if !e.slv.Solve() {
		return e.failf(ErrCodeUnsat, "no plan avoids the failed activities")
	}
	if e.fatal != nil {
		return e.fatal
	}
	return nil
}

// DontStartYet defers the start of the given activities by the given extra
// delays. Only meaningful from within a Starting callback; the deferrals
// are drained by the surrounding tick.
func (e *Executor) DontStartYet(atoms map[solver.Atom]rat.Rational) {
	for atm, d := range atoms {
		e.dontStart[atm] = d
	}
}

// DontEndYet defers the end of the given activities; see DontStartYet.
func (e *Executor) DontEndYet(atoms map[solver.Atom]rat.Rational) {
	for atm, d := range atoms {
		e.dontEnd[atm] = d
	}
}

// --- solver callbacks -----------------------------------------------------

var (
	_ solver.CoreListener   = (*Executor)(nil)
	_ solver.SolverListener = (*Executor)(nil)
)

// ReadScript implements solver.CoreListener: the problem was reshaped.
func (e *Executor) ReadScript(string) { e.resetRelevantPredicates() }

// ReadFiles implements solver.CoreListener: the problem was reshaped.
func (e *Executor) ReadFiles([]string) { e.resetRelevantPredicates() }

// StartedSolving implements solver.CoreListener. Any solve after the
// initial one is an adaptation.
func (e *Executor) StartedSolving() {
	if e.state != Reasoning && e.state != Failed {
		e.setState(Adapting)
	}
}

// SolutionFound implements solver.CoreListener: enforce the liveness
// literal, rebuild the pulse index, and settle into Executing or Idle.
func (e *Executor) SolutionFound() {
	if e.fatal != nil {
		return
	}
	sat := e.slv.Sat()

	switch sat.Value(e.xi) {
	case solver.False: // the plan cannot be executed anymore
		e.failf(ErrCodeXiFalse, "the execution literal is false under the new solution")
		return
	case solver.Undefined:
		e.slv.TakeDecision(e.xi)
	}
	switch sat.Value(e.xi) {
	case solver.False:
		e.failf(ErrCodeXiFalse, "the execution literal cannot be enforced")
		return
	case solver.Undefined:
		// enforcing xi reopened the search
		if !e.slv.Solve() {
			e.failf(ErrCodeUnsat, "no solution enforces the execution literal")
		}
		return
	}

	e.rebuildTimelines()

	if e.running.Load() {
		e.setState(Executing)
	} else {
		e.setState(Idle)
	}
}

// InconsistentProblem implements solver.CoreListener: the problem has no
// solution; the plan cannot continue.
func (e *Executor) InconsistentProblem() {
	e.sAtms = make(map[rat.Rational][]solver.Atom)
	e.eAtms = make(map[rat.Rational][]solver.Atom)
	e.pulses = e.pulses[:0]

	e.failf(ErrCodeUnsat, "the problem became inconsistent")
}

// FlawCreated implements solver.SolverListener: an atom-creating flaw
// spawns the atom's adaptation record.
func (e *Executor) FlawCreated(f solver.Flaw) {
	atm, ok := f.Atom()
	if !ok {
		return
	}
	if _, exists := e.adaptations[atm]; exists {
		return
	}
	e.newAdaptation(atm)
}

// --- internals ------------------------------------------------------------

// setState transitions the controller and notifies observers.
func (e *Executor) setState(s State) {
	e.state = s
	slog.Debug("state changed", "solver", e.slv.ID(), "state", s)
	for _, l := range e.listeners {
		l.StateChanged(s)
	}
}

// failf raises the non-recoverable execution failure: the controller moves
// to Failed, the clock stops, and every subsequent control method returns
// the same error.
func (e *Executor) failf(code ExecutionErrorCode, format string, args ...any) *ExecutionError {
	if e.fatal != nil {
		return e.fatal
	}
	e.fatal = &ExecutionError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Solver:  e.slv.ID(),
	}
	slog.Error("execution failed", "solver", e.slv.ID(), "code", code, "error", e.fatal.Message)
	e.running.Store(false)
	e.setState(Failed)
	return e.fatal
}

// atomsByGuard returns the adapted atoms ordered by guard variable, for
// deterministic replay.
func (e *Executor) atomsByGuard() []solver.Atom {
	vars := make([]solver.Var, 0, len(e.allAtoms))
	for v := range e.allAtoms {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	atms := make([]solver.Atom, len(vars))
	for i, v := range vars {
		atms[i] = e.allAtoms[v]
	}
	return atms
}

// startCoordinate is the coordinate a deferral of the start acts on.
func startCoordinate(slv solver.Solver, atm solver.Atom) string {
	if slv.IsImpulse(atm.Predicate()) {
		return solver.At
	}
	return solver.Start
}

// endCoordinate is the coordinate a deferral of the end acts on.
func endCoordinate(slv solver.Solver, atm solver.Atom) string {
	if slv.IsImpulse(atm.Predicate()) {
		return solver.At
	}
	return solver.End
}
