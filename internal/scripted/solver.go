// Package scripted provides a scripted in-memory solver implementing the
// full solver contract, so the executor can be exercised without a real
// constraint solver attached.
//
// The scripted solver is deliberately naive: a two-tier SAT core (root
// facts plus decision levels), a lazy arithmetic store whose bounds
// activate with their reason literals, and singleton-friendly enum domains.
// It is a test collaborator, not a solver; its one job is to honor the
// transactional contract the executor relies on.
package scripted

import (
	"fmt"

	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// PredicateKind classifies scripted predicates.
type PredicateKind int

const (
	// Impulse predicates yield punctual activities.
	Impulse PredicateKind = iota
	// Interval predicates yield activities with start, end and duration.
	Interval
	// Plain predicates are not relevant to execution.
	Plain
)

// Solver is the scripted solver.
type Solver struct {
	id string

	sat   *satCore
	arith *arithTheory
	enum  *enumTheory

	preds []*Predicate
	types []*TypeDef
	atoms []*Atom

	horizon *ArithParam

	nextAtomID uint64

	coreListeners   []solver.CoreListener
	solverListeners []solver.SolverListener

	// OnRead is invoked by Read with the script, after the read event has
	// been relayed to core listeners. Tests script plan revisions here.
	OnRead func(s *Solver, script string) error

	// NextSolveUnsat makes the next Solve report an inconsistent problem.
	NextSolveUnsat bool
}

// NewSolver creates an empty scripted solver.
func NewSolver(id string) *Solver {
	s := &Solver{id: id}
	s.sat = &satCore{
		s:        s,
		assigns:  make(map[solver.Var]assign),
		watchers: make(map[solver.Var][]solver.Theory),
	}
	s.arith = &arithTheory{s: s}
	s.enum = &enumTheory{s: s, domains: make(map[solver.EnumVar][]solver.EnumVal), allows: make(map[string]solver.Lit)}
	s.horizon = s.NewArithParam(rat.PositiveInfinity)
	return s
}

// --- problem construction -------------------------------------------------

// NewPredicate declares a top-level predicate.
func (s *Solver) NewPredicate(name string, kind PredicateKind) *Predicate {
	p := &Predicate{name: name, kind: kind}
	s.preds = append(s.preds, p)
	return p
}

// NewType declares a top-level complex type.
func (s *Solver) NewType(name string) *TypeDef {
	t := &TypeDef{name: name}
	s.types = append(s.types, t)
	return t
}

// SetHorizon pins the horizon expression's preferred value.
func (s *Solver) SetHorizon(h rat.Rational) {
	s.arith.state(s.horizon.v).base = h
}

// AddImpulse scripts a punctual activity firing at the given instant.
func (s *Solver) AddImpulse(pred *Predicate, name string, at rat.Rational) *Atom {
	atm := s.newAtom(pred, name)
	atP := s.NewArithParam(at)
	atm.params[solver.At] = atP
	s.announce(atm)
	return atm
}

// AddInterval scripts an interval activity with the given preferred start
// and duration; its end tracks start + duration unless pinned.
func (s *Solver) AddInterval(pred *Predicate, name string, start, duration rat.Rational) *Atom {
	atm := s.newAtom(pred, name)
	startP := s.NewArithParam(start)
	endP := s.NewArithParam(start.Add(duration))
	s.arith.state(endP.v).derived = &derivation{from: startP.v, offset: duration}
	atm.params[solver.Start] = startP
	atm.params[solver.End] = endP
	atm.params[solver.Duration] = s.NewConstParam(duration)
	s.announce(atm)
	return atm
}

func (s *Solver) newAtom(pred *Predicate, name string) *Atom {
	s.nextAtomID++
	atm := &Atom{
		id:     s.nextAtomID,
		name:   name,
		pred:   pred,
		sigma:  solver.NewLit(s.sat.NewVar()),
		params: make(map[string]solver.Item),
	}
	pred.instances = append(pred.instances, atm)
	s.atoms = append(s.atoms, atm)
	return atm
}

// announce fires the atom-creating flaw signal.
func (s *Solver) announce(atm *Atom) {
	for _, l := range s.solverListeners {
		l.FlawCreated(atomFlaw{atm: atm})
	}
}

// Retract forces the atom out of every future solution, the way a learned
// root clause would.
func (s *Solver) Retract(atm *Atom) {
	s.sat.clauses = append(s.sat.clauses, []solver.Lit{atm.Sigma().Not()})
}

// NewArithParam creates a free rational parameter with a preferred value.
func (s *Solver) NewArithParam(base rat.Rational) *ArithParam {
	return &ArithParam{v: s.arith.newState(base)}
}

// NewConstParam creates a constant rational parameter.
func (s *Solver) NewConstParam(val rat.Rational) *ArithParam {
	return &ArithParam{constant: true, cval: val}
}

// NewBoolParam creates a free Boolean parameter.
func (s *Solver) NewBoolParam() *BoolParam {
	return &BoolParam{lit: solver.NewLit(s.sat.NewVar())}
}

// NewEnumParam creates an enumerated parameter over the given domain.
func (s *Solver) NewEnumParam(vals ...string) *EnumParam {
	v := solver.EnumVar(len(s.enum.domains))
	domain := make([]solver.EnumVal, len(vals))
	for i, val := range vals {
		domain[i] = EnumValue(val)
	}
	s.enum.domains[v] = domain
	return &EnumParam{v: v}
}

// AtomByName finds a scripted atom.
func (s *Solver) AtomByName(name string) *Atom {
	for _, atm := range s.atoms {
		if atm.name == name {
			return atm
		}
	}
	return nil
}

// --- solver.Solver --------------------------------------------------------

var _ solver.Solver = (*Solver)(nil)

func (s *Solver) ID() string               { return s.id }
func (s *Solver) Sat() solver.SatCore      { return s.sat }
func (s *Solver) Arith() solver.ArithTheory { return s.arith }
func (s *Solver) Enum() solver.EnumTheory  { return s.enum }

func (s *Solver) Read(script string) error {
	for _, l := range s.coreListeners {
		l.ReadScript(script)
	}
	if s.OnRead != nil {
		return s.OnRead(s, script)
	}
	return nil
}

func (s *Solver) ReadFiles(files []string) error {
	for _, l := range s.coreListeners {
		l.ReadFiles(files)
	}
	if s.OnRead != nil {
		for _, f := range files {
			if err := s.OnRead(s, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Solve assigns the presence literal of every scripted atom that is not
// already forced out, then reports a solution.
func (s *Solver) Solve() bool {
	for _, l := range s.coreListeners {
		l.StartedSolving()
	}

	if s.NextSolveUnsat {
		s.NextSolveUnsat = false
		return s.inconsistent()
	}

	if !s.sat.Propagate() {
		return s.inconsistent()
	}
	for _, atm := range s.atoms {
		if s.sat.Value(atm.sigma) != solver.Undefined {
			continue
		}
		if !s.TakeDecision(atm.sigma) {
			return s.inconsistent()
		}
	}

	for _, l := range s.coreListeners {
		l.SolutionFound()
	}
	return true
}

func (s *Solver) inconsistent() bool {
	for _, l := range s.coreListeners {
		l.InconsistentProblem()
	}
	return false
}

func (s *Solver) TakeDecision(l solver.Lit) bool {
	s.sat.pushLevel()
	if !s.sat.assign(l) {
		return false
	}
	return s.sat.Propagate()
}

func (s *Solver) ArithValue(itm solver.Item) rat.Rational {
	ap := itm.(*ArithParam)
	if ap.constant {
		return ap.cval
	}
	return s.arith.Value(ap.v)
}

func (s *Solver) ArithBounds(itm solver.Item) (rat.Rational, rat.Rational) {
	ap := itm.(*ArithParam)
	if ap.constant {
		return ap.cval, ap.cval
	}
	return s.arith.lb(ap.v), s.arith.ub(ap.v)
}

func (s *Solver) IsConstant(itm solver.Item) bool {
	ap, ok := itm.(*ArithParam)
	return ok && ap.constant
}

func (s *Solver) IsImpulse(p solver.Predicate) bool {
	return p.(*Predicate).kind == Impulse
}

func (s *Solver) IsInterval(p solver.Predicate) bool {
	return p.(*Predicate).kind == Interval
}

func (s *Solver) Predicates() []solver.Predicate {
	preds := make([]solver.Predicate, len(s.preds))
	for i, p := range s.preds {
		preds[i] = p
	}
	return preds
}

func (s *Solver) Types() []solver.Type {
	types := make([]solver.Type, len(s.types))
	for i, t := range s.types {
		types[i] = t
	}
	return types
}

func (s *Solver) Get(name string) (solver.Item, bool) {
	if name == "horizon" {
		return s.horizon, true
	}
	return nil, false
}

func (s *Solver) AddCoreListener(l solver.CoreListener)     { s.coreListeners = append(s.coreListeners, l) }
func (s *Solver) AddSolverListener(l solver.SolverListener) { s.solverListeners = append(s.solverListeners, l) }

// --- SAT core -------------------------------------------------------------

type assign struct {
	val   solver.Lbool
	level int
}

type satCore struct {
	s        *Solver
	next     solver.Var
	assigns  map[solver.Var]assign
	level    int
	trail    [][]solver.Var
	clauses  [][]solver.Lit
	watchers map[solver.Var][]solver.Theory
	pending  []solver.Lit
}

var _ solver.SatCore = (*satCore)(nil)

func (c *satCore) NewVar() solver.Var {
	c.next++
	return c.next
}

func (c *satCore) NewClause(lits ...solver.Lit) bool {
	c.clauses = append(c.clauses, append([]solver.Lit(nil), lits...))
	return true
}

func (c *satCore) Record(lits ...solver.Lit) {
	// implied clause; picked up by the next propagation fixpoint
	c.clauses = append(c.clauses, append([]solver.Lit(nil), lits...))
}

func (c *satCore) Value(l solver.Lit) solver.Lbool {
	a, ok := c.assigns[l.V]
	if !ok {
		return solver.Undefined
	}
	if l.Neg {
		return a.val.Not()
	}
	return a.val
}

func (c *satCore) Watch(v solver.Var, t solver.Theory) {
	c.watchers[v] = append(c.watchers[v], t)
}

func (c *satCore) pushLevel() {
	c.level++
	c.trail = append(c.trail, nil)
}

// assign makes l true at the current level and relays the event to the
// literal's watchers. A false return leaves the conflict in c.pending.
func (c *satCore) assign(l solver.Lit) bool {
	want := solver.True
	if l.Neg {
		want = solver.False
	}
	if a, ok := c.assigns[l.V]; ok {
		if a.val != want {
			c.pending = []solver.Lit{l}
			return false
		}
		return true
	}
	c.assigns[l.V] = assign{val: want, level: c.level}
	if c.level > 0 {
		c.trail[c.level-1] = append(c.trail[c.level-1], l.V)
	}
	for _, t := range c.watchers[l.V] {
		if !t.Propagate(l) {
			c.pending = t.Conflict()
			return false
		}
	}
	return true
}

func (c *satCore) Propagate() bool {
	for {
		changed := false
		for _, clause := range c.clauses {
			satisfied := false
			var undef []solver.Lit
			for _, l := range clause {
				switch c.Value(l) {
				case solver.True:
					satisfied = true
				case solver.Undefined:
					undef = append(undef, l)
				}
			}
			if satisfied {
				continue
			}
			switch len(undef) {
			case 0: // falsified
				if c.level == 0 {
					return false
				}
				if !c.AnalyzeAndBackjump(clause) {
					return false
				}
				changed = true
			case 1: // unit
				if !c.assign(undef[0]) {
					cnfl := c.pending
					c.pending = nil
					if !c.AnalyzeAndBackjump(cnfl) {
						return false
					}
				}
				changed = true
			}
			if changed {
				break // clause set or assignment changed under us; rescan
			}
		}
		if !changed {
			return true
		}
	}
}

func (c *satCore) Pop() {
	if c.level == 0 {
		return
	}
	for _, v := range c.trail[c.level-1] {
		delete(c.assigns, v)
	}
	c.trail = c.trail[:c.level-1]
	c.level--
}

func (c *satCore) RootLevel() bool { return c.level == 0 }

// AnalyzeAndBackjump learns the falsified clause at root level and
// restarts propagation from there.
func (c *satCore) AnalyzeAndBackjump(conflict []solver.Lit) bool {
	if len(conflict) == 0 {
		return false
	}
	// theories may blame the same reason twice; a duplicate literal would
	// keep the learned clause from ever becoming unit
	seen := make(map[solver.Lit]bool, len(conflict))
	learned := make([]solver.Lit, 0, len(conflict))
	for _, l := range conflict {
		if !seen[l] {
			seen[l] = true
			learned = append(learned, l)
		}
	}

	for c.level > 0 {
		c.Pop()
	}
	stillFalse := true
	for _, l := range learned {
		if c.Value(l) != solver.False {
			stillFalse = false
			break
		}
	}
	if stillFalse {
		return false
	}
	c.clauses = append(c.clauses, learned)
	return c.Propagate()
}

// --- arithmetic theory ----------------------------------------------------

type entryKind int

const (
	entryLb entryKind = iota
	entryUb
	entryFix
)

type arithEntry struct {
	kind   entryKind
	val    rat.Rational
	reason solver.Lit
}

type derivation struct {
	from   solver.ArithVar
	offset rat.Rational
}

type arithVarState struct {
	base    rat.Rational
	baseLb  rat.Rational
	baseUb  rat.Rational
	derived *derivation
	entries []arithEntry
}

type arithTheory struct {
	s        *Solver
	vars     []*arithVarState
	conflict []solver.Lit
}

var _ solver.ArithTheory = (*arithTheory)(nil)

func (t *arithTheory) newState(base rat.Rational) solver.ArithVar {
	t.vars = append(t.vars, &arithVarState{
		base:   base,
		baseLb: rat.NegativeInfinity,
		baseUb: rat.PositiveInfinity,
	})
	return solver.ArithVar(len(t.vars) - 1)
}

func (t *arithTheory) state(v solver.ArithVar) *arithVarState { return t.vars[v] }

func (t *arithTheory) NewVar(itm solver.Item) solver.ArithVar {
	return itm.(*ArithParam).v
}

// active reports whether a bound entry currently binds: its reason literal
// must hold under the SAT assignment, so a backjump relaxes it.
func (t *arithTheory) active(e arithEntry) bool {
	return t.s.sat.Value(e.reason) == solver.True
}

func (t *arithTheory) lb(v solver.ArithVar) rat.Rational {
	st := t.state(v)
	lb := st.baseLb
	for _, e := range st.entries {
		if (e.kind == entryLb || e.kind == entryFix) && t.active(e) {
			lb = rat.Max(lb, e.val)
		}
	}
	return lb
}

func (t *arithTheory) ub(v solver.ArithVar) rat.Rational {
	st := t.state(v)
	ub := st.baseUb
	for _, e := range st.entries {
		if (e.kind == entryUb || e.kind == entryFix) && t.active(e) {
			ub = rat.Min(ub, e.val)
		}
	}
	return ub
}

func (t *arithTheory) Value(v solver.ArithVar) rat.Rational {
	st := t.state(v)
	for i := len(st.entries) - 1; i >= 0; i-- {
		if st.entries[i].kind == entryFix && t.active(st.entries[i]) {
			return st.entries[i].val
		}
	}
	val := st.base
	if st.derived != nil {
		val = t.Value(st.derived.from).Add(st.derived.offset)
	}
	if lb := t.lb(v); val.Less(lb) {
		val = lb
	}
	if ub := t.ub(v); val.Greater(ub) {
		val = ub
	}
	return val
}

// blame collects the negated reasons of the entries binding the violated
// bound, forming the conflict clause together with the new reason.
func (t *arithTheory) blame(v solver.ArithVar, kinds ...entryKind) []solver.Lit {
	st := t.state(v)
	var lits []solver.Lit
	for _, e := range st.entries {
		if !t.active(e) {
			continue
		}
		for _, k := range kinds {
			if e.kind == k {
				lits = append(lits, e.reason.Not())
				break
			}
		}
	}
	return lits
}

func (t *arithTheory) SetLb(v solver.ArithVar, bound rat.Rational, reason solver.Lit) bool {
	if bound.Greater(t.ub(v)) {
		t.conflict = append([]solver.Lit{reason.Not()}, t.blame(v, entryUb, entryFix)...)
		return false
	}
	t.state(v).entries = append(t.state(v).entries, arithEntry{kind: entryLb, val: bound, reason: reason})
	return true
}

func (t *arithTheory) SetUb(v solver.ArithVar, bound rat.Rational, reason solver.Lit) bool {
	if bound.Less(t.lb(v)) {
		t.conflict = append([]solver.Lit{reason.Not()}, t.blame(v, entryLb, entryFix)...)
		return false
	}
	t.state(v).entries = append(t.state(v).entries, arithEntry{kind: entryUb, val: bound, reason: reason})
	return true
}

func (t *arithTheory) Set(v solver.ArithVar, val rat.Rational, reason solver.Lit) bool {
	if val.Less(t.lb(v)) || val.Greater(t.ub(v)) {
		t.conflict = append([]solver.Lit{reason.Not()}, t.blame(v, entryLb, entryUb, entryFix)...)
		return false
	}
	t.state(v).entries = append(t.state(v).entries, arithEntry{kind: entryFix, val: val, reason: reason})
	return true
}

func (t *arithTheory) Conflict() []solver.Lit {
	cnfl := t.conflict
	t.conflict = nil
	return cnfl
}

// ConstrainUb pins a root-level upper bound, for scripting conflicts.
func (t *arithTheory) ConstrainUb(itm solver.Item, ub rat.Rational) {
	t.state(itm.(*ArithParam).v).baseUb = ub
}

// ConstrainItemUb is the Solver-level convenience for ConstrainUb.
func (s *Solver) ConstrainItemUb(itm solver.Item, ub rat.Rational) {
	s.arith.ConstrainUb(itm, ub)
}

// --- enum theory ----------------------------------------------------------

// EnumValue is a string-identified enum domain element.
type EnumValue string

// ID implements solver.EnumVal.
func (v EnumValue) ID() string { return string(v) }

type enumTheory struct {
	s       *Solver
	domains map[solver.EnumVar][]solver.EnumVal
	allows  map[string]solver.Lit
}

var _ solver.EnumTheory = (*enumTheory)(nil)

func (t *enumTheory) Value(v solver.EnumVar) []solver.EnumVal {
	var vals []solver.EnumVal
	for _, val := range t.domains[v] {
		if t.s.sat.Value(t.Allows(v, val)) != solver.False {
			vals = append(vals, val)
		}
	}
	return vals
}

func (t *enumTheory) Allows(v solver.EnumVar, val solver.EnumVal) solver.Lit {
	key := fmt.Sprintf("%d:%s", v, val.ID())
	if l, ok := t.allows[key]; ok {
		return l
	}
	l := solver.NewLit(t.s.sat.NewVar())
	t.allows[key] = l
	return l
}

// --- items, atoms, predicates, types, flaws -------------------------------

// ArithParam is a rational parameter.
type ArithParam struct {
	v        solver.ArithVar
	constant bool
	cval     rat.Rational
}

// Kind implements solver.Item.
func (*ArithParam) Kind() solver.ItemKind { return solver.KindArith }

// BoolParam is a Boolean parameter.
type BoolParam struct {
	lit solver.Lit
}

// Kind implements solver.Item.
func (*BoolParam) Kind() solver.ItemKind { return solver.KindBool }

// Lit implements solver.BoolItem.
func (p *BoolParam) Lit() solver.Lit { return p.lit }

// EnumParam is an enumerated parameter.
type EnumParam struct {
	v solver.EnumVar
}

// Kind implements solver.Item.
func (*EnumParam) Kind() solver.ItemKind { return solver.KindEnum }

// EnumVar implements solver.EnumItem.
func (p *EnumParam) EnumVar() solver.EnumVar { return p.v }

// Atom is a scripted activity.
type Atom struct {
	id     uint64
	name   string
	pred   *Predicate
	sigma  solver.Lit
	params map[string]solver.Item
}

var _ solver.Atom = (*Atom)(nil)

func (a *Atom) ID() uint64                  { return a.id }
func (a *Atom) Name() string                { return a.name }
func (a *Atom) Sigma() solver.Lit           { return a.sigma }
func (a *Atom) Predicate() solver.Predicate { return a.pred }

func (a *Atom) Get(name string) (solver.Item, bool) {
	itm, ok := a.params[name]
	return itm, ok
}

func (a *Atom) Vars() map[string]solver.Item { return a.params }

// SetParam attaches a named parameter to the atom.
func (a *Atom) SetParam(name string, itm solver.Item) *Atom {
	a.params[name] = itm
	return a
}

// Predicate is a scripted predicate.
type Predicate struct {
	name      string
	kind      PredicateKind
	instances []solver.Atom
}

var _ solver.Predicate = (*Predicate)(nil)

func (p *Predicate) Name() string             { return p.name }
func (p *Predicate) Instances() []solver.Atom { return p.instances }

// TypeDef is a scripted complex type holding nested types and predicates.
type TypeDef struct {
	name  string
	preds []*Predicate
	types []*TypeDef
}

var _ solver.Type = (*TypeDef)(nil)

func (t *TypeDef) Name() string { return t.name }

func (t *TypeDef) Predicates() []solver.Predicate {
	preds := make([]solver.Predicate, len(t.preds))
	for i, p := range t.preds {
		preds[i] = p
	}
	return preds
}

func (t *TypeDef) Types() []solver.Type {
	types := make([]solver.Type, len(t.types))
	for i, nested := range t.types {
		types[i] = nested
	}
	return types
}

// NewPredicate declares a predicate scoped to the type.
func (t *TypeDef) NewPredicate(name string, kind PredicateKind) *Predicate {
	p := &Predicate{name: name, kind: kind}
	t.preds = append(t.preds, p)
	return p
}

// NewType declares a nested type.
func (t *TypeDef) NewType(name string) *TypeDef {
	nested := &TypeDef{name: name}
	t.types = append(t.types, nested)
	return nested
}

type atomFlaw struct {
	atm *Atom
}

var _ solver.Flaw = atomFlaw{}

func (f atomFlaw) Atom() (solver.Atom, bool) { return f.atm, true }
