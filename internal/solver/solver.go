// Package solver declares the contract between the executor and the
// timeline-based constraint solver it drives.
//
// The solver itself is an external collaborator: it owns the plan, the
// Boolean search, and the arithmetic and enum theories. The executor only
// ever holds the interfaces below plus opaque Atom references, and mutates
// solver state exclusively through the transactional backtracking API
// (SetLb/Set/Record/AnalyzeAndBackjump), so a backjump past an executor
// decision unwinds it automatically.
package solver

import "github.com/plexec/plexec/internal/rat"

// Var is a Boolean variable of the SAT core.
type Var uint32

// Lbool is a three-valued truth assignment.
type Lbool int8

const (
	Undefined Lbool = iota
	True
	False
)

func (b Lbool) String() string {
	switch b {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "undefined"
	}
}

// Not returns the negation; Undefined stays Undefined.
func (b Lbool) Not() Lbool {
	switch b {
	case True:
		return False
	case False:
		return True
	default:
		return Undefined
	}
}

// Lit is a possibly negated Boolean variable.
type Lit struct {
	V   Var
	Neg bool
}

// NewLit returns the positive literal of v.
func NewLit(v Var) Lit { return Lit{V: v} }

// Not returns the complementary literal.
func (l Lit) Not() Lit { return Lit{V: l.V, Neg: !l.Neg} }

// Theory participates in the SAT core's propagation protocol.
// The core invokes Propagate whenever a literal the theory watches is
// assigned; a false return means the theory has buffered a conflict, which
// the core drains through Conflict and analyzes.
type Theory interface {
	Propagate(p Lit) bool
	Check() bool
	Push()
	Pop()
	// Conflict drains the theory's conflict clause after a failed Propagate.
	Conflict() []Lit
}

// SatCore is the Boolean reasoning engine.
type SatCore interface {
	// NewVar allocates a fresh Boolean variable.
	NewVar() Var
	// NewClause adds a clause; false means the clause made the problem
	// trivially inconsistent.
	NewClause(lits ...Lit) bool
	// Value evaluates a literal under the current assignment.
	Value(l Lit) Lbool
	// Watch registers t to be invoked whenever v is assigned.
	Watch(v Var, t Theory)
	// Record adds a theory-justified implied clause at the current level.
	Record(lits ...Lit)
	// Propagate runs Boolean propagation to fixpoint.
	Propagate() bool
	// Pop undoes the most recent decision level.
	Pop()
	// RootLevel reports whether no decisions are open.
	RootLevel() bool
	// AnalyzeAndBackjump resolves the given falsified clause, learns from
	// it, and backjumps; false means the conflict is unresolvable.
	AnalyzeAndBackjump(conflict []Lit) bool
}

// ArithVar is a variable of the linear-arithmetic theory.
type ArithVar int

// ArithTheory is the linear-arithmetic reasoning engine.
// All bound mutations carry a reason literal: if the reason is later
// unassigned by a backjump, the bound relaxes with it.
type ArithTheory interface {
	// NewVar materializes a theory variable over the item's expression.
	// The item must have KindArith.
	NewVar(itm Item) ArithVar
	// Value returns the current model value of the variable.
	Value(v ArithVar) rat.Rational
	// SetLb tightens the lower bound; false signals a conflict.
	SetLb(v ArithVar, bound rat.Rational, reason Lit) bool
	// SetUb tightens the upper bound; false signals a conflict.
	SetUb(v ArithVar, bound rat.Rational, reason Lit) bool
	// Set pins the variable to a single value; false signals a conflict.
	Set(v ArithVar, val rat.Rational, reason Lit) bool
	// Conflict drains the theory's conflict clause after a failed mutation.
	Conflict() []Lit
}

// EnumVar is a set-valued variable of the object-variable theory.
type EnumVar int

// EnumVal is an opaque element of an enum domain.
type EnumVal interface {
	// ID uniquely identifies the value within its domain.
	ID() string
}

// EnumTheory is the object-variable reasoning engine.
type EnumTheory interface {
	// Value returns the values still allowed for v.
	Value(v EnumVar) []EnumVal
	// Allows returns the literal asserting that v may take val.
	Allows(v EnumVar, val EnumVal) Lit
}

// ItemKind tags the three parameter variants: the executor's bound
// snapshots branch on the tag, no virtual hierarchy is involved.
type ItemKind int

const (
	// KindBool marks a Boolean-typed parameter.
	KindBool ItemKind = iota
	// KindArith marks a rational-typed parameter.
	KindArith
	// KindEnum marks an enumerated parameter.
	KindEnum
)

// Item is an opaque, solver-owned parameter of an activity.
type Item interface {
	Kind() ItemKind
}

// BoolItem is a Boolean-typed parameter (Kind() == KindBool).
type BoolItem interface {
	Item
	Lit() Lit
}

// EnumItem is an enumerated parameter (Kind() == KindEnum).
type EnumItem interface {
	Item
	EnumVar() EnumVar
}

// Coordinate names shared between the solver's modeling language and the
// executor: the single instant of a punctual activity and the bounds of an
// interval one.
const (
	At       = "at"
	Start    = "start"
	End      = "end"
	Duration = "duration"
)

// Atom is a plan activity. The executor treats atoms as opaque references;
// identity is pointer identity of the underlying implementation.
type Atom interface {
	// ID is a stable identifier used in wire messages.
	ID() uint64
	// Sigma is the presence literal: true iff the atom is part of the plan.
	Sigma() Lit
	// Predicate is the predicate the atom instantiates.
	Predicate() Predicate
	// Get returns a named parameter, including the time coordinates.
	Get(name string) (Item, bool)
	// Vars returns all parameters by name.
	Vars() map[string]Item
}

// Predicate is a predicate of the solver's modeling language.
type Predicate interface {
	Name() string
	Instances() []Atom
}

// Type is a (possibly nested) complex type of the modeling language.
// The executor walks the hierarchy to collect relevant predicates.
type Type interface {
	Name() string
	Predicates() []Predicate
	Types() []Type
}

// Flaw is a solver search-space node. The executor only cares about
// atom-creating flaws.
type Flaw interface {
	// Atom returns the created atom for atom flaws, ok == false otherwise.
	Atom() (Atom, bool)
}

// CoreListener observes problem-level solver events.
type CoreListener interface {
	ReadScript(script string)
	ReadFiles(files []string)
	StartedSolving()
	SolutionFound()
	InconsistentProblem()
}

// SolverListener observes search-level solver events.
type SolverListener interface {
	FlawCreated(f Flaw)
}

// Solver is the full solving surface the executor consumes.
type Solver interface {
	// ID identifies the solver instance in wire messages.
	ID() string

	Sat() SatCore
	Arith() ArithTheory
	Enum() EnumTheory

	// Read feeds additional requirements into the problem.
	Read(script string) error
	// ReadFiles feeds requirement files into the problem.
	ReadFiles(files []string) error
	// Solve searches for a solution; false means unsat.
	Solve() bool
	// TakeDecision opens a decision level and assigns l.
	TakeDecision(l Lit) bool

	// ArithValue evaluates an arithmetic item under the current solution.
	ArithValue(itm Item) rat.Rational
	// ArithBounds returns the item's current [lb, ub].
	ArithBounds(itm Item) (lb, ub rat.Rational)
	// IsConstant reports whether the item's expression has no variables.
	IsConstant(itm Item) bool

	// IsImpulse reports whether the predicate's activities are punctual.
	IsImpulse(p Predicate) bool
	// IsInterval reports whether the predicate's activities are intervals.
	IsInterval(p Predicate) bool

	// Predicates returns the top-level predicates.
	Predicates() []Predicate
	// Types returns the top-level complex types.
	Types() []Type
	// Get resolves a problem-level name, e.g. the horizon expression.
	Get(name string) (Item, bool)

	// AddCoreListener registers for problem-level events.
	AddCoreListener(l CoreListener)
	// AddSolverListener registers for search-level events.
	AddSolverListener(l SolverListener)
}
