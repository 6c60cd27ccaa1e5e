// Package harness runs scripted execution scenarios and compares their
// observer traces against golden transcripts.
//
// A scenario declares a plan, a horizon, a number of ticks, and optional
// deferrals; the harness builds a scripted solver, executes the scenario,
// and returns the recorded notification trace. Golden comparison keeps the
// observable contract of the executor pinned: any change to notification
// order shows up as a transcript diff.
package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
	"github.com/plexec/plexec/internal/scripted"
)

// Activity is one scenario plan entry.
type Activity struct {
	Name     string
	Impulse  bool
	At       rat.Rational // impulse instant
	Start    rat.Rational // interval start
	Duration rat.Rational // interval duration
}

// Scenario is a scripted execution run.
type Scenario struct {
	Name         string
	UnitsPerTick rat.Rational // defaults to 1
	Horizon      rat.Rational
	Plan         []Activity
	Ticks        int

	// Defer maps activity names to extra start delays, applied the first
	// time each named activity is announced as starting.
	Defer map[string]rat.Rational

	// Fail names activities reported as failed right after they start.
	Fail map[string]bool
}

// Result is the outcome of a scenario run.
type Result struct {
	Recorder *scripted.Recorder
	Executor *executor.Executor
	Solver   *scripted.Solver
}

// Run executes the scenario and returns the recorded trace.
func Run(t *testing.T, sc Scenario) *Result {
	t.Helper()

	upt := sc.UnitsPerTick
	if upt.Sign() == 0 {
		upt = rat.One
	}

	slv := scripted.NewSolver(sc.Name)
	exec, err := executor.New(slv, sc.Name, upt)
	require.NoError(t, err)

	impulses := slv.NewPredicate("Impulse", scripted.Impulse)
	intervals := slv.NewPredicate("Interval", scripted.Interval)
	for _, act := range sc.Plan {
		if act.Impulse {
			slv.AddImpulse(impulses, act.Name, act.At)
		} else {
			slv.AddInterval(intervals, act.Name, act.Start, act.Duration)
		}
	}
	slv.SetHorizon(sc.Horizon)

	rec := &scripted.Recorder{}
	deferred := make(map[string]bool)
	rec.OnStarting = func(atoms []solver.Atom) {
		for _, atm := range atoms {
			name := atm.(*scripted.Atom).Name()
			d, ok := sc.Defer[name]
			if !ok || deferred[name] {
				continue
			}
			deferred[name] = true
			exec.DontStartYet(map[solver.Atom]rat.Rational{atm: d})
		}
	}
	exec.Register(rec)

	require.NoError(t, exec.Init())
	exec.Start()

	failed := make(map[string]bool)
	for i := 0; i < sc.Ticks; i++ {
		require.NoError(t, exec.Tick(), "tick %d", i+1)
		for _, atm := range exec.ExecutingAtoms() {
			name := atm.(*scripted.Atom).Name()
			if sc.Fail[name] && !failed[name] {
				failed[name] = true
				require.NoError(t, exec.Failure([]solver.Atom{atm}))
			}
		}
	}

	return &Result{Recorder: rec, Executor: exec, Solver: slv}
}

// Transcript renders the recorded trace, one notification per line.
func (r *Result) Transcript() []byte {
	var out []byte
	for _, line := range r.Recorder.Summary() {
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}
