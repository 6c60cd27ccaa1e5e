package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
	"github.com/plexec/plexec/internal/scripted"
)

// setup creates an executor over a scripted solver, with a recorder
// registered before any activity exists.
func setup(t *testing.T) (*scripted.Solver, *executor.Executor, *scripted.Recorder) {
	t.Helper()
	slv := scripted.NewSolver("test")
	exec, err := executor.New(slv, "test", rat.One)
	require.NoError(t, err)
	rec := &scripted.Recorder{}
	exec.Register(rec)
	return slv, exec, rec
}

// ticks invokes Tick n times, failing the test on any error.
func ticks(t *testing.T, exec *executor.Executor, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, exec.Tick())
	}
}

// subsequence asserts that want appears in got, in order, not necessarily
// contiguously.
func subsequence(t *testing.T, got []string, want ...string) {
	t.Helper()
	i := 0
	for _, ev := range got {
		if i < len(want) && ev == want[i] {
			i++
		}
	}
	assert.Equal(t, len(want), i, "missing %q from position %d in trace %v", want, i, got)
}

func TestNew_RejectsNonPositiveQuantum(t *testing.T) {
	slv := scripted.NewSolver("test")
	_, err := executor.New(slv, "test", rat.Zero)
	require.Error(t, err)
	_, err = executor.New(slv, "test", rat.FromInt(-1))
	require.Error(t, err)
}

func TestInit_ReasoningToIdle(t *testing.T) {
	_, exec, rec := setup(t)
	assert.Equal(t, executor.Reasoning, exec.State())

	require.NoError(t, exec.Init())
	assert.Equal(t, executor.Idle, exec.State())
	subsequence(t, rec.Summary(), "executor_state_changed(idle)")
}

func TestInit_UnsatFails(t *testing.T) {
	slv, exec, _ := setup(t)
	slv.NextSolveUnsat = true

	err := exec.Init()
	require.Error(t, err)
	assert.Equal(t, executor.ErrCodeUnsat, executor.ExecutionErrorCodeOf(err))
	assert.Equal(t, executor.Failed, exec.State())
	assert.False(t, exec.IsRunning())
}

// Simple tick: one interval activity with start=3, end=5. The starting and
// start notifications fall inside the tick that drains pulse 3, the ending
// pair inside the tick that drains pulse 5, and the horizon then finishes
// the execution before that tick's time notification.
func TestTick_SimpleIntervalLifecycle(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(5))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 6)

	subsequence(t, rec.Summary(),
		"executor_state_changed(executing)",
		"tick(1)",
		"tick(2)",
		"tick(3)",
		"starting(a)",
		"start(a)",
		"tick(4)",
		"tick(5)",
		"ending(a)",
		"end(a)",
		"executor_state_changed(finished)",
		"finished",
		"tick(6)",
	)
	assert.Equal(t, executor.Finished, exec.State())
	assert.False(t, exec.IsRunning())
	assert.Empty(t, exec.ExecutingAtoms())
}

func TestTick_ExecutingSetTracksLifecycle(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()

	ticks(t, exec, 3) // time 3; pulse 3 not yet drained
	assert.Empty(t, exec.ExecutingAtoms())

	ticks(t, exec, 1) // drains pulse 3
	require.Len(t, exec.ExecutingAtoms(), 1)
	assert.Equal(t, a.ID(), exec.ExecutingAtoms()[0].ID())

	ticks(t, exec, 2) // drains pulse 5
	assert.Empty(t, exec.ExecutingAtoms())
}

// Punctual: an activity with at=7 appears in both the start and end maps of
// pulse 7; observers receive starting and ending in the same pulse,
// followed by start and end.
func TestTick_Punctual(t *testing.T) {
	slv, exec, rec := setup(t)
	ping := slv.NewPredicate("Ping", scripted.Impulse)
	slv.AddImpulse(ping, "p", rat.FromInt(7))
	slv.SetHorizon(rat.FromInt(7))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 8)

	subsequence(t, rec.Summary(),
		"tick(7)",
		"starting(p)",
		"ending(p)",
		"start(p)",
		"end(p)",
		"executor_state_changed(finished)",
		"tick(8)",
	)
}

// Delay: deferring the start at pulse 3 by 2 re-solves the plan; the start
// does not fire, the next candidate pulse is 5 or later, and the clock
// still advances.
func TestTick_Delay(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(20))

	deferred := false
	rec.OnStarting = func(atoms []solver.Atom) {
		if !deferred {
			deferred = true
			exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.FromInt(2)})
		}
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4) // the 4th tick drains pulse 3 and applies the delay

	summary := rec.Summary()
	subsequence(t, summary, "tick(3)", "starting(a)", "delayed(a)", "tick(4)")
	assert.NotContains(t, summary, "start(a)", "delayed activity must not start at pulse 3")

	startItm, ok := a.Get(solver.Start)
	require.True(t, ok)
	assert.True(t, slv.ArithValue(startItm).GreaterEq(rat.FromInt(5)),
		"start moved to %s, want >= 5", slv.ArithValue(startItm))
	assert.Equal(t, rat.FromInt(4), exec.CurrentTime())

	ticks(t, exec, 2) // drains the postponed pulse 5
	subsequence(t, rec.Summary(), "starting(a)", "starting(a)", "start(a)")
}

// Delay idempotence: deferring twice with the same extra delay during the
// same starting callback yields the same snapshot as deferring once.
func TestTick_DelayIdempotent(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(20))

	deferred := false
	rec.OnStarting = func(atoms []solver.Atom) {
		if !deferred {
			deferred = true
			exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.FromInt(2)})
			exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.FromInt(2)})
		}
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4)

	startItm, _ := a.Get(solver.Start)
	assert.Equal(t, rat.FromInt(5), slv.ArithValue(startItm))
}

// Deferring an ending activity pushes its end coordinate.
func TestTick_DelayEnd(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(1), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(20))

	deferred := false
	rec.OnEnding = func(atoms []solver.Atom) {
		if !deferred {
			deferred = true
			exec.DontEndYet(map[solver.Atom]rat.Rational{atoms[0]: rat.FromInt(3)})
		}
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4) // pulse 1 starts it; pulse 3 defers the end

	endItm, _ := a.Get(solver.End)
	assert.True(t, slv.ArithValue(endItm).GreaterEq(rat.FromInt(6)))
	require.Len(t, exec.ExecutingAtoms(), 1)

	ticks(t, exec, 3) // drains the postponed end pulse
	assert.Empty(t, exec.ExecutingAtoms())
}

func TestTick_DelayConstantCoordinateIsFatal(t *testing.T) {
	slv, exec, rec := setup(t)
	ping := slv.NewPredicate("Ping", scripted.Impulse)
	atm := slv.AddImpulse(ping, "p", rat.FromInt(3))
	atm.SetParam(solver.At, slv.NewConstParam(rat.FromInt(3)))
	slv.SetHorizon(rat.FromInt(20))

	rec.OnStarting = func(atoms []solver.Atom) {
		exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.One})
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 3)

	err := exec.Tick()
	require.Error(t, err)
	assert.Equal(t, executor.ErrCodeConstantCoordinate, executor.ExecutionErrorCodeOf(err))
	assert.Equal(t, executor.Failed, exec.State())
	assert.False(t, exec.IsRunning())

	// subsequent ticks are no-ops returning the same failure
	err2 := exec.Tick()
	require.Error(t, err2)
	assert.Equal(t, err, err2)
}

// A delay that contradicts a hard upper bound drives the liveness literal
// false: the plan is unsalvageable.
func TestTick_DelayAgainstHardBoundKillsPlan(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	startItm, _ := a.Get(solver.Start)
	slv.ConstrainItemUb(startItm, rat.FromInt(4))
	slv.SetHorizon(rat.FromInt(20))

	rec.OnStarting = func(atoms []solver.Atom) {
		exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.FromInt(2)})
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 3)

	err := exec.Tick()
	require.Error(t, err)
	assert.Equal(t, executor.ErrCodeXiFalse, executor.ExecutionErrorCodeOf(err))
	assert.Equal(t, executor.Failed, exec.State())
}

// Failure: reporting an executing activity as failed retracts it; with a
// replacement solution available the execution continues.
func TestFailure_RetractsExecutingActivity(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	b := slv.AddInterval(task, "b", rat.FromInt(6), rat.FromInt(1))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4) // a is executing, time 4

	require.Len(t, exec.ExecutingAtoms(), 1)
	require.NoError(t, exec.Failure([]solver.Atom{a}))

	assert.Equal(t, executor.Executing, exec.State())
	assert.Empty(t, exec.ExecutingAtoms(), "failed activity must leave the executing set")
	subsequence(t, rec.Summary(), "start(a)", "end(a)")

	// the replacement plan still runs b
	ticks(t, exec, 3)
	subsequence(t, rec.Summary(), "starting(b)", "start(b)")
	_ = b
}

func TestFailure_WithoutReplacementFails(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4)

	slv.NextSolveUnsat = true
	err := exec.Failure([]solver.Atom{a})
	require.Error(t, err)
	assert.Equal(t, executor.ErrCodeUnsat, executor.ExecutionErrorCodeOf(err))
	assert.Equal(t, executor.Failed, exec.State())
}

// Adapt: new requirements re-solve on the next tick, passing through
// Adapting; activities already executing survive with their committed
// values (no regression under adapt).
func TestAdapt_PreservesExecutingActivities(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	slv.OnRead = func(s *scripted.Solver, script string) error {
		s.AddInterval(task, "c", rat.FromInt(6), rat.FromInt(1))
		return nil
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4) // a executing, time 4

	require.NoError(t, exec.Adapt("new_requirement();"))
	require.NoError(t, exec.Tick())

	subsequence(t, rec.Summary(),
		"executor_state_changed(adapting)",
		"executor_state_changed(executing)",
	)
	require.Len(t, exec.ExecutingAtoms(), 1)
	assert.Equal(t, a.ID(), exec.ExecutingAtoms()[0].ID())

	// the frozen start keeps its committed value across the re-solve
	startItm, _ := a.Get(solver.Start)
	assert.Equal(t, rat.FromInt(3), slv.ArithValue(startItm))

	ticks(t, exec, 2)
	subsequence(t, rec.Summary(), "starting(c)", "start(c)")
}

func TestAdapt_UnsatFails(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 2)

	require.NoError(t, exec.Adapt("impossible();"))
	slv.NextSolveUnsat = true

	err := exec.Tick()
	require.Error(t, err)
	assert.Equal(t, executor.ErrCodeUnsat, executor.ExecutionErrorCodeOf(err))
	assert.Equal(t, executor.Failed, exec.State())
	assert.False(t, exec.IsRunning())
}

// A mid-execution adapt that removes a currently-executing activity must
// reconcile the executing set against the new presence values.
func TestAdapt_RemovingExecutingActivityReconciles(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(4))
	slv.SetHorizon(rat.FromInt(10))

	slv.OnRead = func(s *scripted.Solver, script string) error {
		s.Retract(a)
		return nil
	}

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 4) // a executing

	require.NoError(t, exec.Adapt("drop a;"))
	require.NoError(t, exec.Tick())

	assert.Empty(t, exec.ExecutingAtoms())
	subsequence(t, rec.Summary(), "start(a)", "end(a)")
}

// Committed parameter snapshots survive an adapt: the bool value is
// re-implied and the enum stays pinned once the guard literal is
// re-committed.
func TestFreeze_ParameterSnapshotsReplayAfterAdapt(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	a := slv.AddInterval(task, "a", rat.FromInt(2), rat.FromInt(4))
	armed := slv.NewBoolParam()
	mode := slv.NewEnumParam("fast")
	a.SetParam("armed", armed)
	a.SetParam("mode", mode)
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	require.True(t, slv.TakeDecision(armed.Lit()))
	exec.Start()
	ticks(t, exec, 3) // a starts at pulse 2 with armed=true frozen

	require.Len(t, exec.ExecutingAtoms(), 1)
	require.Equal(t, solver.True, slv.Sat().Value(armed.Lit()))

	slv.OnRead = func(s *scripted.Solver, script string) error { return nil }
	require.NoError(t, exec.Adapt("noop();"))
	require.NoError(t, exec.Tick())

	// the adapt popped every speculative assignment; the snapshots were
	// replayed when the guard literal came back
	assert.Equal(t, solver.True, slv.Sat().Value(armed.Lit()))
	vals := slv.Enum().Value(mode.EnumVar())
	require.Len(t, vals, 1)
	assert.Equal(t, "fast", vals[0].ID())
	require.Len(t, exec.ExecutingAtoms(), 1)
}

// Finish monotonicity: only adapt leaves Finished.
func TestFinished_OnlyAdaptLeaves(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(1), rat.FromInt(1))
	slv.SetHorizon(rat.FromInt(2))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 3)
	require.Equal(t, executor.Finished, exec.State())

	exec.Start() // ignored in a terminal state
	assert.Equal(t, executor.Finished, exec.State())
	ticks(t, exec, 2)
	assert.Equal(t, executor.Finished, exec.State())

	later := exec.CurrentTime().Add(rat.FromInt(2))
	slv.OnRead = func(s *scripted.Solver, script string) error {
		s.AddInterval(task, "b", later, rat.One)
		return nil
	}
	require.NoError(t, exec.Adapt("more();"))
	require.NoError(t, exec.Tick())
	subsequence(t, rec.Summary(), "executor_state_changed(finished)", "executor_state_changed(adapting)")
	assert.NotEqual(t, executor.Finished, exec.State())
}

// Horizon boundary: with no activity beyond the horizon, the first tick that
// begins with current time at the horizon finishes the execution before that
// tick's time notification.
func TestTick_HorizonBoundary(t *testing.T) {
	slv, exec, rec := setup(t)
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 11)

	summary := rec.Summary()
	subsequence(t, summary, "tick(10)", "executor_state_changed(finished)", "finished", "tick(11)")
	assert.Equal(t, executor.Finished, exec.State())
	assert.False(t, exec.IsRunning())
}

func TestPause_StopsClockWithoutAbortingState(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 2)
	require.Equal(t, rat.FromInt(2), exec.CurrentTime())

	exec.Pause()
	assert.Equal(t, executor.Idle, exec.State())
	assert.False(t, exec.IsRunning())

	ticks(t, exec, 3) // paused ticks are no-ops
	assert.Equal(t, rat.FromInt(2), exec.CurrentTime())

	exec.Start()
	ticks(t, exec, 2)
	assert.Equal(t, rat.FromInt(4), exec.CurrentTime())
}

// A paused executor still solves pending requirements on tick.
func TestPause_PendingRequirementsStillSolve(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(3), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	require.NoError(t, exec.Adapt("more();"))
	require.NoError(t, exec.Tick())

	subsequence(t, rec.Summary(), "executor_state_changed(adapting)", "executor_state_changed(idle)")
	assert.Equal(t, executor.Idle, exec.State())
	assert.Equal(t, rat.Zero, exec.CurrentTime(), "paused tick must not advance the clock")
}

func TestCurrentTime_NonDecreasing(t *testing.T) {
	slv, exec, _ := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(2), rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(30))

	require.NoError(t, exec.Init())
	exec.Start()

	prev := exec.CurrentTime()
	for i := 0; i < 10; i++ {
		require.NoError(t, exec.Tick())
		now := exec.CurrentTime()
		assert.True(t, now.GreaterEq(prev))
		assert.Equal(t, prev.Add(rat.One), now, "the clock advances by exactly one quantum per tick")
		prev = now
	}
}

func TestFractionalQuantum(t *testing.T) {
	slv := scripted.NewSolver("test")
	exec, err := executor.New(slv, "test", rat.New(1, 2))
	require.NoError(t, err)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.One, rat.One)
	slv.SetHorizon(rat.FromInt(3))
	rec := &scripted.Recorder{}
	exec.Register(rec)

	require.NoError(t, exec.Init())
	exec.Start()
	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Tick())
	}
	assert.Equal(t, rat.New(3, 2), exec.CurrentTime())
	subsequence(t, rec.Summary(), "tick(1/2)", "tick(1)", "starting(a)", "start(a)", "tick(3/2)")
}

func TestUnregister_StopsNotifications(t *testing.T) {
	slv, exec, rec := setup(t)
	slv.SetHorizon(rat.FromInt(10))

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 1)
	n := len(rec.Events)
	require.NotZero(t, n)

	exec.Unregister(rec)
	ticks(t, exec, 2)
	assert.Len(t, rec.Events, n)
}

// An interval already underway at rebuild time keeps only its end pulse:
// the activity must never be both executing and in a start list.
func TestRebuild_StraddlingIntervalKeepsEndOnly(t *testing.T) {
	slv, exec, rec := setup(t)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(2), rat.FromInt(4))
	slv.SetHorizon(rat.FromInt(10))

	slv.OnRead = func(s *scripted.Solver, script string) error { return nil }

	require.NoError(t, exec.Init())
	exec.Start()
	ticks(t, exec, 3) // a started at pulse 2, executing

	require.NoError(t, exec.Adapt("noop();"))
	require.NoError(t, exec.Tick()) // re-solve rebuilds the pulse index

	require.Len(t, exec.ExecutingAtoms(), 1)
	summary := rec.Summary()
	starts := 0
	for _, ev := range summary {
		if ev == "start(a)" {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "a re-solve must not restart an executing activity")

	ticks(t, exec, 3) // end fires at pulse 6
	assert.Empty(t, exec.ExecutingAtoms())
	subsequence(t, summary, "start(a)")
	subsequence(t, rec.Summary(), "ending(a)", "end(a)")
}
