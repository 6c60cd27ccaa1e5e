package metrics

import (
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/scripted"
	"github.com/plexec/plexec/internal/solver"
)

func TestObserver_TracksExecution(t *testing.T) {
	slv := scripted.NewSolver("m1")
	exec, err := executor.New(slv, "m1", rat.One)
	require.NoError(t, err)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.One, rat.FromInt(2))
	slv.SetHorizon(rat.FromInt(10))

	exec.Register(NewObserver("m1"))

	require.NoError(t, exec.Init())
	exec.Start()

	require.NoError(t, exec.Tick())
	require.NoError(t, exec.Tick()) // drains pulse 1, a starts

	assert.Equal(t, 2.0, promtest.ToFloat64(ticksTotal.WithLabelValues("m1")))
	assert.Equal(t, 1.0, promtest.ToFloat64(executingActivities.WithLabelValues("m1")))
	assert.Equal(t, 1.0, promtest.ToFloat64(transitionsTotal.WithLabelValues("m1", "start")))
	assert.Equal(t, 2.0, promtest.ToFloat64(planTime.WithLabelValues("m1")))
	assert.Equal(t, 1.0, promtest.ToFloat64(stateGauge.WithLabelValues("m1", "executing")))
	assert.Equal(t, 0.0, promtest.ToFloat64(stateGauge.WithLabelValues("m1", "idle")))

	require.NoError(t, exec.Tick())
	require.NoError(t, exec.Tick()) // drains pulse 3, a ends

	assert.Equal(t, 0.0, promtest.ToFloat64(executingActivities.WithLabelValues("m1")))
	assert.Equal(t, 1.0, promtest.ToFloat64(transitionsTotal.WithLabelValues("m1", "end")))
}

func TestObserver_CountsDelays(t *testing.T) {
	slv := scripted.NewSolver("m2")
	exec, err := executor.New(slv, "m2", rat.One)
	require.NoError(t, err)
	task := slv.NewPredicate("Task", scripted.Interval)
	slv.AddInterval(task, "a", rat.FromInt(2), rat.One)
	slv.SetHorizon(rat.FromInt(10))

	exec.Register(NewObserver("m2"))
	rec := &scripted.Recorder{}
	rec.OnStarting = func(atoms []solver.Atom) {
		exec.DontStartYet(map[solver.Atom]rat.Rational{atoms[0]: rat.One})
	}
	exec.Register(rec)

	require.NoError(t, exec.Init())
	exec.Start()
	for i := 0; i < 3; i++ {
		require.NoError(t, exec.Tick()) // the 3rd tick defers the pulse-2 start
	}

	assert.Equal(t, 1.0, promtest.ToFloat64(delaysTotal.WithLabelValues("m2")))
}
