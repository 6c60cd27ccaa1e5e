// Package metrics exposes Prometheus collectors for plan execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexec_ticks_total",
		Help: "Completed ticks per solver.",
	}, []string{"solver_id"})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexec_activity_transitions_total",
		Help: "Activity transitions per solver, by kind (starting, start, ending, end).",
	}, []string{"solver_id", "kind"})

	delaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexec_delays_total",
		Help: "Activity deferrals applied per solver.",
	}, []string{"solver_id"})

	executingActivities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plexec_executing_activities",
		Help: "Activities currently executing per solver.",
	}, []string{"solver_id"})

	planTime = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plexec_plan_time_units",
		Help: "Current plan time per solver, in plan units.",
	}, []string{"solver_id"})

	stateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "plexec_state",
		Help: "Controller state per solver; 1 for the current state, 0 otherwise.",
	}, []string{"solver_id", "state"})
)

var allStates = []executor.State{
	executor.Reasoning, executor.Idle, executor.Adapting,
	executor.Executing, executor.Finished, executor.Failed,
}

// Observer is an executor listener updating the collectors.
type Observer struct {
	solverID string
}

var _ executor.Listener = (*Observer)(nil)

// NewObserver creates an observer labeling every sample with solverID.
func NewObserver(solverID string) *Observer {
	return &Observer{solverID: solverID}
}

func (o *Observer) StateChanged(s executor.State) {
	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1.0
		}
		stateGauge.WithLabelValues(o.solverID, st.String()).Set(v)
	}
}

func (o *Observer) Tick(time rat.Rational) {
	ticksTotal.WithLabelValues(o.solverID).Inc()
	planTime.WithLabelValues(o.solverID).Set(time.Float64())
}

func (o *Observer) Starting(atoms []solver.Atom) {
	transitionsTotal.WithLabelValues(o.solverID, "starting").Add(float64(len(atoms)))
}

func (o *Observer) Start(atoms []solver.Atom) {
	transitionsTotal.WithLabelValues(o.solverID, "start").Add(float64(len(atoms)))
	executingActivities.WithLabelValues(o.solverID).Add(float64(len(atoms)))
}

func (o *Observer) Ending(atoms []solver.Atom) {
	transitionsTotal.WithLabelValues(o.solverID, "ending").Add(float64(len(atoms)))
}

func (o *Observer) End(atoms []solver.Atom) {
	transitionsTotal.WithLabelValues(o.solverID, "end").Add(float64(len(atoms)))
	executingActivities.WithLabelValues(o.solverID).Sub(float64(len(atoms)))
}

func (o *Observer) Delayed(atoms []solver.Atom) {
	delaysTotal.WithLabelValues(o.solverID).Add(float64(len(atoms)))
}

func (o *Observer) Finished() {}
