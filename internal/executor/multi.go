package executor

import (
	"fmt"
	"sync"

	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// SolverFactory creates a fresh solver for a managed executor.
type SolverFactory func(name string) (solver.Solver, error)

// MultiListener observes every executor managed by a MultiExecutor, with
// each notification tagged by the originating handle.
type MultiListener interface {
	SolverCreated(h *Handle)
	SolverDestroyed(h *Handle)
	StateChanged(h *Handle, s State)
	Tick(h *Handle, time rat.Rational)
	Starting(h *Handle, atoms []solver.Atom)
	Start(h *Handle, atoms []solver.Atom)
	Ending(h *Handle, atoms []solver.Atom)
	End(h *Handle, atoms []solver.Atom)
	Delayed(h *Handle, atoms []solver.Atom)
	Finished(h *Handle)
}

// NopMultiListener implements MultiListener with no-ops for embedding.
type NopMultiListener struct{}

func (NopMultiListener) SolverCreated(*Handle)                 {}
func (NopMultiListener) SolverDestroyed(*Handle)               {}
func (NopMultiListener) StateChanged(*Handle, State)           {}
func (NopMultiListener) Tick(*Handle, rat.Rational)            {}
func (NopMultiListener) Starting(*Handle, []solver.Atom)       {}
func (NopMultiListener) Start(*Handle, []solver.Atom)          {}
func (NopMultiListener) Ending(*Handle, []solver.Atom)         {}
func (NopMultiListener) End(*Handle, []solver.Atom)            {}
func (NopMultiListener) Delayed(*Handle, []solver.Atom)        {}
func (NopMultiListener) Finished(*Handle)                      {}

var _ MultiListener = NopMultiListener{}

// Handle is one managed (solver, executor) pair.
type Handle struct {
	owner *MultiExecutor
	name  string
	slv   solver.Solver
	exec  *Executor
}

// Name returns the handle's name.
func (h *Handle) Name() string { return h.name }

// Solver returns the managed solver.
func (h *Handle) Solver() solver.Solver { return h.slv }

// Executor returns the managed executor.
func (h *Handle) Executor() *Executor { return h.exec }

// handleRelay forwards a single executor's notifications to the owning
// MultiExecutor's listeners, tagged with the handle.
type handleRelay struct {
	h *Handle
}

func (r handleRelay) StateChanged(s State) { r.h.owner.each(func(l MultiListener) { l.StateChanged(r.h, s) }) }
func (r handleRelay) Tick(t rat.Rational)  { r.h.owner.each(func(l MultiListener) { l.Tick(r.h, t) }) }
func (r handleRelay) Starting(a []solver.Atom) {
	r.h.owner.each(func(l MultiListener) { l.Starting(r.h, a) })
}
func (r handleRelay) Start(a []solver.Atom) { r.h.owner.each(func(l MultiListener) { l.Start(r.h, a) }) }
func (r handleRelay) Ending(a []solver.Atom) {
	r.h.owner.each(func(l MultiListener) { l.Ending(r.h, a) })
}
func (r handleRelay) End(a []solver.Atom) { r.h.owner.each(func(l MultiListener) { l.End(r.h, a) }) }
func (r handleRelay) Delayed(a []solver.Atom) {
	r.h.owner.each(func(l MultiListener) { l.Delayed(r.h, a) })
}
func (r handleRelay) Finished() { r.h.owner.each(func(l MultiListener) { l.Finished(r.h) }) }

var _ Listener = handleRelay{}

// MultiExecutor manages several executors, each over its own solver, and
// fans every notification into one listener surface.
type MultiExecutor struct {
	mu        sync.Mutex
	factory   SolverFactory
	handles   []*Handle
	listeners []MultiListener
}

// NewMultiExecutor creates a registry using factory for new solvers.
func NewMultiExecutor(factory SolverFactory) *MultiExecutor {
	return &MultiExecutor{factory: factory}
}

// NewSolver creates a named (solver, executor) pair advancing unitsPerTick
// per tick and announces it to the listeners.
func (m *MultiExecutor) NewSolver(name string, unitsPerTick rat.Rational) (*Handle, error) {
	slv, err := m.factory(name)
	if err != nil {
		return nil, fmt.Errorf("create solver %q: %w", name, err)
	}
	exec, err := New(slv, name, unitsPerTick)
	if err != nil {
		return nil, fmt.Errorf("create executor %q: %w", name, err)
	}

	h := &Handle{owner: m, name: name, slv: slv, exec: exec}
	exec.Register(handleRelay{h: h})

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()

	m.each(func(l MultiListener) { l.SolverCreated(h) })
	return h, nil
}

// DestroySolver removes a managed pair and announces its destruction.
func (m *MultiExecutor) DestroySolver(h *Handle) {
	m.mu.Lock()
	found := false
	for i, reg := range m.handles {
		if reg == h {
			m.handles = append(m.handles[:i], m.handles[i+1:]...)
			found = true
			break
		}
	}
	m.mu.Unlock()
	if !found {
		return
	}
	m.each(func(l MultiListener) { l.SolverDestroyed(h) })
	h.exec.Unregister(handleRelay{h: h})
}

// Handles returns the managed pairs in creation order.
func (m *MultiExecutor) Handles() []*Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Handle(nil), m.handles...)
}

// Register adds a multi-listener.
func (m *MultiExecutor) Register(l MultiListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Unregister removes a multi-listener.
func (m *MultiExecutor) Unregister(l MultiListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, reg := range m.listeners {
		if reg == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *MultiExecutor) each(fn func(MultiListener)) {
	m.mu.Lock()
	ls := append([]MultiListener(nil), m.listeners...)
	m.mu.Unlock()
	for _, l := range ls {
		fn(l)
	}
}
