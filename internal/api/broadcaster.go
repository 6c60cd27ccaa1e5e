package api

import (
	"log/slog"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// Publisher receives encoded wire-format messages. Implemented by Hub;
// tests substitute an in-memory sink.
type Publisher interface {
	Publish(msg []byte)
}

// Broadcaster is a listener turning executor notifications into wire
// messages.
//
// It mirrors the current time and the executing set from the callbacks it
// receives instead of querying the executor: listeners run with the
// executor's lock held and must not re-enter it.
type Broadcaster struct {
	solverID string
	pub      Publisher

	time      rat.Rational
	executing []solver.Atom
}

var _ executor.Listener = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster publishing to pub, tagging every
// message with solverID.
func NewBroadcaster(solverID string, pub Publisher) *Broadcaster {
	return &Broadcaster{solverID: solverID, pub: pub, time: rat.Zero}
}

func (b *Broadcaster) publish(m Message) {
	data, err := m.Encode()
	if err != nil {
		slog.Error("dropping undecodable notification", "solver", b.solverID, "error", err)
		return
	}
	b.pub.Publish(data)
}

func (b *Broadcaster) StateChanged(s executor.State) {
	b.publish(StateChangedMessage(b.solverID, s))
}

func (b *Broadcaster) Tick(time rat.Rational) {
	b.time = time
	b.publish(TickMessage(b.solverID, time))
	b.publish(SolverStateMessage(b.solverID, b.time, b.executing))
}

func (b *Broadcaster) Starting(atoms []solver.Atom) {
	b.publish(AtomsMessage(KindStarting, b.solverID, atoms))
}

func (b *Broadcaster) Start(atoms []solver.Atom) {
	b.executing = append(b.executing, atoms...)
	b.publish(AtomsMessage(KindStart, b.solverID, atoms))
}

func (b *Broadcaster) Ending(atoms []solver.Atom) {
	b.publish(AtomsMessage(KindEnding, b.solverID, atoms))
}

func (b *Broadcaster) End(atoms []solver.Atom) {
	for _, atm := range atoms {
		for i, cur := range b.executing {
			if cur == atm {
				b.executing = append(b.executing[:i], b.executing[i+1:]...)
				break
			}
		}
	}
	b.publish(AtomsMessage(KindEnd, b.solverID, atoms))
}

// Delayed has no wire shape: front ends see the outcome of a deferral
// through the re-solved solver_state on the next tick.
func (b *Broadcaster) Delayed([]solver.Atom) {}

func (b *Broadcaster) Finished() {
	b.publish(FinishedMessage(b.solverID))
}
