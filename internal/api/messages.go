// Package api serializes executor notifications into the tagged wire
// format consumed by visualization front ends, and broadcasts them over
// websockets.
//
// Every notification is a JSON object with a "type" tag. Rationals travel
// as (num, den) pairs.
package api

import (
	"encoding/json"
	"fmt"

	"github.com/plexec/plexec/internal/executor"
	"github.com/plexec/plexec/internal/rat"
	"github.com/plexec/plexec/internal/solver"
)

// Transition kinds for AtomsMessage.
const (
	KindStarting = "starting"
	KindStart    = "start"
	KindEnding   = "ending"
	KindEnd      = "end"
)

// Message is one wire-format notification. Maps marshal with sorted keys,
// which keeps the encoding canonical for golden comparisons.
type Message map[string]any

// Encode renders the message as JSON.
func (m Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %v message: %w", m["type"], err)
	}
	return data, nil
}

// StateChangedMessage announces a controller transition.
func StateChangedMessage(solverID string, s executor.State) Message {
	return Message{
		"type":      "executor_state_changed",
		"solver_id": solverID,
		"state":     s.String(),
	}
}

// TickMessage announces the passing of one time quantum.
func TickMessage(solverID string, time rat.Rational) Message {
	return Message{
		"type":      "tick",
		"solver_id": solverID,
		"time":      time,
	}
}

// AtomsMessage announces an activity transition; kind is one of starting,
// start, ending or end, and doubles as the field carrying the activity ids.
func AtomsMessage(kind, solverID string, atoms []solver.Atom) Message {
	ids := make([]uint64, len(atoms))
	for i, atm := range atoms {
		ids[i] = atm.ID()
	}
	return Message{
		"type":      kind,
		"solver_id": solverID,
		kind:        ids,
	}
}

// SolverStateMessage carries a snapshot of the execution: the current time
// and, when non-empty, the executing activities.
func SolverStateMessage(solverID string, time rat.Rational, executing []solver.Atom) Message {
	msg := Message{
		"type":      "solver_state",
		"solver_id": solverID,
		"time":      time,
	}
	if len(executing) > 0 {
		ids := make([]uint64, len(executing))
		for i, atm := range executing {
			ids[i] = atm.ID()
		}
		msg["executing_atoms"] = ids
	}
	return msg
}

// NewSolverMessage announces a solver managed by a multi-executor.
func NewSolverMessage(solverID, name string, time rat.Rational, s executor.State) Message {
	return Message{
		"type":      "new_solver",
		"solver_id": solverID,
		"name":      name,
		"time":      time,
		"state":     s.String(),
	}
}

// DeletedSolverMessage announces a destroyed solver.
func DeletedSolverMessage(solverID string) Message {
	return Message{
		"type":      "deleted_solver",
		"solver_id": solverID,
	}
}

// FinishedMessage announces that the plan reached its horizon.
func FinishedMessage(solverID string) Message {
	return Message{
		"type":      "finished",
		"solver_id": solverID,
	}
}
