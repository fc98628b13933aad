/*
Copyright 2023 Avi Zimmerman <avi.zimmerman@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package provision records reversible system mutations and guarantees
// they are undone exactly once, in reverse order.
package provision

import (
	"errors"

	"github.com/webmeshproj/clatd/pkg/context"
)

// ErrLedgerDrained is returned when an action is recorded against a
// ledger that already unwound.
var ErrLedgerDrained = errors.New("ledger already drained")

// State is the lifecycle state of a Ledger.
type State int

const (
	// StateEmpty is a ledger with no recorded actions.
	StateEmpty State = iota
	// StateRecording is a ledger holding at least one action.
	StateRecording
	// StateDraining is a ledger currently executing its undo operations.
	StateDraining
	// StateDrained is a ledger that finished unwinding. Terminal.
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRecording:
		return "recording"
	case StateDraining:
		return "draining"
	case StateDrained:
		return "drained"
	}
	return "invalid"
}

// UndoFunc reverses exactly one recorded mutation. It must be
// self-contained and not depend on the outcome of any other action.
type UndoFunc func(ctx context.Context) error

// Action is one recorded reversible mutation.
type Action struct {
	// Index is the ordinal position of the action in recording order.
	Index int
	// Description says what was done, for logs.
	Description string
	// Undo reverses the mutation.
	Undo UndoFunc
}

// Ledger is an append-only record of reversible mutations, drained
// strictly last-in-first-out exactly once. A ledger belongs to a single
// run and is not safe for concurrent use.
type Ledger struct {
	state   State
	actions []Action
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{state: StateEmpty}
}

// State returns the current lifecycle state.
func (l *Ledger) State() State {
	return l.state
}

// Len returns the number of recorded actions.
func (l *Ledger) Len() int {
	return len(l.actions)
}

// Record appends an action. It must be called only after the forward
// mutation it reverses has been confirmed successful.
func (l *Ledger) Record(description string, undo UndoFunc) error {
	switch l.state {
	case StateEmpty:
		l.state = StateRecording
	case StateRecording:
	default:
		return ErrLedgerDrained
	}
	l.actions = append(l.actions, Action{
		Index:       len(l.actions),
		Description: description,
		Undo:        undo,
	})
	return nil
}

// Unwind executes the undo operations in reverse recording order. A
// failed undo is reported as a warning and never stops the remaining
// ones. Calls after the first are no-ops. The number of failed undo
// operations is returned.
func (l *Ledger) Unwind(ctx context.Context) (failed int) {
	log := context.LoggerFrom(ctx)
	switch l.state {
	case StateEmpty, StateRecording:
		l.state = StateDraining
	default:
		log.Debug("Ledger already drained, nothing to unwind")
		return 0
	}
	for i := len(l.actions) - 1; i >= 0; i-- {
		action := l.actions[i]
		log.Debug("Undoing action", "index", action.Index, "description", action.Description)
		if err := action.Undo(ctx); err != nil {
			log.Warn("Failed to undo action, continuing",
				"index", action.Index,
				"description", action.Description,
				"error", err.Error())
			failed++
		}
	}
	l.actions = nil
	l.state = StateDrained
	return failed
}
