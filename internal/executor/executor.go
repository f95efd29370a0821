/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package executor binds the instrument sequencer that runs programs action
// by action and reports its progress.
package executor

import (
	"context"
	"errors"
)

var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrShutdown indicates the executor has been shut down.
	ErrShutdown = errors.New("executor shut down")
)

// State is the executor's coarse machine state.
type State string

const (
	StateOff      State = "OFF"
	StateStart    State = "START"
	StateIdle     State = "IDLE"
	StateBusy     State = "BUSY"
	StateStop     State = "STOP"
	StateShutdown State = "SHUTDOWN"
)

// AllStates lists every state, e.g. for the state gauge.
var AllStates = []State{StateOff, StateStart, StateIdle, StateBusy, StateStop, StateShutdown}

// Status is the outcome of a program or action.
type Status string

const (
	StatusOK      Status = "OK"
	StatusError   Status = "ERROR"
	StatusAborted Status = "ABORTED"
)

// Handlers receive executor notifications. Nil fields are skipped. Handlers
// are called one at a time and the executor waits for each to return.
type Handlers struct {
	ProgramBegin    func(ctx context.Context, p Program) error
	ProgramComplete func(ctx context.Context, p Program, status Status, message string) error
	ActionBegin     func(ctx context.Context, a Action, message string) error
	ActionComplete  func(ctx context.Context, a Action, status Status, message string) error
	StateChanged    func(ctx context.Context, newState, oldState State) error
}

// Executor is the sequencer collaborator.
type Executor interface {
	State(ctx context.Context) (State, error)
	Enqueue(ctx context.Context, p Program) error
	// Start lets the sequencer process its queue.
	Start(ctx context.Context) error
	// Stop aborts the running program and halts the sequencer.
	Stop(ctx context.Context) error
	// Wake resumes a sequencer that went off after draining its queue.
	Wake(ctx context.Context) error
	// Subscribe attaches handlers until the returned cancel func is called.
	Subscribe(h Handlers) (cancel func(), err error)
}

var validTransitions = map[State][]State{
	StateOff:   {StateStart, StateShutdown},
	StateStart: {StateIdle, StateBusy, StateStop, StateShutdown},
	StateIdle:  {StateBusy, StateOff, StateStop, StateShutdown},
	StateBusy:  {StateIdle, StateStop, StateShutdown},
	StateStop:  {StateOff, StateShutdown},
}

// ValidTransition reports whether the sequencer may move from one state to another.
func ValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
