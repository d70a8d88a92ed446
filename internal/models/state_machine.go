package models

import (
	"fmt"
	"time"
)

// IndexState represents the per-index trading state for one day.
type IndexState string

const (
	// StateIdle means no position and no entry attempted yet today
	StateIdle IndexState = "idle"
	// StateEntering means the entry sequence is running
	StateEntering IndexState = "entering"
	// StateActive means all four legs are open and being monitored
	StateActive IndexState = "active"
	// StateExiting means the exit sequence is running
	StateExiting IndexState = "exiting"
	// StateClosed means the position was closed by the scheduled exit or target
	StateClosed IndexState = "closed"
	// StateStoppedOut means the stop-loss forced the position closed
	StateStoppedOut IndexState = "stopped_out"
	// StateEmergencyExit means an external command forced the position closed
	StateEmergencyExit IndexState = "emergency_exit"
)

// Transition conditions.
const (
	CondEntryWindow   = "entry_window"
	CondLegsPlaced    = "legs_placed"
	CondEntryAborted  = "entry_aborted"
	CondExitWindow    = "exit_window"
	CondStopLoss      = "stop_loss"
	CondTargetProfit  = "target_profit"
	CondManualExit    = "manual_exit"
	CondExitComplete  = "exit_complete"
	CondStoppedOut    = "stopped_out"
	CondEmergencyDone = "emergency_complete"
)

// StateTransition defines one valid state transition.
type StateTransition struct {
	From        IndexState
	To          IndexState
	Condition   string
	Description string
}

// ValidTransitions is the per-index daily lifecycle.
var ValidTransitions = []StateTransition{
	{StateIdle, StateEntering, CondEntryWindow, "Entry time reached, placing legs"},
	{StateEntering, StateActive, CondLegsPlaced, "All four legs placed"},
	{StateEntering, StateIdle, CondEntryAborted, "Entry aborted before or during placement"},

	{StateActive, StateExiting, CondExitWindow, "Scheduled exit time reached"},
	{StateActive, StateExiting, CondStopLoss, "Stop-loss breached"},
	{StateActive, StateExiting, CondTargetProfit, "Target profit reached"},
	{StateActive, StateExiting, CondManualExit, "Dashboard or Telegram exit command"},

	{StateExiting, StateClosed, CondExitComplete, "Legs closed on schedule"},
	{StateExiting, StateStoppedOut, CondStoppedOut, "Legs closed after stop-loss"},
	{StateExiting, StateEmergencyExit, CondEmergencyDone, "Legs closed after external command"},
}

// StateMachine tracks the state of one index through the trading day.
// Once-per-day semantics fall out of the table: there is no path back to
// Entering after the first attempt until Reset is called.
type StateMachine struct {
	current        IndexState
	previous       IndexState
	transitionTime time.Time
}

// NewStateMachine creates a state machine in the Idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current:        StateIdle,
		previous:       StateIdle,
		transitionTime: time.Now().UTC(),
	}
}

// Current returns the current state.
func (sm *StateMachine) Current() IndexState {
	return sm.current
}

// Previous returns the state before the most recent transition.
func (sm *StateMachine) Previous() IndexState {
	return sm.previous
}

// TransitionTime returns when the most recent transition happened.
func (sm *StateMachine) TransitionTime() time.Time {
	return sm.transitionTime
}

// Transition moves to a new state, validating against the transition table.
func (sm *StateMachine) Transition(to IndexState, condition string) error {
	for _, tr := range ValidTransitions {
		if tr.From == sm.current && tr.To == to && tr.Condition == condition {
			sm.previous = sm.current
			sm.current = to
			sm.transitionTime = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition %q", sm.current, to, condition)
}

// Reset returns the machine to Idle for a new trading day.
func (sm *StateMachine) Reset() {
	sm.previous = sm.current
	sm.current = StateIdle
	sm.transitionTime = time.Now().UTC()
}

// IsTerminal reports whether the day's lifecycle is finished for this index.
func (sm *StateMachine) IsTerminal() bool {
	switch sm.current {
	case StateClosed, StateStoppedOut, StateEmergencyExit:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the current state.
func (sm *StateMachine) Description() string {
	switch sm.current {
	case StateIdle:
		return "Waiting for entry window"
	case StateEntering:
		return "Placing condor legs"
	case StateActive:
		return "Position open, monitoring P&L"
	case StateExiting:
		return "Closing condor legs"
	case StateClosed:
		return "Position closed for the day"
	case StateStoppedOut:
		return "Stopped out - max loss breached"
	case StateEmergencyExit:
		return "Emergency exit completed"
	default:
		return "Unknown state"
	}
}
