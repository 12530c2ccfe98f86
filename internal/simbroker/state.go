package simbroker

import "fmt"

// PositionState is a position's lifecycle stage: Submitted →
// Open → {ClosedBySL, ClosedByTP, ClosedByMonitor, ClosedManual}.
type PositionState string

// Recognized states. Closed states are terminal and sticky; reopening is
// always a new position with a new ticket.
const (
	StateSubmitted       PositionState = "submitted"
	StateOpen            PositionState = "open"
	StateClosedBySL      PositionState = "closed_by_sl"
	StateClosedByTP      PositionState = "closed_by_tp"
	StateClosedByMonitor PositionState = "closed_by_monitor"
	StateClosedManual    PositionState = "closed_manual"
)

// IsClosed reports whether s is one of the terminal closed states.
func (s PositionState) IsClosed() bool {
	switch s {
	case StateClosedBySL, StateClosedByTP, StateClosedByMonitor, StateClosedManual:
		return true
	default:
		return false
	}
}

type transition struct {
	from, to PositionState
}

var validTransitions = map[transition]bool{
	{StateSubmitted, StateOpen}:       true,
	{StateOpen, StateClosedBySL}:      true,
	{StateOpen, StateClosedByTP}:      true,
	{StateOpen, StateClosedByMonitor}: true,
	{StateOpen, StateClosedManual}:    true,
}

// stateMachine guards one position's lifecycle with an explicit
// transition table over the four terminal closed states.
type stateMachine struct {
	current PositionState
}

func newStateMachine() *stateMachine {
	return &stateMachine{current: StateSubmitted}
}

// transition moves the machine to "to", rejecting any move not present in
// validTransitions. Terminal states reject every further transition.
func (sm *stateMachine) transition(to PositionState) error {
	if sm.current.IsClosed() {
		return fmt.Errorf("simbroker: position already closed (%s), cannot transition to %s", sm.current, to)
	}
	if !validTransitions[transition{sm.current, to}] {
		return fmt.Errorf("simbroker: invalid transition %s -> %s", sm.current, to)
	}
	sm.current = to
	return nil
}
