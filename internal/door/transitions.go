package door

import "fmt"

// legalTransitions is the complete transition set of the door state machine.
// Anything outside this set fails with ErrInvalidTransition.
var legalTransitions = map[Status][]Status{
	StatusAvailable:        {StatusOccupied},
	StatusOccupied:         {StatusPendingRetrieval, StatusForceClosed},
	StatusPendingRetrieval: {StatusAvailable, StatusForceClosed},
	StatusForceClosed:      {StatusAvailable},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the door to the given status after checking legality.
// On an illegal transition the door is left untouched and
// ErrInvalidTransition is returned, wrapped with both statuses.
func (d *Door) Transition(to Status) error {
	if !CanTransition(d.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, d.Status, to)
	}
	d.Status = to
	return nil
}

// CanOccupy reports whether the door may accept a new occupation.
// A non-shared door must be AVAILABLE; a shared door additionally accepts
// recipients while already OCCUPIED.
func (d *Door) CanOccupy() bool {
	if d.Status == StatusAvailable {
		return true
	}
	return d.Shared && d.Status == StatusOccupied
}
