package door

import "errors"

// Domain errors for the door package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, door.ErrDoorUnavailable) {
//	    // handle occupied/unusable door
//	}
var (
	// ErrDoorNotFound is returned when a door ID does not exist.
	ErrDoorNotFound = errors.New("door: not found")

	// ErrDoorExists is returned when creating a door that already exists.
	ErrDoorExists = errors.New("door: already exists")

	// ErrDoorUnavailable is returned when the state machine forbids
	// occupying the door from its current state.
	ErrDoorUnavailable = errors.New("door: unavailable")

	// ErrInvalidTransition is returned for any status change outside the
	// legal transition set. State is left untouched.
	ErrInvalidTransition = errors.New("door: invalid transition")

	// ErrEmptyRecipients is returned when an occupation names no
	// recipients, or any recipient has a quantity below one.
	ErrEmptyRecipients = errors.New("door: empty recipients")

	// ErrCredentialNotFound is returned when no credential matches a code.
	ErrCredentialNotFound = errors.New("door: credential not found")

	// ErrCredentialExpired is returned when a credential is past its
	// validity window.
	ErrCredentialExpired = errors.New("door: credential expired")

	// ErrCredentialAlreadyUsed is returned when a credential has already
	// been consumed. Expected and user-visible, not a system fault.
	ErrCredentialAlreadyUsed = errors.New("door: credential already used")

	// ErrNotClosed is returned when re-activating a force-closed door
	// whose sensor has not confirmed closed.
	ErrNotClosed = errors.New("door: hardware not confirmed closed")
)
