package hardware

import "errors"

// Domain errors for the hardware package.
var (
	// ErrCommandNotFound is returned when a command ID does not exist.
	ErrCommandNotFound = errors.New("hardware: command not found")

	// ErrCommandCompleted is returned when reporting a result for a
	// command that already has one.
	ErrCommandCompleted = errors.New("hardware: command already completed")

	// ErrNoEndpoint is returned when a door has no usable controller
	// endpoint for its dispatch mode.
	ErrNoEndpoint = errors.New("hardware: no controller endpoint")

	// ErrControllerRejected is returned when a direct controller answers
	// with a non-success status.
	ErrControllerRejected = errors.New("hardware: controller rejected command")
)
