package cabinet

import "errors"

var (
	// ErrSiteNotFound is returned when no site record exists.
	ErrSiteNotFound = errors.New("site not found")

	// ErrCabinetNotFound is returned when a cabinet ID does not exist.
	ErrCabinetNotFound = errors.New("cabinet not found")

	// ErrCabinetExists is returned when a cabinet's slug is already taken
	// within its site.
	ErrCabinetExists = errors.New("cabinet already exists")

	// ErrCabinetHasDoors is returned when trying to delete a cabinet that
	// still has doors.
	ErrCabinetHasDoors = errors.New("cabinet has doors: delete doors first")

	// ErrInvalidName is returned for empty or oversized names.
	ErrInvalidName = errors.New("invalid name")

	// ErrInvalidSlug is returned for malformed slugs.
	ErrInvalidSlug = errors.New("invalid slug")
)
