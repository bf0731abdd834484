package entry

import "errors"

// Domain errors for the entry package.
var (
	// ErrEntryNotFound is returned when an entry ID does not exist.
	ErrEntryNotFound = errors.New("entry: not found")

	// ErrEntryExists is returned when the controller is already linked to the
	// climate entity by another entry.
	ErrEntryExists = errors.New("entry: already exists")

	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("entry: invalid")
)
