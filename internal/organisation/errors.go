package organisation

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a referenced organisation,
	// connector, or installed app does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyInstalled is returned when installing a connector the
	// organisation already has. Duplicate installs are an error, not a
	// silent no-op.
	ErrAlreadyInstalled = errors.New("connector already installed")

	// ErrValidation is returned for malformed or contradictory update
	// payloads, including updates that reference a connector the
	// organisation has not installed.
	ErrValidation = errors.New("validation failed")
)
