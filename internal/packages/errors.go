package packages

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for malformed or out-of-range input.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound is returned when a package, alert or session id does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrPatientNotFound is returned when the patient directory does not know the patient.
	ErrPatientNotFound = errors.New("patient not found")

	// ErrConflict is returned when the patient already holds a non-terminal package.
	ErrConflict = errors.New("patient already has an active package")

	// ErrExhausted is returned when a package has no sessions available.
	ErrExhausted = errors.New("no sessions available")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ErrConcurrentUpdate is returned when a guarded write finds the row changed underneath it.
var ErrConcurrentUpdate = errors.New("package was modified concurrently")
