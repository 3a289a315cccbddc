package store

import "errors"

// Error taxonomy for the persistence engine. Callers classify with errors.Is;
// repositories wrap these with context via fmt.Errorf and %w.
var (
	// ErrUnavailable means the backing store could not be opened. The
	// condition is permanent for the session; callers degrade to a no-op
	// mode instead of retrying.
	ErrUnavailable = errors.New("store unavailable")

	// ErrNotFound means the referenced chat, snapshot or checkpoint does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a write would violate the url-id uniqueness
	// invariant.
	ErrConflict = errors.New("conflict")

	// ErrValidation means caller input or a persisted row failed boundary
	// validation.
	ErrValidation = errors.New("validation failed")

	// ErrTxFailed means a multi-collection transaction could not begin or
	// commit. No partial state is left behind.
	ErrTxFailed = errors.New("transaction failed")
)
