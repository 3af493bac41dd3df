package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Job lifecycle
	ErrNoFiles            = errors.New("no files selected")
	ErrNoTemplate         = errors.New("no instruction template selected")
	ErrNothingToProcess   = errors.New("all batches are already completed")
	ErrRunInProgress      = errors.New("a run is already in progress for this job")
	ErrJobLocked          = errors.New("job is locked by another process")
	ErrNotConsolidated    = errors.New("job has no consolidated documentation")
	ErrInvalidTemperature = errors.New("temperature must be between 0.00 and 2.00")

	// AI call failures that must never be retried.
	ErrInvalidCredential = errors.New("ai: invalid credential")
	ErrQuotaExceeded     = errors.New("ai: quota exceeded")
	ErrContentBlocked    = errors.New("ai: content rejected by safety policy")

	// Transient AI call failures.
	ErrEmptyReply       = errors.New("ai: empty reply")
	ErrRateLimitTimeout = errors.New("rate limit wait timeout")

	// Persistence
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
)

// IsPermanent reports whether err belongs to a failure category that is
// surfaced immediately instead of being retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrContentBlocked)
}
