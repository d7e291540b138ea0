// Package apperrors defines the error taxonomy shared across the scan
// pipeline. Components wrap these sentinels with fmt.Errorf("%w") and
// callers classify with errors.Is.
package apperrors

import "errors"

var (
	// ErrNotFound covers unknown connection ids, job ids, and reports.
	ErrNotFound = errors.New("not found")

	// ErrValidation covers bad request shapes and invalid thresholds.
	// Reported to the caller; never logged at error level.
	ErrValidation = errors.New("validation failed")

	// ErrResourceExhausted covers pool and queue limits. Retryable.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrConnection means the target database is unreachable.
	ErrConnection = errors.New("connection failed")

	// ErrMetadata means schema introspection failed. Fatal to the job.
	ErrMetadata = errors.New("metadata extraction failed")

	// ErrSampling is a per-column sampling fault; isolated, job continues.
	ErrSampling = errors.New("sampling failed")

	// ErrDetection is a strategy-internal fault; strategy yields empty.
	ErrDetection = errors.New("detection failed")

	// ErrNerService is a recognizer fault, absorbed by the circuit breaker.
	ErrNerService = errors.New("ner service failed")

	// ErrCancelled is the expected outcome of a cancel request.
	ErrCancelled = errors.New("scan cancelled")

	// ErrPersistence is fatal to a job's write phase.
	ErrPersistence = errors.New("persistence failed")

	// ErrBusy means a descriptor still has live handles.
	ErrBusy = errors.New("connection busy")

	// ErrAlreadyTerminal means a cancel arrived after the job finished.
	ErrAlreadyTerminal = errors.New("job already terminal")

	// ErrNotCompleted means a report was requested for an unfinished job.
	ErrNotCompleted = errors.New("scan not completed")

	// ErrCredentialsKeyMismatch means stored credentials were encrypted
	// with a different key than the one configured.
	ErrCredentialsKeyMismatch = errors.New("credentials were encrypted with a different key")
)
