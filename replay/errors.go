package replay

import (
	"errors"
	"fmt"
)

// NonDeterministicError indicates that a decision task's history does not
// match the cached replay state. It is permanent: retrying against the same
// state cannot succeed, the cached Decider has to be dropped and rebuilt.
type NonDeterministicError struct {
	Message string

	// ExpectedEventID is the history event the replay state expected next,
	// if known.
	ExpectedEventID int64
}

func NewNonDeterministicError(format string, args ...any) *NonDeterministicError {
	return &NonDeterministicError{
		Message: fmt.Sprintf(format, args...),
	}
}

func (e *NonDeterministicError) Error() string {
	return fmt.Sprintf("non-deterministic workflow: %s", e.Message)
}

// CanRetry returns false for errors that cannot succeed on retry against the
// same replay state.
func CanRetry(err error) bool {
	var nde *NonDeterministicError
	if errors.As(err, &nde) {
		return false
	}

	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	// Retry errors by default
	return true
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// NewPermanentError marks an error as not retryable without classifying it
// as non-determinism.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}
