package errors

import (
	"errors"

	"github.com/cenkalti/backoff/v4"
)

type unretriableError struct {
	error
}

func (e unretriableError) Unwrap() error {
	return e.error
}

// Unretriable wraps an error to mark it as non-retriable. Retry loops built
// on backoff.Retry stop immediately, and since backoff.Retry returns the
// permanent error's inner value, the marker survives the loop for callers
// that branch on IsUnretriable afterwards.
func Unretriable(err error) error {
	return &backoff.PermanentError{Err: unretriableError{err}}
}

// IsUnretriable reports whether err is marked as non-retriable.
func IsUnretriable(err error) bool {
	ue := unretriableError{}
	return errors.As(err, &ue)
}

// ObjectNotFoundError reports a record or artifact missing from storage.
type ObjectNotFoundError struct {
	msg   string
	cause error
}

func (e ObjectNotFoundError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e ObjectNotFoundError) Unwrap() error {
	return e.cause
}

// NewObjectNotFoundError creates an ObjectNotFoundError already marked as
// non-retriable. Unlike Unretriable it carries no backoff.PermanentError, so
// it reads the same inside and outside retry loops.
func NewObjectNotFoundError(msg string, cause error) error {
	return unretriableError{ObjectNotFoundError{msg: msg, cause: cause}}
}

// IsObjectNotFound reports whether err carries an ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	notFound := ObjectNotFoundError{}
	return errors.As(err, &notFound)
}
