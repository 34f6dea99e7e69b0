package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrRetryExhausted is returned by Run when a batch could not be written
	// within the retry budget. The pipeline is Fatal and will not resume.
	ErrRetryExhausted = errors.New("delivery: retry budget exhausted")

	// ErrInputClosed is returned by Submit after CloseInput.
	ErrInputClosed = errors.New("delivery: input closed")

	// ErrStopped is returned by Submit once the pipeline is draining or fatal.
	ErrStopped = errors.New("delivery: pipeline stopped")

	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("delivery: pipeline already running")

	// ErrNoSink is returned by New when Options.Sink is nil.
	ErrNoSink = errors.New("delivery: sink is required")
)

// ErrorClass tells the pipeline whether a failed write is worth retrying.
type ErrorClass int

const (
	// ClassTransient failures (timeouts, refused connections, 5xx) are retried.
	ClassTransient ErrorClass = iota
	// ClassPermanent failures (malformed points, rejected credentials) drop the batch.
	ClassPermanent
)

func (c ErrorClass) String() string {
	if c == ClassPermanent {
		return "permanent"
	}
	return "transient"
}

// WriteError is a classified sink failure.
type WriteError struct {
	Class ErrorClass
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s write error: %v", e.Class, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable write failure. Transient(nil) is nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable write failure. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &WriteError{Class: ClassPermanent, Err: err}
}

// IsPermanent reports whether err is classified permanent.
// Unclassified errors are treated as transient.
func IsPermanent(err error) bool {
	var we *WriteError
	return errors.As(err, &we) && we.Class == ClassPermanent
}
