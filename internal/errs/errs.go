// Package errs defines the error kinds surfaced by the correlation layer.
//
// Every error returned across an asynchronous boundary carries exactly one
// kind marker so callers can branch with errors.Is without string matching.
// Kinds are attached with cockroachdb/errors marks, which survive wrapping
// and encoding.
package errs

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrParsing marks malformed serialised state or wire payloads.
	ErrParsing = errors.New("parsing error")

	// ErrValidation marks content whose identity does not match its claimed name.
	ErrValidation = errors.New("validation error")

	// ErrQuorumExhausted marks operations where every replica answered without agreement.
	ErrQuorumExhausted = errors.New("quorum exhausted")

	// ErrFork marks a version tree observed with more than one branch tip.
	ErrFork = errors.New("unexpected fork")

	// ErrTransport marks failures of the underlying transport or backend.
	ErrTransport = errors.New("transport error")

	// ErrCancelled marks operations abandoned because their owner shut down.
	ErrCancelled = errors.New("cancelled")

	// ErrTimedOut marks operations that received no usable answer in time.
	ErrTimedOut = errors.New("timed out")

	// ErrNotFound marks data the replica group does not hold.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks writes that collide with existing data.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidArgument marks requests rejected before being sent.
	ErrInvalidArgument = errors.New("invalid argument")
)

// kinds lists every marker in precedence order for KindOf.
var kinds = []error{
	ErrFork,
	ErrParsing,
	ErrValidation,
	ErrQuorumExhausted,
	ErrCancelled,
	ErrTimedOut,
	ErrNotFound,
	ErrAlreadyExists,
	ErrInvalidArgument,
	ErrTransport,
}

// Mark attaches kind to err. A nil err yields a fresh error of that kind.
func Mark(err error, kind error) error {
	if err == nil {
		return kind
	}

	return errors.Mark(err, kind)
}

// New creates an error with the given message and kind.
func New(kind error, format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), kind)
}

// Parsing wraps cause as a parsing error.
func Parsing(cause error, format string, args ...any) error {
	return wrap(cause, ErrParsing, format, args...)
}

// Transport wraps cause as a transport error.
func Transport(cause error, format string, args ...any) error {
	return wrap(cause, ErrTransport, format, args...)
}

// Cancelled wraps cause as a cancellation error.
func Cancelled(cause error, format string, args ...any) error {
	return wrap(cause, ErrCancelled, format, args...)
}

// Wrap adds context to err, keeping its kind. Returns nil for a nil err.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return errors.Wrapf(err, format, args...)
}

// Is reports whether err carries kind (or wraps target) anywhere in its chain.
// Marks are only visible to this check, not to the standard library's errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// KindOf returns the kind marker carried by err, or nil if it has none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}

	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}

// ByName returns the kind whose message is name, or nil.
// It reverses Error() of a kind marker carried across a text boundary.
func ByName(name string) error {
	for _, k := range kinds {
		if k.Error() == name {
			return k
		}
	}

	return nil
}

// wrap adds a message to cause and marks it with kind.
func wrap(cause, kind error, format string, args ...any) error {
	if cause == nil {
		return New(kind, format, args...)
	}

	return errors.Mark(errors.Wrapf(cause, format, args...), kind)
}
