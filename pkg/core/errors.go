package core

import "fmt"

// Code identifies a kind of engine error, independent of its message. Callers
// that need to branch on failure kind should use errors.As against the
// concrete *Error and compare Code, not parse the message.
type Code string

const (
	// CodeGraphInvalid marks a malformed document type at construction time.
	CodeGraphInvalid Code = "GRAPH_INVALID"
	// CodeNotFound marks a lookup against an id the store has no record of.
	CodeNotFound Code = "NOT_FOUND"
	// CodeConflict marks an insert whose id already exists.
	CodeConflict Code = "CONFLICT"
	// CodeMismatch marks an update whose supplied Document disagrees with
	// the stored record's immutable fields.
	CodeMismatch Code = "MISMATCH"
	// CodeBusy marks a document-type rebind attempted while a driver run is
	// in flight.
	CodeBusy Code = "BUSY"
	// CodeCancelled marks an operation aborted by caller cancellation.
	CodeCancelled Code = "CANCELLED"
	// CodeProcessorFailure marks a user processor returning an error or
	// panicking; always recovered locally into an error document, never
	// surfaced to the scheduler.
	CodeProcessorFailure Code = "PROCESSOR_FAILURE"
	// CodePersistenceFailure marks a store write failing mid-transition;
	// recovered locally into an error document on a best-effort basis. If
	// writing the error document itself fails, it is wrapped with this code
	// and surfaced instead.
	CodePersistenceFailure Code = "PERSISTENCE_FAILURE"
	// CodeInvalidInput marks a caller-supplied argument or configuration
	// value that fails a precondition (e.g. a nil DocumentType, a
	// non-positive chunk size). sqlstore also uses it to wrap errors
	// returned by the database driver.
	CodeInvalidInput Code = "INVALID_INPUT"
)

// Error is the engine's error type. All non-recovered failures returned by
// the graph, document store, and engine packages are *Error so callers can
// branch on Code.
type Error struct {
	Code    Code
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with no wrapped cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Err: cause}
}

// IsCode reports whether err is an *Error (at any wrap depth) with the given
// code.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
