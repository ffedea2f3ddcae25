package capture

import "errors"

// Kind classifies capture failures at the session boundary. Handlers map
// kinds to HTTP status codes; no other error detail crosses the boundary.
type Kind string

const (
	// KindValidation is a caller input defect (bad URL, missing user).
	KindValidation Kind = "validation"
	// KindLaunch means a browser handle could not be acquired.
	KindLaunch Kind = "launch"
	// KindPage means navigation, capture, or the storage write failed
	// after a handle existed.
	KindPage Kind = "page"
)

// Error is the only error type returned by Session operations.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Message returns the caller-facing message for err. Internal error
// detail stays inside the session boundary; only the classification
// message leaves it.
func Message(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Msg
	}
	return "internal error"
}
