package domain

import "fmt"

// ErrorKind is one of the eight error kinds named in spec section 7 — a
// taxonomy of kinds, not a type hierarchy.
type ErrorKind string

const (
	KindValidation        ErrorKind = "ValidationError"
	KindNotFound          ErrorKind = "NotFound"
	KindAuth              ErrorKind = "AuthError"
	KindNoAvailableServers ErrorKind = "NoAvailableServers"
	KindServerUnavailable  ErrorKind = "ServerUnavailable"
	KindAtCapacity         ErrorKind = "AtCapacity"
	KindBackendError       ErrorKind = "BackendError"
	KindIllegalTransition  ErrorKind = "IllegalTransition"
	KindInternal           ErrorKind = "Internal"
)

// Error wraps a Kind and a sanitized message — internal stacks or storage
// details are never attached here, per spec section 7's propagation policy.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs a tagged Error.
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, defaulting to Internal for anything
// that isn't a *Error — e.g. a raw storage or serialization failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindInternal
}
