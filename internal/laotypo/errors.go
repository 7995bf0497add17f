package laotypo

import (
	"errors"
	"fmt"
)

// ErrorKind is the stable, caller-visible classification of a failure.
type ErrorKind string

const (
	KindUnauthenticated   ErrorKind = "unauthenticated"
	KindInvalidArgument   ErrorKind = "invalid-argument"
	KindNotFound          ErrorKind = "not-found"
	KindResourceExhausted ErrorKind = "resource-exhausted"
	KindPermissionDenied  ErrorKind = "permission-denied"
	KindInternal          ErrorKind = "internal"
)

// Error carries a kind and a human-readable message. Err, when set, is the
// underlying cause and is never shown to callers.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the Err* sentinels below can be
// used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated, Msg: "authentication required"}
	ErrInvalidArgument   = &Error{Kind: KindInvalidArgument, Msg: "invalid argument"}
	ErrNotFound          = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrResourceExhausted = &Error{Kind: KindResourceExhausted, Msg: "resource exhausted"}
	ErrPermissionDenied  = &Error{Kind: KindPermissionDenied, Msg: "permission denied"}
	ErrInternal          = &Error{Kind: KindInternal, Msg: "internal error"}
)

func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps a store or runtime failure. The message stays generic.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf returns the kind of err, treating unclassified errors as internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ErrInternal.Msg
}
