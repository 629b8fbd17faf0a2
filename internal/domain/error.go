package domain

import (
	"errors"
	"fmt"
)

var (
	// Store level errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrLockNotAcquired    = errors.New("lock not acquired")
)

// Code is the status reported to callable clients.
type Code string

const (
	CodeUnauthenticated    Code = "unauthenticated"
	CodeInvalidArgument    Code = "invalid-argument"
	CodeNotFound           Code = "not-found"
	CodePermissionDenied   Code = "permission-denied"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeResourceExhausted  Code = "resource-exhausted"
	CodeInternal           Code = "internal"
)

// Error is a coded error surfaced verbatim to the caller.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels usable with errors.Is; only the code is compared.
var (
	ErrUnauthenticated    = &Error{Code: CodeUnauthenticated, Msg: "sign in required"}
	ErrBadRequest         = &Error{Code: CodeInvalidArgument, Msg: "invalid argument"}
	ErrMissing            = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied, Msg: "permission denied"}
	ErrFailedPrecondition = &Error{Code: CodeFailedPrecondition, Msg: "failed precondition"}
	ErrResourceExhausted  = &Error{Code: CodeResourceExhausted, Msg: "resource exhausted"}
	ErrInternal           = &Error{Code: CodeInternal, Msg: "internal"}
)

func NewError(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure; the cause is kept for logs only.
func Internal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Msg: msg, Err: err}
}

// CodeOf returns the code carried by err, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Msg
	}
	return "internal"
}
