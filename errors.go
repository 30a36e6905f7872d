package spd

import (
	"syscall"

	"github.com/spd-project/go-spd/internal/spderr"
)

// Error is the structured error type returned across this package's public
// API, an alias of internal/spderr.Error so callers outside this module
// tree never need to import an internal package to use errors.As on it.
type Error = spderr.Error

// ErrorCode is the closed set of error kinds this module returns.
type ErrorCode = spderr.Code

const (
	ErrCodeInvalidParameter   = spderr.CodeInvalidParameter
	ErrCodeObjectNameNotFound = spderr.CodeObjectNameNotFound
	ErrCodeAlreadyExists      = spderr.CodeAlreadyExists
	ErrCodeCannotMake         = spderr.CodeCannotMake
	ErrCodeAccessDenied       = spderr.CodeAccessDenied
	ErrCodeCancelled          = spderr.CodeCancelled
	ErrCodeTransport          = spderr.CodeTransport
	ErrCodeMedium             = spderr.CodeMedium
	ErrCodeIOError            = spderr.CodeIOError
)

// Sentinel errors for the handful of conditions callers commonly compare
// against directly rather than through IsCode.
var (
	ErrInvalidParameters = spderr.New(spderr.CodeInvalidParameter, "", "invalid parameters")
	ErrUnitNotFound      = spderr.New(spderr.CodeObjectNameNotFound, "", "no such unit")
)

// NewError creates a new structured error.
func NewError(op string, code ErrorCode, msg string) *Error {
	return spderr.New(code, op, msg)
}

// NewErrorWithErrno creates a new structured error carrying a syscall errno.
func NewErrorWithErrno(op string, errno syscall.Errno) *Error {
	return spderr.WrapErrno(op, errno.Error(), errno)
}

// WrapError wraps an existing error with the given operation name, mapping
// syscall errnos to their closest ErrorCode via spderr.MapErrno.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	if e, ok := inner.(*Error); ok {
		return spderr.Wrap(e.Code, op, e.Msg, e.Inner)
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return spderr.WrapErrno(op, errno.Error(), errno)
	}
	return spderr.Wrap(spderr.CodeIOError, op, inner.Error(), inner)
}

// IsCode reports whether err is a *Error carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	return spderr.Is(err, code)
}
