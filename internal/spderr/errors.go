// Package spderr implements a structured error type and error-kind
// taxonomy (Op/Code/Errno/Msg/Inner, Unwrap, Is) for this domain.
package spderr

import (
	"errors"
	"fmt"
	"syscall"
)

// Code is the closed set of error kinds this package returns.
type Code string

const (
	CodeInvalidParameter   Code = "invalid-parameter"
	CodeObjectNameNotFound Code = "object-name-not-found"
	CodeAlreadyExists      Code = "already-exists"
	CodeCannotMake         Code = "cannot-make"
	CodeAccessDenied       Code = "access-denied"
	CodeCancelled          Code = "cancelled"
	CodeTransport          Code = "transport"
	CodeMedium             Code = "medium"
	CodeIOError            Code = "io-error"
)

// Error is the structured error returned across package boundaries in
// this module.
type Error struct {
	Op    string
	Code  Code
	Errno syscall.Errno
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Msg, e.Code, e.Inner)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is an *Error with the same Code, so callers
// can write errors.Is(err, spderr.New(spderr.CodeAccessDenied, "", "")).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New builds an *Error carrying a Code, without a wrapped cause.
func New(code Code, op, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// Wrap builds an *Error carrying a Code and a wrapped cause.
func Wrap(code Code, op, msg string, inner error) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Inner: inner}
}

// WrapErrno builds an *Error from a syscall.Errno, mapping it to a Code
// via MapErrno.
func WrapErrno(op, msg string, errno syscall.Errno) *Error {
	return &Error{Op: op, Code: MapErrno(errno), Errno: errno, Msg: msg, Inner: errno}
}

// MapErrno maps a syscall errno to the closest error kind.
func MapErrno(errno syscall.Errno) Code {
	switch errno {
	case syscall.ENOENT:
		return CodeObjectNameNotFound
	case syscall.EEXIST:
		return CodeAlreadyExists
	case syscall.EBUSY, syscall.ENOSPC:
		return CodeCannotMake
	case syscall.EINVAL, syscall.E2BIG:
		return CodeInvalidParameter
	case syscall.EPERM, syscall.EACCES:
		return CodeAccessDenied
	case syscall.ECANCELED, syscall.EINTR:
		return CodeCancelled
	case syscall.EPIPE, syscall.ECONNRESET:
		return CodeTransport
	default:
		return CodeIOError
	}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
