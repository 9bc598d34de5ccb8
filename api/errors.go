// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-listen.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("use of closed descriptor")
	ErrNotSupported    = errors.New("operation not supported")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeSocket
	ErrCodeBind
	ErrCodeListen
	ErrCodeRegister
	ErrCodeNotSupported
	ErrCodeInternal
)

var codeNames = map[ErrorCode]string{
	ErrCodeOK:              "ok",
	ErrCodeInvalidArgument: "invalid argument",
	ErrCodeSocket:          "socket",
	ErrCodeBind:            "bind",
	ErrCodeListen:          "listen",
	ErrCodeRegister:        "register",
	ErrCodeNotSupported:    "not supported",
	ErrCodeInternal:        "internal",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error represents a structured error with code and context.
// Err holds the underlying cause (usually a unix.Errno) and is exposed
// through Unwrap.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by code so that
// errors.Is(err, ErrInvalidArgument) works on structured errors.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidArgument:
		return e.Code == ErrCodeInvalidArgument
	case ErrNotSupported:
		return e.Code == ErrCodeNotSupported
	}
	return false
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapSyscall builds an error for a failed system call.
func WrapSyscall(code ErrorCode, op string, err error) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: code.String() + " failed",
		Err:     err,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
