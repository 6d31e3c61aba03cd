package storage

import (
	"fmt"

	"emperror.dev/errors"

	"github.com/pterodactyl/originfs/internal/ufs"
)

// ErrorCode classifies every failure that crosses a package boundary. The
// string value doubles as the class name a worker reports over the wire.
type ErrorCode string

const (
	ErrCodeInvalidPath        ErrorCode = "InvalidPathError"
	ErrCodeNotFound           ErrorCode = "NotFoundError"
	ErrCodeKindMismatch       ErrorCode = "KindMismatchError"
	ErrCodeHandleRegistration ErrorCode = "HandleRegistrationError"
	ErrCodeHandleClosed       ErrorCode = "HandleClosedError"
	ErrCodeTransport          ErrorCode = "TransportError"
	ErrCodeIO                 ErrorCode = "IOError"
)

var knownCodes = map[ErrorCode]struct{}{
	ErrCodeInvalidPath:        {},
	ErrCodeNotFound:           {},
	ErrCodeKindMismatch:       {},
	ErrCodeHandleRegistration: {},
	ErrCodeHandleClosed:       {},
	ErrCodeTransport:          {},
	ErrCodeIO:                 {},
}

// ParseErrorCode returns the ErrorCode matching a reported class name. The
// second return value is false for anything this package does not know.
func ParseErrorCode(class string) (ErrorCode, bool) {
	code := ErrorCode(class)
	_, ok := knownCodes[code]
	return code, ok
}

type Error struct {
	code ErrorCode
	// The verb that was being performed when the error happened, if any.
	verb string
	// The path the error applies to.
	path string
	err  error
}

// NewError returns a new storage error with a stack trace attached.
func NewError(code ErrorCode, verb, path string, err error) error {
	return errors.WithStackDepth(&Error{code: code, verb: verb, path: path, err: err}, 1)
}

// NewErrorf is like NewError but builds the cause from a format string.
func NewErrorf(code ErrorCode, verb, path string, format string, args ...any) error {
	return errors.WithStackDepth(&Error{code: code, verb: verb, path: path, err: fmt.Errorf(format, args...)}, 1)
}

// Code returns the ErrorCode for this specific error instance.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Path returns the path the error applies to.
func (e *Error) Path() string {
	return e.path
}

// Verb returns the verb that failed, or an empty string.
func (e *Error) Verb() string {
	return e.verb
}

// Message returns the cause of the error without the code, verb and path
// prefix.
func (e *Error) Message() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// Error returns a human-readable error string to identify the Error by.
func (e *Error) Error() string {
	s := "storage: "
	if e.verb != "" {
		s += e.verb + " "
	}
	if e.path != "" {
		s += e.path + ": "
	}
	s += string(e.code)
	if e.err != nil {
		s += ": " + e.err.Error()
	}
	return s
}

// Unwrap returns the underlying cause of this error, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// IsErrorCode checks if "err" is a storage Error type. If so, it will then
// drop in and check that the error code is the same as the provided
// ErrorCode passed in "code".
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var serr *Error
	if errors.As(err, &serr) {
		return serr.code == code
	}
	return false
}

// Code returns the ErrorCode of err, or an empty string if err is not a
// storage error.
func Code(err error) ErrorCode {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.code
	}
	return ""
}

// FromError maps err into the storage taxonomy. Errors that are already
// storage errors are returned untouched so their stack is preserved.
func FromError(verb, path string, err error) error {
	if err == nil {
		return nil
	}
	var serr *Error
	if errors.As(err, &serr) {
		return err
	}
	var code ErrorCode
	switch {
	case errors.Is(err, ufs.ErrNotExist):
		code = ErrCodeNotFound
	case errors.Is(err, ufs.ErrBadPathResolution), errors.Is(err, ufs.ErrInvalid):
		code = ErrCodeInvalidPath
	case errors.Is(err, ufs.ErrIsDirectory), errors.Is(err, ufs.ErrNotDirectory), errors.Is(err, ufs.ErrExist):
		code = ErrCodeKindMismatch
	case errors.Is(err, ufs.ErrLocked):
		code = ErrCodeHandleRegistration
	case errors.Is(err, ufs.ErrClosed):
		code = ErrCodeHandleClosed
	default:
		code = ErrCodeIO
	}
	return errors.WithStackDepth(&Error{code: code, verb: verb, path: path, err: err}, 1)
}
