package appmanager

import (
	"errors"
	"fmt"
	"strconv"
)

// Code is a numeric business error code. The values are shared with callers
// written against the platform contract and are kept verbatim.
type Code int32

const (
	CodePermissionDenied  Code = 201
	CodeInvalidParam      Code = 401
	CodeInternal          Code = 16000050
	CodeInvalidCloneIndex Code = 16000073
)

// String returns a short label for the code.
func (c Code) String() string {
	switch c {
	case CodePermissionDenied:
		return "permission denied"
	case CodeInvalidParam:
		return "invalid parameter"
	case CodeInternal:
		return "internal error"
	case CodeInvalidCloneIndex:
		return "invalid app clone index"
	default:
		return "code " + strconv.Itoa(int(c))
	}
}

// ParseCode converts a decimal code string back into a Code.
func ParseCode(s string) (Code, bool) {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	switch c := Code(n); c {
	case CodePermissionDenied, CodeInvalidParam, CodeInternal, CodeInvalidCloneIndex:
		return c, true
	}
	return 0, false
}

// Error is the failure type returned by every Service operation.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return fmt.Sprintf("%s (%d)", msg, int32(e.Code))
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrPermissionDenied  = &Error{Code: CodePermissionDenied}
	ErrInvalidParam      = &Error{Code: CodeInvalidParam}
	ErrInternal          = &Error{Code: CodeInternal}
	ErrInvalidCloneIndex = &Error{Code: CodeInvalidCloneIndex}
)

// NewError builds an *Error for op.
func NewError(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// PermissionDenied reports a missing permission.
func PermissionDenied(op string, perms ...string) *Error {
	return &Error{Code: CodePermissionDenied, Op: op, Message: fmt.Sprintf("permission denied, requires %v", perms)}
}

// InvalidParam reports a parameter verification failure.
func InvalidParam(op, format string, args ...interface{}) *Error {
	return NewError(CodeInvalidParam, op, format, args...)
}

// Internal wraps an unexpected failure of the host service.
func Internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Op: op, Message: "internal error", Err: err}
}

// CodeOf extracts the business code from err. Foreign errors count as internal.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// AsError converts any error into an *Error, wrapping foreign ones as internal.
func AsError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(op, err)
}

// IsBusiness reports whether err is a request-level rejection (permission,
// parameter or clone index) rather than a host failure.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case CodePermissionDenied, CodeInvalidParam, CodeInvalidCloneIndex:
		return true
	}
	return false
}
