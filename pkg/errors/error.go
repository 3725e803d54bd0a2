package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is a coded failure carried from repositories and services up to the
// HTTP layer or a bus handler.
type Error struct {
	Code    ErrorCode              // Error code
	Message string                 // Overrides the code's default message when set
	Details map[string]interface{} // Extra context rendered to the client
	Err     error                  // Cause
	Stack   string                 // Call site frames, for server errors
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind is the failure class of the error's code.
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

func build(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     cause,
		Stack:   callers(),
	}
}

// New creates an Error with the code's default message.
func New(code ErrorCode) *Error {
	return build(code, code.Message(), nil)
}

// Newf creates an Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return build(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err. An error that already carries a domain code is
// returned as is; only an InternalServerError is re-coded.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e := asError(err); e != nil && e.Code != InternalServerError {
		return e
	}
	return build(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err, replacing any code err
// already carries.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return build(code, fmt.Sprintf(format, args...), err)
}

func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func asError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// GetCode returns the code carried anywhere in err's chain. Uncoded errors
// are InternalServerError; nil is Success.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	if e := asError(err); e != nil {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the coded error in err's chain, wrapping an uncoded one as
// InternalServerError.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	if e := asError(err); e != nil {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	e := asError(err)
	return e != nil && e.Code == code
}

const stackDepth = 10

// callers records the frames above the constructor that built the error,
// skipping this package and the runtime.
func callers() string {
	var pcs [stackDepth + 8]uintptr
	n := runtime.Callers(1, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	written := 0
	for written < stackDepth {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "runtime.") && !strings.Contains(frame.Function, "/pkg/errors.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
			written++
		}
		if !more {
			break
		}
	}
	return b.String()
}

// BadRequest rejects malformed input with a specific message.
func BadRequest(msg string) *Error {
	return New(InvalidParams).WithMessage(msg)
}

// UnauthorizedError rejects a caller; an empty msg keeps the default text.
func UnauthorizedError(msg string) *Error {
	e := New(Unauthorized)
	if msg != "" {
		e.Message = msg
	}
	return e
}

// ValidationError names the field that failed validation.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

// InsufficientCreditsError reports the balance and the cost it falls short of.
func InsufficientCreditsError(credits, cost int64) *Error {
	return New(InsufficientCredits).
		WithDetail("credits", credits).
		WithDetail("cost", cost)
}
