package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is the chainable error value used throughout the module.
// Construct with NewError() and build it up with the With* methods;
// every constructor captures a stack trace at the point of creation
// so a dead-lettered job or a failed claim can be traced back to the
// call site that raised it.
type Error struct {
	Code       int
	Message    string
	InnerError error
	Stack      []runtime.Frame
}

const maxStackDepth = 32

// NewError starts a new Error with the stack captured at the caller.
func NewError() *Error {
	return &Error{Stack: captureStack(2)}
}

func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

func (e *Error) WithMessage(message string) *Error {
	e.Message = message
	return e
}

func (e *Error) WithMessagef(format string, args ...interface{}) *Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) WithError(err error) *Error {
	e.InnerError = err
	return e
}

// Error renders "code <n> message <msg>[ error <inner>] stack <trace>".
// The inner-error segment is omitted entirely when InnerError is nil.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "code %d message %s", e.Code, e.Message)
	if e.InnerError != nil {
		fmt.Fprintf(&b, " error %s", e.InnerError.Error())
	}
	fmt.Fprintf(&b, " stack %s", e.GetStackString())
	return b.String()
}

// Unwrap lets errors.Is/errors.As see through to InnerError.
func (e *Error) Unwrap() error {
	return e.InnerError
}

// GetStackString renders one "file:line functionName" per captured
// frame, newline-separated, with the package path stripped from the
// function name.
func (e *Error) GetStackString() string {
	var b strings.Builder
	for _, frame := range e.Stack {
		fmt.Fprintf(&b, "%s:%d %s\n", frame.File, frame.Line, shortFuncName(frame.Function))
	}
	return b.String()
}

func shortFuncName(full string) string {
	if idx := strings.LastIndex(full, "/"); idx >= 0 {
		full = full[idx+1:]
	}
	if idx := strings.Index(full, "."); idx >= 0 {
		return full[idx+1:]
	}
	return full
}

func captureStack(skip int) []runtime.Frame {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(skip+1, pcs)
	if n == 0 {
		return nil
	}
	frames := runtime.CallersFrames(pcs[:n])
	result := make([]runtime.Frame, 0, n)
	for {
		frame, more := frames.Next()
		result = append(result, frame)
		if !more {
			break
		}
	}
	return result
}

// WrapError lifts a stdlib error into an *Error with a code and message.
func WrapError(err error, message string, code int) *Error {
	return (&Error{Stack: captureStack(2)}).WithCode(code).WithMessage(message).WithError(err)
}

// WrapMessage builds an *Error carrying only a code and message, with
// no inner error — used for errors raised directly by this module
// rather than wrapped from a lower layer.
func WrapMessage(message string, code int) *Error {
	return (&Error{Stack: captureStack(2)}).WithCode(code).WithMessage(message)
}

// Is reports whether err (or anything it wraps) is an *Error with the
// given code. Used by callers that need to branch on error kind, e.g.
// the dispatcher distinguishing LeaseLost from a transient store error.
func Is(err error, code int) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Code == code {
				return true
			}
			err = e.InnerError
			continue
		}
		break
	}
	return false
}
