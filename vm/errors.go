package vm

import (
	"errors"
	"fmt"
)

var (
	// ErrAborted is returned by every execution entry point after a runtime
	// error until Reset is called.
	ErrAborted = errors.New("vm: aborted, call Reset before running again")

	// ErrNotCallable is returned when the host asks to run a value that has
	// no closure and no exec method.
	ErrNotCallable = errors.New("vm: value is not callable")

	// ErrStackOverflow wraps frame or stack exhaustion errors.
	ErrStackOverflow = errors.New("vm: stack overflow")

	errUnwinding = errors.New("vm: fiber error unwinding")
)

// ErrorKind classifies errors reported to the host.
type ErrorKind int

const (
	ErrorCompile ErrorKind = iota
	ErrorRuntime
	ErrorIO
	ErrorWarning
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorCompile:
		return "compile"
	case ErrorRuntime:
		return "runtime"
	case ErrorIO:
		return "io"
	case ErrorWarning:
		return "warning"
	}
	return "unknown"
}

// RuntimeError describes an error that aborted execution.
type RuntimeError struct {
	Kind     ErrorKind
	Message  string
	Line     uint32
	Function string

	wrapped error
}

func (e *RuntimeError) Error() string {
	if e.Function != "" && e.Line > 0 {
		return fmt.Sprintf("%s error: %s (%s:%d)", e.Kind, e.Message, e.Function, e.Line)
	}
	if e.Function != "" {
		return fmt.Sprintf("%s error: %s (in %s)", e.Kind, e.Message, e.Function)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() error { return e.wrapped }
