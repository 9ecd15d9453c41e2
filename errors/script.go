package errors

import (
	"fmt"
	"strings"
)

// CompileDiagnostic is a single compiler message reported by the engine.
// The engine's compiler keeps going after a syntax error, so one interpret
// can produce several of these.
type CompileDiagnostic struct {
	Module  string
	Message string
	Line    int
}

// CompileError is returned when script source fails to compile.
// Messages are surfaced verbatim from the engine.
type CompileError struct {
	Diagnostics []CompileDiagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "[interpret] compile error"
	}

	var b strings.Builder
	for _, d := range e.Diagnostics {
		fmt.Fprintf(&b, "[%s line %d] [Error] %s\n", d.Module, d.Line, d.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *CompileError) Is(target error) bool {
	_, ok := target.(*CompileError)
	return ok
}

// StackFrame is one frame of the fiber's stack trace at the point a runtime
// error aborted it.
type StackFrame struct {
	Module   string
	Function string
	Line     int
	Foreign  bool
}

// RuntimeAbort is returned when the current fiber was terminated by a
// runtime error: either raised by the script itself or triggered by a host
// handler failing inside a foreign method. The VM remains usable.
type RuntimeAbort struct {
	// Message is the engine's runtime error message.
	Message string
	// Stack holds the fiber's stack trace, outermost frame last.
	Stack []StackFrame
	// Cause carries the host error when the abort originated in a foreign
	// method handler, nil otherwise.
	Cause error
}

func (e *RuntimeAbort) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Runtime Error] %s", e.Message)

	for _, frame := range e.Stack {
		marker := ""
		if frame.Foreign {
			marker = "*"
		}
		fmt.Fprintf(&b, "\n[%s%s line %d] [Error] in %s", marker, frame.Module, frame.Line, frame.Function)
	}
	return b.String()
}

// Unwrap returns the host error that triggered the abort, if any.
func (e *RuntimeAbort) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error type
func (e *RuntimeAbort) Is(target error) bool {
	_, ok := target.(*RuntimeAbort)
	return ok
}
