package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseConfigure Phase = "configure" // builder and registry setup
	PhaseInterpret Phase = "interpret" // script source execution
	PhaseCall      Phase = "call"      // host-initiated method call
	PhaseMarshal   Phase = "marshal"   // slot reads and writes
	PhaseDispatch  Phase = "dispatch"  // foreign method dispatch
	PhaseTeardown  Phase = "teardown"  // VM shutdown
)

// Kind categorizes the error
type Kind string

const (
	KindTypeMismatch Kind = "type_mismatch"
	KindOutOfRange   Kind = "out_of_range"
	KindArity        Kind = "arity_mismatch"
	KindBorrow       Kind = "borrow"
	KindRegistration Kind = "registration_conflict"
	KindLifecycle    Kind = "lifecycle"
	KindNotFound     Kind = "not_found"
	KindForeignType  Kind = "foreign_type"
	KindInvalidInput Kind = "invalid_input"
	KindNullHandle   Kind = "null_handle"
	KindFinalized    Kind = "finalized"
)

// Error is the structured error type used throughout the binding layer.
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Slot     int
	Expected string
	Actual   string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Expected != "" || e.Actual != "" {
		b.WriteString(": expected ")
		b.WriteString(e.Expected)
		b.WriteString(", got ")
		b.WriteString(e.Actual)
	}

	if e.Detail != "" {
		if e.Expected != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Slot sets the offending slot index
func (b *Builder) Slot(slot int) *Builder {
	b.err.Slot = slot
	return b
}

// Expected sets the expected type name
func (b *Builder) Expected(t string) *Builder {
	b.err.Expected = t
	return b
}

// Actual sets the actual type name
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// TypeMismatch creates an error for a slot read whose engine-reported type
// disagrees with the expected type.
func TypeMismatch(phase Phase, slot int, expected, actual string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindTypeMismatch,
		Slot:     slot,
		Expected: expected,
		Actual:   actual,
		Detail:   fmt.Sprintf("slot %d", slot),
	}
}

// OutOfRange creates an error for a slot index beyond the call's slot count.
func OutOfRange(phase Phase, slot, count int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfRange,
		Slot:   slot,
		Detail: fmt.Sprintf("slot %d out of range (count %d)", slot, count),
		Value:  slot,
	}
}

// ArityMismatch creates an error for a call whose argument count disagrees
// with the registered signature.
func ArityMismatch(signature string, want, got int) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindArity,
		Detail: fmt.Sprintf("%s takes %d argument(s), got %d", signature, want, got),
	}
}

// Borrow creates an aliasing violation error on a foreign object cell.
func Borrow(class, detail string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindBorrow,
		Detail: fmt.Sprintf("%s already borrowed: %s", class, detail),
	}
}

// RegistrationConflict creates a duplicate registry key error.
func RegistrationConflict(module, class, signature string) *Error {
	detail := fmt.Sprintf("%s.%s already registered", module, class)
	if signature != "" {
		detail = fmt.Sprintf("%s.%s %s already registered", module, class, signature)
	}
	return &Error{
		Phase:  PhaseConfigure,
		Kind:   KindRegistration,
		Detail: detail,
	}
}

// Lifecycle creates a handle or VM lifetime violation error.
func Lifecycle(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLifecycle,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// ForeignType creates an error for a foreign slot holding a cell of an
// unexpected host type.
func ForeignType(slot int, expected, actual string) *Error {
	return &Error{
		Phase:    PhaseMarshal,
		Kind:     KindForeignType,
		Slot:     slot,
		Expected: expected,
		Actual:   actual,
		Detail:   fmt.Sprintf("slot %d", slot),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// NullHandle creates an error for an engine call that unexpectedly produced
// an invalid handle.
func NullHandle(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNullHandle,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Finalized creates an error for access to a foreign cell whose storage was
// collected by the engine.
func Finalized(class string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindFinalized,
		Detail: fmt.Sprintf("%s instance was finalized by the garbage collector", class),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: fmt.Sprintf(detail, args...),
		Cause:  cause,
	}
}
