// Package errors provides structured error types for the wrenhost library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes the offending slot index, expected and
// actual type names, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Slot(2).
//		Expected("Number").
//		Actual("String").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseMarshal, 2, "Number", "String")
//	err := errors.OutOfRange(errors.PhaseMarshal, 10, 5)
//
// Script failures have their own rich types: CompileError carries every
// diagnostic the engine's compiler reported, and RuntimeAbort carries the
// fiber's error message and stack trace. Both are built by the vm package
// from diagnostics collected through the engine's error callback.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
