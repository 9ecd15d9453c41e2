// Package engine defines the embedding API surface of the wrapped Wren
// virtual machine.
//
// The engine itself - bytecode compiler, garbage collector, interpreter
// loop - is an external collaborator. This package pins down exactly what
// the binding layer consumes from it: the API interface mirrors the C
// embedding header call for call (slot accessors, handle management,
// foreign class and method binding callbacks, fiber abort), and Config
// carries the host callbacks handed over at engine creation.
//
// Two implementations exist:
//
//   - a cgo adapter over the real C engine, which lives out of tree so the
//     core module builds without a C toolchain
//   - enginetest.Engine, an in-memory implementation of the same contract
//     used by the test suites of the vm and foreign packages
//
// # Contract notes
//
// The engine does not bounds-check slot indices and does not type-check
// slot reads; both are the caller's responsibility. The vm package is the
// only caller and verifies both before every access.
//
// Handles are reference-counted engine-side. Every Handle obtained from
// GetHandle or MakeCallHandle must be passed to ReleaseHandle exactly once,
// and all handles must be released before Close. Violations are undefined
// behavior in the real engine, which is why the vm package tracks handle
// lifetimes itself and refuses to close while any promoted handle is live.
package engine
