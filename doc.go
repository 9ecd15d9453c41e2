// Package wrenhost binds host Go code to an embedded Wren scripting engine:
// foreign classes backed by Go types, foreign methods dispatched to Go
// handlers, and host-initiated calls into script code, all across the
// engine's slot-based embedding API.
//
// The module is organized as:
//
//   - vm: the embedding surface. Builder assembles a VM from foreign
//     bindings, module hooks and an engine backend; Context scopes slot
//     access and handle lifetimes; the dispatcher routes foreign calls.
//   - foreign: the per-VM class and method registry, and the borrow-checked
//     cell wrapping every foreign instance.
//   - engine: the boundary interface mirroring the C embedding API, plus
//     enginetest, an in-memory implementation for tests.
//   - errors: structured errors shared by all layers, including compile
//     error and runtime abort consolidation.
//
// The engine performs no bounds, type or alias checking of its own; this
// module's job is making those failure modes impossible to reach, surfacing
// each as a structured error or a script-side fiber abort instead.
package wrenhost
