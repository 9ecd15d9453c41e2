// Package vm is the embedding surface: it owns one engine instance and
// mediates every crossing between host code and scripts.
//
// # Building
//
// A VM is assembled with a Builder: foreign classes and methods are declared
// per module, module import hooks and the write function are attached, and
// an engine backend factory is chosen. Build validates the whole
// configuration at once - duplicate registrations, malformed handler
// signatures, undeclared borrow kinds - before any script runs.
//
// # Scopes and handles
//
// All slot access happens inside a Context scope, opened by VM.Context for
// host-initiated work and by the dispatcher for each foreign callback.
// Handles acquired in a scope are released when it ends, newest first; a
// handle that must survive is promoted to an OwnedHandle, which the VM
// tracks and refuses to close under. CallRef and CallHandle package a
// receiver with a compiled call signature for host-to-script calls.
//
// # Marshalling
//
// Slot reads verify bounds and type tags before touching the engine, which
// itself checks nothing. Typed accessors cover booleans, numbers, strings,
// lists and foreign instances; Get and Set translate generically, with
// values the host has no representation for carried behind handles. Writing
// a pointer whose type is registered as a foreign class transfers the value
// to the engine under that class.
//
// # Dispatch
//
// Foreign methods are resolved against the registry once at bind time and
// invoked by reflection. Each call runs in a nested scope: arguments are
// checked against the declared arity and parameter kinds, the receiver and
// foreign-typed arguments are borrowed through their cells, and every
// failure - type mismatch, arity error, borrow conflict, handler error,
// handler panic - aborts the current fiber with the message script-side
// while the full error returns to the host as the abort's cause. Borrows
// never outlive the call.
package vm
