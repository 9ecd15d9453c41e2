package engine

// ForeignMethodFn is the callback the engine invokes when a script calls a
// foreign method. Arguments are in slots 1 and up, the receiver (or class,
// for static methods) in slot 0. The callback leaves its return value in
// slot 0 before returning. It must not panic across the engine boundary.
type ForeignMethodFn func(e API)

// ForeignClassMethods holds the two callbacks backing one foreign class.
// Allocate runs when a script instantiates the class: constructor arguments
// are in slots 1 and up, the class object in slot 0, and the callback stores
// host storage with SetNewForeign(0, 0, payload). Finalize runs when the
// engine's garbage collector reclaims an instance, receiving the payload
// passed to SetNewForeign; it must not call back into the engine.
type ForeignClassMethods struct {
	Allocate ForeignMethodFn
	Finalize func(payload any)
}

// Config carries the host callbacks handed to the engine at creation.
// The engine keeps its own copy.
type Config struct {
	// BindForeignMethod is consulted once per foreign method declaration.
	// Returning nil leaves the method unbound; calling it later is a
	// runtime error in the fiber.
	BindForeignMethod func(module, class string, static bool, signature string) ForeignMethodFn

	// BindForeignClass is consulted once per foreign class declaration.
	BindForeignClass func(module, class string) ForeignClassMethods

	// Write backs the script's System.print output.
	Write func(text string)

	// Error receives compile errors, runtime errors and stack trace frames.
	Error func(d Diagnostic)

	// ResolveModule maps an import name to its canonical module name.
	// Returning false aborts the importing fiber.
	ResolveModule func(importer, name string) (resolved string, ok bool)

	// LoadModule supplies source for an imported module.
	// Returning false aborts the importing fiber.
	LoadModule func(name string) (source string, ok bool)
}

// API is the embedding surface of the wrapped engine. It mirrors the C
// embedding API one call per method: a fixed-capacity slot array for value
// passing, reference-counted handles for values that outlive a call, and
// foreign object storage governed by the engine's garbage collector.
//
// The engine performs no bounds or type checking on slot access; callers are
// expected to have verified both. That contract is enforced one layer up by
// the vm package, never here.
//
// Implementations are not safe for concurrent use. The vm package serializes
// all access to a given engine.
type API interface {
	// Interpret compiles and runs source in the named module.
	Interpret(module, source string) Result

	// Call invokes the method behind a call handle. Slot 0 holds the
	// receiver, slots 1..arity the arguments. On success the result is
	// left in slot 0.
	Call(fn Handle) Result

	// EnsureSlots grows the slot array to at least n slots.
	EnsureSlots(n int)
	// SlotCount reports the number of currently valid slots.
	SlotCount() int
	// SlotType reports the type tag of the value in a slot.
	SlotType(slot int) Type

	GetBool(slot int) bool
	GetDouble(slot int) float64
	// GetString returns a copy of the string in a slot. The engine does
	// not guarantee string lifetime beyond the current call.
	GetString(slot int) string
	// GetForeign returns the host payload stored in a foreign object slot.
	GetForeign(slot int) any
	// GetHandle creates a new handle to the value in a slot.
	GetHandle(slot int) Handle

	SetBool(slot int, v bool)
	SetDouble(slot int, v float64)
	SetString(slot int, v string)
	SetNull(slot int)
	// SetHandle stores the value behind a handle into a slot.
	SetHandle(slot int, h Handle)

	// SetNewList stores a new empty list into a slot.
	SetNewList(slot int)
	GetListCount(listSlot int) int
	GetListElement(listSlot, index, elemSlot int)
	SetListElement(listSlot, index, elemSlot int)
	// InsertInList inserts the element at index, where -1 appends.
	InsertInList(listSlot, index, elemSlot int)

	// SetNewForeign creates a foreign object of the class in classSlot,
	// attaches the host payload, and stores the object into slot.
	SetNewForeign(slot, classSlot int, payload any)

	// MakeCallHandle compiles a method signature into a call handle.
	MakeCallHandle(signature string) Handle
	// ReleaseHandle releases a handle. Each handle must be released
	// exactly once; all handles must be released before Close.
	ReleaseHandle(h Handle)

	HasModule(module string) bool
	HasVariable(module, name string) bool
	// GetVariable stores a top-level module variable into a slot. The
	// module and variable must exist; the engine does not report failure.
	GetVariable(module, name string, slot int)

	// AbortFiber aborts the current fiber using the value in slot as the
	// error object.
	AbortFiber(slot int)

	// CollectGarbage triggers an immediate garbage collection pass.
	CollectGarbage()

	// Close frees the engine. Behavior is undefined if handles are still
	// outstanding; the vm package checks before calling.
	Close() error
}

// Factory creates a fresh engine configured with the given callbacks. The vm
// builder uses it so backends stay pluggable: a cgo-backed Wren engine and
// the in-memory enginetest engine both satisfy it.
type Factory func(cfg Config) (API, error)
