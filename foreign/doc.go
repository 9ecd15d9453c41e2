// Package foreign holds the per-VM registry of host-defined classes and
// methods, and the borrow-checked cell that wraps each foreign instance.
//
// # Registry
//
// Bindings maps (module, class) keys to class bindings and (module, class,
// signature, static) keys to method bindings. It is filled in during VM
// configuration - duplicate keys fail registration and prevent the VM from
// being built - and is read-only once scripts run. Each VM owns its own
// Bindings; there is no process-wide table.
//
// # Cells
//
// Instances of a foreign class live inside engine-managed storage, but the
// host regains a typed view through a Cell on every call. Scripts can alias
// one instance through several argument slots, so cells enforce the
// shared/exclusive discipline at runtime: Borrow and BorrowMut hand out
// guards or fail immediately with a borrow error, which the dispatcher
// surfaces as a fiber abort. Cells also track liveness, because the engine's
// garbage collector can finalize an instance out from under any retained
// reference; every borrow checks the cell is still live.
//
// # Parameter kinds
//
// Scripts are dynamically typed and give no alias-safety guarantees, so the
// borrow mode of every foreign-typed parameter is declared explicitly with
// ParamKind at registration, never inferred from the handler's Go signature.
// Receivers default to exclusive.
package foreign
