package vm

import (
	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
)

// Context is one scope during which the engine's slot array may be touched.
// Top-level scopes come from VM.Context; nested scopes are opened for each
// foreign callback while the engine is running. All slot access and handle
// acquisition goes through a context, so nothing can reach the slot array
// after the engine has moved on.
//
// A context must not be retained past its closure; every operation on an
// ended scope fails with a lifecycle violation rather than touching freed
// engine state.
type Context struct {
	vm     *VM
	eng    engine.API
	scope  []*Handle
	active bool
}

// close ends the scope: handles acquired in it are released back to the
// engine in reverse order of acquisition, and the context goes inert.
func (c *Context) close() {
	for i := len(c.scope) - 1; i >= 0; i-- {
		h := c.scope[i]
		if h.released {
			continue
		}
		h.released = true
		c.eng.ReleaseHandle(h.raw)
	}
	c.scope = nil
	c.active = false
}

func (c *Context) valid() error {
	if !c.active {
		return errors.Lifecycle(errors.PhaseCall, "context used after its scope ended")
	}
	return nil
}

// newHandle wraps a raw engine handle and registers it for release at scope
// exit.
func (c *Context) newHandle(raw engine.Handle) *Handle {
	h := &Handle{ctx: c, raw: raw}
	c.scope = append(c.scope, h)
	return h
}

// EnsureSlots grows the slot array to hold at least n slots. Existing slot
// contents are preserved.
func (c *Context) EnsureSlots(n int) {
	if c.active {
		c.eng.EnsureSlots(n)
	}
}

// SlotCount reports the current slot array size.
func (c *Context) SlotCount() int {
	if !c.active {
		return 0
	}
	return c.eng.SlotCount()
}

// SlotType reports the type tag of a slot.
func (c *Context) SlotType(slot int) (engine.Type, error) {
	if err := c.checkSlot(slot); err != nil {
		return engine.TypeUnknown, err
	}
	return c.eng.SlotType(slot), nil
}

// HasModule reports whether a module has been loaded into the VM.
func (c *Context) HasModule(module string) bool {
	return c.active && c.eng.HasModule(module)
}

// HasVariable reports whether a top-level variable exists in a loaded
// module.
func (c *Context) HasVariable(module, name string) bool {
	return c.active && c.eng.HasModule(module) && c.eng.HasVariable(module, name)
}

// Variable looks up a top-level module variable and returns a handle to its
// value. The handle lives until the scope ends or it is promoted.
func (c *Context) Variable(module, name string) (*Handle, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if !c.eng.HasModule(module) {
		return nil, errors.NotFound(errors.PhaseCall, "module %q is not loaded", module)
	}
	if !c.eng.HasVariable(module, name) {
		return nil, errors.NotFound(errors.PhaseCall, "no variable %q in module %q", name, module)
	}

	c.eng.EnsureSlots(1)
	c.eng.GetVariable(module, name, 0)
	raw := c.eng.GetHandle(0)
	if raw == 0 {
		return nil, errors.NullHandle(errors.PhaseCall, "engine returned no handle for %s.%s", module, name)
	}
	return c.newHandle(raw), nil
}

// CollectGarbage asks the engine to run a collection cycle immediately.
// Finalizers of unreachable foreign instances run before it returns.
func (c *Context) CollectGarbage() {
	if c.active {
		c.eng.CollectGarbage()
	}
}

// checkSlot validates the scope and that slot is inside the current array.
func (c *Context) checkSlot(slot int) error {
	if err := c.valid(); err != nil {
		return err
	}
	if n := c.eng.SlotCount(); slot < 0 || slot >= n {
		return errors.OutOfRange(errors.PhaseMarshal, slot, n)
	}
	return nil
}

// verify validates the scope, the slot bounds and the slot's type tag. Every
// typed read goes through here so an unexpected value surfaces as a
// type-mismatch error instead of a misread.
func (c *Context) verify(slot int, want engine.Type) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	if got := c.eng.SlotType(slot); got != want {
		return errors.TypeMismatch(errors.PhaseMarshal, slot, want.String(), got.String())
	}
	return nil
}
