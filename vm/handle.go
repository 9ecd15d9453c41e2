package vm

import (
	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
)

// Handle keeps a VM value alive for the duration of its context scope. It is
// acquired through Context.GetHandle or Context.Variable and released
// automatically when the scope ends; after that every use fails with a
// lifecycle violation. Promote converts it into an OwnedHandle when the
// value must outlive the scope.
type Handle struct {
	ctx      *Context
	raw      engine.Handle
	released bool
}

func (h *Handle) valid() error {
	if h == nil {
		return errors.NullHandle(errors.PhaseCall, "nil handle")
	}
	if h.released || !h.ctx.active {
		return errors.Lifecycle(errors.PhaseCall, "handle used after its scope ended")
	}
	return nil
}

// Promote detaches the handle from its scope and transfers release
// responsibility to the caller. The scope's automatic release skips it; the
// VM refuses to close while the owned handle is outstanding.
func (h *Handle) Promote() (*OwnedHandle, error) {
	if err := h.valid(); err != nil {
		return nil, err
	}

	h.released = true
	vm := h.ctx.vm
	if vm.promoted == nil {
		vm.promoted = make(map[engine.Handle]struct{})
	}
	vm.promoted[h.raw] = struct{}{}
	return &OwnedHandle{vm: vm, raw: h.raw}, nil
}

// OwnedHandle is a handle promoted out of its scope. The holder must call
// Release exactly once before the VM is closed.
type OwnedHandle struct {
	vm       *VM
	raw      engine.Handle
	released bool
}

// Release returns the handle to the engine. It locks the VM, so it must not
// be called from inside a Context closure or a foreign method handler; use
// Context.ReleaseOwned there. Releasing twice fails.
func (o *OwnedHandle) Release() error {
	o.vm.mu.Lock()
	defer o.vm.mu.Unlock()
	return o.release()
}

// ReleaseOwned releases a promoted handle from inside an open scope.
func (c *Context) ReleaseOwned(o *OwnedHandle) error {
	if err := c.valid(); err != nil {
		return err
	}
	if o.vm != c.vm {
		return errors.InvalidInput(errors.PhaseCall, "handle belongs to a different VM")
	}
	return o.release()
}

func (o *OwnedHandle) release() error {
	if o.released {
		return errors.Lifecycle(errors.PhaseCall, "owned handle released twice")
	}
	if o.vm.closed {
		return errors.Lifecycle(errors.PhaseTeardown, "owned handle released after VM close")
	}
	o.released = true
	delete(o.vm.promoted, o.raw)
	o.vm.eng.ReleaseHandle(o.raw)
	return nil
}

// Bind re-attaches an owned handle to an open scope so its value can be
// placed into slots. The handle stays owned; the returned scoped view goes
// inert with the scope.
func (c *Context) Bind(o *OwnedHandle) (*Handle, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if o.released {
		return nil, errors.Lifecycle(errors.PhaseCall, "owned handle already released")
	}
	if o.vm != c.vm {
		return nil, errors.InvalidInput(errors.PhaseCall, "handle belongs to a different VM")
	}
	// Not appended to the scope list: release stays with the owner.
	return &Handle{ctx: c, raw: o.raw}, nil
}
