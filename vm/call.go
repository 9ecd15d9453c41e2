package vm

import (
	"go.uber.org/multierr"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
)

// CallRef pairs a receiver with a compiled call signature, ready to invoke.
// It is scoped: both underlying handles die with the context that made it.
// Promote it into a CallHandle to keep a callable alive across scopes.
type CallRef struct {
	recv      *Handle
	fn        *Handle
	signature string
}

// MakeCallRef looks up a top-level variable as the receiver and compiles a
// call handle for signature against it, e.g.
// MakeCallRef("main", "engine", "update(_)").
func (c *Context) MakeCallRef(module, variable, signature string) (*CallRef, error) {
	recv, err := c.Variable(module, variable)
	if err != nil {
		return nil, err
	}
	fn, err := c.MakeCallable(signature)
	if err != nil {
		return nil, err
	}
	return &CallRef{recv: recv, fn: fn, signature: signature}, nil
}

// MakeCallable compiles a bare call signature into a scoped handle. Combined
// with any receiver handle it forms a callable; MakeCallRef is the common
// packaging.
func (c *Context) MakeCallable(signature string) (*Handle, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if signature == "" {
		return nil, errors.InvalidInput(errors.PhaseCall, "empty call signature")
	}
	raw := c.eng.MakeCallHandle(signature)
	if raw == 0 {
		return nil, errors.NullHandle(errors.PhaseCall, "engine rejected call signature %q", signature)
	}
	return c.newHandle(raw), nil
}

// Call invokes the referenced method with args marshalled into argument
// slots. The return value lands in slot 0 and is decoded generically. A
// runtime failure, including a fiber abort raised by a nested foreign
// method, comes back as *errors.RuntimeAbort; the VM survives it.
func (r *CallRef) Call(ctx *Context, args ...any) (any, error) {
	if err := r.recv.valid(); err != nil {
		return nil, err
	}
	if err := r.fn.valid(); err != nil {
		return nil, err
	}
	return ctx.call(r.recv.raw, r.fn.raw, r.signature, args)
}

// Signature returns the compiled call signature.
func (r *CallRef) Signature() string {
	return r.signature
}

// Promote detaches both underlying handles from the scope, producing a
// CallHandle the caller owns and must release.
func (r *CallRef) Promote() (*CallHandle, error) {
	recv, err := r.recv.Promote()
	if err != nil {
		return nil, err
	}
	fn, err := r.fn.Promote()
	if err != nil {
		// Roll back so Close is not blocked by a half-promoted pair.
		rerr := recv.release()
		return nil, multierr.Append(err, rerr)
	}
	return &CallHandle{recv: recv, fn: fn, signature: r.signature}, nil
}

// CallHandle is a promoted CallRef: a callable that survives across scopes
// until Release.
type CallHandle struct {
	recv      *OwnedHandle
	fn        *OwnedHandle
	signature string
}

// Call invokes the callable inside an open scope.
func (h *CallHandle) Call(ctx *Context, args ...any) (any, error) {
	if err := ctx.valid(); err != nil {
		return nil, err
	}
	if h.recv.released || h.fn.released {
		return nil, errors.Lifecycle(errors.PhaseCall, "call handle already released")
	}
	if h.recv.vm != ctx.vm {
		return nil, errors.InvalidInput(errors.PhaseCall, "call handle belongs to a different VM")
	}
	return ctx.call(h.recv.raw, h.fn.raw, h.signature, args)
}

// Signature returns the compiled call signature.
func (h *CallHandle) Signature() string {
	return h.signature
}

// Release frees both underlying handles. Must not be called from inside a
// Context closure; use ReleaseIn there.
func (h *CallHandle) Release() error {
	h.recv.vm.mu.Lock()
	defer h.recv.vm.mu.Unlock()
	return multierr.Append(h.recv.release(), h.fn.release())
}

// ReleaseIn frees both underlying handles from inside an open scope.
func (h *CallHandle) ReleaseIn(ctx *Context) error {
	return multierr.Append(ctx.ReleaseOwned(h.recv), ctx.ReleaseOwned(h.fn))
}

// call loads the receiver into slot 0, marshals args into the following
// slots and runs the engine's call path.
func (c *Context) call(recv, fn engine.Handle, signature string, args []any) (any, error) {
	if err := c.valid(); err != nil {
		return nil, err
	}
	if want := foreign.Arity(signature); want != len(args) {
		return nil, errors.ArityMismatch(signature, want, len(args))
	}

	c.eng.EnsureSlots(1 + len(args))
	c.eng.SetHandle(0, recv)
	for i, a := range args {
		if err := c.Set(i+1, a); err != nil {
			return nil, err
		}
	}

	res := c.eng.Call(fn)
	if err := c.vm.takeResult(errors.PhaseCall, res); err != nil {
		return nil, err
	}
	return c.Get(0)
}
