package vm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
)

// VM wraps one engine instance together with its foreign bindings. It is the
// exclusive owner of the engine's slot array and foreign object storage
// during any call; all top-level entry points are serialized, so a VM may be
// handed between goroutines but never used from two at once.
type VM struct {
	eng      engine.API
	bindings *foreign.Bindings
	log      *zap.Logger

	mu sync.Mutex

	// diags is the queue of engine diagnostics collected through the
	// error callback. Drained by takeResult after a non-success result.
	diags []engine.Diagnostic

	// foreignErr holds the host error that aborted the current fiber,
	// attached as the cause of the next RuntimeAbort.
	foreignErr error

	// promoted tracks handles promoted out of their context scope. They
	// must all be released before Close.
	promoted map[engine.Handle]struct{}

	closed bool
}

// Interpret compiles and runs source in the named module. A compile failure
// returns *errors.CompileError; a runtime failure returns
// *errors.RuntimeAbort. The VM remains usable after either.
func (v *VM) Interpret(module, source string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.Lifecycle(errors.PhaseInterpret, "interpret on closed VM")
	}

	v.log.Debug("interpret", zap.String("module", module), zap.Int("bytes", len(source)))
	res := v.eng.Interpret(module, source)
	return v.takeResult(errors.PhaseInterpret, res)
}

// Context executes fn inside a fresh scope during which the engine's slot
// array is valid. Handles acquired through the context are released when fn
// returns, in reverse order of acquisition, unless promoted first.
func (v *VM) Context(fn func(*Context) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errors.Lifecycle(errors.PhaseCall, "context on closed VM")
	}

	ctx := v.newScope()
	defer ctx.close()
	return fn(ctx)
}

// Close frees the engine. If any promoted handle has not been released,
// Close reports a lifecycle violation and leaves the VM open, so the caller
// can release and retry; releasing the engine under an outstanding handle is
// undefined behavior it must never reach.
func (v *VM) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	if n := len(v.promoted); n > 0 {
		return errors.Lifecycle(errors.PhaseTeardown, "%d promoted handle(s) not released before Close", n)
	}

	v.closed = true
	v.log.Debug("closing VM")
	if err := v.eng.Close(); err != nil {
		return errors.Wrap(errors.PhaseTeardown, errors.KindInvalidInput, err, "close engine")
	}
	return nil
}

// Bindings returns the VM's foreign registry. Read-only once built.
func (v *VM) Bindings() *foreign.Bindings {
	return v.bindings
}

// newScope opens a context scope. Top-level scopes are opened under the VM
// mutex; nested scopes are opened by engine callbacks on the interpreting
// goroutine, which already holds it.
func (v *VM) newScope() *Context {
	return &Context{vm: v, eng: v.eng, active: true}
}

// recordDiagnostic is the engine's error callback target.
func (v *VM) recordDiagnostic(d engine.Diagnostic) {
	v.diags = append(v.diags, d)
}

// takeResult consolidates queued diagnostics into an error matching the
// engine result. Not idempotent: the queue is drained.
func (v *VM) takeResult(phase errors.Phase, res engine.Result) error {
	diags := v.diags
	v.diags = nil
	cause := v.foreignErr
	v.foreignErr = nil

	switch res {
	case engine.ResultSuccess:
		if len(diags) > 0 {
			v.log.Warn("engine reported success with queued diagnostics", zap.Int("count", len(diags)))
		}
		return nil

	case engine.ResultCompileError:
		ce := &errors.CompileError{}
		for _, d := range diags {
			if d.Kind == engine.DiagCompile {
				ce.Diagnostics = append(ce.Diagnostics, errors.CompileDiagnostic{
					Module:  d.Module,
					Line:    d.Line,
					Message: d.Message,
				})
			}
		}
		return ce

	case engine.ResultRuntimeError:
		ra := &errors.RuntimeAbort{Cause: cause}
		for _, d := range diags {
			switch d.Kind {
			case engine.DiagRuntime:
				ra.Message += d.Message
			case engine.DiagStackTrace:
				ra.Stack = append(ra.Stack, errors.StackFrame{
					Module:   d.Module,
					Function: d.Message,
					Line:     d.Line,
					Foreign:  d.Module == "(foreign)",
				})
			}
		}
		return ra

	default:
		return errors.InvalidInput(phase, "unknown engine result")
	}
}
