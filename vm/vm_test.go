package vm_test

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/engine/enginetest"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
	"github.com/wrenhost/wrenhost/vm"
)

type counter struct {
	count float64
}

// newCounterVM builds a VM with one foreign class and simulates the engine
// declaring it, the state a real embedding reaches after interpreting
//
//	foreign class Counter {
//	    construct new() {}
//	    foreign increment(n)
//	    foreign count
//	}
func newCounterVM(t *testing.T) (*vm.VM, *enginetest.Engine) {
	t.Helper()

	var eng *enginetest.Engine
	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("main", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Counter",
				Allocate: func() *counter { return &counter{} },
				Methods: []vm.MethodDecl{
					{
						Signature: "increment(_)",
						Fn:        func(c *counter, by float64) { c.count += by },
					},
					{
						Signature: "count",
						Receiver:  foreign.ParamShared,
						Fn:        func(c *counter) float64 { return c.count },
					},
					{
						Signature: "peek",
						Receiver:  foreign.ParamShared,
						Fn: func(ctx *vm.Context, c *counter) float64 {
							if ctx == nil {
								t.Fatal("handler received nil context")
							}
							return c.count
						},
					},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })

	eng.DeclareForeignClass("main", "Counter",
		enginetest.MethodSig{Signature: "increment(_)"},
		enginetest.MethodSig{Signature: "count"},
		enginetest.MethodSig{Signature: "peek"},
	)
	return v, eng
}

func TestCounterIncrement(t *testing.T) {
	_, eng := newCounterVM(t)

	obj, res := eng.NewInstance("main", "Counter")
	if res != engine.ResultSuccess {
		t.Fatalf("instantiate: %s (%s)", res, eng.LastAbort)
	}

	for i := 0; i < 3; i++ {
		if _, res := eng.CallForeign(obj, "increment(_)", 1); res != engine.ResultSuccess {
			t.Fatalf("increment %d: %s (%s)", i, res, eng.LastAbort)
		}
	}

	got, res := eng.CallForeign(obj, "count")
	if res != engine.ResultSuccess {
		t.Fatalf("count: %s (%s)", res, eng.LastAbort)
	}
	if got != 3.0 {
		t.Fatalf("count = %v, want 3", got)
	}

	// Handlers may take a leading context for reentrant work.
	got, res = eng.CallForeign(obj, "peek")
	if res != engine.ResultSuccess || got != 3.0 {
		t.Fatalf("peek = %v (%s), want 3", got, res)
	}
}

func TestStateSurvivesAcrossCalls(t *testing.T) {
	_, eng := newCounterVM(t)

	a, _ := eng.NewInstance("main", "Counter")
	b, _ := eng.NewInstance("main", "Counter")

	eng.CallForeign(a, "increment(_)", 10)
	eng.CallForeign(b, "increment(_)", 1)

	if got, _ := eng.CallForeign(a, "count"); got != 10.0 {
		t.Fatalf("a.count = %v, want 10", got)
	}
	if got, _ := eng.CallForeign(b, "count"); got != 1.0 {
		t.Fatalf("b.count = %v, want 1", got)
	}
}

func TestArityMismatchAbortsFiber(t *testing.T) {
	_, eng := newCounterVM(t)
	obj, _ := eng.NewInstance("main", "Counter")

	if _, res := eng.CallForeign(obj, "increment(_)"); res != engine.ResultRuntimeError {
		t.Fatalf("wrong arity: got %s, want runtime error", res)
	}
	if !strings.Contains(eng.LastAbort, "increment(_) takes 1 argument(s), got 0") {
		t.Fatalf("abort message %q lacks arity detail", eng.LastAbort)
	}
}

func TestArgumentTypeMismatchAbortsFiber(t *testing.T) {
	_, eng := newCounterVM(t)
	obj, _ := eng.NewInstance("main", "Counter")

	if _, res := eng.CallForeign(obj, "increment(_)", "three"); res != engine.ResultRuntimeError {
		t.Fatal("expected string argument to a number parameter to abort")
	}
	if !strings.Contains(eng.LastAbort, "expected Number, got String") {
		t.Fatalf("abort message %q lacks type detail", eng.LastAbort)
	}

	// The instance is untouched and usable afterwards.
	if got, res := eng.CallForeign(obj, "count"); res != engine.ResultSuccess || got != 0.0 {
		t.Fatalf("count after failed call = %v (%s), want 0", got, res)
	}
}

func TestInterpretCompileError(t *testing.T) {
	v, eng := newCounterVM(t)

	eng.OnInterpret = func(e *enginetest.Engine, module, source string) engine.Result {
		e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagCompile, Module: module, Line: 2, Message: "Expected expression."})
		return engine.ResultCompileError
	}

	err := v.Interpret("main", "var x = ")
	var ce *errors.CompileError
	if !stderrors.As(err, &ce) {
		t.Fatalf("got %v, want CompileError", err)
	}
	if len(ce.Diagnostics) != 1 || ce.Diagnostics[0].Line != 2 {
		t.Fatalf("unexpected diagnostics: %+v", ce.Diagnostics)
	}
	if !strings.Contains(ce.Error(), "[main line 2] [Error] Expected expression.") {
		t.Fatalf("unexpected format: %q", ce.Error())
	}

	// A failed interpret leaves the VM usable.
	eng.OnInterpret = nil
	if err := v.Interpret("main", "var x = 1"); err != nil {
		t.Fatalf("interpret after compile error: %v", err)
	}
}

func TestHandlerErrorSurfacesAsAbortCause(t *testing.T) {
	var eng *enginetest.Engine
	handlerErr := stderrors.New("counter exhausted")

	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("main", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Counter",
				Allocate: func() *counter { return &counter{} },
				Methods: []vm.MethodDecl{
					{Signature: "fail()", Fn: func(c *counter) error { return handlerErr }},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	eng.DeclareForeignClass("main", "Counter", enginetest.MethodSig{Signature: "fail()"})
	obj, _ := eng.NewInstance("main", "Counter")

	if _, res := eng.CallForeign(obj, "fail()"); res != engine.ResultRuntimeError {
		t.Fatalf("got %s, want runtime error", res)
	}
	if !strings.Contains(eng.LastAbort, "counter exhausted") {
		t.Fatalf("abort message %q lacks handler error", eng.LastAbort)
	}

	// A host-initiated call consolidates the abort with the host cause.
	cerr := v.Context(func(ctx *vm.Context) error {
		eng.DefineVariable("main", "counter", obj)
		ref, err := ctx.MakeCallRef("main", "counter", "fail()")
		if err != nil {
			return err
		}
		_, err = ref.Call(ctx)
		return err
	})

	var ra *errors.RuntimeAbort
	if !stderrors.As(cerr, &ra) {
		t.Fatalf("got %v, want RuntimeAbort", cerr)
	}
	if !stderrors.Is(ra, handlerErr) {
		t.Fatal("abort does not unwrap to the handler error")
	}
}

func TestHandlerPanicBecomesAbort(t *testing.T) {
	var eng *enginetest.Engine
	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("main", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Counter",
				Allocate: func() *counter { return &counter{} },
				Methods: []vm.MethodDecl{
					{Signature: "explode()", Fn: func(c *counter) { panic("kaboom") }},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	eng.DeclareForeignClass("main", "Counter", enginetest.MethodSig{Signature: "explode()"})
	obj, _ := eng.NewInstance("main", "Counter")

	if _, res := eng.CallForeign(obj, "explode()"); res != engine.ResultRuntimeError {
		t.Fatal("expected panic to abort the fiber, not unwind")
	}
	if !strings.Contains(eng.LastAbort, "kaboom") {
		t.Fatalf("abort message %q lacks panic value", eng.LastAbort)
	}
}

func TestCloseIdempotentAndBlocksUse(t *testing.T) {
	v, _ := newCounterVM(t)

	if err := v.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := v.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	err := v.Interpret("main", "1 + 1")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseInterpret, Kind: errors.KindLifecycle}) {
		t.Fatalf("interpret after close: got %v, want lifecycle error", err)
	}
	err = v.Context(func(*vm.Context) error { return nil })
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindLifecycle}) {
		t.Fatalf("context after close: got %v, want lifecycle error", err)
	}
}
