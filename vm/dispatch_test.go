package vm_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/engine/enginetest"
	"github.com/wrenhost/wrenhost/foreign"
	"github.com/wrenhost/wrenhost/vm"
)

type beast struct {
	name   string
	hunger float64
}

// newBeastVM exposes a class whose methods take foreign-typed arguments
// under declared borrow kinds.
func newBeastVM(t *testing.T) (*vm.VM, *enginetest.Engine) {
	t.Helper()

	var eng *enginetest.Engine
	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("wild", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Beast",
				Allocate: func(name string) *beast { return &beast{name: name} },
				Methods: []vm.MethodDecl{
					{
						Signature: "devour(_)",
						Params:    []foreign.ParamKind{foreign.ParamExclusive},
						Fn: func(self *beast, prey *beast) string {
							self.hunger = 0
							return self.name + " devours " + prey.name
						},
					},
					{
						Signature: "watch(_)",
						Receiver:  foreign.ParamShared,
						Params:    []foreign.ParamKind{foreign.ParamShared},
						Fn: func(self *beast, other *beast) string {
							return self.name + " watches " + other.name
						},
					},
					{
						Signature: "name",
						Receiver:  foreign.ParamShared,
						Fn:        func(self *beast) string { return self.name },
					},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	t.Cleanup(func() { _ = v.Close() })

	eng.DeclareForeignClass("wild", "Beast",
		enginetest.MethodSig{Signature: "devour(_)"},
		enginetest.MethodSig{Signature: "watch(_)"},
		enginetest.MethodSig{Signature: "name"},
	)
	return v, eng
}

func TestSelfAliasExclusiveAborts(t *testing.T) {
	_, eng := newBeastVM(t)

	obj, res := eng.NewInstance("wild", "Beast", "ouroboros")
	if res != engine.ResultSuccess {
		t.Fatalf("instantiate: %s (%s)", res, eng.LastAbort)
	}

	// obj.devour(obj): the receiver holds an exclusive borrow, so the
	// argument's exclusive borrow must fail and abort the fiber.
	if _, res := eng.CallForeign(obj, "devour(_)", obj); res != engine.ResultRuntimeError {
		t.Fatal("expected self-alias under exclusive to abort")
	}
	if !strings.Contains(eng.LastAbort, "borrow") {
		t.Fatalf("abort message %q lacks borrow detail", eng.LastAbort)
	}

	// The borrow state fully resets: the instance works afterwards.
	if got, res := eng.CallForeign(obj, "name"); res != engine.ResultSuccess || got != "ouroboros" {
		t.Fatalf("name after failed call = %v (%s)", got, res)
	}
}

func TestSelfAliasSharedSucceeds(t *testing.T) {
	_, eng := newBeastVM(t)
	obj, _ := eng.NewInstance("wild", "Beast", "narcissus")

	got, res := eng.CallForeign(obj, "watch(_)", obj)
	if res != engine.ResultSuccess {
		t.Fatalf("shared self-alias: %s (%s)", res, eng.LastAbort)
	}
	if got != "narcissus watches narcissus" {
		t.Fatalf("got %v", got)
	}
}

func TestDistinctInstancesBorrowIndependently(t *testing.T) {
	_, eng := newBeastVM(t)
	wolf, _ := eng.NewInstance("wild", "Beast", "wolf")
	hare, _ := eng.NewInstance("wild", "Beast", "hare")

	got, res := eng.CallForeign(wolf, "devour(_)", hare)
	if res != engine.ResultSuccess {
		t.Fatalf("distinct instances: %s (%s)", res, eng.LastAbort)
	}
	if got != "wolf devours hare" {
		t.Fatalf("got %v", got)
	}
}

func TestForeignArgumentTypeChecked(t *testing.T) {
	_, eng := newBeastVM(t)
	obj, _ := eng.NewInstance("wild", "Beast", "lion")

	if _, res := eng.CallForeign(obj, "devour(_)", "a string"); res != engine.ResultRuntimeError {
		t.Fatal("expected non-foreign argument to abort")
	}
	if !strings.Contains(eng.LastAbort, "expected Foreign") {
		t.Fatalf("abort message %q lacks foreign type detail", eng.LastAbort)
	}
}

func TestCrossClassForeignArgumentRejected(t *testing.T) {
	var eng *enginetest.Engine
	type herb struct{ name string }

	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("wild", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Beast",
				Allocate: func() *beast { return &beast{} },
				Methods: []vm.MethodDecl{
					{
						Signature: "devour(_)",
						Params:    []foreign.ParamKind{foreign.ParamExclusive},
						Fn:        func(self, prey *beast) {},
					},
				},
			})
			m.Class(vm.ClassDecl{
				Name:     "Herb",
				Allocate: func() *herb { return &herb{} },
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	eng.DeclareForeignClass("wild", "Beast", enginetest.MethodSig{Signature: "devour(_)"})
	eng.DeclareForeignClass("wild", "Herb")

	b, _ := eng.NewInstance("wild", "Beast")
	h, _ := eng.NewInstance("wild", "Herb")

	if _, res := eng.CallForeign(b, "devour(_)", h); res != engine.ResultRuntimeError {
		t.Fatal("expected wrong foreign class to abort")
	}
	if !strings.Contains(eng.LastAbort, "foreign_type") {
		t.Fatalf("abort message %q lacks foreign_type kind", eng.LastAbort)
	}
}

func TestStaticMethodDispatch(t *testing.T) {
	var eng *enginetest.Engine
	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("math", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Fast",
				Allocate: func() *counter { return &counter{} },
				Methods: []vm.MethodDecl{
					{
						Signature: "square(_)",
						Static:    true,
						Fn:        func(x float64) float64 { return x * x },
					},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	cls := eng.DeclareForeignClass("math", "Fast",
		enginetest.MethodSig{Signature: "square(_)", Static: true})

	got, res := eng.CallForeign(cls, "square(_)", 9)
	if res != engine.ResultSuccess {
		t.Fatalf("static call: %s (%s)", res, eng.LastAbort)
	}
	if got != 81.0 {
		t.Fatalf("square(9) = %v, want 81", got)
	}
}

func TestAllocatorArgumentsAndFailure(t *testing.T) {
	var eng *enginetest.Engine
	type file struct{ name string }

	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("io", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name: "File",
				Allocate: func(name string) (*file, error) {
					if name == "" {
						return nil, fmt.Errorf("empty file name")
					}
					return &file{name: name}, nil
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	eng.DeclareForeignClass("io", "File")

	if _, res := eng.NewInstance("io", "File", "data.txt"); res != engine.ResultSuccess {
		t.Fatalf("construct: %s (%s)", res, eng.LastAbort)
	}

	if _, res := eng.NewInstance("io", "File", ""); res != engine.ResultRuntimeError {
		t.Fatal("expected allocator error to abort construction")
	}
	if !strings.Contains(eng.LastAbort, "empty file name") {
		t.Fatalf("abort message %q lacks allocator error", eng.LastAbort)
	}

	// Wrong constructor arity aborts too.
	if _, res := eng.NewInstance("io", "File", "a", "b"); res != engine.ResultRuntimeError {
		t.Fatal("expected constructor arity mismatch to abort")
	}
}

func TestFinalizeRunsOnceOnCollection(t *testing.T) {
	var eng *enginetest.Engine
	type res struct{ open bool }
	finalized := 0

	v, err := vm.NewBuilder().
		WithEngine(enginetest.Factory(&eng)).
		WithModule("io", func(m *vm.ModuleBuilder) {
			m.Class(vm.ClassDecl{
				Name:     "Res",
				Allocate: func() *res { return &res{open: true} },
				Finalize: func(r *res) { r.open = false; finalized++ },
				Methods: []vm.MethodDecl{
					{
						Signature: "ok",
						Receiver:  foreign.ParamShared,
						Fn:        func(r *res) bool { return r.open },
					},
				},
			})
		}).
		Build()
	if err != nil {
		t.Fatalf("build VM: %v", err)
	}
	defer v.Close()

	eng.DeclareForeignClass("io", "Res", enginetest.MethodSig{Signature: "ok"})

	obj, _ := eng.NewInstance("io", "Res")
	if got, _ := eng.CallForeign(obj, "ok"); got != true {
		t.Fatal("instance not live after construction")
	}

	// Drop the only reference and collect.
	err = v.Context(func(ctx *vm.Context) error {
		ctx.EnsureSlots(1)
		if err := ctx.SetNull(0); err != nil {
			return err
		}
		ctx.CollectGarbage()
		ctx.CollectGarbage()
		return nil
	})
	if err != nil {
		t.Fatalf("context: %v", err)
	}

	if finalized != 1 {
		t.Fatalf("finalizer ran %d times, want 1", finalized)
	}
	if !obj.Finalized() {
		t.Fatal("engine did not mark the object finalized")
	}

	// A late call on the finalized instance aborts instead of touching
	// freed storage.
	if _, res := eng.CallForeign(obj, "ok"); res != engine.ResultRuntimeError {
		t.Fatal("expected call on finalized instance to abort")
	}
	if !strings.Contains(eng.LastAbort, "finalized") {
		t.Fatalf("abort message %q lacks finalized detail", eng.LastAbort)
	}
}

func TestUnregisteredMethodAbortsAtCall(t *testing.T) {
	_, eng := newBeastVM(t)

	// Declared script-side but never registered host-side: the binder
	// returns nothing and the engine aborts at instantiation.
	eng.DeclareForeignClass("wild", "Ghost", enginetest.MethodSig{Signature: "moan()"})

	obj, res := eng.NewInstance("wild", "Ghost")
	if res == engine.ResultSuccess && obj != nil {
		t.Fatal("expected unregistered class instantiation to fail")
	}
}

func TestBorrowReleasedBeforeReturn(t *testing.T) {
	_, eng := newBeastVM(t)
	obj, _ := eng.NewInstance("wild", "Beast", "wolf")

	// Two consecutive exclusive-receiver calls: if the dispatcher leaked
	// the first borrow, the second would abort.
	if _, res := eng.CallForeign(obj, "devour(_)", mustInstance(t, eng, "wild", "Beast", "hare")); res != engine.ResultSuccess {
		t.Fatalf("first call: %s (%s)", res, eng.LastAbort)
	}
	if _, res := eng.CallForeign(obj, "devour(_)", mustInstance(t, eng, "wild", "Beast", "deer")); res != engine.ResultSuccess {
		t.Fatalf("second call: %s (%s)", res, eng.LastAbort)
	}
}

func mustInstance(t *testing.T, eng *enginetest.Engine, module, class string, args ...any) *enginetest.Object {
	t.Helper()
	obj, res := eng.NewInstance(module, class, args...)
	if res != engine.ResultSuccess {
		t.Fatalf("instantiate %s.%s: %s (%s)", module, class, res, eng.LastAbort)
	}
	return obj
}
