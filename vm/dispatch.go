package vm

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
)

var (
	contextType = reflect.TypeOf((*Context)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
)

// bindForeignClass answers the engine's foreign class declaration. An
// unregistered class binds nothing; instantiating it later aborts the fiber
// engine-side.
func (v *VM) bindForeignClass(module, class string) engine.ForeignClassMethods {
	cls, ok := v.bindings.Class(module, class)
	if !ok {
		v.log.Warn("foreign class declared script-side but not registered",
			zap.String("module", module), zap.String("class", class))
		return engine.ForeignClassMethods{}
	}
	return engine.ForeignClassMethods{
		Allocate: func(engine.API) { v.allocate(cls) },
		Finalize: func(payload any) {
			if cell, ok := payload.(*foreign.Cell); ok {
				cell.Finalize()
			}
		},
	}
}

// bindForeignMethod answers the engine's foreign method lookup. Resolution
// happens once at bind time; nil leaves the slot unbound and calling it
// aborts engine-side.
func (v *VM) bindForeignMethod(module, class string, static bool, signature string) engine.ForeignMethodFn {
	m, ok := v.bindings.Method(module, class, signature, static)
	if !ok {
		v.log.Warn("foreign method declared script-side but not registered",
			zap.String("module", module), zap.String("class", class),
			zap.String("signature", signature), zap.Bool("static", static))
		return nil
	}
	cls, ok := v.bindings.Class(module, class)
	if !ok {
		return nil
	}
	return func(engine.API) { v.dispatch(cls, m) }
}

// allocate services a script-side instantiation. At entry the class object
// sits in slot 0 and constructor arguments follow; the allocator's result is
// wrapped in a cell and installed as the instance's payload, replacing slot
// 0. The script initializer body runs after this returns.
func (v *VM) allocate(cls *foreign.Class) {
	ctx := v.newScope()
	defer ctx.close()
	defer v.recoverAbort(ctx, cls.Key.String()+" allocate")

	fn := reflect.ValueOf(cls.Allocate)
	ft := fn.Type()
	fixed := countFixed(ft, true)

	if want, got := ft.NumIn()-fixed, v.eng.SlotCount()-1; want != got {
		v.abortFiber(ctx, errors.ArityMismatch(cls.Key.String()+" init", want, got))
		return
	}

	in, guards, err := v.gatherArgs(ctx, ft, fixed, cls.Key.String()+" init", nil)
	defer releaseAll(guards)
	if err != nil {
		v.abortFiber(ctx, err)
		return
	}
	if fixed == 1 {
		in = append([]reflect.Value{reflect.ValueOf(ctx)}, in...)
	}

	out := fn.Call(in)
	ptr, err := splitResult(out)
	if err != nil {
		v.abortFiber(ctx, errors.Wrap(errors.PhaseDispatch, errors.KindForeignType, err, "%s allocate", cls.Key))
		return
	}
	if ptr == nil || reflect.ValueOf(ptr).IsNil() {
		v.abortFiber(ctx, errors.InvalidInput(errors.PhaseDispatch, "%s allocate returned nil storage", cls.Key))
		return
	}

	v.eng.SetNewForeign(0, 0, foreign.NewCell(cls, ptr))
}

// dispatch services one foreign method call. The engine has the receiver in
// slot 0 and arguments in slots 1..arity. The handler runs inside a nested
// scope; borrows taken for the receiver and foreign-typed arguments are
// released before control returns to the engine, even on panic.
func (v *VM) dispatch(cls *foreign.Class, m *foreign.Method) {
	ctx := v.newScope()
	defer ctx.close()
	defer v.recoverAbort(ctx, cls.Key.String()+"."+m.Signature)

	if argc := v.eng.SlotCount() - 1; argc != m.Arity {
		v.abortFiber(ctx, errors.ArityMismatch(m.Signature, m.Arity, argc))
		return
	}

	fn := reflect.ValueOf(m.Handler)
	ft := fn.Type()

	var guards []*foreign.Guard
	defer func() { releaseAll(guards) }()

	var recv reflect.Value
	if !m.Static {
		cell, err := ctx.GetForeign(0)
		if err != nil {
			v.abortFiber(ctx, err)
			return
		}
		if cell.Class() != cls {
			v.abortFiber(ctx, errors.ForeignType(0, cls.Key.String(), cell.Class().Key.String()))
			return
		}
		guard, err := borrow(cell, m.ReceiverKind())
		if err != nil {
			v.abortFiber(ctx, err)
			return
		}
		guards = append(guards, guard)
		recv = reflect.ValueOf(guard.Value())
	}

	in, argGuards, err := v.gatherArgs(ctx, ft, countFixed(ft, m.Static), m.Signature, m)
	guards = append(guards, argGuards...)
	if err != nil {
		v.abortFiber(ctx, err)
		return
	}

	call := make([]reflect.Value, 0, ft.NumIn())
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		call = append(call, reflect.ValueOf(ctx))
	}
	if !m.Static {
		call = append(call, recv)
	}
	call = append(call, in...)

	out := fn.Call(call)
	ret, err := splitResult(out)
	if err != nil {
		v.abortFiber(ctx, err)
		return
	}

	// Guards drop before the return value is written: a handler returning
	// its own receiver must not trip the next borrow.
	releaseAll(guards)
	guards = nil

	v.eng.EnsureSlots(1)
	if err := ctx.Set(0, ret); err != nil {
		v.abortFiber(ctx, err)
	}
}

// countFixed reports how many leading handler parameters are not script
// arguments: an optional *Context plus the receiver on instance methods.
func countFixed(ft reflect.Type, static bool) int {
	n := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		n++
	}
	if !static {
		n++
	}
	return n
}

// gatherArgs unmarshals script arguments (slots 1..arity) into reflect
// values matching the handler parameters after the fixed ones. m is nil for
// allocators, whose parameters all marshal by value.
func (v *VM) gatherArgs(ctx *Context, ft reflect.Type, fixed int, what string, m *foreign.Method) ([]reflect.Value, []*foreign.Guard, error) {
	argc := ft.NumIn() - fixed

	in := make([]reflect.Value, 0, argc)
	var guards []*foreign.Guard
	for i := 0; i < argc; i++ {
		pt := ft.In(fixed + i)
		kind := foreign.ParamValue
		if m != nil {
			kind = m.Kind(i)
		}

		val, guard, err := v.unmarshalArg(ctx, 1+i, pt, kind)
		if guard != nil {
			guards = append(guards, guard)
		}
		if err != nil {
			return nil, guards, errors.Wrap(errors.PhaseDispatch, errors.KindTypeMismatch, err, "%s argument %d", what, i+1)
		}
		in = append(in, val)
	}
	return in, guards, nil
}

// unmarshalArg reads one argument slot into a value assignable to pt.
// Foreign-typed kinds borrow the cell per the declared mode and type-check
// the payload against the registered class for pt.
func (v *VM) unmarshalArg(ctx *Context, slot int, pt reflect.Type, kind foreign.ParamKind) (reflect.Value, *foreign.Guard, error) {
	if kind == foreign.ParamShared || kind == foreign.ParamExclusive {
		cell, err := ctx.GetForeign(slot)
		if err != nil {
			return reflect.Value{}, nil, err
		}
		want, ok := v.bindings.ClassFor(pt.Elem())
		if !ok || cell.Class() != want {
			expected := pt.String()
			if ok {
				expected = want.Key.String()
			}
			return reflect.Value{}, nil, errors.ForeignType(slot, expected, cell.Class().Key.String())
		}
		guard, err := borrow(cell, kind)
		if err != nil {
			return reflect.Value{}, nil, err
		}
		return reflect.ValueOf(guard.Value()), guard, nil
	}

	switch pt.Kind() {
	case reflect.Bool:
		b, err := ctx.GetBool(slot)
		return reflect.ValueOf(b), nil, err
	case reflect.Float32, reflect.Float64:
		f, err := ctx.GetFloat64(slot)
		if err != nil {
			return reflect.Value{}, nil, err
		}
		return reflect.ValueOf(f).Convert(pt), nil, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := ctx.GetInt(slot)
		if err != nil {
			return reflect.Value{}, nil, err
		}
		return reflect.ValueOf(n).Convert(pt), nil, nil
	case reflect.String:
		s, err := ctx.GetString(slot)
		return reflect.ValueOf(s), nil, err
	case reflect.Slice:
		if pt.Elem() == anyType {
			items, err := ctx.GetSlice(slot)
			return reflect.ValueOf(items), nil, err
		}
	case reflect.Interface:
		if pt == anyType {
			val, err := ctx.Get(slot)
			if err != nil {
				return reflect.Value{}, nil, err
			}
			rv := reflect.New(pt).Elem()
			if val != nil {
				rv.Set(reflect.ValueOf(val))
			}
			return rv, nil, nil
		}
	case reflect.Ptr:
		switch pt {
		case reflect.TypeOf((*Handle)(nil)):
			h, err := ctx.GetHandle(slot)
			return reflect.ValueOf(h), nil, err
		case reflect.TypeOf((*List)(nil)):
			l, err := ctx.GetList(slot)
			return reflect.ValueOf(l), nil, err
		case reflect.TypeOf((*foreign.Cell)(nil)):
			cell, err := ctx.GetForeign(slot)
			return reflect.ValueOf(cell), nil, err
		}
		if _, ok := v.bindings.ClassFor(pt.Elem()); ok {
			return reflect.Value{}, nil, errors.InvalidInput(errors.PhaseDispatch,
				"foreign-typed parameter needs a declared shared or exclusive kind")
		}
	}
	return reflect.Value{}, nil, errors.TypeMismatch(errors.PhaseDispatch, slot, "marshallable parameter type", pt.String())
}

// splitResult interprets handler outputs: nothing, a value, an error, or a
// value and an error.
func splitResult(out []reflect.Value) (any, error) {
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		if out[0].Type().Implements(errorType) {
			if !out[0].IsNil() {
				return nil, out[0].Interface().(error)
			}
			return nil, nil
		}
		return out[0].Interface(), nil
	default:
		if !out[1].IsNil() {
			return nil, out[1].Interface().(error)
		}
		return out[0].Interface(), nil
	}
}

func borrow(cell *foreign.Cell, kind foreign.ParamKind) (*foreign.Guard, error) {
	if kind == foreign.ParamShared {
		return cell.Borrow()
	}
	return cell.BorrowMut()
}

func releaseAll(guards []*foreign.Guard) {
	for i := len(guards) - 1; i >= 0; i-- {
		guards[i].Release()
	}
}

// abortFiber reports a host-side failure to the engine: the message lands in
// slot 0 and the current fiber aborts. The full error is kept and attached
// as the cause of the RuntimeAbort the enclosing interpret or call returns.
func (v *VM) abortFiber(ctx *Context, err error) {
	v.foreignErr = err
	v.log.Debug("aborting fiber", zap.Error(err))
	ctx.eng.EnsureSlots(1)
	ctx.eng.SetString(0, err.Error())
	ctx.eng.AbortFiber(0)
}

// recoverAbort converts a handler panic into a fiber abort. A panic must
// never unwind across the engine boundary.
func (v *VM) recoverAbort(ctx *Context, what string) {
	if r := recover(); r != nil {
		v.abortFiber(ctx, errors.Lifecycle(errors.PhaseDispatch, "panic in %s: %v", what, r))
	}
}
