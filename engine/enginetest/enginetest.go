// Package enginetest provides an in-memory engine.API implementation for
// tests. It keeps the real engine's contract - slot array, reference-counted
// handles, foreign object storage, diagnostics through the error callback -
// without compiling any script source. Script-side activity is simulated
// through driver methods: DeclareForeignClass plays the role of a foreign
// class declaration, NewInstance of a constructor call, CallForeign of a
// script invoking a foreign method.
//
// The fake is deliberately strict where the real engine is undefined:
// out-of-range slot access, double handle release and closing with live
// handles all fail loudly, so contract violations in the layer above surface
// as test failures instead of silent corruption.
package enginetest

import (
	"fmt"

	"github.com/wrenhost/wrenhost/engine"
)

// callSig marks a handle created by MakeCallHandle.
type callSig string

// listObj is a script-side list.
type listObj struct {
	items []any
}

// Class is a script-side class, either foreign (declared through
// DeclareForeignClass) or plain (DefineClass). Plain classes carry scripted
// method bodies invocable through call handles.
type Class struct {
	Module string
	Name   string

	foreign    bool
	binding    engine.ForeignClassMethods
	foreignFns map[sigKey]engine.ForeignMethodFn
	methods    map[string]MethodFunc
}

type sigKey struct {
	signature string
	static    bool
}

// MethodFunc is a scripted method body: it reads argument slots and leaves
// its result in slot 0, or aborts the fiber.
type MethodFunc func(e *Engine)

// Object is a script-side foreign instance.
type Object struct {
	class     *Class
	payload   any
	finalized bool
}

// Payload returns the host payload attached at allocation.
func (o *Object) Payload() any {
	return o.payload
}

// Finalized reports whether the garbage collector reclaimed this instance.
func (o *Object) Finalized() bool {
	return o.finalized
}

// MethodSig names one foreign method a class declares script-side.
type MethodSig struct {
	Signature string
	Static    bool
}

// Engine is the in-memory fake. Not safe for concurrent use, matching the
// real engine's contract.
type Engine struct {
	cfg     engine.Config
	slots   []any
	handles map[engine.Handle]any
	next    engine.Handle
	modules map[string]map[string]any
	objects []*Object

	aborted  bool
	abortMsg string

	// LastAbort holds the message of the most recent fiber abort.
	LastAbort string

	// OnInterpret, when set, decides the outcome of Interpret. It may
	// emit diagnostics through EmitDiagnostic before returning.
	OnInterpret func(e *Engine, module, source string) engine.Result

	closed bool
}

// New creates a fake engine wired to the given host callbacks.
func New(cfg engine.Config) *Engine {
	return &Engine{
		cfg:     cfg,
		handles: make(map[engine.Handle]any),
		modules: make(map[string]map[string]any),
	}
}

// Factory returns an engine.Factory that captures the created fake into out,
// so tests can drive script-side behavior on a VM built through the normal
// path.
func Factory(out **Engine) engine.Factory {
	return func(cfg engine.Config) (engine.API, error) {
		e := New(cfg)
		*out = e
		return e, nil
	}
}

// --- script-side drivers ---

// DeclareForeignClass simulates interpreting a foreign class declaration:
// the host binder is consulted for the class and each listed method, and the
// class object becomes a top-level variable of the module.
func (e *Engine) DeclareForeignClass(module, class string, sigs ...MethodSig) *Class {
	cls := &Class{
		Module:     module,
		Name:       class,
		foreign:    true,
		foreignFns: make(map[sigKey]engine.ForeignMethodFn),
	}
	if e.cfg.BindForeignClass != nil {
		cls.binding = e.cfg.BindForeignClass(module, class)
	}
	for _, s := range sigs {
		var fn engine.ForeignMethodFn
		if e.cfg.BindForeignMethod != nil {
			fn = e.cfg.BindForeignMethod(module, class, s.Static, s.Signature)
		}
		cls.foreignFns[sigKey{s.Signature, s.Static}] = fn
	}
	e.module(module)[class] = cls
	return cls
}

// DefineClass simulates a plain script class with method bodies, reachable
// as a top-level variable and callable through call handles.
func (e *Engine) DefineClass(module, name string, methods map[string]MethodFunc) *Class {
	cls := &Class{Module: module, Name: name, methods: methods}
	e.module(module)[name] = cls
	return cls
}

// DefineVariable stores a value as a top-level module variable. Go values
// are encoded like script values: numbers become doubles, []any a list.
func (e *Engine) DefineVariable(module, name string, v any) {
	e.module(module)[name] = encode(v)
}

// NewInstance simulates a script constructing a foreign class instance. The
// new object is returned and also left in slot 0, mirroring the engine state
// right after allocation.
func (e *Engine) NewInstance(module, class string, args ...any) (*Object, engine.Result) {
	cls, ok := e.module(module)[class].(*Class)
	if !ok || !cls.foreign {
		e.abort(fmt.Sprintf("%s.%s is not a foreign class", module, class))
		return nil, e.finishRun()
	}
	if cls.binding.Allocate == nil {
		e.abort(fmt.Sprintf("cannot instantiate %s.%s: no allocator bound", module, class))
		return nil, e.finishRun()
	}

	e.slots = make([]any, 1+len(args))
	e.slots[0] = cls
	for i, a := range args {
		e.slots[i+1] = encode(a)
	}

	cls.binding.Allocate(e)
	res := e.finishRun()
	if res != engine.ResultSuccess {
		return nil, res
	}
	obj, _ := e.slots[0].(*Object)
	return obj, res
}

// CallForeign simulates a script invoking a foreign method. recv is an
// *Object for instance methods or a *Class for static ones. The decoded
// return value accompanies the result.
func (e *Engine) CallForeign(recv any, signature string, args ...any) (any, engine.Result) {
	var cls *Class
	static := false
	switch r := recv.(type) {
	case *Object:
		cls = r.class
	case *Class:
		cls = r
		static = true
	default:
		e.abort(fmt.Sprintf("receiver %T has no methods", recv))
		return nil, e.finishRun()
	}

	fn, declared := cls.foreignFns[sigKey{signature, static}]
	if !declared || fn == nil {
		e.abort(fmt.Sprintf("no foreign method %s.%s.%s bound", cls.Module, cls.Name, signature))
		return nil, e.finishRun()
	}

	e.slots = make([]any, 1+len(args))
	e.slots[0] = encode(recv)
	for i, a := range args {
		e.slots[i+1] = encode(a)
	}

	fn(e)
	res := e.finishRun()
	if res != engine.ResultSuccess {
		return nil, res
	}
	return decode(e.slots[0]), res
}

// EmitDiagnostic forwards a diagnostic to the host's error callback, for
// OnInterpret hooks scripting failure outcomes.
func (e *Engine) EmitDiagnostic(d engine.Diagnostic) {
	if e.cfg.Error != nil {
		e.cfg.Error(d)
	}
}

// ImportModule simulates a script-side import statement: the name runs
// through the host's resolver and loader, and the loaded source is
// interpreted.
func (e *Engine) ImportModule(importer, name string) engine.Result {
	resolved := name
	if e.cfg.ResolveModule != nil {
		r, ok := e.cfg.ResolveModule(importer, name)
		if !ok {
			e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagCompile, Module: importer,
				Message: fmt.Sprintf("could not resolve import %q", name)})
			return engine.ResultCompileError
		}
		resolved = r
	}
	if _, loaded := e.modules[resolved]; loaded {
		return engine.ResultSuccess
	}
	if e.cfg.LoadModule == nil {
		e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagCompile, Module: importer,
			Message: fmt.Sprintf("could not load module %q", resolved)})
		return engine.ResultCompileError
	}
	src, ok := e.cfg.LoadModule(resolved)
	if !ok {
		e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagCompile, Module: importer,
			Message: fmt.Sprintf("could not load module %q", resolved)})
		return engine.ResultCompileError
	}
	return e.Interpret(resolved, src)
}

// LastObject returns the most recently created foreign object, e.g. one a
// host-side ownership transfer just produced.
func (e *Engine) LastObject() *Object {
	if len(e.objects) == 0 {
		return nil
	}
	return e.objects[len(e.objects)-1]
}

// LiveHandles reports outstanding handles, for leak assertions.
func (e *Engine) LiveHandles() int {
	return len(e.handles)
}

// Print simulates script output through the host write callback.
func (e *Engine) Print(text string) {
	if e.cfg.Write != nil {
		e.cfg.Write(text)
	}
}

// --- engine.API ---

func (e *Engine) Interpret(module, source string) engine.Result {
	if e.OnInterpret != nil {
		return e.OnInterpret(e, module, source)
	}
	e.module(module)
	return engine.ResultSuccess
}

func (e *Engine) Call(fn engine.Handle) engine.Result {
	sig, ok := e.handles[fn].(callSig)
	if !ok {
		panic("enginetest: Call on a non-call handle")
	}

	recv := e.slots[0]
	switch r := recv.(type) {
	case *Class:
		if m, ok := r.methods[string(sig)]; ok {
			m(e)
			return e.finishRun()
		}
		if f, ok := r.foreignFns[sigKey{string(sig), true}]; ok && f != nil {
			f(e)
			return e.finishRun()
		}
	case *Object:
		if m, ok := r.class.methods[string(sig)]; ok {
			m(e)
			return e.finishRun()
		}
		if f, ok := r.class.foreignFns[sigKey{string(sig), false}]; ok && f != nil {
			f(e)
			return e.finishRun()
		}
	}
	e.abort(fmt.Sprintf("receiver does not implement %q", string(sig)))
	return e.finishRun()
}

func (e *Engine) EnsureSlots(n int) {
	for len(e.slots) < n {
		e.slots = append(e.slots, nil)
	}
}

func (e *Engine) SlotCount() int {
	return len(e.slots)
}

func (e *Engine) SlotType(slot int) engine.Type {
	switch e.slot(slot).(type) {
	case nil:
		return engine.TypeNull
	case bool:
		return engine.TypeBool
	case float64:
		return engine.TypeNumber
	case string:
		return engine.TypeString
	case *listObj:
		return engine.TypeList
	case *Object:
		return engine.TypeForeign
	default:
		return engine.TypeUnknown
	}
}

func (e *Engine) GetBool(slot int) bool {
	return e.slot(slot).(bool)
}

func (e *Engine) GetDouble(slot int) float64 {
	return e.slot(slot).(float64)
}

func (e *Engine) GetString(slot int) string {
	return e.slot(slot).(string)
}

func (e *Engine) GetForeign(slot int) any {
	return e.slot(slot).(*Object).payload
}

func (e *Engine) GetHandle(slot int) engine.Handle {
	e.next++
	e.handles[e.next] = e.slot(slot)
	return e.next
}

func (e *Engine) SetBool(slot int, v bool)      { e.setSlot(slot, v) }
func (e *Engine) SetDouble(slot int, v float64) { e.setSlot(slot, v) }
func (e *Engine) SetString(slot int, v string)  { e.setSlot(slot, v) }
func (e *Engine) SetNull(slot int)              { e.setSlot(slot, nil) }

func (e *Engine) SetHandle(slot int, h engine.Handle) {
	v, ok := e.handles[h]
	if !ok {
		panic("enginetest: SetHandle with unknown handle")
	}
	e.setSlot(slot, v)
}

func (e *Engine) SetNewList(slot int) {
	e.setSlot(slot, &listObj{})
}

func (e *Engine) GetListCount(listSlot int) int {
	return len(e.list(listSlot).items)
}

func (e *Engine) GetListElement(listSlot, index, elemSlot int) {
	e.setSlot(elemSlot, e.list(listSlot).items[index])
}

func (e *Engine) SetListElement(listSlot, index, elemSlot int) {
	e.list(listSlot).items[index] = e.slot(elemSlot)
}

func (e *Engine) InsertInList(listSlot, index, elemSlot int) {
	l := e.list(listSlot)
	v := e.slot(elemSlot)
	if index < 0 {
		index = len(l.items) + 1 + index
	}
	l.items = append(l.items, nil)
	copy(l.items[index+1:], l.items[index:])
	l.items[index] = v
}

func (e *Engine) SetNewForeign(slot, classSlot int, payload any) {
	cls, ok := e.slot(classSlot).(*Class)
	if !ok || !cls.foreign {
		panic("enginetest: SetNewForeign without a foreign class in classSlot")
	}
	obj := &Object{class: cls, payload: payload}
	e.objects = append(e.objects, obj)
	e.setSlot(slot, obj)
}

func (e *Engine) MakeCallHandle(signature string) engine.Handle {
	e.next++
	e.handles[e.next] = callSig(signature)
	return e.next
}

func (e *Engine) ReleaseHandle(h engine.Handle) {
	if _, ok := e.handles[h]; !ok {
		panic(fmt.Sprintf("enginetest: release of unknown handle %d", h))
	}
	delete(e.handles, h)
}

func (e *Engine) HasModule(module string) bool {
	_, ok := e.modules[module]
	return ok
}

func (e *Engine) HasVariable(module, name string) bool {
	vars, ok := e.modules[module]
	if !ok {
		return false
	}
	_, ok = vars[name]
	return ok
}

func (e *Engine) GetVariable(module, name string, slot int) {
	e.setSlot(slot, e.modules[module][name])
}

func (e *Engine) AbortFiber(slot int) {
	v := e.slot(slot)
	msg, ok := v.(string)
	if !ok {
		msg = fmt.Sprintf("%v", v)
	}
	e.abort(msg)
}

// CollectGarbage finalizes foreign objects no longer reachable from module
// variables, slots, handles or live lists.
func (e *Engine) CollectGarbage() {
	reachable := make(map[*Object]bool)
	var mark func(v any)
	mark = func(v any) {
		switch val := v.(type) {
		case *Object:
			reachable[val] = true
		case *listObj:
			for _, item := range val.items {
				mark(item)
			}
		}
	}
	for _, vars := range e.modules {
		for _, v := range vars {
			mark(v)
		}
	}
	for _, v := range e.slots {
		mark(v)
	}
	for _, v := range e.handles {
		mark(v)
	}

	kept := e.objects[:0]
	for _, obj := range e.objects {
		if reachable[obj] {
			kept = append(kept, obj)
			continue
		}
		obj.finalized = true
		if obj.class.binding.Finalize != nil {
			obj.class.binding.Finalize(obj.payload)
		}
	}
	e.objects = kept
}

func (e *Engine) Close() error {
	if e.closed {
		return fmt.Errorf("enginetest: engine closed twice")
	}
	e.closed = true
	if n := len(e.handles); n > 0 {
		return fmt.Errorf("enginetest: %d handle(s) still live at close", n)
	}
	return nil
}

// --- internals ---

func (e *Engine) module(name string) map[string]any {
	vars, ok := e.modules[name]
	if !ok {
		vars = make(map[string]any)
		e.modules[name] = vars
	}
	return vars
}

func (e *Engine) slot(slot int) any {
	if slot < 0 || slot >= len(e.slots) {
		panic(fmt.Sprintf("enginetest: slot %d out of range (%d slots)", slot, len(e.slots)))
	}
	return e.slots[slot]
}

func (e *Engine) setSlot(slot int, v any) {
	if slot < 0 || slot >= len(e.slots) {
		panic(fmt.Sprintf("enginetest: slot %d out of range (%d slots)", slot, len(e.slots)))
	}
	e.slots[slot] = v
}

func (e *Engine) list(slot int) *listObj {
	l, ok := e.slot(slot).(*listObj)
	if !ok {
		panic(fmt.Sprintf("enginetest: slot %d does not hold a list", slot))
	}
	return l
}

func (e *Engine) abort(msg string) {
	// First abort wins, matching fiber semantics.
	if !e.aborted {
		e.aborted = true
		e.abortMsg = msg
	}
}

// finishRun flushes a pending abort into diagnostics and reports the run's
// result.
func (e *Engine) finishRun() engine.Result {
	if !e.aborted {
		return engine.ResultSuccess
	}
	e.aborted = false
	e.LastAbort = e.abortMsg
	e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagRuntime, Message: e.abortMsg})
	e.EmitDiagnostic(engine.Diagnostic{Kind: engine.DiagStackTrace, Module: "(foreign)", Message: "(method)", Line: 1})
	e.abortMsg = ""
	return engine.ResultRuntimeError
}

// encode maps a Go value to its script-side representation.
func encode(v any) any {
	switch val := v.(type) {
	case nil, bool, string, *Object, *Class, *listObj:
		return val
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case []any:
		l := &listObj{}
		for _, item := range val {
			l.items = append(l.items, encode(item))
		}
		return l
	default:
		panic(fmt.Sprintf("enginetest: cannot encode %T as a script value", v))
	}
}

// decode maps a script-side value back to Go.
func decode(v any) any {
	switch val := v.(type) {
	case *listObj:
		out := make([]any, len(val.items))
		for i, item := range val.items {
			out[i] = decode(item)
		}
		return out
	default:
		return val
	}
}
