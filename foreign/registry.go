package foreign

import (
	"reflect"

	"github.com/wrenhost/wrenhost/errors"
)

// Bindings is the foreign class and method registry for one VM instance.
// It is populated single-threaded during VM configuration and read-only once
// the VM is built; the engine consults it on every foreign class declaration
// and every foreign method call. Deliberately not a process-wide table, so
// independent VMs can carry independent bindings.
type Bindings struct {
	classes map[ClassKey]*Class
	methods map[MethodKey]*Method
	reverse map[reflect.Type]ClassKey
}

// NewBindings creates an empty registry.
func NewBindings() *Bindings {
	return &Bindings{
		classes: make(map[ClassKey]*Class),
		methods: make(map[MethodKey]*Method),
		reverse: make(map[reflect.Type]ClassKey),
	}
}

// RegisterClass adds a class binding. A duplicate (module, class) key fails
// with a registration conflict and leaves the first binding active.
func (b *Bindings) RegisterClass(c *Class) error {
	if c == nil || c.Key.Module == "" || c.Key.Class == "" {
		return errors.InvalidInput(errors.PhaseConfigure, "class binding needs module and class name")
	}
	if c.Type == nil {
		return errors.InvalidInput(errors.PhaseConfigure, "class binding needs a host type")
	}
	if _, exists := b.classes[c.Key]; exists {
		return errors.RegistrationConflict(c.Key.Module, c.Key.Class, "")
	}

	b.classes[c.Key] = c
	if _, exists := b.reverse[c.Type]; !exists {
		b.reverse[c.Type] = c.Key
	}
	return nil
}

// RegisterMethod adds a method binding under the class's key. A duplicate
// (module, class, signature, static) key fails with a registration conflict.
func (b *Bindings) RegisterMethod(module, class string, m *Method) error {
	if m == nil || m.Signature == "" {
		return errors.InvalidInput(errors.PhaseConfigure, "method binding needs a signature")
	}
	if m.Handler == nil {
		return errors.InvalidInput(errors.PhaseConfigure, "method binding needs a handler")
	}
	if len(m.Params) > 0 && len(m.Params) != m.Arity {
		return errors.InvalidInput(errors.PhaseConfigure, "declared parameter kinds must match signature arity")
	}

	key := MethodKey{Module: module, Class: class, Signature: m.Signature, Static: m.Static}
	if _, exists := b.methods[key]; exists {
		return errors.RegistrationConflict(module, class, m.Signature)
	}

	b.methods[key] = m
	return nil
}

// Class resolves a class binding.
func (b *Bindings) Class(module, class string) (*Class, bool) {
	c, ok := b.classes[ClassKey{Module: module, Class: class}]
	return c, ok
}

// Method resolves a method binding.
func (b *Bindings) Method(module, class, signature string, static bool) (*Method, bool) {
	m, ok := b.methods[MethodKey{Module: module, Class: class, Signature: signature, Static: static}]
	return m, ok
}

// ClassFor reverse-looks-up the class binding registered for a host type.
// Used when marshalling an already-constructed host value into the VM and
// when type-checking foreign-typed arguments.
func (b *Bindings) ClassFor(t reflect.Type) (*Class, bool) {
	key, ok := b.reverse[t]
	if !ok {
		return nil, false
	}
	c, ok := b.classes[key]
	return c, ok
}

// Len reports the number of registered classes and methods.
func (b *Bindings) Len() (classes, methods int) {
	return len(b.classes), len(b.methods)
}

// EachClass iterates over all class bindings.
func (b *Bindings) EachClass(fn func(ClassKey, *Class) bool) {
	for key, c := range b.classes {
		if !fn(key, c) {
			return
		}
	}
}

// EachMethod iterates over method bindings for one class.
func (b *Bindings) EachMethod(module, class string, fn func(MethodKey, *Method) bool) {
	for key, m := range b.methods {
		if key.Module == module && key.Class == class {
			if !fn(key, m) {
				return
			}
		}
	}
}
