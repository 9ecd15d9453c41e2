package vm

import (
	"fmt"
	"os"
	"reflect"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
)

// Builder assembles a VM: foreign bindings, module hooks and the engine
// backend. Configuration errors accumulate and all surface together from
// Build, so a misconfigured embedding reports every problem at once instead
// of one per run.
type Builder struct {
	bindings *foreign.Bindings
	errs     []error

	write    func(string)
	resolver ModuleResolver
	loader   ModuleLoader
	log      *zap.Logger
	factory  engine.Factory
}

// NewBuilder creates a Builder with an empty registry, the identity module
// resolver and writes going to stdout.
func NewBuilder() *Builder {
	return &Builder{
		bindings: foreign.NewBindings(),
		write:    func(s string) { fmt.Fprint(os.Stdout, s) },
		resolver: IdentityResolver{},
		log:      engine.Logger(),
	}
}

// WithEngine sets the engine backend factory. Required.
func (b *Builder) WithEngine(f engine.Factory) *Builder {
	b.factory = f
	return b
}

// WithLogger sets the VM logger. Defaults to the engine package logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	if log != nil {
		b.log = log
	}
	return b
}

// WithWriteFn routes script-side System.print output.
func (b *Builder) WithWriteFn(fn func(string)) *Builder {
	if fn != nil {
		b.write = fn
	}
	return b
}

// WithModuleResolver sets the import name resolver.
func (b *Builder) WithModuleResolver(r ModuleResolver) *Builder {
	if r != nil {
		b.resolver = r
	}
	return b
}

// WithModuleLoader sets the import source loader. Without one, imports
// beyond interpreted modules fail.
func (b *Builder) WithModuleLoader(l ModuleLoader) *Builder {
	b.loader = l
	return b
}

// WithModule registers foreign bindings for one script module.
func (b *Builder) WithModule(name string, fn func(*ModuleBuilder)) *Builder {
	if name == "" {
		b.errs = append(b.errs, errors.InvalidInput(errors.PhaseConfigure, "module name must not be empty"))
		return b
	}
	fn(&ModuleBuilder{module: name, b: b})
	return b
}

// Build validates the accumulated configuration, creates the engine and
// returns the ready VM. Handler signatures are checked here, after every
// class is registered, so cross-class parameter types resolve.
func (b *Builder) Build() (*VM, error) {
	errs := b.errs
	errs = append(errs, b.validateBindings()...)
	if b.factory == nil {
		errs = append(errs, errors.InvalidInput(errors.PhaseConfigure, "no engine backend configured"))
	}
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	v := &VM{
		bindings: b.bindings,
		log:      b.log,
		promoted: make(map[engine.Handle]struct{}),
	}

	cfg := engine.Config{
		BindForeignClass:  v.bindForeignClass,
		BindForeignMethod: v.bindForeignMethod,
		Write:             b.write,
		Error:             v.recordDiagnostic,
	}
	cfg.ResolveModule = func(importer, name string) (string, bool) {
		return b.resolver.Resolve(importer, name)
	}
	if b.loader != nil {
		cfg.LoadModule = b.loader.Load
	}

	eng, err := b.factory(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfigure, errors.KindInvalidInput, err, "create engine")
	}
	v.eng = eng

	classes, methods := b.bindings.Len()
	b.log.Debug("VM built", zap.Int("classes", classes), zap.Int("methods", methods))
	return v, nil
}

// ModuleBuilder registers classes under one module name.
type ModuleBuilder struct {
	module string
	b      *Builder
}

// ClassDecl describes one foreign class binding.
type ClassDecl struct {
	// Name is the script-side class name.
	Name string

	// Allocate is func(args...) *T or func(args...) (*T, error), with an
	// optional leading *Context. The host type T is taken from its
	// return.
	Allocate any

	// Finalize, optional, is func(*T).
	Finalize any

	Methods []MethodDecl
}

// MethodDecl describes one foreign method binding.
type MethodDecl struct {
	Signature string
	Static    bool

	// Receiver is the borrow mode for the instance; zero means exclusive.
	Receiver foreign.ParamKind

	// Params declares per-parameter kinds. Nil means all by value.
	Params []foreign.ParamKind

	// Fn is the handler: optional leading *Context, then the receiver
	// pointer on instance methods, then one parameter per signature
	// argument. It may return nothing, a value, an error, or both.
	Fn any
}

// Class registers a class declaration. Errors surface from Build.
func (m *ModuleBuilder) Class(decl ClassDecl) *ModuleBuilder {
	hostType, err := allocatorHostType(decl.Allocate)
	if err != nil {
		m.b.errs = append(m.b.errs,
			errors.Wrap(errors.PhaseConfigure, errors.KindRegistration, err, "class %s.%s", m.module, decl.Name))
		return m
	}

	cls := &foreign.Class{
		Key:      foreign.ClassKey{Module: m.module, Class: decl.Name},
		Type:     hostType,
		Allocate: decl.Allocate,
		Finalize: decl.Finalize,
	}
	if err := m.b.bindings.RegisterClass(cls); err != nil {
		m.b.errs = append(m.b.errs, err)
		return m
	}

	for _, md := range decl.Methods {
		fm := &foreign.Method{
			Signature: md.Signature,
			Static:    md.Static,
			Arity:     foreign.Arity(md.Signature),
			Receiver:  md.Receiver,
			Params:    md.Params,
			Handler:   md.Fn,
		}
		if err := m.b.bindings.RegisterMethod(m.module, decl.Name, fm); err != nil {
			m.b.errs = append(m.b.errs, err)
		}
	}
	return m
}

// allocatorHostType derives the host type from an allocator's return: the
// element type of its leading *T result.
func allocatorHostType(alloc any) (reflect.Type, error) {
	if alloc == nil {
		return nil, fmt.Errorf("allocator is required")
	}
	ft := reflect.TypeOf(alloc)
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("allocator must be a function, got %s", ft)
	}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("allocator's second return must be error, got %s", ft.Out(1))
		}
	default:
		return nil, fmt.Errorf("allocator must return *T or (*T, error)")
	}
	if ft.Out(0).Kind() != reflect.Ptr {
		return nil, fmt.Errorf("allocator must return a pointer, got %s", ft.Out(0))
	}
	return ft.Out(0).Elem(), nil
}

// validateBindings checks every registered handler's shape against its
// declaration. Runs after registration completes so foreign-typed parameters
// of sibling classes resolve.
func (b *Builder) validateBindings() []error {
	var errs []error
	seen := make(map[foreign.ClassKey]bool)
	for _, key := range b.classKeys() {
		if seen[key] {
			continue
		}
		seen[key] = true
		cls, _ := b.bindings.Class(key.Module, key.Class)
		b.bindings.EachMethod(key.Module, key.Class, func(mk foreign.MethodKey, m *foreign.Method) bool {
			if err := b.validateHandler(cls, m); err != nil {
				errs = append(errs, errors.Wrap(errors.PhaseConfigure, errors.KindRegistration, err, "%s", mk))
			}
			return true
		})
	}
	return errs
}

func (b *Builder) classKeys() []foreign.ClassKey {
	var keys []foreign.ClassKey
	b.bindings.EachClass(func(key foreign.ClassKey, _ *foreign.Class) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (b *Builder) validateHandler(cls *foreign.Class, m *foreign.Method) error {
	ft := reflect.TypeOf(m.Handler)
	if ft == nil || ft.Kind() != reflect.Func {
		return fmt.Errorf("handler must be a function")
	}

	i := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		i++
	}
	if !m.Static {
		if i >= ft.NumIn() || ft.In(i).Kind() != reflect.Ptr || ft.In(i).Elem() != cls.Type {
			return fmt.Errorf("instance handler must take the receiver *%s", cls.Type)
		}
		i++
	}

	if got := ft.NumIn() - i; got != m.Arity {
		return fmt.Errorf("handler takes %d argument(s), signature encodes %d", got, m.Arity)
	}

	for p := 0; p < m.Arity; p++ {
		pt := ft.In(i + p)
		switch m.Kind(p) {
		case foreign.ParamShared, foreign.ParamExclusive:
			if pt.Kind() != reflect.Ptr {
				return fmt.Errorf("parameter %d declares a borrow kind but is %s, not a pointer", p+1, pt)
			}
			if _, ok := b.bindings.ClassFor(pt.Elem()); !ok {
				return fmt.Errorf("parameter %d type %s is not a registered foreign class", p+1, pt)
			}
		default:
			if pt.Kind() == reflect.Ptr && pt != reflect.TypeOf((*Handle)(nil)) && pt != reflect.TypeOf((*List)(nil)) && pt != reflect.TypeOf((*foreign.Cell)(nil)) {
				if _, ok := b.bindings.ClassFor(pt.Elem()); ok {
					return fmt.Errorf("parameter %d is foreign-typed and needs a declared shared or exclusive kind", p+1)
				}
			}
		}
	}

	switch ft.NumOut() {
	case 0, 1:
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("handler's second return must be error, got %s", ft.Out(1))
		}
	default:
		return fmt.Errorf("handler returns %d values; at most (value, error)", ft.NumOut())
	}
	return nil
}
