package foreign

import (
	"reflect"
	"strings"
)

// ClassKey identifies a foreign class binding: one host type exposed to
// scripts under a class name in a module.
type ClassKey struct {
	Module string
	Class  string
}

func (k ClassKey) String() string {
	return k.Module + "." + k.Class
}

// MethodKey identifies a foreign method binding. Signature is the full
// arity-qualified form the engine reports at bind time, e.g. "move(_,_)",
// "count" for a getter or "[_]=(_)" for an index setter. Static methods and
// instance methods with the same signature are distinct bindings.
type MethodKey struct {
	Module    string
	Class     string
	Signature string
	Static    bool
}

func (k MethodKey) String() string {
	sep := "."
	if k.Static {
		sep = ".static "
	}
	return k.Module + "." + k.Class + sep + k.Signature
}

// ParamKind declares how one parameter crosses the boundary. Scripts give no
// alias-safety guarantees, so foreign-typed parameters must state the borrow
// mode they need up front; it is never inferred from the handler signature.
type ParamKind uint8

const (
	// ParamValue marshals the argument by value (number, string, bool,
	// list, null).
	ParamValue ParamKind = iota
	// ParamShared passes a foreign-typed argument under a shared borrow.
	ParamShared
	// ParamExclusive passes a foreign-typed argument under an exclusive
	// borrow.
	ParamExclusive
)

func (k ParamKind) String() string {
	switch k {
	case ParamShared:
		return "shared"
	case ParamExclusive:
		return "exclusive"
	default:
		return "value"
	}
}

// Class is one foreign class binding.
type Class struct {
	Key ClassKey

	// Type is the host type backing instances, without pointer.
	Type reflect.Type

	// Allocate constructs host storage when a script instantiates the
	// class: func(args...) *T or func(args...) (*T, error). Constructor
	// arguments are marshalled by the dispatcher like method arguments.
	Allocate any

	// Finalize, optional, is func(*T); it runs when the engine's garbage
	// collector reclaims an instance. It must not call into the VM.
	Finalize any
}

// Method is one foreign method binding.
type Method struct {
	Signature string
	Static    bool

	// Arity is the argument count encoded in the signature.
	Arity int

	// Receiver is the borrow mode for slot 0 on instance methods.
	// The dispatcher treats the zero value as ParamExclusive: a method
	// that only reads its receiver opts into ParamShared explicitly.
	Receiver ParamKind

	// Params holds the declared kind of each parameter. Nil means all
	// parameters marshal by value. Must have Arity entries otherwise.
	Params []ParamKind

	// Handler is the host callable, invoked by reflection. Instance
	// method handlers take the receiver pointer first; any handler may
	// take a *vm.Context before that for reentrant calls.
	Handler any
}

// Kind reports the declared kind of parameter i.
func (m *Method) Kind(i int) ParamKind {
	if i < 0 || i >= len(m.Params) {
		return ParamValue
	}
	return m.Params[i]
}

// ReceiverKind reports the borrow mode for the receiver cell.
func (m *Method) ReceiverKind() ParamKind {
	if m.Receiver == ParamShared {
		return ParamShared
	}
	return ParamExclusive
}

// Arity counts the arguments encoded in a method signature. Each "_" inside
// a parameter list stands for one argument, covering plain calls "move(_,_)",
// setters "count=(_)", subscripts "[_]", subscript setters "[_]=(_)" and
// operators "+(_)". Underscores in the name itself ("is_empty", "fill_to(_)")
// are not parameters; a bare getter name has arity 0.
func Arity(signature string) int {
	n := 0
	if strings.HasPrefix(signature, "[") {
		end := strings.IndexByte(signature, ']')
		if end < 0 {
			return 0
		}
		n += strings.Count(signature[:end], "_")
		signature = signature[end+1:]
	}
	open := strings.IndexByte(signature, '(')
	if open < 0 {
		return n
	}
	if end := strings.LastIndexByte(signature, ')'); end > open {
		n += strings.Count(signature[open:end], "_")
	}
	return n
}
