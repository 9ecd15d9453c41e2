package engine

// Result is the outcome of running script code in the engine, either via
// Interpret or via a method call handle.
type Result uint8

const (
	ResultSuccess Result = iota
	ResultCompileError
	ResultRuntimeError
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultCompileError:
		return "compile_error"
	case ResultRuntimeError:
		return "runtime_error"
	default:
		return "unknown"
	}
}

// Type is the tag the engine reports for a slot's value.
type Type uint8

const (
	TypeBool Type = iota
	TypeNumber
	TypeForeign
	TypeList
	TypeMap
	TypeNull
	TypeString
	// TypeUnknown covers values with no embedding API accessor,
	// such as class objects, fibers and closures.
	TypeUnknown
)

func (t Type) String() string {
	switch t {
	case TypeBool:
		return "Bool"
	case TypeNumber:
		return "Number"
	case TypeForeign:
		return "Foreign"
	case TypeList:
		return "List"
	case TypeMap:
		return "Map"
	case TypeNull:
		return "Null"
	case TypeString:
		return "String"
	default:
		return "Unknown"
	}
}

// Handle is an opaque reference to an engine-resident value that outlives a
// single call. The engine reference-counts the target; every handle must be
// released exactly once. Handle 0 is always invalid.
type Handle uint64

// DiagnosticKind distinguishes messages arriving through the error callback.
type DiagnosticKind uint8

const (
	DiagCompile DiagnosticKind = iota
	DiagRuntime
	DiagStackTrace
)

// Diagnostic is one message from the engine's error callback. Compile
// diagnostics carry module and line; runtime diagnostics carry only the
// message; stack trace diagnostics follow a runtime diagnostic, one per
// frame, with Message holding the function name.
type Diagnostic struct {
	Kind    DiagnosticKind
	Module  string
	Message string
	Line    int
}
