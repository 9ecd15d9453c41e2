package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := TypeMismatch(PhaseMarshal, 2, "Number", "String")
	got := err.Error()

	for _, want := range []string{"[marshal]", "type_mismatch", "expected Number", "got String", "slot 2"} {
		if !strings.Contains(got, want) {
			t.Fatalf("error %q missing %q", got, want)
		}
	}
}

func TestErrorIsMatchesPhaseAndKind(t *testing.T) {
	err := OutOfRange(PhaseMarshal, 7, 3)

	if !stderrors.Is(err, &Error{Phase: PhaseMarshal, Kind: KindOutOfRange}) {
		t.Fatal("expected match on same phase and kind")
	}
	if stderrors.Is(err, &Error{Phase: PhaseDispatch, Kind: KindOutOfRange}) {
		t.Fatal("unexpected match across phases")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("root cause")
	err := Wrap(PhaseTeardown, KindInvalidInput, cause, "close engine")

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if !strings.Contains(err.Error(), "root cause") {
		t.Fatalf("error %q missing cause text", err.Error())
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseDispatch, KindBorrow).
		Slot(1).
		Expected("unborrowed").
		Actual("exclusive").
		Detail("receiver of %s", "eat(_)").
		Build()

	if err.Phase != PhaseDispatch || err.Kind != KindBorrow {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.Slot != 1 || err.Detail != "receiver of eat(_)" {
		t.Fatalf("unexpected fields: slot=%d detail=%q", err.Slot, err.Detail)
	}
}

func TestArityMismatchMessage(t *testing.T) {
	err := ArityMismatch("move(_,_)", 2, 1)
	if !strings.Contains(err.Error(), "move(_,_) takes 2 argument(s), got 1") {
		t.Fatalf("unexpected message: %q", err.Error())
	}
}

func TestCompileErrorFormat(t *testing.T) {
	err := &CompileError{Diagnostics: []CompileDiagnostic{
		{Module: "main", Line: 3, Message: "Expected expression."},
		{Module: "main", Line: 9, Message: "Variable 'x' is already defined."},
	}}

	got := err.Error()
	if !strings.Contains(got, "[main line 3] [Error] Expected expression.") {
		t.Fatalf("unexpected format: %q", got)
	}
	if !strings.Contains(got, "[main line 9]") {
		t.Fatalf("missing second diagnostic: %q", got)
	}
	if !stderrors.Is(err, &CompileError{}) {
		t.Fatal("expected Is to match on type")
	}
}

func TestRuntimeAbortFormat(t *testing.T) {
	cause := stderrors.New("file not found")
	err := &RuntimeAbort{
		Message: "boom",
		Stack: []StackFrame{
			{Module: "(foreign)", Function: "(method)", Line: 1, Foreign: true},
			{Module: "main", Function: "update(_)", Line: 12},
		},
		Cause: cause,
	}

	got := err.Error()
	if !strings.Contains(got, "[Runtime Error] boom") {
		t.Fatalf("unexpected format: %q", got)
	}
	if !strings.Contains(got, "[*(foreign) line 1]") {
		t.Fatalf("missing foreign frame marker: %q", got)
	}
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to unwrap")
	}
}
