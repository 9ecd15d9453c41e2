package foreign

import (
	"errors"
	"reflect"
	"testing"

	werrors "github.com/wrenhost/wrenhost/errors"
)

type beast struct {
	name string
}

func testClass(t *testing.T) *Class {
	t.Helper()
	return &Class{
		Key:  ClassKey{Module: "main", Class: "Beast"},
		Type: reflect.TypeOf(beast{}),
	}
}

func TestCellSharedBorrows(t *testing.T) {
	cell := NewCell(testClass(t), &beast{name: "grendel"})

	g1, err := cell.Borrow()
	if err != nil {
		t.Fatalf("first shared borrow: %v", err)
	}
	g2, err := cell.Borrow()
	if err != nil {
		t.Fatalf("second shared borrow: %v", err)
	}

	if g1.Value().(*beast).name != "grendel" {
		t.Fatal("borrowed value does not reach host storage")
	}

	g1.Release()
	g2.Release()

	if _, err := cell.BorrowMut(); err != nil {
		t.Fatalf("exclusive borrow after releases: %v", err)
	}
}

func TestCellExclusiveExcludesAll(t *testing.T) {
	cell := NewCell(testClass(t), &beast{})

	g, err := cell.BorrowMut()
	if err != nil {
		t.Fatalf("exclusive borrow: %v", err)
	}

	if _, err := cell.Borrow(); !errors.Is(err, &werrors.Error{Phase: werrors.PhaseDispatch, Kind: werrors.KindBorrow}) {
		t.Fatalf("shared under exclusive: got %v, want borrow error", err)
	}
	if _, err := cell.BorrowMut(); !errors.Is(err, &werrors.Error{Phase: werrors.PhaseDispatch, Kind: werrors.KindBorrow}) {
		t.Fatalf("exclusive under exclusive: got %v, want borrow error", err)
	}

	g.Release()
	if _, err := cell.Borrow(); err != nil {
		t.Fatalf("shared after release: %v", err)
	}
}

func TestCellSharedExcludesExclusive(t *testing.T) {
	cell := NewCell(testClass(t), &beast{})

	g, err := cell.Borrow()
	if err != nil {
		t.Fatalf("shared borrow: %v", err)
	}
	defer g.Release()

	if _, err := cell.BorrowMut(); err == nil {
		t.Fatal("expected exclusive borrow under shared to fail")
	}
}

func TestCellDoubleReleaseIsNoop(t *testing.T) {
	cell := NewCell(testClass(t), &beast{})

	g, err := cell.Borrow()
	if err != nil {
		t.Fatalf("borrow: %v", err)
	}
	g.Release()
	g.Release()

	// A stale second release must not free someone else's borrow.
	g2, err := cell.Borrow()
	if err != nil {
		t.Fatalf("borrow after double release: %v", err)
	}
	g.Release()
	if _, err := cell.BorrowMut(); err == nil {
		t.Fatal("expected exclusive to fail while g2 outstanding")
	}
	g2.Release()
}

func TestCellFinalize(t *testing.T) {
	finalized := 0
	cls := testClass(t)
	cls.Finalize = func(b *beast) { finalized++ }

	cell := NewCell(cls, &beast{})
	cell.Finalize()
	cell.Finalize()

	if finalized != 1 {
		t.Fatalf("finalizer ran %d times, want 1", finalized)
	}
	if cell.Live() {
		t.Fatal("cell still live after finalize")
	}

	if _, err := cell.Borrow(); !errors.Is(err, &werrors.Error{Phase: werrors.PhaseDispatch, Kind: werrors.KindFinalized}) {
		t.Fatalf("borrow after finalize: got %v, want finalized error", err)
	}
	if _, err := cell.BorrowMut(); err == nil {
		t.Fatal("expected exclusive borrow after finalize to fail")
	}
}

func TestTwoCellsBorrowIndependently(t *testing.T) {
	cls := testClass(t)
	a := NewCell(cls, &beast{name: "a"})
	b := NewCell(cls, &beast{name: "b"})

	ga, err := a.BorrowMut()
	if err != nil {
		t.Fatalf("borrow a: %v", err)
	}
	gb, err := b.BorrowMut()
	if err != nil {
		t.Fatalf("borrow b while a held: %v", err)
	}
	ga.Release()
	gb.Release()
}
