package foreign

import (
	"fmt"
	"reflect"

	"github.com/wrenhost/wrenhost/errors"
)

// State tracks where a cell is in the engine-governed lifecycle. Host
// storage exists from allocation until the engine's garbage collector runs
// the finalizer; there is no engine notification between the allocator
// returning and the script-side construct initializer completing, so the
// two are collapsed into StateLive.
type State uint8

const (
	StateLive State = iota
	StateFinalized
)

// Cell wraps one host-allocated instance the engine has taken ownership of.
// The engine can present the same instance through several argument slots in
// a single call ("obj.interact(obj)"), which no compile-time check can rule
// out, so the cell enforces shared/exclusive access discipline at runtime:
// any number of shared borrows, or exactly one exclusive borrow, never both.
//
// A failed borrow is reported immediately, never waited on. Guards must all
// be released before the call returns to the engine; the dispatcher does
// this so the state is fully reset before the next foreign call on the
// instance, including reentrant calls during nested execution.
type Cell struct {
	class *Class
	ptr   any // *T host storage
	// borrows is the runtime borrow state: 0 unborrowed, n>0 shared
	// borrows outstanding, -1 exclusively borrowed.
	borrows int
	state   State
}

// NewCell wraps host storage for the given class binding. ptr must be a
// pointer to the class's host type.
func NewCell(class *Class, ptr any) *Cell {
	return &Cell{class: class, ptr: ptr}
}

// Class returns the class binding this cell belongs to.
func (c *Cell) Class() *Class {
	return c.class
}

// Live reports whether the host storage still exists.
func (c *Cell) Live() bool {
	return c.state == StateLive
}

// Borrow acquires shared access. Fails if an exclusive borrow is
// outstanding or the instance was finalized.
func (c *Cell) Borrow() (*Guard, error) {
	if c.state == StateFinalized {
		return nil, errors.Finalized(c.class.Key.String())
	}
	if c.borrows < 0 {
		return nil, errors.Borrow(c.class.Key.String(),
			"exclusive borrow outstanding; was the instance passed as an argument to its own method?")
	}
	c.borrows++
	return &Guard{cell: c}, nil
}

// BorrowMut acquires exclusive access. Fails if any borrow is outstanding
// or the instance was finalized. Upgrading a shared borrow is not
// supported.
func (c *Cell) BorrowMut() (*Guard, error) {
	if c.state == StateFinalized {
		return nil, errors.Finalized(c.class.Key.String())
	}
	if c.borrows != 0 {
		return nil, errors.Borrow(c.class.Key.String(),
			fmt.Sprintf("%d borrow(s) outstanding; was the instance passed as an argument to its own method?", abs(c.borrows)))
	}
	c.borrows = -1
	return &Guard{cell: c, exclusive: true}, nil
}

// Finalize runs the class finalizer and drops the host storage. Called by
// the engine's garbage collector through the class binding; any later
// borrow fails. Safe to call more than once.
func (c *Cell) Finalize() {
	if c.state == StateFinalized {
		return
	}
	c.state = StateFinalized
	if c.class.Finalize != nil {
		reflect.ValueOf(c.class.Finalize).Call([]reflect.Value{reflect.ValueOf(c.ptr)})
	}
	c.ptr = nil
	c.borrows = 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Guard is an outstanding borrow on a cell. Release returns the borrow;
// releasing twice is a no-op.
type Guard struct {
	cell      *Cell
	exclusive bool
	released  bool
}

// Value returns the host storage pointer (*T).
func (g *Guard) Value() any {
	return g.cell.ptr
}

// Exclusive reports whether this guard holds exclusive access.
func (g *Guard) Exclusive() bool {
	return g.exclusive
}

// Release returns the borrow to the cell.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	if g.exclusive {
		g.cell.borrows = 0
	} else if g.cell.borrows > 0 {
		g.cell.borrows--
	}
}
