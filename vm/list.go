package vm

import (
	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
)

// List is a handle-backed view of a script-side list. Unlike GetSlice it
// does not copy: elements are read and written in place, so growth and
// mutation are visible to scripts holding the same list. Operations use
// slots 0 and 1 as staging and overwrite whatever was there.
//
// The view is only as alive as its handle; it goes inert with the scope
// unless the handle is promoted and re-bound.
type List struct {
	handle *Handle
}

// NewList creates an empty script-side list in slot 0 and returns a view of
// it.
func NewList(ctx *Context) (*List, error) {
	if err := ctx.valid(); err != nil {
		return nil, err
	}
	ctx.eng.EnsureSlots(1)
	ctx.eng.SetNewList(0)
	h, err := ctx.GetHandle(0)
	if err != nil {
		return nil, err
	}
	return &List{handle: h}, nil
}

// NewListFromSlice creates a script-side list populated from items.
func NewListFromSlice(ctx *Context, items []any) (*List, error) {
	l, err := NewList(ctx)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := l.Append(ctx, item); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// GetList reads a slot as a list view.
func (c *Context) GetList(slot int) (*List, error) {
	if err := c.verify(slot, engine.TypeList); err != nil {
		return nil, err
	}
	h, err := c.GetHandle(slot)
	if err != nil {
		return nil, err
	}
	return &List{handle: h}, nil
}

// Handle exposes the underlying handle, e.g. for promotion.
func (l *List) Handle() *Handle {
	return l.handle
}

// Len reports the element count.
func (l *List) Len(ctx *Context) (int, error) {
	n, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Get reads the element at index.
func (l *List) Get(ctx *Context, index int) (any, error) {
	if _, err := l.prepare(ctx, index); err != nil {
		return nil, err
	}
	ctx.eng.GetListElement(0, index, 1)
	return ctx.Get(1)
}

// Set overwrites the element at index.
func (l *List) Set(ctx *Context, index int, v any) error {
	if _, err := l.prepare(ctx, index); err != nil {
		return err
	}
	if err := ctx.Set(1, v); err != nil {
		return err
	}
	ctx.eng.SetListElement(0, index, 1)
	return nil
}

// Insert places v before index; negative indices count from the end, so -1
// appends.
func (l *List) Insert(ctx *Context, index int, v any) error {
	n, err := l.load(ctx)
	if err != nil {
		return err
	}
	// Insertion points range over one more position than element reads.
	if index > n || index < -(n+1) {
		return errors.OutOfRange(errors.PhaseMarshal, index, n+1)
	}
	if err := ctx.Set(1, v); err != nil {
		return err
	}
	ctx.eng.InsertInList(0, index, 1)
	return nil
}

// Append adds v at the end.
func (l *List) Append(ctx *Context, v any) error {
	return l.Insert(ctx, -1, v)
}

// ToSlice copies the whole list out as a []any.
func (l *List) ToSlice(ctx *Context) ([]any, error) {
	if _, err := l.load(ctx); err != nil {
		return nil, err
	}
	return ctx.GetSlice(0)
}

// load places the list into slot 0 with slot 1 as staging and returns the
// element count.
func (l *List) load(ctx *Context) (int, error) {
	if err := ctx.valid(); err != nil {
		return 0, err
	}
	if err := l.handle.valid(); err != nil {
		return 0, err
	}
	ctx.eng.EnsureSlots(2)
	ctx.eng.SetHandle(0, l.handle.raw)
	return ctx.eng.GetListCount(0), nil
}

// prepare loads the list and bounds-checks an element index. The engine does
// no range checking of its own.
func (l *List) prepare(ctx *Context, index int) (int, error) {
	n, err := l.load(ctx)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= n {
		return 0, errors.OutOfRange(errors.PhaseMarshal, index, n)
	}
	return n, nil
}
