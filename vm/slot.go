package vm

import (
	"fmt"
	"math"
	"reflect"

	"github.com/wrenhost/wrenhost/engine"
	"github.com/wrenhost/wrenhost/errors"
	"github.com/wrenhost/wrenhost/foreign"
)

// Typed slot accessors. Every read verifies the slot is inside the current
// array and carries the expected type tag before the engine is touched;
// every write verifies the bounds. The engine itself checks nothing.

// GetBool reads a boolean from a slot.
func (c *Context) GetBool(slot int) (bool, error) {
	if err := c.verify(slot, engine.TypeBool); err != nil {
		return false, err
	}
	return c.eng.GetBool(slot), nil
}

// GetFloat64 reads a number from a slot. Numbers are always doubles on the
// engine side.
func (c *Context) GetFloat64(slot int) (float64, error) {
	if err := c.verify(slot, engine.TypeNumber); err != nil {
		return 0, err
	}
	return c.eng.GetDouble(slot), nil
}

// GetInt reads a number from a slot and truncates it to an int. Fails if the
// value has a fractional part or does not fit.
func (c *Context) GetInt(slot int) (int, error) {
	f, err := c.GetFloat64(slot)
	if err != nil {
		return 0, err
	}
	// float64(MaxInt64) rounds up to 1<<63, which no int64 holds.
	if f != math.Trunc(f) || f < math.MinInt64 || f >= 1<<63 {
		return 0, errors.TypeMismatch(errors.PhaseMarshal, slot, "integer", fmt.Sprintf("number %v", f))
	}
	return int(f), nil
}

// GetString reads a string from a slot. The bytes are copied out of engine
// storage, so the result stays valid after the scope ends.
func (c *Context) GetString(slot int) (string, error) {
	if err := c.verify(slot, engine.TypeString); err != nil {
		return "", err
	}
	return c.eng.GetString(slot), nil
}

// GetForeign reads a foreign instance from a slot and returns its cell. The
// caller borrows the cell to reach the host storage.
func (c *Context) GetForeign(slot int) (*foreign.Cell, error) {
	if err := c.verify(slot, engine.TypeForeign); err != nil {
		return nil, err
	}
	cell, ok := c.eng.GetForeign(slot).(*foreign.Cell)
	if !ok {
		return nil, errors.ForeignType(slot, "host-bound foreign instance", "foreign instance from another binding layer")
	}
	return cell, nil
}

// GetHandle captures the value in a slot behind a handle, whatever its type.
// The handle is scoped to this context unless promoted.
func (c *Context) GetHandle(slot int) (*Handle, error) {
	if err := c.checkSlot(slot); err != nil {
		return nil, err
	}
	raw := c.eng.GetHandle(slot)
	if raw == 0 {
		return nil, errors.NullHandle(errors.PhaseMarshal, "engine returned no handle for slot %d", slot)
	}
	return c.newHandle(raw), nil
}

// GetSlice reads a list from a slot into a []any, recursively decoding
// nested lists. A scratch slot past the current array is used for element
// traffic.
func (c *Context) GetSlice(slot int) ([]any, error) {
	if err := c.verify(slot, engine.TypeList); err != nil {
		return nil, err
	}

	count := c.eng.GetListCount(slot)
	scratch := c.eng.SlotCount()
	c.eng.EnsureSlots(scratch + 1)

	out := make([]any, count)
	for i := 0; i < count; i++ {
		c.eng.GetListElement(slot, i, scratch)
		v, err := c.Get(scratch)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseMarshal, errors.KindTypeMismatch, err, "list element %d", i)
		}
		out[i] = v
	}
	return out, nil
}

// Get reads a slot generically: null becomes nil, numbers float64, lists
// []any, foreign instances their *foreign.Cell, and anything without a host
// representation (maps, fibers, class objects) a scoped handle.
func (c *Context) Get(slot int) (any, error) {
	if err := c.checkSlot(slot); err != nil {
		return nil, err
	}
	switch c.eng.SlotType(slot) {
	case engine.TypeNull:
		return nil, nil
	case engine.TypeBool:
		return c.eng.GetBool(slot), nil
	case engine.TypeNumber:
		return c.eng.GetDouble(slot), nil
	case engine.TypeString:
		return c.eng.GetString(slot), nil
	case engine.TypeList:
		return c.GetSlice(slot)
	case engine.TypeForeign:
		return c.GetForeign(slot)
	default:
		return c.GetHandle(slot)
	}
}

// SetNull writes null into a slot.
func (c *Context) SetNull(slot int) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	c.eng.SetNull(slot)
	return nil
}

// SetBool writes a boolean into a slot.
func (c *Context) SetBool(slot int, v bool) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	c.eng.SetBool(slot, v)
	return nil
}

// SetFloat64 writes a number into a slot.
func (c *Context) SetFloat64(slot int, v float64) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	c.eng.SetDouble(slot, v)
	return nil
}

// SetString writes a string into a slot. The engine copies the bytes.
func (c *Context) SetString(slot int, v string) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	c.eng.SetString(slot, v)
	return nil
}

// SetHandle writes the value captured by a handle into a slot.
func (c *Context) SetHandle(slot int, h *Handle) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}
	if err := h.valid(); err != nil {
		return err
	}
	c.eng.SetHandle(slot, h.raw)
	return nil
}

// SetSlice writes a []any into a slot as a new list.
func (c *Context) SetSlice(slot int, items []any) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}

	c.eng.SetNewList(slot)
	scratch := c.eng.SlotCount()
	c.eng.EnsureSlots(scratch + 1)
	for i, item := range items {
		if err := c.Set(scratch, item); err != nil {
			return errors.Wrap(errors.PhaseMarshal, errors.KindTypeMismatch, err, "list element %d", i)
		}
		c.eng.InsertInList(slot, -1, scratch)
	}
	return nil
}

// Set writes a Go value into a slot generically. Numbers of any width become
// doubles, slices become lists, handles re-set their captured value, and a
// pointer whose element type is registered as a foreign class transfers
// ownership of the value to the engine: the instance appears script-side as
// if the class had allocated it, except that the script initializer body
// does not run.
//
// Each pointer transfer mints a fresh cell, so writing a pointer the engine
// already wraps — a handler returning its own receiver, say — creates a
// second instance over the same storage with its own borrow state and its
// own script identity. Write the *foreign.Cell instead to keep the existing
// instance.
func (c *Context) Set(slot int, v any) error {
	if err := c.checkSlot(slot); err != nil {
		return err
	}

	switch val := v.(type) {
	case nil:
		c.eng.SetNull(slot)
		return nil
	case bool:
		c.eng.SetBool(slot, val)
		return nil
	case int:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case int8:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case int16:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case int32:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case int64:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case uint:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case uint8:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case uint16:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case uint32:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case uint64:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case float32:
		c.eng.SetDouble(slot, float64(val))
		return nil
	case float64:
		c.eng.SetDouble(slot, val)
		return nil
	case string:
		c.eng.SetString(slot, val)
		return nil
	case []any:
		return c.SetSlice(slot, val)
	case *Handle:
		return c.SetHandle(slot, val)
	case *List:
		return c.SetHandle(slot, val.handle)
	case *foreign.Cell:
		return c.setCell(slot, val)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if cls, ok := c.vm.bindings.ClassFor(rv.Type().Elem()); ok {
			return c.transferForeign(slot, cls, v)
		}
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return c.SetSlice(slot, items)
	}
	return errors.TypeMismatch(errors.PhaseMarshal, slot, "marshallable value", rv.Type().String())
}

// setCell re-presents an existing foreign instance. The cell's engine-side
// object is recovered by allocating a fresh foreign wrapper around the same
// cell; borrow state carries over because the cell is shared.
func (c *Context) setCell(slot int, cell *foreign.Cell) error {
	if !cell.Live() {
		return errors.Finalized(cell.Class().Key.String())
	}
	return c.wrapForeign(slot, cell.Class(), cell)
}

// transferForeign hands a host-constructed value to the engine under its
// registered class. The script-side initializer does not run on this path,
// and the new cell does not share borrow state with any earlier cell over
// the same pointer.
func (c *Context) transferForeign(slot int, cls *foreign.Class, ptr any) error {
	return c.wrapForeign(slot, cls, foreign.NewCell(cls, ptr))
}

// wrapForeign asks the engine for new foreign storage of cls carrying cell
// as its payload. The class object is fetched into a scratch slot.
func (c *Context) wrapForeign(slot int, cls *foreign.Class, cell *foreign.Cell) error {
	if !c.eng.HasModule(cls.Key.Module) || !c.eng.HasVariable(cls.Key.Module, cls.Key.Class) {
		return errors.NotFound(errors.PhaseMarshal,
			"class %s is not declared script-side; interpret its module first", cls.Key)
	}

	scratch := c.eng.SlotCount()
	c.eng.EnsureSlots(scratch + 1)
	c.eng.GetVariable(cls.Key.Module, cls.Key.Class, scratch)
	c.eng.SetNewForeign(slot, scratch, cell)
	return nil
}
