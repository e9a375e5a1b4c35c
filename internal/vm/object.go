package vm

import (
	"fmt"

	"vela/internal/bytecode"
	"vela/internal/value"
)

// ObjString is an immutable interned byte sequence with a precomputed
// FNV-1a hash.
type ObjString struct {
	value.Header
	Chars string
	Hash  uint32
}

func (s *ObjString) String() string { return s.Chars }

// FNV1a32 computes the 32-bit FNV-1a hash used for both ObjString and
// the hash table.
func FNV1a32(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// ObjUpvalueDesc describes one capture performed by OP_CLOSURE: either
// "capture the enclosing function's local slot Index" (IsLocal) or
// "capture the enclosing function's upvalue Index".
type ObjUpvalueDesc struct {
	Index   byte
	IsLocal bool
}

// ObjFunction is a fixed-arity function: its own owned Chunk, an
// optional interned name, and its upvalue count. The compiler writes
// the capture descriptors as OP_CLOSURE operands in the enclosing
// chunk; it does not fill Upvalues.
type ObjFunction struct {
	value.Header
	Name         *ObjString
	Arity        int
	UpvalueCount int
	Chunk        *bytecode.Chunk
	Upvalues     []ObjUpvalueDesc
}

func (f *ObjFunction) String() string {
	if f.Name == nil {
		return "<script>"
	}
	return fmt.Sprintf("<fn %s>", f.Name.Chars)
}

// NativeFn is a host-callable function: it receives the argument slice
// and returns a Value (or an error for the VM to convert into a
// runtime error). Natives must not allocate from the managed heap
// without rooting their temporaries.
type NativeFn func(args []value.Value) (value.Value, error)

type ObjNative struct {
	value.Header
	Name string
	Fn   NativeFn
}

func (n *ObjNative) String() string { return fmt.Sprintf("<native fn %s>", n.Name) }

// ObjUpvalue captures one logical variable. While open, Location
// points into the VM's value stack; once closed, the value has been
// moved into the upvalue's own Closed slot and Location redirected
// there.
type ObjUpvalue struct {
	value.Header
	Location  *value.Value
	Closed    value.Value
	NextOpen  *ObjUpvalue // open-upvalue list link, sorted by descending stack address
	slotIndex int         // stack slot this upvalue watches while open
}

func (u *ObjUpvalue) String() string { return "<upvalue>" }

func (u *ObjUpvalue) IsOpen() bool { return u.Location != &u.Closed }

// ObjClosure pairs an ObjFunction with the upvalues captured for this
// particular instantiation. The function is shared across every
// closure built from the same definition.
type ObjClosure struct {
	value.Header
	Function *ObjFunction
	Upvalues []*ObjUpvalue
}

func (c *ObjClosure) String() string { return c.Function.String() }

// ObjClass is an interned name plus a method table. Methods are
// stored in the same open-addressed Table used for globals and
// instance fields, so INHERIT exercises the same hash table as
// everything else.
type ObjClass struct {
	value.Header
	Name    *ObjString
	Methods *Table
}

func (c *ObjClass) String() string { return fmt.Sprintf("<class %s>", c.Name.Chars) }

// ObjInstance is a reference to its class plus a field table.
type ObjInstance struct {
	value.Header
	Class  *ObjClass
	Fields *Table
}

func (i *ObjInstance) String() string { return fmt.Sprintf("<%s instance>", i.Class.Name.Chars) }

// ObjBoundMethod is a receiver paired with a closure; calling it binds
// the receiver into slot 0 of the callee.
type ObjBoundMethod struct {
	value.Header
	Receiver value.Value
	Method   *ObjClosure
}

func (b *ObjBoundMethod) String() string { return b.Method.String() }
