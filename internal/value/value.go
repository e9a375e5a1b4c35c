// Package value defines the tagged Value union shared by the chunk,
// compiler and VM packages: Null, Bool, Number, or a reference to a
// heap object owned by the VM's tracing garbage collector. Values are
// always passed by value so arithmetic never boxes through an empty
// interface, and heap object lifetime is governed entirely by the
// VM's own collector rather than Go's.
package value

import "fmt"

// Kind discriminates the Value union.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindObj
)

// ObjKind discriminates the heap object variant referenced by a Value
// of KindObj.
type ObjKind uint8

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjNative
	ObjClosure
	ObjUpvalue
	ObjClass
	ObjInstance
	ObjBoundMethod
)

func (k ObjKind) String() string {
	switch k {
	case ObjString:
		return "string"
	case ObjFunction:
		return "function"
	case ObjNative:
		return "native"
	case ObjClosure:
		return "closure"
	case ObjUpvalue:
		return "upvalue"
	case ObjClass:
		return "class"
	case ObjInstance:
		return "instance"
	case ObjBoundMethod:
		return "bound method"
	default:
		return "object"
	}
}

// Obj is implemented by every heap-allocated object. Concrete object
// types live in internal/vm (ObjFunction needs *bytecode.Chunk, which
// would otherwise cycle back through this package). Header returns the
// shared {kind, isMarked, next} record the GC walks and marks.
type Obj interface {
	Header() *Header
	Kind() ObjKind
}

// Header is the common heap-object header: discriminant, GC mark bit,
// and the intrusive singly-linked "all objects" list pointer.
type Header struct {
	kind    ObjKind
	Marked  bool
	Next    Obj
}

func NewHeader(k ObjKind) Header { return Header{kind: k} }

func (h *Header) Header() *Header { return h }
func (h *Header) Kind() ObjKind   { return h.kind }

// Value is the interpreter's tagged union of runtime values.
type Value struct {
	kind Kind
	num  float64
	b    bool
	obj  Obj
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, num: n} }
func FromObj(o Obj) Value        { return Value{kind: KindObj, obj: o} }

func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObj() bool    { return v.kind == KindObj }

func (v Value) AsBool() bool     { return v.b }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsObj() Obj        { return v.obj }

func (v Value) ObjKind() (ObjKind, bool) {
	if v.kind != KindObj {
		return 0, false
	}
	return v.obj.Kind(), true
}

// IsFalsy implements the language's falsy rule: null and false are
// falsy, everything else (including 0 and "") is truthy.
func (v Value) IsFalsy() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return !v.b
	default:
		return false
	}
}

// Equal implements Value equality: same variant and equal payload;
// numbers compare via IEEE-754 `==`, objects (including strings) by
// reference identity — interning guarantees two equal-content strings
// share one heap instance, so pointer equality is content equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindObj:
		return a.obj == b.obj
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		return formatNumber(v.num)
	case KindObj:
		return fmt.Sprintf("%v", v.obj)
	default:
		return "?"
	}
}

func formatNumber(n float64) string {
	return fmt.Sprintf("%g", n)
}
