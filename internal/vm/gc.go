package vm

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/dustin/go-humanize"

	"vela/internal/bytecode"
	"vela/internal/value"
)

// gcHeapGrowFactor is the heap-growth heuristic's multiplier:
// nextGC = bytesAllocated * factor.
const gcHeapGrowFactor = 2

// gc holds every piece of mark-and-sweep state the VM coordinates
// with the compiler. It is embedded in VM rather than split into its
// own package because every root it walks (value stack, frames, open
// upvalues, globals, and — mid-compile — the compiler's function
// stack) lives on VM or is handed to VM by the compiler; splitting it
// out would just mean passing all of that back in through an equally
// large parameter list.
type gc struct {
	objects value.Obj // head of the all-objects list
	gray    []value.Obj

	bytesAllocated uintptr
	nextGC         uintptr

	stressGC bool
	traceGC  bool

	// compilerRoots lets the currently-running compiler register its
	// in-progress ObjFunctions as roots, since a GC can run mid-compile
	// (e.g. while interning a string constant) before those functions
	// are reachable from any chunk yet.
	compilerRoots func() []*ObjFunction
}

func newGC() gc {
	return gc{nextGC: 1 << 20, traceGC: os.Getenv("VELA_TRACE_GC") != ""}
}

// SetCompilerRoots is called by the compiler before compiling and
// cleared (nil) afterward.
func (vm *VM) SetCompilerRoots(fn func() []*ObjFunction) {
	vm.compilerRoots = fn
}

func (vm *VM) track(o value.Obj, size uintptr) {
	vm.bytesAllocated += size
	if vm.stressGC || vm.bytesAllocated > vm.nextGC {
		vm.CollectGarbage()
	}
	o.Header().Next = vm.objects
	vm.objects = o
}

func (vm *VM) AllocateString(chars string) *ObjString {
	s := &ObjString{Header: value.NewHeader(value.ObjString), Chars: chars, Hash: FNV1a32(chars)}
	vm.track(s, unsafe.Sizeof(*s))
	return s
}

func (vm *VM) AllocateFunction() *ObjFunction {
	f := &ObjFunction{Header: value.NewHeader(value.ObjFunction), Chunk: bytecode.NewChunk()}
	vm.track(f, unsafe.Sizeof(*f))
	return f
}

func (vm *VM) AllocateNative(name string, fn NativeFn) *ObjNative {
	n := &ObjNative{Header: value.NewHeader(value.ObjNative), Name: name, Fn: fn}
	vm.track(n, unsafe.Sizeof(*n))
	return n
}

func (vm *VM) AllocateUpvalue(slot *value.Value) *ObjUpvalue {
	u := &ObjUpvalue{Header: value.NewHeader(value.ObjUpvalue), Location: slot}
	vm.track(u, unsafe.Sizeof(*u))
	return u
}

func (vm *VM) AllocateClosure(fn *ObjFunction) *ObjClosure {
	c := &ObjClosure{
		Header:   value.NewHeader(value.ObjClosure),
		Function: fn,
		Upvalues: make([]*ObjUpvalue, fn.UpvalueCount),
	}
	vm.track(c, unsafe.Sizeof(*c))
	return c
}

func (vm *VM) AllocateClass(name *ObjString) *ObjClass {
	c := &ObjClass{Header: value.NewHeader(value.ObjClass), Name: name, Methods: NewTable()}
	vm.track(c, unsafe.Sizeof(*c))
	return c
}

func (vm *VM) AllocateInstance(class *ObjClass) *ObjInstance {
	i := &ObjInstance{Header: value.NewHeader(value.ObjInstance), Class: class, Fields: NewTable()}
	vm.track(i, unsafe.Sizeof(*i))
	return i
}

func (vm *VM) AllocateBoundMethod(receiver value.Value, method *ObjClosure) *ObjBoundMethod {
	b := &ObjBoundMethod{Header: value.NewHeader(value.ObjBoundMethod), Receiver: receiver, Method: method}
	vm.track(b, unsafe.Sizeof(*b))
	return b
}

// CopyString interns chars, duplicating it onto the heap only on a
// miss. Go strings are themselves immutable value types, so
// "duplicating onto the heap" and "taking ownership of an existing
// buffer" collapse to the same operation here; TakeString is kept as
// a distinct entry point purely to mark call sites (e.g. string
// concatenation) that logically take ownership of their operand.
func (vm *VM) CopyString(chars string) *ObjString {
	hash := FNV1a32(chars)
	if existing := vm.strings.find(chars, hash); existing != nil {
		return existing
	}
	s := vm.AllocateString(chars)
	vm.strings.register(s)
	return s
}

func (vm *VM) TakeString(chars string) *ObjString {
	return vm.CopyString(chars)
}

// CollectGarbage runs one full mark-trace-sweep cycle.
func (vm *VM) CollectGarbage() {
	before := vm.bytesAllocated
	vm.markRoots()
	vm.traceReferences()
	vm.strings.removeUnmarked()
	vm.sweep()
	vm.nextGC = vm.bytesAllocated * gcHeapGrowFactor
	if vm.traceGC {
		fmt.Fprintf(os.Stderr, "gc: %s -> %s, next at %s\n",
			humanize.Bytes(uint64(before)), humanize.Bytes(uint64(vm.bytesAllocated)), humanize.Bytes(uint64(vm.nextGC)))
	}
}

// markRoots marks every GC root: the live stack slots, every call
// frame's closure, every open upvalue, the globals table, and
// (mid-compile only) the compiler's function stack.
func (vm *VM) markRoots() {
	for i := 0; i < vm.stackTop; i++ {
		vm.markValue(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		vm.markObject(vm.frames[i].closure)
	}
	for u := vm.openUpvalues; u != nil; u = u.NextOpen {
		vm.markObject(u)
	}
	vm.markTable(vm.globals)
	vm.markObject(vm.initString)
	if vm.compilerRoots != nil {
		for _, fn := range vm.compilerRoots() {
			vm.markObject(fn)
		}
	}
}

func (vm *VM) markValue(v value.Value) {
	if v.IsObj() {
		vm.markObject(v.AsObj())
	}
}

func (vm *VM) markObject(o value.Obj) {
	if o == nil {
		return
	}
	h := o.Header()
	if h.Marked {
		return
	}
	h.Marked = true
	vm.gray = append(vm.gray, o)
}

func (vm *VM) markTable(t *Table) {
	for k, v := range t.Entries() {
		vm.markObject(k)
		vm.markValue(v)
	}
}

// traceReferences drains the gray worklist, blackening each object by
// marking everything it references.
func (vm *VM) traceReferences() {
	for len(vm.gray) > 0 {
		n := len(vm.gray) - 1
		obj := vm.gray[n]
		vm.gray = vm.gray[:n]
		vm.blacken(obj)
	}
}

func (vm *VM) blacken(o value.Obj) {
	switch obj := o.(type) {
	case *ObjString, *ObjNative:
		// leaves
	case *ObjUpvalue:
		vm.markValue(obj.Closed)
	case *ObjFunction:
		vm.markObject(obj.Name)
		for _, c := range obj.Chunk.Constants {
			vm.markValue(c)
		}
	case *ObjClosure:
		vm.markObject(obj.Function)
		for _, u := range obj.Upvalues {
			vm.markObject(u)
		}
	case *ObjClass:
		vm.markObject(obj.Name)
		vm.markTable(obj.Methods)
	case *ObjInstance:
		vm.markObject(obj.Class)
		vm.markTable(obj.Fields)
	case *ObjBoundMethod:
		vm.markValue(obj.Receiver)
		vm.markObject(obj.Method)
	}
}

// sweep walks the all-objects list, unlinking any object still
// unmarked and clearing marks on survivors. Go's own GC reclaims the
// memory once nothing references the dropped object; this list is
// the one true liveness record.
func (vm *VM) sweep() {
	var prev value.Obj
	obj := vm.objects
	for obj != nil {
		h := obj.Header()
		if h.Marked {
			h.Marked = false
			prev = obj
			obj = h.Next
			continue
		}
		unreached := obj
		obj = h.Next
		if prev != nil {
			prev.Header().Next = obj
		} else {
			vm.objects = obj
		}
		vm.bytesAllocated -= objectSize(unreached)
	}
}

// objectSize returns the byte size track() charged when o was
// allocated, so sweep can give it back.
func objectSize(o value.Obj) uintptr {
	switch v := o.(type) {
	case *ObjString:
		return unsafe.Sizeof(*v)
	case *ObjFunction:
		return unsafe.Sizeof(*v)
	case *ObjNative:
		return unsafe.Sizeof(*v)
	case *ObjUpvalue:
		return unsafe.Sizeof(*v)
	case *ObjClosure:
		return unsafe.Sizeof(*v)
	case *ObjClass:
		return unsafe.Sizeof(*v)
	case *ObjInstance:
		return unsafe.Sizeof(*v)
	case *ObjBoundMethod:
		return unsafe.Sizeof(*v)
	default:
		return 0
	}
}
