// Package vm implements the stack-based bytecode interpreter: the
// value stack and call-frame stack, the heap object model and
// garbage collector, the hash table and string intern table, and the
// opcode dispatch loop itself.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"vela/internal/bytecode"
	langerrors "vela/internal/errors"
	"vela/internal/value"
)

const (
	FramesMax = 64
	StackMax  = FramesMax * 256
)

// VM owns every piece of mutable interpreter state: the value stack,
// the call-frame stack, globals, the string intern table, the
// open-upvalue list, and the GC's bookkeeping.
type VM struct {
	stack    [StackMax]value.Value
	stackTop int

	frames     [FramesMax]CallFrame
	frameCount int

	globals      *Table
	strings      *InternTable
	openUpvalues *ObjUpvalue
	initString   *ObjString

	out io.Writer

	gc
}

func New() *VM {
	vm := &VM{
		globals: NewTable(),
		strings: NewInternTable(),
		out:     os.Stdout,
		gc:      newGC(),
	}
	vm.initString = vm.CopyString("init")
	return vm
}

// SetOutput redirects PRINT output; the REPL points it at its
// configured writer, and tests swap it for a buffer instead of
// os.Stdout.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

func (vm *VM) SetStressGC(on bool) { vm.stressGC = on }

func (vm *VM) resetStack() {
	vm.stackTop = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

func (vm *VM) push(v value.Value) {
	vm.stack[vm.stackTop] = v
	vm.stackTop++
}

func (vm *VM) pop() value.Value {
	vm.stackTop--
	return vm.stack[vm.stackTop]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.stackTop-1-distance]
}

// Execute wraps fn in a top-level closure, pushes it as frame 0, and
// runs the dispatch loop to completion.
func (vm *VM) Execute(fn *ObjFunction) error {
	vm.resetStack()
	closure := vm.AllocateClosure(fn)
	vm.push(value.FromObj(closure))
	if err := vm.call(closure, 0); err != nil {
		return err
	}
	return vm.run()
}

// Globals exposes the global table.
func (vm *VM) Globals() *Table { return vm.globals }

func (vm *VM) currentFrame() *CallFrame { return &vm.frames[vm.frameCount-1] }

func (vm *VM) readByte(f *CallFrame) byte {
	b := f.chunk().Code[f.ip]
	f.ip++
	return b
}

func (vm *VM) readShort(f *CallFrame) uint16 {
	hi := vm.readByte(f)
	lo := vm.readByte(f)
	return uint16(hi)<<8 | uint16(lo)
}

func (vm *VM) readConstant(f *CallFrame) value.Value {
	return f.chunk().Constants[vm.readByte(f)]
}

func (vm *VM) readString(f *CallFrame) *ObjString {
	v := vm.readConstant(f)
	s, _ := v.AsObj().(*ObjString)
	return s
}

// runtimeError builds a LangError carrying a backtrace, frame by
// frame from innermost to outermost.
func (vm *VM) runtimeError(format string, args ...any) error {
	err := langerrors.NewRuntimeError(fmt.Sprintf(format, args...))
	for i := vm.frameCount - 1; i >= 0; i-- {
		frame := &vm.frames[i]
		fn := frame.closure.Function
		line := frame.chunk().Line(frame.ip - 1)
		name := ""
		if fn.Name != nil {
			name = fn.Name.Chars
		}
		err = err.WithFrame(name, line)
	}
	vm.resetStack()
	return err
}

func (vm *VM) call(closure *ObjClosure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == FramesMax {
		return vm.runtimeError("Stack overflow.")
	}
	frame := &vm.frames[vm.frameCount]
	vm.frameCount++
	frame.closure = closure
	frame.ip = 0
	frame.slotsBase = vm.stackTop - argCount - 1
	return nil
}

func (vm *VM) callValue(callee value.Value, argCount int) error {
	if callee.IsObj() {
		switch obj := callee.AsObj().(type) {
		case *ObjClosure:
			return vm.call(obj, argCount)
		case *ObjNative:
			args := vm.stack[vm.stackTop-argCount : vm.stackTop]
			result, err := obj.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.stackTop -= argCount + 1
			vm.push(result)
			return nil
		case *ObjClass:
			instance := vm.AllocateInstance(obj)
			vm.stack[vm.stackTop-argCount-1] = value.FromObj(instance)
			if initializer, ok := obj.Methods.Get(vm.initString); ok {
				return vm.call(initializer.AsObj().(*ObjClosure), argCount)
			} else if argCount != 0 {
				return vm.runtimeError("Expected 0 arguments but got %d.", argCount)
			}
			return nil
		case *ObjBoundMethod:
			vm.stack[vm.stackTop-argCount-1] = obj.Receiver
			return vm.call(obj.Method, argCount)
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

func (vm *VM) invokeFromClass(class *ObjClass, name *ObjString, argCount int) error {
	method, ok := class.Methods.Get(name)
	if !ok {
		return vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	return vm.call(method.AsObj().(*ObjClosure), argCount)
}

func (vm *VM) invoke(name *ObjString, argCount int) error {
	receiver := vm.peek(argCount)
	instance, ok := receiver.AsObj().(*ObjInstance)
	if !ok {
		return vm.runtimeError("Only instances have methods.")
	}
	if field, ok := instance.Fields.Get(name); ok {
		vm.stack[vm.stackTop-argCount-1] = field
		return vm.callValue(field, argCount)
	}
	return vm.invokeFromClass(instance.Class, name, argCount)
}

func (vm *VM) bindMethod(class *ObjClass, name *ObjString) (*ObjBoundMethod, error) {
	method, ok := class.Methods.Get(name)
	if !ok {
		return nil, vm.runtimeError("Undefined property '%s'.", name.Chars)
	}
	receiver := vm.peek(0)
	return vm.AllocateBoundMethod(receiver, method.AsObj().(*ObjClosure)), nil
}

// captureUpvalue finds or creates an open upvalue pointing at
// stack[slotIndex], keeping vm.openUpvalues sorted by descending
// slot index so closeUpvalues can stop at the first survivor.
func (vm *VM) captureUpvalue(slotIndex int) *ObjUpvalue {
	var prev *ObjUpvalue
	up := vm.openUpvalues
	for up != nil && up.slotIndex > slotIndex {
		prev = up
		up = up.NextOpen
	}
	if up != nil && up.slotIndex == slotIndex {
		return up
	}
	created := vm.AllocateUpvalue(&vm.stack[slotIndex])
	created.slotIndex = slotIndex
	created.NextOpen = up
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues hoists every open upvalue at or above lastSlot onto
// its own Closed field, then unlinks it.
func (vm *VM) closeUpvalues(lastSlot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.slotIndex >= lastSlot {
		up := vm.openUpvalues
		up.Closed = *up.Location
		up.Location = &up.Closed
		vm.openUpvalues = up.NextOpen
	}
}

func (vm *VM) defineMethod(name *ObjString) {
	method := vm.peek(0)
	class := vm.peek(1).AsObj().(*ObjClass)
	class.Methods.Set(name, method)
	vm.pop()
}

func (vm *VM) concatenate() error {
	b := vm.peek(0)
	a := vm.peek(1)
	as, aok := a.AsObj().(*ObjString)
	bs, bok := b.AsObj().(*ObjString)
	if !aok || !bok {
		return vm.runtimeError("Operands must be two numbers or two strings.")
	}
	result := vm.TakeString(as.Chars + bs.Chars)
	vm.pop()
	vm.pop()
	vm.push(value.FromObj(result))
	return nil
}

func isNumber(v value.Value) bool { return v.IsNumber() }

func (vm *VM) binaryNumberOp(op byte) error {
	if !isNumber(vm.peek(0)) || !isNumber(vm.peek(1)) {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	switch op {
	case '+':
		vm.push(value.Number(a + b))
	case '-':
		vm.push(value.Number(a - b))
	case '*':
		vm.push(value.Number(a * b))
	case '/':
		vm.push(value.Number(a / b))
	case '<':
		vm.push(value.Bool(a < b))
	case '>':
		vm.push(value.Bool(a > b))
	}
	return nil
}

func (vm *VM) run() error {
	frame := vm.currentFrame()

	for {
		op := bytecode.OpCode(vm.readByte(frame))

		switch op {
		case bytecode.OpConstant:
			vm.push(vm.readConstant(frame))
		case bytecode.OpNull:
			vm.push(value.Null())
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()
		case bytecode.OpGetLocal:
			slot := vm.readByte(frame)
			vm.push(vm.stack[frame.slotsBase+int(slot)])
		case bytecode.OpSetLocal:
			slot := vm.readByte(frame)
			vm.stack[frame.slotsBase+int(slot)] = vm.peek(0)
		case bytecode.OpGetGlobal:
			name := vm.readString(frame)
			v, ok := vm.globals.Get(name)
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)
		case bytecode.OpDefineGlobal:
			name := vm.readString(frame)
			vm.globals.Set(name, vm.peek(0))
			vm.pop()
		case bytecode.OpSetGlobal:
			name := vm.readString(frame)
			if vm.globals.Set(name, vm.peek(0)) {
				vm.globals.Delete(name)
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
		case bytecode.OpGetUpvalue:
			slot := vm.readByte(frame)
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := vm.readByte(frame)
			*frame.closure.Upvalues[slot].Location = vm.peek(0)
		case bytecode.OpGetProperty:
			instance, ok := vm.peek(0).AsObj().(*ObjInstance)
			if !ok {
				return vm.runtimeError("Only instances have properties.")
			}
			name := vm.readString(frame)
			if v, ok := instance.Fields.Get(name); ok {
				vm.pop()
				vm.push(v)
				break
			}
			bound, err := vm.bindMethod(instance.Class, name)
			if err != nil {
				return err
			}
			vm.pop()
			vm.push(value.FromObj(bound))
		case bytecode.OpSetProperty:
			instance, ok := vm.peek(1).AsObj().(*ObjInstance)
			if !ok {
				return vm.runtimeError("Only instances have fields.")
			}
			name := vm.readString(frame)
			instance.Fields.Set(name, vm.peek(0))
			v := vm.pop()
			vm.pop()
			vm.push(v)
		case bytecode.OpGetSuper:
			name := vm.readString(frame)
			superclass := vm.pop().AsObj().(*ObjClass)
			bound, err := vm.bindMethod(superclass, name)
			if err != nil {
				return err
			}
			vm.pop()
			vm.push(value.FromObj(bound))
		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))
		case bytecode.OpGreater:
			if err := vm.binaryNumberOp('>'); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.binaryNumberOp('<'); err != nil {
				return err
			}
		case bytecode.OpAdd:
			if isNumber(vm.peek(0)) && isNumber(vm.peek(1)) {
				if err := vm.binaryNumberOp('+'); err != nil {
					return err
				}
			} else if _, aok := vm.peek(1).AsObj().(*ObjString); aok {
				if err := vm.concatenate(); err != nil {
					return err
				}
			} else {
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}
		case bytecode.OpSubtract:
			if err := vm.binaryNumberOp('-'); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.binaryNumberOp('*'); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.binaryNumberOp('/'); err != nil {
				return err
			}
		case bytecode.OpNegate:
			if !isNumber(vm.peek(0)) {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))
		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsy()))
		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())
		case bytecode.OpJump:
			offset := vm.readShort(frame)
			frame.ip += int(offset)
		case bytecode.OpJumpIfFalse:
			offset := vm.readShort(frame)
			if vm.peek(0).IsFalsy() {
				frame.ip += int(offset)
			}
		case bytecode.OpLoop:
			offset := vm.readShort(frame)
			frame.ip -= int(offset)
		case bytecode.OpCall:
			argCount := int(vm.readByte(frame))
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = vm.currentFrame()
		case bytecode.OpInvoke:
			method := vm.readString(frame)
			argCount := int(vm.readByte(frame))
			if err := vm.invoke(method, argCount); err != nil {
				return err
			}
			frame = vm.currentFrame()
		case bytecode.OpSuperInvoke:
			method := vm.readString(frame)
			argCount := int(vm.readByte(frame))
			superclass := vm.pop().AsObj().(*ObjClass)
			if err := vm.invokeFromClass(superclass, method, argCount); err != nil {
				return err
			}
			frame = vm.currentFrame()
		case bytecode.OpClosure:
			fn := vm.readConstant(frame).AsObj().(*ObjFunction)
			closure := vm.AllocateClosure(fn)
			vm.push(value.FromObj(closure))
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(frame)
				index := vm.readByte(frame)
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slotsBase + int(index))
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.stackTop - 1)
			vm.pop()
		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slotsBase)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.stackTop = frame.slotsBase
			vm.push(result)
			frame = vm.currentFrame()
		case bytecode.OpClass:
			vm.push(value.FromObj(vm.AllocateClass(vm.readString(frame))))
		case bytecode.OpInherit:
			superVal := vm.peek(1)
			superclass, ok := superVal.AsObj().(*ObjClass)
			if !ok {
				return vm.runtimeError("Superclass must be a class.")
			}
			subclass := vm.peek(0).AsObj().(*ObjClass)
			superclass.Methods.CopyAllInto(subclass.Methods)
			vm.pop()
		case bytecode.OpMethod:
			vm.defineMethod(vm.readString(frame))
		default:
			return errors.Errorf("unknown opcode %d", op)
		}
	}
}
