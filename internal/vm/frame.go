package vm

import "vela/internal/bytecode"

// CallFrame is one activation record: the closure being run, its
// instruction pointer into that closure's chunk, and the base index
// into the VM's value stack where its locals (including the callee
// itself at slot 0) begin.
type CallFrame struct {
	closure   *ObjClosure
	ip        int
	slotsBase int
}

func (f *CallFrame) chunk() *bytecode.Chunk {
	return f.closure.Function.Chunk
}
