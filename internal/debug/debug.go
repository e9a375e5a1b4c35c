// Package debug disassembles compiled chunks back into a readable
// opcode listing, used by the CLI and the REPL when vela is invoked
// with -disasm. Column alignment and constant-value
// pretty-printing lean on github.com/kr/pretty and github.com/kr/text.
package debug

import (
	"fmt"
	"io"
	"strings"

	"github.com/kr/pretty"
	"github.com/kr/text"

	"vela/internal/bytecode"
	"vela/internal/vm"
)

// DisassembleChunk writes name followed by one line per instruction in
// chunk to w.
func DisassembleChunk(w io.Writer, chunk *bytecode.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	offset := 0
	for offset < len(chunk.Code) {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction writes the instruction at offset and returns
// the offset of the next instruction.
func DisassembleInstruction(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	if offset > 0 && chunk.Lines[offset] == chunk.Lines[offset-1] {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", chunk.Lines[offset])
	}

	op := bytecode.OpCode(chunk.Code[offset])
	switch op {
	case bytecode.OpConstant, bytecode.OpGetGlobal, bytecode.OpDefineGlobal, bytecode.OpSetGlobal,
		bytecode.OpClass, bytecode.OpGetProperty, bytecode.OpSetProperty, bytecode.OpGetSuper,
		bytecode.OpMethod:
		return constantInstruction(w, op.String(), chunk, offset)
	case bytecode.OpGetLocal, bytecode.OpSetLocal, bytecode.OpGetUpvalue, bytecode.OpSetUpvalue,
		bytecode.OpCall:
		return byteInstruction(w, op.String(), chunk, offset)
	case bytecode.OpJump, bytecode.OpJumpIfFalse:
		return jumpInstruction(w, op.String(), 1, chunk, offset)
	case bytecode.OpLoop:
		return jumpInstruction(w, op.String(), -1, chunk, offset)
	case bytecode.OpInvoke, bytecode.OpSuperInvoke:
		return invokeInstruction(w, op.String(), chunk, offset)
	case bytecode.OpClosure:
		return closureInstruction(w, chunk, offset)
	default:
		fmt.Fprintln(w, op.String())
		return offset + 1
	}
}

func constantInstruction(w io.Writer, name string, chunk *bytecode.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", name, idx, formatConstant(chunk.Constants[idx]))
	return offset + 2
}

func byteInstruction(w io.Writer, name string, chunk *bytecode.Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", name, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, name string, sign int, chunk *bytecode.Chunk, offset int) int {
	jump := int(chunk.Code[offset+1])<<8 | int(chunk.Code[offset+2])
	target := offset + 3 + sign*jump
	fmt.Fprintf(w, "%-16s %4d -> %d\n", name, offset, target)
	return offset + 3
}

func invokeInstruction(w io.Writer, name string, chunk *bytecode.Chunk, offset int) int {
	constIdx := chunk.Code[offset+1]
	argCount := chunk.Code[offset+2]
	fmt.Fprintf(w, "%-16s (%d args) %4d '%s'\n", name, argCount, constIdx, formatConstant(chunk.Constants[constIdx]))
	return offset + 3
}

func closureInstruction(w io.Writer, chunk *bytecode.Chunk, offset int) int {
	offset++
	constIdx := chunk.Code[offset]
	offset++
	fmt.Fprintf(w, "%-16s %4d '%s'\n", "OP_CLOSURE", constIdx, formatConstant(chunk.Constants[constIdx]))

	if fn, ok := chunk.Constants[constIdx].AsObj().(*vm.ObjFunction); ok {
		for i := 0; i < fn.UpvalueCount; i++ {
			isLocal := chunk.Code[offset]
			index := chunk.Code[offset+1]
			kind := "upvalue"
			if isLocal != 0 {
				kind = "local"
			}
			fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
			offset += 2
		}
	}
	return offset
}

func formatConstant(v fmt.Stringer) string {
	s := pretty.Sprint(v.String())
	return strings.Trim(text.Indent(s, ""), `"`)
}
