package bytecode

import (
	"testing"

	"vela/internal/value"
)

func TestWriteOpAndByteTrackLines(t *testing.T) {
	c := NewChunk()
	c.WriteOp(OpConstant, 1)
	c.WriteByte(0, 1)
	c.WriteOp(OpReturn, 2)

	if len(c.Code) != 3 {
		t.Fatalf("len(Code) = %d, want 3", len(c.Code))
	}
	if c.Code[0] != byte(OpConstant) || c.Code[1] != 0 || c.Code[2] != byte(OpReturn) {
		t.Fatalf("Code = %v, want [%d 0 %d]", c.Code, OpConstant, OpReturn)
	}
	if c.Line(0) != 1 || c.Line(1) != 1 || c.Line(2) != 2 {
		t.Fatalf("lines = [%d %d %d], want [1 1 2]", c.Line(0), c.Line(1), c.Line(2))
	}
}

func TestLineOutOfRange(t *testing.T) {
	c := NewChunk()
	if got := c.Line(5); got != 0 {
		t.Fatalf("Line(5) = %d, want 0", got)
	}
	if got := c.Line(-1); got != 0 {
		t.Fatalf("Line(-1) = %d, want 0", got)
	}
}

func TestAddConstantReturnsIndex(t *testing.T) {
	c := NewChunk()
	i0 := c.AddConstant(value.Number(1))
	i1 := c.AddConstant(value.Number(2))
	if i0 != 0 || i1 != 1 {
		t.Fatalf("indices = %d, %d, want 0, 1", i0, i1)
	}
	if len(c.Constants) != 2 {
		t.Fatalf("len(Constants) = %d, want 2", len(c.Constants))
	}
}

func TestOpCodeString(t *testing.T) {
	tests := []struct {
		op   OpCode
		want string
	}{
		{OpConstant, "OP_CONSTANT"},
		{OpReturn, "OP_RETURN"},
		{OpInherit, "OP_INHERIT"},
		{OpCode(200), "OP_UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.op, got, tt.want)
		}
	}
}
