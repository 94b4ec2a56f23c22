package bytecode

import (
	"errors"
	"fmt"
)

// ErrInvalidChunk is wrapped by every error returned from Chunk.Validate.
var ErrInvalidChunk = errors.New("invalid chunk")

// Instruction is a single decoded bytecode instruction. Operand is the
// constant index, local slot, argument count or signed jump offset,
// depending on Op.
type Instruction struct {
	Op      Opcode `cbor:"1,keyasint"`
	Operand int    `cbor:"2,keyasint,omitempty"`
}

// String renders the instruction as it appears in a disassembly.
func (in Instruction) String() string {
	if GetOpcodeInfo(in.Op).HasOperand {
		return fmt.Sprintf("%s %d", in.Op, in.Operand)
	}
	return in.Op.String()
}

// Chunk is a self-contained bytecode artifact: instructions, a constant
// pool and the number of local slots a frame needs. A chunk handed to the
// engine is treated as immutable; holders that must keep it take a Clone.
type Chunk struct {
	Instructions []Instruction `cbor:"1,keyasint"`
	Constants    []Value       `cbor:"2,keyasint"`
	LocalCount   int           `cbor:"3,keyasint"`

	// ParamCount is the number of leading local slots bound to call
	// arguments. Zero for top-level code.
	ParamCount int `cbor:"5,keyasint,omitempty"`

	// Name is informational (disassembly headers, logs).
	Name string `cbor:"4,keyasint,omitempty"`
}

// NewChunk creates a new empty chunk.
func NewChunk() *Chunk {
	return &Chunk{
		Instructions: make([]Instruction, 0, 16),
		Constants:    make([]Value, 0, 8),
	}
}

// Emit appends an instruction and returns its index.
func (c *Chunk) Emit(op Opcode, operand int) int {
	c.Instructions = append(c.Instructions, Instruction{Op: op, Operand: operand})
	return len(c.Instructions) - 1
}

// EmitOp appends an instruction without an operand.
func (c *Chunk) EmitOp(op Opcode) int {
	return c.Emit(op, 0)
}

// PatchJump rewrites the jump at index so it lands on target. Offsets are
// relative to the instruction after the jump.
func (c *Chunk) PatchJump(index, target int) {
	c.Instructions[index].Operand = target - index - 1
}

// AddConstant adds a value to the pool and returns its index.
// Identical values share a slot.
func (c *Chunk) AddConstant(v Value) int {
	for i, existing := range c.Constants {
		if existing.Equal(v) {
			return i
		}
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Len returns the number of instructions.
func (c *Chunk) Len() int {
	return len(c.Instructions)
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	out := &Chunk{
		Instructions: make([]Instruction, len(c.Instructions)),
		Constants:    make([]Value, len(c.Constants)),
		LocalCount:   c.LocalCount,
		ParamCount:   c.ParamCount,
		Name:         c.Name,
	}
	copy(out.Instructions, c.Instructions)
	copy(out.Constants, c.Constants)
	return out
}

// HasBranches reports whether any instruction is a jump.
func (c *Chunk) HasBranches() bool {
	return c.FirstBranch() >= 0
}

// FirstBranch returns the index of the first jump instruction, or -1.
func (c *Chunk) FirstBranch() int {
	for i, in := range c.Instructions {
		if in.Op.IsBranch() {
			return i
		}
	}
	return -1
}

// Validate checks the static well-formedness of the chunk: known opcodes,
// in-range constant indices and local slots, and jump targets inside
// [0, len]. The interpreter performs the same checks lazily.
func (c *Chunk) Validate() error {
	if c.LocalCount < 0 {
		return fmt.Errorf("%w: negative local count %d", ErrInvalidChunk, c.LocalCount)
	}
	if c.ParamCount < 0 || c.ParamCount > c.LocalCount {
		return fmt.Errorf("%w: param count %d exceeds %d locals", ErrInvalidChunk, c.ParamCount, c.LocalCount)
	}
	for i, in := range c.Instructions {
		switch {
		case !in.Op.Valid():
			return fmt.Errorf("%w: unknown opcode 0x%02X at %d", ErrInvalidChunk, byte(in.Op), i)
		case in.Op == OpLoadConst && (in.Operand < 0 || in.Operand >= len(c.Constants)):
			return fmt.Errorf("%w: constant index %d out of range at %d", ErrInvalidChunk, in.Operand, i)
		case (in.Op == OpLoadLocal || in.Op == OpStoreLocal) && (in.Operand < 0 || in.Operand >= c.LocalCount):
			return fmt.Errorf("%w: local slot %d out of range at %d", ErrInvalidChunk, in.Operand, i)
		case in.Op == OpCall && in.Operand < 0:
			return fmt.Errorf("%w: negative argument count at %d", ErrInvalidChunk, i)
		case in.Op.IsBranch():
			target := i + 1 + in.Operand
			if target < 0 || target > len(c.Instructions) {
				return fmt.Errorf("%w: jump target %d out of range at %d", ErrInvalidChunk, target, i)
			}
		}
	}
	return nil
}
