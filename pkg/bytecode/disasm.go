package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName(c.Name)
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	if c.ParamCount > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters: %d\n", c.ParamCount))
	}
	if c.LocalCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", c.LocalCount))
	}

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, v := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s (%s)\n", i, v, v.TypeName()))
		}
	}

	sb.WriteString("; Code:\n")
	for i := range c.Instructions {
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, c.disassembleInstruction(i)))
	}
	return sb.String()
}

// disassembleInstruction formats the instruction at index with an
// annotation where one helps: the constant value or the jump target.
func (c *Chunk) disassembleInstruction(index int) string {
	in := c.Instructions[index]
	switch in.Op {
	case OpLoadConst:
		if in.Operand >= 0 && in.Operand < len(c.Constants) {
			return fmt.Sprintf("%s ; %s", in, c.Constants[in.Operand])
		}
		return fmt.Sprintf("%s ; <bad constant>", in)
	case OpJump, OpJumpIfFalse:
		return fmt.Sprintf("%s ; -> %04d", in, index+1+in.Operand)
	default:
		return in.String()
	}
}
