package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are grouped into ranges by category.
type Opcode byte

const (
	// ========================================================================
	// Constants and locals (0x00-0x0F)
	// ========================================================================

	OpLoadConst  Opcode = 0x00 // Push constant: operand is the pool index
	OpLoadLocal  Opcode = 0x01 // Push local slot: operand is the slot
	OpStoreLocal Opcode = 0x02 // Pop and store to local slot (no re-push)

	// ========================================================================
	// Arithmetic (0x10-0x1F)
	// ========================================================================

	OpAdd Opcode = 0x10 // Pop two, push sum
	OpSub Opcode = 0x11 // Pop two, push difference (a - b where b is TOS)
	OpMul Opcode = 0x12 // Pop two, push product
	OpDiv Opcode = 0x13 // Pop two, push quotient; zero divisor is an error

	// ========================================================================
	// Calls and output (0x20-0x2F)
	// ========================================================================

	OpPrint  Opcode = 0x20 // Pop and print, push undefined
	OpCall   Opcode = 0x21 // Call: operand is argc; pops args then callee
	OpReturn Opcode = 0x22 // Pop (or undefined) and return to caller

	// ========================================================================
	// Control flow (0x30-0x3F)
	// ========================================================================

	OpJump        Opcode = 0x30 // Relative jump from the next instruction
	OpJumpIfFalse Opcode = 0x31 // Relative jump if TOS is falsy (TOS is kept)
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Values popped (-1 = depends on operand)
	StackPush  int    // Values pushed
	HasOperand bool   // Whether the operand field is meaningful
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoadConst:  {"LOAD_CONST", 0, 1, true},
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, true},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, true},

	OpAdd: {"ADD", 2, 1, false},
	OpSub: {"SUB", 2, 1, false},
	OpMul: {"MUL", 2, 1, false},
	OpDiv: {"DIV", 2, 1, false},

	OpPrint:  {"PRINT", 1, 1, false},
	OpCall:   {"CALL", -1, 1, true},
	OpReturn: {"RETURN", 1, 0, false},

	OpJump:        {"JUMP", 0, 0, true},
	OpJumpIfFalse: {"JUMP_IF_FALSE", 0, 0, true},
}

// GetOpcodeInfo returns metadata for an opcode.
// Unknown opcodes get an "UNKNOWN(0x..)" name.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// IsBranch returns true for Jump and JumpIfFalse.
func (op Opcode) IsBranch() bool {
	return op == OpJump || op == OpJumpIfFalse
}

// IsArithmetic returns true for the four binary arithmetic opcodes.
func (op Opcode) IsArithmetic() bool {
	return op >= OpAdd && op <= OpDiv
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		ops = append(ops, op)
	}
	return ops
}
