package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tiervm/pkg/bytecode"
)

func ops(c *bytecode.Chunk) []bytecode.Opcode {
	out := make([]bytecode.Opcode, len(c.Instructions))
	for i, in := range c.Instructions {
		out[i] = in.Op
	}
	return out
}

func sameOps(got, want []bytecode.Opcode) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestCompileNumber(t *testing.T) {
	prog, err := Compile("42")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Main.Len() != 1 || prog.Main.Instructions[0] != (bytecode.Instruction{Op: bytecode.OpLoadConst}) {
		t.Errorf("instructions = %v, want [LOAD_CONST 0]", prog.Main.Instructions)
	}
	if !prog.Main.Constants[0].Equal(bytecode.Number(42)) {
		t.Errorf("constant = %v, want 42", prog.Main.Constants[0])
	}
}

func TestCompileArithmetic(t *testing.T) {
	prog, err := Compile("10 + 20 * 2")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []bytecode.Opcode{
		bytecode.OpLoadConst, bytecode.OpLoadConst, bytecode.OpLoadConst,
		bytecode.OpMul, bytecode.OpAdd,
	}
	if got := ops(prog.Main); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestCompileLetAndAssignment(t *testing.T) {
	prog, err := Compile("let x = 15; x = x + 1;")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []bytecode.Opcode{
		bytecode.OpLoadConst, bytecode.OpStoreLocal,
		bytecode.OpLoadLocal, bytecode.OpLoadConst, bytecode.OpAdd,
		bytecode.OpStoreLocal, bytecode.OpLoadLocal,
	}
	if got := ops(prog.Main); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
	if prog.Main.LocalCount != 1 {
		t.Errorf("LocalCount = %d, want 1", prog.Main.LocalCount)
	}
}

func TestCompileShadowingAllocatesNewSlot(t *testing.T) {
	prog, err := Compile("let x = 1; { let x = 2; x } x")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if prog.Main.LocalCount != 2 {
		t.Errorf("LocalCount = %d, want 2", prog.Main.LocalCount)
	}
	in := prog.Main.Instructions
	if in[4].Operand != 1 || in[5].Operand != 0 {
		t.Errorf("inner x reads slot %d, outer x reads slot %d; want 1 and 0", in[4].Operand, in[5].Operand)
	}
}

func TestCompileIfPatchesJumps(t *testing.T) {
	prog, err := Compile("if (1) { 2 } else { 3 }")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// 0 LOAD_CONST 1; 1 JUMP_IF_FALSE ->4; 2 LOAD_CONST 2; 3 JUMP ->5; 4 LOAD_CONST 3
	in := prog.Main.Instructions
	if in[1].Op != bytecode.OpJumpIfFalse || in[1].Operand != 2 {
		t.Errorf("in[1] = %v, want JUMP_IF_FALSE 2", in[1])
	}
	if in[3].Op != bytecode.OpJump || in[3].Operand != 1 {
		t.Errorf("in[3] = %v, want JUMP 1", in[3])
	}
	if err := prog.Main.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompileForJumpsBackward(t *testing.T) {
	prog, err := Compile("for (let i = 2; i; i = i - 1) { print(i); }")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	main := prog.Main
	last := main.Instructions[main.Len()-1]
	if last.Op != bytecode.OpJump || last.Operand >= 0 {
		t.Fatalf("last instruction = %v, want backward JUMP", last)
	}
	if target := main.Len() + last.Operand; target != 2 {
		t.Errorf("loop jumps to %d, want 2 (condition)", target)
	}
	if err := main.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestCompilePrintBuiltin(t *testing.T) {
	prog, err := Compile("print(7)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []bytecode.Opcode{bytecode.OpLoadConst, bytecode.OpPrint}
	if got := ops(prog.Main); !sameOps(got, want) {
		t.Errorf("ops = %v, want %v", got, want)
	}
}

func TestCompileFunctions(t *testing.T) {
	src := `
let r = twice(21);
function twice(n) { return n * 2; }
function fact(n) { if (n) { return n * fact(n - 1); } return 1; }
`
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(prog.Functions) != 2 {
		t.Fatalf("len(Functions) = %d, want 2", len(prog.Functions))
	}
	twice := prog.Functions[0]
	if twice.ID != 1 || twice.Name != "twice" || twice.Chunk.LocalCount != 1 {
		t.Errorf("twice = {%d %s locals=%d}, want {1 twice locals=1}", twice.ID, twice.Name, twice.Chunk.LocalCount)
	}
	if prog.Function(2) == nil || prog.Function(2).Name != "fact" {
		t.Error("Function(2) should be fact")
	}
	// Main calls twice through a FunctionRef constant.
	want := []bytecode.Opcode{bytecode.OpLoadConst, bytecode.OpLoadConst, bytecode.OpCall, bytecode.OpStoreLocal}
	if got := ops(prog.Main); !sameOps(got, want) {
		t.Errorf("main ops = %v, want %v", got, want)
	}
	if !prog.Main.Constants[0].Equal(bytecode.FunctionRef(1)) {
		t.Errorf("callee constant = %v, want [Function: 1]", prog.Main.Constants[0])
	}
	// fact refers to itself.
	fact := prog.Function(2).Chunk
	found := false
	for _, c := range fact.Constants {
		if c.Equal(bytecode.FunctionRef(2)) {
			found = true
		}
	}
	if !found {
		t.Error("fact should reference itself")
	}
}

func TestCompilerKeepsFunctionsAcrossCalls(t *testing.T) {
	c := NewCompiler()
	if _, err := c.Compile("function one() { return 1; }"); err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	prog, err := c.Compile("one()")
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if !prog.Main.Constants[0].Equal(bytecode.FunctionRef(1)) {
		t.Errorf("one() callee = %v, want [Function: 1]", prog.Main.Constants[0])
	}

	// A failed compile must not leak declarations.
	if _, err := c.Compile("function two() { return y; }"); err == nil {
		t.Fatal("expected undefined variable error")
	}
	if _, ok := c.FunctionID("two"); ok {
		t.Error("failed compile leaked function two")
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"y + 1", "undefined variable y"},
		{"y = 1", "assignment to undeclared variable y"},
		{"print(1, 2)", "print expects 1 argument, got 2"},
		{"print", "builtin print can only be called"},
		{"{ function f() { return 1; } }", "must be declared at top level"},
		{"function f() { return 1; } function f() { return 2; }", "already declared"},
		{"function g(a) { return b; } let b = 1;", "undefined variable b"},
	}
	for _, tt := range tests {
		_, err := Compile(tt.input)
		if !errors.Is(err, ErrCompile) {
			t.Errorf("Compile(%q) = %v, want ErrCompile", tt.input, err)
			continue
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Compile(%q) = %q, want it to contain %q", tt.input, err, tt.want)
		}
	}
}
