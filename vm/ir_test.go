package vm

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/tiervm/pkg/bytecode"
)

func TestIRAddAndReplace(t *testing.T) {
	ir := NewIR(1)
	a := ir.Add(&ConstantNode{Value: 1})
	b := ir.Add(&ConstantNode{Value: 2})
	sum := ir.Add(&BinaryNode{Op: IRAdd, Left: a, Right: b})

	if a != 0 || b != 1 || sum != 2 {
		t.Fatalf("ids = %d, %d, %d, want 0, 1, 2", a, b, sum)
	}
	if err := ir.Replace(sum, &ConstantNode{Value: 3}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	n, ok := ir.Node(sum)
	if !ok {
		t.Fatal("Node(sum) missing after Replace")
	}
	if c, isConst := n.(*ConstantNode); !isConst || c.Value != 3 {
		t.Errorf("Node(sum) = %s, want const 3", FormatNode(n))
	}
	if ir.Len() != 3 {
		t.Errorf("Len() = %d, want 3", ir.Len())
	}
	if err := ir.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestIRReplaceRejectsForwardReference(t *testing.T) {
	ir := NewIR(1)
	a := ir.Add(&ConstantNode{Value: 1})
	b := ir.Add(&ConstantNode{Value: 2})

	if err := ir.Replace(a, &PrintNode{Value: b}); err == nil {
		t.Error("Replace() with a later operand should fail")
	}
	if err := ir.Replace(NodeID(42), &ConstantNode{}); err == nil {
		t.Error("Replace() of an unknown id should fail")
	}
}

func TestLowerArithmetic(t *testing.T) {
	// 10 + 20 * 2
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(10)))
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(20)))
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(2)))
	c.EmitOp(bytecode.OpMul)
	c.EmitOp(bytecode.OpAdd)

	ir, err := LowerToIR(0, c)
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	if ir.Len() != 5 {
		t.Fatalf("Len() = %d, want 5\n%s", ir.Len(), ir)
	}
	res, ok := ir.Result()
	if !ok || res != 4 {
		t.Fatalf("Result() = %d, %v, want 4, true", res, ok)
	}
	n, _ := ir.Node(res)
	bin, ok := n.(*BinaryNode)
	if !ok || bin.Op != IRAdd || bin.Left != 0 || bin.Right != 3 {
		t.Errorf("result node = %s, want add v0, v3", FormatNode(n))
	}
	if err := ir.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLowerLoadLocalAddsGuard(t *testing.T) {
	c := bytecode.NewChunk()
	c.LocalCount = 1
	c.Emit(bytecode.OpLoadLocal, 0)

	ir, err := LowerToIR(0, c)
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	n, _ := ir.Node(1)
	g, ok := n.(*TypeGuardNode)
	if !ok || g.Value != 0 || g.Expected != GuardNumber {
		t.Fatalf("node v1 = %s, want guard v0 is number", FormatNode(n))
	}
	if res, _ := ir.Result(); res != 1 {
		t.Errorf("Result() = v%d, want the guard v1", res)
	}
}

func TestLowerStoreLocalRepushes(t *testing.T) {
	c := bytecode.NewChunk()
	c.LocalCount = 1
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(15)))
	c.Emit(bytecode.OpStoreLocal, 0)

	ir, err := LowerToIR(0, c)
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	n, _ := ir.Node(1)
	if st, ok := n.(*StoreLocalNode); !ok || st.Index != 0 || st.Value != 0 {
		t.Fatalf("node v1 = %s, want store_local 0, v0", FormatNode(n))
	}
	if res, _ := ir.Result(); res != 0 {
		t.Errorf("Result() = v%d, want the stored value v0", res)
	}
}

func TestLowerStopsAtReturn(t *testing.T) {
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(1)))
	c.EmitOp(bytecode.OpReturn)
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(2)))

	ir, err := LowerToIR(0, c)
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	if ir.Len() != 2 {
		t.Errorf("Len() = %d, want 2", ir.Len())
	}
	res, _ := ir.Result()
	if n, _ := ir.Node(res); n == nil {
		t.Fatal("result node missing")
	} else if _, ok := n.(*ReturnNode); !ok {
		t.Errorf("result = %s, want return", FormatNode(n))
	}
}

func TestLowerCall(t *testing.T) {
	ir, err := LowerToIR(0, callChunk(1, 2, 3))
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	res, _ := ir.Result()
	n, _ := ir.Node(res)
	call, ok := n.(*CallNode)
	if !ok {
		t.Fatalf("result = %s, want call", FormatNode(n))
	}
	if call.Callee != 0 || len(call.Args) != 2 || call.Args[0] != 1 || call.Args[1] != 2 {
		t.Errorf("call = %s, want call v0(v1, v2)", FormatNode(n))
	}
	callee, _ := ir.Node(call.Callee)
	if ref, ok := callee.(*FuncRefNode); !ok || ref.Function != 1 {
		t.Errorf("callee = %s, want funcref 1", FormatNode(callee))
	}
}

func TestLowerRejectsBranches(t *testing.T) {
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(1)))
	j := c.Emit(bytecode.OpJumpIfFalse, 0)
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(2)))
	c.PatchJump(j, c.Len())

	_, err := LowerToIR(3, c)
	if !errors.Is(err, ErrBranchNotSupported) {
		t.Fatalf("error = %v, want ErrBranchNotSupported", err)
	}
	var ce *CompileError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *CompileError", err)
	}
	if ce.Kind != UnsupportedFeature || ce.Offset != 1 || ce.Function != 3 {
		t.Errorf("CompileError = %+v, want UnsupportedFeature at 1 in function 3", ce)
	}
}

func TestLowerMalformed(t *testing.T) {
	tests := []struct {
		name  string
		build func(c *bytecode.Chunk)
		kind  CompileErrorKind
	}{
		{"underflow", func(c *bytecode.Chunk) { c.EmitOp(bytecode.OpAdd) }, MalformedBytecode},
		{"bad constant", func(c *bytecode.Chunk) { c.Emit(bytecode.OpLoadConst, 7) }, MalformedBytecode},
		{"bad slot", func(c *bytecode.Chunk) { c.Emit(bytecode.OpLoadLocal, 2) }, MalformedBytecode},
		{"undefined constant", func(c *bytecode.Chunk) { c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Undefined)) }, UnsupportedFeature},
		{"empty return", func(c *bytecode.Chunk) { c.EmitOp(bytecode.OpReturn) }, UnsupportedFeature},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := bytecode.NewChunk()
			tt.build(c)
			_, err := LowerToIR(0, c)
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want *CompileError", err)
			}
			if ce.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", ce.Kind, tt.kind)
			}
		})
	}
}

func TestIRString(t *testing.T) {
	ir, err := LowerToIR(2, arithChunk(1, bytecode.OpSub, 2))
	if err != nil {
		t.Fatalf("LowerToIR() error = %v", err)
	}
	dump := ir.String()
	for _, want := range []string{"; IR function 2 (3 nodes)", "const 1", "sub v0, v1", "; result v2"} {
		if !strings.Contains(dump, want) {
			t.Errorf("String() missing %q:\n%s", want, dump)
		}
	}
}
