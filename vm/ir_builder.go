package vm

import (
	"fmt"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// IR builder: bytecode -> IR by abstract interpretation
// ---------------------------------------------------------------------------

// irBuilder mirrors the interpreter's operand stack with node ids.
type irBuilder struct {
	fn    bytecode.FunctionID
	chunk *bytecode.Chunk
	ir    *IR
	stack []NodeID
	ip    int
}

// LowerToIR converts a straight-line chunk to IR in one linear pass.
//
// Chunks containing Jump or JumpIfFalse are rejected with an
// UnsupportedFeature CompileError wrapping ErrBranchNotSupported. The
// builder has no control-flow model; such functions stay interpreted.
func LowerToIR(fn bytecode.FunctionID, chunk *bytecode.Chunk) (*IR, error) {
	if chunk == nil {
		return nil, &CompileError{Kind: MalformedBytecode, Function: fn, Offset: -1, Reason: "nil chunk"}
	}
	if at := chunk.FirstBranch(); at >= 0 {
		return nil, &CompileError{
			Kind:     UnsupportedFeature,
			Function: fn,
			Offset:   at,
			Reason:   chunk.Instructions[at].Op.String(),
			Err:      ErrBranchNotSupported,
		}
	}

	b := &irBuilder{fn: fn, chunk: chunk, ir: NewIR(fn)}
	for b.ip = 0; b.ip < len(chunk.Instructions); b.ip++ {
		in := chunk.Instructions[b.ip]
		done, err := b.lower(in)
		if err != nil {
			return nil, err
		}
		if done {
			return b.ir, nil
		}
	}
	if len(b.stack) > 0 {
		b.ir.SetResult(b.stack[len(b.stack)-1])
	}
	return b.ir, nil
}

func (b *irBuilder) fail(kind CompileErrorKind, format string, args ...interface{}) error {
	return &CompileError{Kind: kind, Function: b.fn, Offset: b.ip, Reason: fmt.Sprintf(format, args...)}
}

func (b *irBuilder) push(id NodeID) {
	b.stack = append(b.stack, id)
}

func (b *irBuilder) pop() (NodeID, error) {
	n := len(b.stack)
	if n == 0 {
		return 0, b.fail(MalformedBytecode, "abstract stack underflow")
	}
	id := b.stack[n-1]
	b.stack = b.stack[:n-1]
	return id, nil
}

func (b *irBuilder) checkSlot(slot int) error {
	if slot < 0 || slot >= b.chunk.LocalCount {
		return b.fail(MalformedBytecode, "local slot %d out of range", slot)
	}
	return nil
}

// lower handles one instruction. done is set after a Return, which ends
// straight-line code.
func (b *irBuilder) lower(in bytecode.Instruction) (bool, error) {
	switch in.Op {
	case bytecode.OpLoadConst:
		if in.Operand < 0 || in.Operand >= len(b.chunk.Constants) {
			return false, b.fail(MalformedBytecode, "constant index %d out of range", in.Operand)
		}
		v := b.chunk.Constants[in.Operand]
		switch v.Kind {
		case bytecode.KindNumber:
			b.push(b.ir.Add(&ConstantNode{Value: v.Num}))
		case bytecode.KindFunction:
			b.push(b.ir.Add(&FuncRefNode{Function: v.Fn}))
		default:
			return false, b.fail(UnsupportedFeature, "%s constant", v.TypeName())
		}

	case bytecode.OpLoadLocal:
		if err := b.checkSlot(in.Operand); err != nil {
			return false, err
		}
		load := b.ir.Add(&LoadLocalNode{Index: in.Operand})
		// Speculate that locals hold numbers.
		b.push(b.ir.Add(&TypeGuardNode{Value: load, Expected: GuardNumber}))

	case bytecode.OpStoreLocal:
		if err := b.checkSlot(in.Operand); err != nil {
			return false, err
		}
		v, err := b.pop()
		if err != nil {
			return false, err
		}
		b.ir.Add(&StoreLocalNode{Index: in.Operand, Value: v})
		// Keep the stored value usable as an expression result.
		b.push(v)

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		right, err := b.pop()
		if err != nil {
			return false, err
		}
		left, err := b.pop()
		if err != nil {
			return false, err
		}
		b.push(b.ir.Add(&BinaryNode{Op: binaryOpFor[in.Op], Left: left, Right: right}))

	case bytecode.OpPrint:
		v, err := b.pop()
		if err != nil {
			return false, err
		}
		b.push(b.ir.Add(&PrintNode{Value: v}))

	case bytecode.OpCall:
		if in.Operand < 0 {
			return false, b.fail(MalformedBytecode, "negative argument count %d", in.Operand)
		}
		args := make([]NodeID, in.Operand)
		for i := in.Operand - 1; i >= 0; i-- {
			arg, err := b.pop()
			if err != nil {
				return false, err
			}
			args[i] = arg
		}
		callee, err := b.pop()
		if err != nil {
			return false, err
		}
		b.push(b.ir.Add(&CallNode{Callee: callee, Args: args}))

	case bytecode.OpReturn:
		v, err := b.pop()
		if err != nil {
			return false, b.fail(UnsupportedFeature, "return of undefined")
		}
		b.ir.SetResult(b.ir.Add(&ReturnNode{Value: v}))
		return true, nil

	default:
		return false, b.fail(MalformedBytecode, "unknown opcode 0x%02X", byte(in.Op))
	}
	return false, nil
}
