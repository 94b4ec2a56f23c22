package vm

import "github.com/chazu/tiervm/pkg/bytecode"

// ---------------------------------------------------------------------------
// CallFrame: execution state for one invocation
// ---------------------------------------------------------------------------

// CallFrame is the per-invocation record. It is created on call, owned by
// the interpreter's frame stack and dropped on return or unwind.
type CallFrame struct {
	Function bytecode.FunctionID
	Chunk    *bytecode.Chunk
	IP       int              // index of the next instruction
	Stack    []bytecode.Value // operand stack
	Locals   []bytecode.Value // sized to Chunk.LocalCount
}

func newCallFrame(id bytecode.FunctionID, chunk *bytecode.Chunk) *CallFrame {
	return &CallFrame{
		Function: id,
		Chunk:    chunk,
		Stack:    make([]bytecode.Value, 0, 8),
		Locals:   make([]bytecode.Value, chunk.LocalCount),
	}
}

func (f *CallFrame) push(v bytecode.Value) {
	f.Stack = append(f.Stack, v)
}

func (f *CallFrame) pop() (bytecode.Value, error) {
	n := len(f.Stack)
	if n == 0 {
		return bytecode.Undefined, newRuntimeError(KindStackUnderflow, "pop from empty operand stack")
	}
	v := f.Stack[n-1]
	f.Stack = f.Stack[:n-1]
	return v, nil
}

// popN pops n values and returns them in push order.
func (f *CallFrame) popN(n int) ([]bytecode.Value, error) {
	if n > len(f.Stack) {
		return nil, newRuntimeError(KindStackUnderflow, "need %d operands, have %d", n, len(f.Stack))
	}
	start := len(f.Stack) - n
	out := make([]bytecode.Value, n)
	copy(out, f.Stack[start:])
	f.Stack = f.Stack[:start]
	return out, nil
}

// popOr pops the top value, or returns def when the stack is empty.
func (f *CallFrame) popOr(def bytecode.Value) bytecode.Value {
	if v, err := f.pop(); err == nil {
		return v
	}
	return def
}

// peek returns the top value without removing it; Undefined when empty.
func (f *CallFrame) peek() bytecode.Value {
	if len(f.Stack) == 0 {
		return bytecode.Undefined
	}
	return f.Stack[len(f.Stack)-1]
}
