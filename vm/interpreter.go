package vm

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// DefaultMaxCallDepth bounds the frame stack.
const DefaultMaxCallDepth = 1024

// FunctionTable resolves callee ids to their bytecode.
type FunctionTable interface {
	Function(id bytecode.FunctionID) (*bytecode.Chunk, bool)
}

// InterpreterStats counts interpreter work since construction.
type InterpreterStats struct {
	Runs         uint64 // top-level Run calls
	Calls        uint64 // frames pushed by CALL
	Instructions uint64 // instructions dispatched
	Faults       uint64 // runs that ended in an error
}

// ---------------------------------------------------------------------------
// Interpreter: baseline tier
// ---------------------------------------------------------------------------

// Interpreter executes bytecode chunks on a stack of CallFrames. It is the
// only tier that can run any chunk unconditionally. Not safe for
// concurrent use.
type Interpreter struct {
	Functions    FunctionTable    // callee lookup; nil disables CALL
	Profiler     *HotspotProfiler // records every frame entry; may be nil
	Out          io.Writer        // PRINT destination
	MaxCallDepth int

	frames []*CallFrame
	stats  InterpreterStats
}

// NewInterpreter creates an interpreter printing to stdout.
func NewInterpreter(functions FunctionTable, profiler *HotspotProfiler) *Interpreter {
	return &Interpreter{
		Functions:    functions,
		Profiler:     profiler,
		Out:          os.Stdout,
		MaxCallDepth: DefaultMaxCallDepth,
	}
}

// Stats returns a snapshot of the interpreter counters.
func (i *Interpreter) Stats() InterpreterStats {
	return i.stats
}

// Run executes chunk as function id with the given arguments bound to its
// leading locals and returns the program result. Any error aborts the run
// with no partial result.
func (i *Interpreter) Run(id bytecode.FunctionID, chunk *bytecode.Chunk, args ...bytecode.Value) (bytecode.Value, error) {
	if chunk == nil {
		return bytecode.Undefined, newRuntimeError(KindInvalidBytecode, "nil chunk")
	}
	i.stats.Runs++
	i.frames = i.frames[:0]
	if err := i.enter(id, chunk, args); err != nil {
		i.stats.Faults++
		return bytecode.Undefined, err
	}
	v, err := i.loop()
	if err != nil {
		i.stats.Faults++
		i.frames = i.frames[:0]
		return bytecode.Undefined, err
	}
	return v, nil
}

// enter pushes a frame for chunk after checking depth and arity.
func (i *Interpreter) enter(id bytecode.FunctionID, chunk *bytecode.Chunk, args []bytecode.Value) error {
	if len(i.frames) >= i.maxDepth() {
		return newRuntimeError(KindStackOverflow, "call depth exceeds %d", i.maxDepth())
	}
	// ParamCount is optional: without it any argc up to LocalCount binds
	// to the leading locals.
	if chunk.ParamCount > 0 && len(args) != chunk.ParamCount {
		return newRuntimeError(KindArityMismatch, "function %d takes %d arguments, got %d", id, chunk.ParamCount, len(args))
	}
	if len(args) > chunk.LocalCount {
		return newRuntimeError(KindArityMismatch, "function %d has %d locals, got %d arguments", id, chunk.LocalCount, len(args))
	}
	frame := newCallFrame(id, chunk)
	copy(frame.Locals, args)
	i.frames = append(i.frames, frame)
	if i.Profiler != nil {
		i.Profiler.RecordExecution(id)
	}
	return nil
}

func (i *Interpreter) maxDepth() int {
	if i.MaxCallDepth <= 0 {
		return DefaultMaxCallDepth
	}
	return i.MaxCallDepth
}

// loop runs until the outermost frame returns.
func (i *Interpreter) loop() (bytecode.Value, error) {
	for {
		frame := i.frames[len(i.frames)-1]

		if frame.IP >= len(frame.Chunk.Instructions) {
			// Falling off the end behaves like RETURN.
			if v, done := i.ret(frame.popOr(bytecode.Undefined)); done {
				return v, nil
			}
			continue
		}

		ip := frame.IP
		in := frame.Chunk.Instructions[ip]
		frame.IP++
		i.stats.Instructions++

		v, done, err := i.dispatch(frame, in)
		if err != nil {
			return bytecode.Undefined, annotate(err, frame.Function, ip)
		}
		if done {
			return v, nil
		}
	}
}

// annotate records where a runtime error was raised.
func annotate(err error, id bytecode.FunctionID, ip int) error {
	var re *RuntimeError
	if errors.As(err, &re) && re.Offset < 0 {
		re.Function = id
		re.Offset = ip
	}
	return err
}

// ret pops the current frame and hands v to the caller. It reports done
// when the frame stack is empty, in which case v is the program result.
func (i *Interpreter) ret(v bytecode.Value) (bytecode.Value, bool) {
	i.frames = i.frames[:len(i.frames)-1]
	if len(i.frames) == 0 {
		return v, true
	}
	i.frames[len(i.frames)-1].push(v)
	return bytecode.Undefined, false
}

// dispatch executes one instruction. done is set when the outermost frame
// returned.
func (i *Interpreter) dispatch(frame *CallFrame, in bytecode.Instruction) (bytecode.Value, bool, error) {
	switch in.Op {
	case bytecode.OpLoadConst:
		if in.Operand < 0 || in.Operand >= len(frame.Chunk.Constants) {
			return bytecode.Undefined, false, newRuntimeError(KindInvalidBytecode, "constant index %d out of range", in.Operand)
		}
		frame.push(frame.Chunk.Constants[in.Operand])

	case bytecode.OpLoadLocal:
		if in.Operand < 0 || in.Operand >= len(frame.Locals) {
			return bytecode.Undefined, false, undefinedVariable(in.Operand)
		}
		frame.push(frame.Locals[in.Operand])

	case bytecode.OpStoreLocal:
		v, err := frame.pop()
		if err != nil {
			return bytecode.Undefined, false, err
		}
		if in.Operand < 0 || in.Operand >= len(frame.Locals) {
			return bytecode.Undefined, false, undefinedVariable(in.Operand)
		}
		frame.Locals[in.Operand] = v

	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv:
		right, err := frame.pop()
		if err != nil {
			return bytecode.Undefined, false, err
		}
		left, err := frame.pop()
		if err != nil {
			return bytecode.Undefined, false, err
		}
		result, err := arith(in.Op, left, right)
		if err != nil {
			return bytecode.Undefined, false, err
		}
		frame.push(result)

	case bytecode.OpPrint:
		v, err := frame.pop()
		if err != nil {
			return bytecode.Undefined, false, err
		}
		if i.Out != nil {
			fmt.Fprintln(i.Out, v.String())
		}
		frame.push(bytecode.Undefined)

	case bytecode.OpCall:
		return bytecode.Undefined, false, i.call(frame, in.Operand)

	case bytecode.OpReturn:
		v, done := i.ret(frame.popOr(bytecode.Undefined))
		return v, done, nil

	case bytecode.OpJump:
		return bytecode.Undefined, false, jump(frame, in.Operand)

	case bytecode.OpJumpIfFalse:
		// The condition stays on the stack.
		if !frame.peek().Truthy() {
			return bytecode.Undefined, false, jump(frame, in.Operand)
		}

	default:
		return bytecode.Undefined, false, newRuntimeError(KindInvalidBytecode, "unknown opcode 0x%02X", byte(in.Op))
	}
	return bytecode.Undefined, false, nil
}

// arith applies a binary arithmetic opcode. A zero divisor is rejected
// before the division happens, so there is no Inf or NaN from x/0.
func arith(op bytecode.Opcode, left, right bytecode.Value) (bytecode.Value, error) {
	if !left.IsNumber() {
		return bytecode.Undefined, typeError("number", left)
	}
	if !right.IsNumber() {
		return bytecode.Undefined, typeError("number", right)
	}
	l, r := left.Num, right.Num
	switch op {
	case bytecode.OpAdd:
		return bytecode.Number(l + r), nil
	case bytecode.OpSub:
		return bytecode.Number(l - r), nil
	case bytecode.OpMul:
		return bytecode.Number(l * r), nil
	case bytecode.OpDiv:
		if r == 0 {
			return bytecode.Undefined, &RuntimeError{Kind: KindDivisionByZero, Offset: -1}
		}
		return bytecode.Number(l / r), nil
	}
	return bytecode.Undefined, newRuntimeError(KindInvalidBytecode, "%s is not arithmetic", op)
}

// jump moves IP by offset relative to the already-advanced IP. Landing
// exactly on len(instructions) is allowed and ends the frame.
func jump(frame *CallFrame, offset int) error {
	target := frame.IP + offset
	if target < 0 || target > len(frame.Chunk.Instructions) {
		return newRuntimeError(KindInvalidBytecode, "jump target %d out of range", target)
	}
	frame.IP = target
	return nil
}

// call pops argc arguments and then the callee, and pushes a new frame.
func (i *Interpreter) call(frame *CallFrame, argc int) error {
	if argc < 0 {
		return newRuntimeError(KindInvalidBytecode, "negative argument count %d", argc)
	}
	args, err := frame.popN(argc)
	if err != nil {
		return err
	}
	callee, err := frame.pop()
	if err != nil {
		return err
	}
	if !callee.IsFunction() {
		return typeError("function", callee)
	}
	var chunk *bytecode.Chunk
	if i.Functions != nil {
		chunk, _ = i.Functions.Function(callee.Fn)
	}
	if chunk == nil {
		return newRuntimeError(KindUndefinedFunction, "function %d", callee.Fn)
	}
	i.stats.Calls++
	return i.enter(callee.Fn, chunk, args)
}
