package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Runtime errors
// ---------------------------------------------------------------------------

// ErrorKind classifies a RuntimeError.
type ErrorKind int

const (
	KindUndefinedVariable ErrorKind = iota
	KindUndefinedFunction
	KindTypeError
	KindStackOverflow
	KindStackUnderflow
	KindDivisionByZero
	KindArityMismatch
	KindInvalidBytecode
)

var errorKindNames = [...]string{
	KindUndefinedVariable: "UndefinedVariable",
	KindUndefinedFunction: "UndefinedFunction",
	KindTypeError:         "TypeError",
	KindStackOverflow:     "StackOverflow",
	KindStackUnderflow:    "StackUnderflow",
	KindDivisionByZero:    "DivisionByZero",
	KindArityMismatch:     "ArityMismatch",
	KindInvalidBytecode:   "InvalidBytecode",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels matched by RuntimeError.Is, one per kind.
var (
	ErrUndefinedVariable = errors.New("undefined variable")
	ErrUndefinedFunction = errors.New("undefined function")
	ErrTypeError         = errors.New("type error")
	ErrStackOverflow     = errors.New("stack overflow")
	ErrStackUnderflow    = errors.New("stack underflow")
	ErrDivisionByZero    = errors.New("division by zero")
	ErrArityMismatch     = errors.New("arity mismatch")
	ErrInvalidBytecode   = errors.New("invalid bytecode")
)

var kindSentinels = [...]error{
	KindUndefinedVariable: ErrUndefinedVariable,
	KindUndefinedFunction: ErrUndefinedFunction,
	KindTypeError:         ErrTypeError,
	KindStackOverflow:     ErrStackOverflow,
	KindStackUnderflow:    ErrStackUnderflow,
	KindDivisionByZero:    ErrDivisionByZero,
	KindArityMismatch:     ErrArityMismatch,
	KindInvalidBytecode:   ErrInvalidBytecode,
}

// RuntimeError is raised by the interpreter. Execution aborts on the first
// one; there is no partial result.
type RuntimeError struct {
	Kind     ErrorKind
	Name     string // UndefinedVariable: "local_N"
	Expected string // TypeError: expected type name
	Found    string // TypeError: actual type name
	Message  string // free-form detail for the other kinds

	Function bytecode.FunctionID // function executing when the error was raised
	Offset   int                 // instruction index, -1 if not applicable
}

func (e *RuntimeError) Error() string {
	switch e.Kind {
	case KindUndefinedVariable:
		return fmt.Sprintf("undefined variable: %s", e.Name)
	case KindTypeError:
		return fmt.Sprintf("type error: expected %s, found %s", e.Expected, e.Found)
	case KindDivisionByZero:
		return "division by zero"
	}
	desc := e.Kind.String()
	if int(e.Kind) >= 0 && int(e.Kind) < len(kindSentinels) {
		desc = kindSentinels[e.Kind].Error()
	}
	if e.Message != "" {
		return desc + ": " + e.Message
	}
	return desc
}

// Is makes errors.Is(err, ErrDivisionByZero) and friends work.
func (e *RuntimeError) Is(target error) bool {
	if int(e.Kind) < 0 || int(e.Kind) >= len(kindSentinels) {
		return false
	}
	return kindSentinels[e.Kind] == target
}

func newRuntimeError(kind ErrorKind, format string, args ...interface{}) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: fmt.Sprintf(format, args...), Offset: -1}
}

func undefinedVariable(slot int) *RuntimeError {
	return &RuntimeError{Kind: KindUndefinedVariable, Name: fmt.Sprintf("local_%d", slot), Offset: -1}
}

func typeError(expected string, found bytecode.Value) *RuntimeError {
	return &RuntimeError{Kind: KindTypeError, Expected: expected, Found: found.TypeName(), Offset: -1}
}

// ---------------------------------------------------------------------------
// Compile errors
// ---------------------------------------------------------------------------

// CompileErrorKind classifies a CompileError.
type CompileErrorKind int

const (
	// UnsupportedFeature marks bytecode the JIT tier refuses, such as branches.
	UnsupportedFeature CompileErrorKind = iota
	// MalformedBytecode marks bytecode that cannot be lowered at all.
	MalformedBytecode
)

func (k CompileErrorKind) String() string {
	if k == UnsupportedFeature {
		return "UnsupportedFeature"
	}
	return "MalformedBytecode"
}

var (
	// ErrBranchNotSupported is wrapped by the CompileError for chunks containing jumps.
	ErrBranchNotSupported = errors.New("branches are not supported by the JIT tier")
	// ErrJITDisabled is returned by Optimize when the JIT tier is turned off.
	ErrJITDisabled = errors.New("jit disabled")
)

// CompileError reports why a chunk could not be compiled.
type CompileError struct {
	Kind     CompileErrorKind
	Function bytecode.FunctionID
	Offset   int // instruction index, -1 if not applicable
	Reason   string
	Err      error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile function %d: %s", e.Function, e.Kind)
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at %d", e.Offset)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *CompileError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Deopt errors
// ---------------------------------------------------------------------------

var (
	// ErrNoBytecode is wrapped by MissingBytecodeError.
	ErrNoBytecode = errors.New("no bytecode registered")
	// ErrNilDeoptInfo is returned when a deopt is triggered without a snapshot.
	ErrNilDeoptInfo = errors.New("nil deopt info")
)

// MissingBytecodeError is returned when a deopt targets a function with no
// registered ground-truth bytecode. There is nothing to recover to.
type MissingBytecodeError struct {
	Function bytecode.FunctionID
}

func (e *MissingBytecodeError) Error() string {
	return fmt.Sprintf("No bytecode found for function %d", e.Function)
}

func (e *MissingBytecodeError) Unwrap() error { return ErrNoBytecode }
