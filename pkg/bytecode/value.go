package bytecode

import (
	"fmt"
	"math"
	"strconv"
)

// FunctionID identifies a function across every tier: bytecode, IR,
// compiled code and profiler state all key on it.
type FunctionID uint32

// MainFunctionID is the id under which top-level program code runs.
const MainFunctionID FunctionID = 0

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota // zero value
	KindNumber
	KindFunction
)

// String returns the type name used in runtime errors and type guards.
func (k ValueKind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNumber:
		return "number"
	case KindFunction:
		return "function"
	default:
		return fmt.Sprintf("ValueKind(%d)", k)
	}
}

// Value is the engine's only runtime datum: a number, a reference to a
// registered function, or undefined. There are no heap values.
type Value struct {
	Kind ValueKind  `cbor:"1,keyasint"`
	Num  float64    `cbor:"2,keyasint,omitempty"`
	Fn   FunctionID `cbor:"3,keyasint,omitempty"`
}

// Undefined is the value produced by statements and empty returns.
var Undefined = Value{}

// Number wraps a float64.
func Number(f float64) Value {
	return Value{Kind: KindNumber, Num: f}
}

// FunctionRef wraps a function id.
func FunctionRef(id FunctionID) Value {
	return Value{Kind: KindFunction, Fn: id}
}

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.Kind == KindNumber }

// IsFunction reports whether v holds a function reference.
func (v Value) IsFunction() bool { return v.Kind == KindFunction }

// IsUndefined reports whether v is undefined.
func (v Value) IsUndefined() bool { return v.Kind == KindUndefined }

// TypeName returns "number", "function" or "undefined".
func (v Value) TypeName() string { return v.Kind.String() }

// Truthy implements conditional-jump semantics: zero and undefined are
// false, everything else is true. NaN is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case KindNumber:
		return v.Num != 0
	case KindFunction:
		return true
	default:
		return false
	}
}

// Equal compares two values by kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Num == o.Num || (math.IsNaN(v.Num) && math.IsNaN(o.Num))
	case KindFunction:
		return v.Fn == o.Fn
	default:
		return true
	}
}

// String renders the value the way the REPL prints it. Integral numbers
// print without a fractional part.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return FormatNumber(v.Num)
	case KindFunction:
		return fmt.Sprintf("[Function: %d]", v.Fn)
	default:
		return "undefined"
	}
}

// FormatNumber formats f with the shortest representation that
// round-trips, dropping ".0" from integral values.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
