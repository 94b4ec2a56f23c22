package bytecode

import (
	"math"
	"testing"
)

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Number(42), "42"},
		{Number(-3), "-3"},
		{Number(6.28), "6.28"},
		{Number(0.1 + 0.2), "0.30000000000000004"},
		{Number(1e21), "1e+21"},
		{Number(math.Inf(1)), "Infinity"},
		{Number(math.NaN()), "NaN"},
		{FunctionRef(3), "[Function: 3]"},
		{Undefined, "undefined"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestValueTypeName(t *testing.T) {
	if got := Number(1).TypeName(); got != "number" {
		t.Errorf("TypeName() = %q, want number", got)
	}
	if got := FunctionRef(1).TypeName(); got != "function" {
		t.Errorf("TypeName() = %q, want function", got)
	}
	if got := Undefined.TypeName(); got != "undefined" {
		t.Errorf("TypeName() = %q, want undefined", got)
	}
}

func TestValueTruthy(t *testing.T) {
	tests := []struct {
		v    Value
		want bool
	}{
		{Number(0), false},
		{Number(math.Copysign(0, -1)), false},
		{Undefined, false},
		{Number(1), true},
		{Number(-0.5), true},
		{Number(math.NaN()), true},
		{FunctionRef(0), true},
	}
	for _, tt := range tests {
		if got := tt.v.Truthy(); got != tt.want {
			t.Errorf("%s.Truthy() = %v, want %v", tt.v, got, tt.want)
		}
	}
}

func TestValueEqual(t *testing.T) {
	if !Number(2).Equal(Number(2)) {
		t.Error("Number(2) should equal Number(2)")
	}
	if Number(0).Equal(Undefined) {
		t.Error("Number(0) should not equal Undefined")
	}
	if FunctionRef(1).Equal(FunctionRef(2)) {
		t.Error("distinct function refs should not be equal")
	}
	if !Number(math.NaN()).Equal(Number(math.NaN())) {
		t.Error("NaN constants should share a pool slot")
	}
}
