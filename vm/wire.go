package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// MarshalCompiledFunction serializes a CompiledFunction to canonical CBOR.
func MarshalCompiledFunction(cf *CompiledFunction) ([]byte, error) {
	return bytecode.EncMode().Marshal(cf)
}

// UnmarshalCompiledFunction deserializes a CompiledFunction from CBOR bytes.
func UnmarshalCompiledFunction(data []byte) (*CompiledFunction, error) {
	var cf CompiledFunction
	if err := cbor.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("vm: unmarshal compiled function: %w", err)
	}
	return &cf, nil
}

// Reason kinds on the wire.
const (
	wireReasonNone uint8 = iota
	wireReasonTypeGuard
	wireReasonAssumption
	wireReasonOther
)

// ReasonWire is the flat encoding of a DeoptReason.
type ReasonWire struct {
	Kind       uint8  `cbor:"1,keyasint" json:"kind"`
	Expected   string `cbor:"2,keyasint,omitempty" json:"expected,omitempty"`
	Found      string `cbor:"3,keyasint,omitempty" json:"found,omitempty"`
	Assumption string `cbor:"4,keyasint,omitempty" json:"assumption,omitempty"`
	Message    string `cbor:"5,keyasint,omitempty" json:"message,omitempty"`
}

// EncodeReason flattens r; a nil reason encodes as kind none.
func EncodeReason(r DeoptReason) ReasonWire {
	switch r := r.(type) {
	case *TypeGuardFailed:
		return ReasonWire{Kind: wireReasonTypeGuard, Expected: r.Expected, Found: r.Found}
	case *AssumptionInvalidated:
		return ReasonWire{Kind: wireReasonAssumption, Assumption: r.Assumption}
	case *OtherReason:
		return ReasonWire{Kind: wireReasonOther, Message: r.Message}
	}
	return ReasonWire{Kind: wireReasonNone}
}

// Decode rebuilds the DeoptReason.
func (w ReasonWire) Decode() (DeoptReason, error) {
	switch w.Kind {
	case wireReasonNone:
		return nil, nil
	case wireReasonTypeGuard:
		return &TypeGuardFailed{Expected: w.Expected, Found: w.Found}, nil
	case wireReasonAssumption:
		return &AssumptionInvalidated{Assumption: w.Assumption}, nil
	case wireReasonOther:
		return &OtherReason{Message: w.Message}, nil
	}
	return nil, fmt.Errorf("vm: unknown deopt reason kind %d", w.Kind)
}

type deoptStateWire struct {
	FunctionID     bytecode.FunctionID `cbor:"1,keyasint"`
	Bytecode       *bytecode.Chunk     `cbor:"2,keyasint"`
	LiveValues     []bytecode.Value    `cbor:"3,keyasint"`
	BytecodeOffset int                 `cbor:"4,keyasint"`
	Reason         ReasonWire          `cbor:"5,keyasint"`
}

// MarshalDeoptState serializes a DeoptState to canonical CBOR.
func MarshalDeoptState(s *DeoptState) ([]byte, error) {
	return bytecode.EncMode().Marshal(&deoptStateWire{
		FunctionID:     s.FunctionID,
		Bytecode:       s.Bytecode,
		LiveValues:     s.LiveValues,
		BytecodeOffset: s.BytecodeOffset,
		Reason:         EncodeReason(s.Reason),
	})
}

// UnmarshalDeoptState deserializes a DeoptState from CBOR bytes.
func UnmarshalDeoptState(data []byte) (*DeoptState, error) {
	var w deoptStateWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("vm: unmarshal deopt state: %w", err)
	}
	reason, err := w.Reason.Decode()
	if err != nil {
		return nil, err
	}
	return &DeoptState{
		FunctionID:     w.FunctionID,
		Bytecode:       w.Bytecode,
		LiveValues:     w.LiveValues,
		BytecodeOffset: w.BytecodeOffset,
		Reason:         reason,
	}, nil
}
