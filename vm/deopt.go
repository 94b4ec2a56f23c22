package vm

import (
	"fmt"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Deoptimization
// ---------------------------------------------------------------------------

// DeoptReason explains why compiled code was abandoned. The set of
// reasons is closed.
type DeoptReason interface {
	fmt.Stringer
	deoptReason()
}

// TypeGuardFailed means a value did not have the type a guard assumed.
type TypeGuardFailed struct {
	Expected string `cbor:"1,keyasint" json:"expected"`
	Found    string `cbor:"2,keyasint" json:"found"`
}

// AssumptionInvalidated means a speculative assumption no longer holds.
type AssumptionInvalidated struct {
	Assumption string `cbor:"1,keyasint" json:"assumption"`
}

// OtherReason carries a free-form explanation.
type OtherReason struct {
	Message string `cbor:"1,keyasint" json:"message"`
}

func (r *TypeGuardFailed) String() string {
	return fmt.Sprintf("type guard failed: expected %s, found %s", r.Expected, r.Found)
}

func (r *AssumptionInvalidated) String() string {
	return "assumption invalidated: " + r.Assumption
}

func (r *OtherReason) String() string {
	return r.Message
}

func (*TypeGuardFailed) deoptReason()       {}
func (*AssumptionInvalidated) deoptReason() {}
func (*OtherReason) deoptReason()           {}

// NewTypeGuardFailed builds the reason for a guard that expected one
// type name and saw the type of found.
func NewTypeGuardFailed(expected string, found bytecode.Value) *TypeGuardFailed {
	return &TypeGuardFailed{Expected: expected, Found: found.TypeName()}
}

// DeoptInfo describes the machine state at the point compiled code bailed out.
type DeoptInfo struct {
	FunctionID     bytecode.FunctionID
	LiveValues     []bytecode.Value
	BytecodeOffset int
	Reason         DeoptReason
}

// NewDeoptInfo starts a DeoptInfo at offset 0 with no live values.
func NewDeoptInfo(id bytecode.FunctionID, reason DeoptReason) *DeoptInfo {
	return &DeoptInfo{FunctionID: id, Reason: reason}
}

// AddLiveValue appends a value that was live at the bailout point.
func (d *DeoptInfo) AddLiveValue(v bytecode.Value) {
	d.LiveValues = append(d.LiveValues, v)
}

// SetBytecodeOffset records the instruction index to resume at.
func (d *DeoptInfo) SetBytecodeOffset(offset int) {
	d.BytecodeOffset = offset
}

// DeoptState is what the interpreter would need to resume: the ground
// truth bytecode plus the snapshot taken at the bailout point.
type DeoptState struct {
	FunctionID     bytecode.FunctionID
	Bytecode       *bytecode.Chunk
	LiveValues     []bytecode.Value
	BytecodeOffset int
	Reason         DeoptReason
}

// DeoptManager keeps the bytecode each compiled function was built from,
// so a deopt always has something to fall back to. Not safe for
// concurrent use.
type DeoptManager struct {
	bytecode map[bytecode.FunctionID]*bytecode.Chunk
	count    uint64
}

// NewDeoptManager creates an empty manager.
func NewDeoptManager() *DeoptManager {
	return &DeoptManager{bytecode: make(map[bytecode.FunctionID]*bytecode.Chunk)}
}

// RegisterBytecode stores a private copy of chunk for id, replacing any
// earlier registration.
func (m *DeoptManager) RegisterBytecode(id bytecode.FunctionID, chunk *bytecode.Chunk) {
	m.bytecode[id] = chunk.Clone()
}

// Bytecode returns the registered chunk for id.
func (m *DeoptManager) Bytecode(id bytecode.FunctionID) (*bytecode.Chunk, bool) {
	c, ok := m.bytecode[id]
	return c, ok
}

// Count returns the number of deopts triggered.
func (m *DeoptManager) Count() uint64 {
	return m.count
}

// TriggerDeopt pairs info with the registered bytecode for its function.
// Resuming the interpreter from the returned state is not implemented;
// callers re-run the function from the start.
func (m *DeoptManager) TriggerDeopt(info *DeoptInfo) (*DeoptState, error) {
	if info == nil {
		return nil, ErrNilDeoptInfo
	}
	chunk, ok := m.bytecode[info.FunctionID]
	if !ok {
		return nil, &MissingBytecodeError{Function: info.FunctionID}
	}
	m.count++
	reason := "unspecified"
	if info.Reason != nil {
		reason = info.Reason.String()
	}
	deoptLog.Info("deoptimizing", "function", info.FunctionID, "offset", info.BytecodeOffset, "reason", reason)
	return &DeoptState{
		FunctionID:     info.FunctionID,
		Bytecode:       chunk.Clone(),
		LiveValues:     append([]bytecode.Value(nil), info.LiveValues...),
		BytecodeOffset: info.BytecodeOffset,
		Reason:         info.Reason,
	}, nil
}

// CheckTypeGuard returns nil when value has the expected type name
// ("number", "function" or "undefined"), else the failure reason.
func (m *DeoptManager) CheckTypeGuard(value bytecode.Value, expected string) DeoptReason {
	if value.TypeName() == expected {
		return nil
	}
	return NewTypeGuardFailed(expected, value)
}
