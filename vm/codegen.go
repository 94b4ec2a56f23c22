package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Code generation
// ---------------------------------------------------------------------------

// Backend selects a code generator target.
type Backend uint8

const (
	BackendMock Backend = iota
	BackendAMD64
	BackendARM64
)

func (b Backend) String() string {
	switch b {
	case BackendMock:
		return "mock"
	case BackendAMD64:
		return "amd64"
	case BackendARM64:
		return "arm64"
	}
	return fmt.Sprintf("Backend(%d)", b)
}

// ParseBackend maps a backend name to its Backend.
func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mock":
		return BackendMock, nil
	case "amd64", "x86_64", "x86-64":
		return BackendAMD64, nil
	case "arm64", "aarch64":
		return BackendARM64, nil
	}
	return BackendMock, fmt.Errorf("unknown backend %q", name)
}

// Mock backend markers, one per node kind.
const (
	MarkConstant   byte = 0x01
	MarkFuncRef    byte = 0x02
	MarkAdd        byte = 0x10
	MarkSub        byte = 0x11
	MarkMul        byte = 0x12
	MarkDiv        byte = 0x13
	MarkLoadLocal  byte = 0x20
	MarkStoreLocal byte = 0x21
	MarkCall       byte = 0x30
	MarkPrint      byte = 0x31
	MarkReturn     byte = 0x40
	MarkTypeGuard  byte = 0x50
)

// CompiledFunction is the output of the JIT tier for one function.
type CompiledFunction struct {
	FunctionID   bytecode.FunctionID `cbor:"1,keyasint" json:"functionId"`
	EntryPoint   int                 `cbor:"2,keyasint" json:"entryPoint"`
	Code         []byte              `cbor:"3,keyasint" json:"code"`
	Backend      Backend             `cbor:"4,keyasint" json:"backend"`
	BuildID      uuid.UUID           `cbor:"5,keyasint" json:"buildId"`
	Checksum     uint32              `cbor:"6,keyasint" json:"checksum"` // checksum of the source chunk
	UncheckedOps []NodeID            `cbor:"7,keyasint,omitempty" json:"uncheckedOps,omitempty"`
}

// Size returns the length of the emitted code.
func (cf *CompiledFunction) Size() int {
	return len(cf.Code)
}

// CodeGenerator lowers optimized IR into a byte stream for its backend.
type CodeGenerator struct {
	backend Backend
}

// NewCodeGenerator returns a generator for b. Native backends are not
// implemented yet and emit the mock encoding.
func NewCodeGenerator(b Backend) *CodeGenerator {
	return &CodeGenerator{backend: b}
}

// Requested returns the backend the generator was created for.
func (g *CodeGenerator) Requested() Backend {
	return g.backend
}

// Generate emits one instruction group per IR node, in id order. The
// report may be nil; when present its specialized nodes are listed in
// UncheckedOps. Output is deterministic for a given IR.
func (g *CodeGenerator) Generate(ir *IR, report *OptimizationReport) (*CompiledFunction, error) {
	if err := ir.Validate(); err != nil {
		return nil, &CompileError{
			Kind:     MalformedBytecode,
			Function: ir.Function,
			Offset:   -1,
			Reason:   err.Error(),
			Err:      err,
		}
	}
	if g.backend != BackendMock {
		jitLog.Warning("native backend not implemented, using mock", "backend", g.backend.String(), "function", ir.Function)
	}

	var code []byte
	var err error
	ir.Each(func(id NodeID, n Node) {
		if err != nil {
			return
		}
		code, err = emit(code, n)
	})
	if err != nil {
		return nil, &CompileError{Kind: UnsupportedFeature, Function: ir.Function, Offset: -1, Reason: err.Error(), Err: err}
	}

	cf := &CompiledFunction{
		FunctionID: ir.Function,
		Code:       code,
		Backend:    BackendMock,
		BuildID:    uuid.New(),
	}
	if report != nil && len(report.Specialized) > 0 {
		cf.UncheckedOps = append([]NodeID(nil), report.Specialized...)
	}
	return cf, nil
}

func emit(code []byte, n Node) ([]byte, error) {
	switch n := n.(type) {
	case *ConstantNode:
		code = append(code, MarkConstant)
		return binary.LittleEndian.AppendUint64(code, math.Float64bits(n.Value)), nil
	case *FuncRefNode:
		code = append(code, MarkFuncRef)
		return binary.LittleEndian.AppendUint32(code, uint32(n.Function)), nil
	case *BinaryNode:
		return append(code, MarkAdd+byte(n.Op)), nil
	case *LoadLocalNode:
		code = append(code, MarkLoadLocal)
		return binary.LittleEndian.AppendUint32(code, uint32(n.Index)), nil
	case *StoreLocalNode:
		code = append(code, MarkStoreLocal)
		return binary.LittleEndian.AppendUint32(code, uint32(n.Index)), nil
	case *CallNode:
		code = append(code, MarkCall)
		return binary.LittleEndian.AppendUint32(code, uint32(len(n.Args))), nil
	case *PrintNode:
		return append(code, MarkPrint), nil
	case *ReturnNode:
		return append(code, MarkReturn), nil
	case *TypeGuardNode:
		return append(code, MarkTypeGuard, byte(n.Expected)), nil
	}
	return code, fmt.Errorf("no emission rule for %T", n)
}
