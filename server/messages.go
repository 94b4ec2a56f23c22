package server

import (
	"github.com/chazu/tiervm/pkg/bytecode"
	"github.com/chazu/tiervm/vm"
)

// ServiceName is the fully-qualified RPC service name.
const ServiceName = "tiervm.v1.EngineService"

// Procedure paths.
const (
	ExecuteProcedure    = "/" + ServiceName + "/Execute"
	CompileProcedure    = "/" + ServiceName + "/Compile"
	DeoptimizeProcedure = "/" + ServiceName + "/Deoptimize"
	StatsProcedure      = "/" + ServiceName + "/Stats"
)

// ExecuteRequest runs either Source or a CBOR-encoded Chunk. A chunk is
// registered and run as FunctionID.
type ExecuteRequest struct {
	Source     string              `cbor:"1,keyasint,omitempty"`
	Chunk      []byte              `cbor:"2,keyasint,omitempty"`
	FunctionID bytecode.FunctionID `cbor:"3,keyasint,omitempty"`
}

// ExecuteResponse reports the program result. Runtime and front-end
// errors are reported here rather than as RPC errors.
type ExecuteResponse struct {
	Success      bool                  `cbor:"1,keyasint"`
	Result       string                `cbor:"2,keyasint,omitempty"`
	Value        bytecode.Value        `cbor:"3,keyasint"`
	Output       string                `cbor:"4,keyasint,omitempty"`
	ErrorKind    string                `cbor:"5,keyasint,omitempty"`
	ErrorMessage string                `cbor:"6,keyasint,omitempty"`
	Compiled     []bytecode.FunctionID `cbor:"7,keyasint,omitempty"`
}

// CompileRequest force-compiles the top-level code of Source, or a
// CBOR-encoded Chunk, as FunctionID.
type CompileRequest struct {
	Source     string              `cbor:"1,keyasint,omitempty"`
	Chunk      []byte              `cbor:"2,keyasint,omitempty"`
	FunctionID bytecode.FunctionID `cbor:"3,keyasint,omitempty"`
}

// CompileResponse carries the compiled function and its optimizer report.
type CompileResponse struct {
	Function *vm.CompiledFunction   `cbor:"1,keyasint"`
	Report   *vm.OptimizationReport `cbor:"2,keyasint,omitempty"`
}

// DeoptimizeRequest mirrors vm.DeoptInfo.
type DeoptimizeRequest struct {
	FunctionID     bytecode.FunctionID `cbor:"1,keyasint"`
	LiveValues     []bytecode.Value    `cbor:"2,keyasint,omitempty"`
	BytecodeOffset int                 `cbor:"3,keyasint,omitempty"`
	Reason         vm.ReasonWire       `cbor:"4,keyasint"`
}

// DeoptimizeResponse confirms a deopt.
type DeoptimizeResponse struct {
	FunctionID bytecode.FunctionID `cbor:"1,keyasint"`
	IsHot      bool                `cbor:"2,keyasint"`
}

// StatsRequest is empty.
type StatsRequest struct{}

// StatsResponse wraps the VM snapshot.
type StatsResponse struct {
	Stats vm.Stats `cbor:"1,keyasint"`
}
