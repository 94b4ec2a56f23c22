package vm

import (
	"sync/atomic"
	"time"

	"github.com/chazu/tiervm/pkg/bytecode"
)

// JITCompiler turns hot bytecode into CompiledFunctions: lower to IR,
// run the optimizer, then generate code. It holds no per-function state;
// the VM owns the compiled table.
type JITCompiler struct {
	optimizer *Optimizer
	codegen   *CodeGenerator

	// Statistics
	functionsCompiled uint64
	functionsRejected uint64
	bytesEmitted      uint64
	compilationTime   uint64 // nanoseconds

	// Configuration
	Enabled        bool // Master switch for JIT
	LogCompilation bool // Log at Info instead of Debug when a function is compiled
}

// NewJITCompiler creates an enabled compiler for backend b.
func NewJITCompiler(b Backend) *JITCompiler {
	return &JITCompiler{
		optimizer: NewOptimizer(),
		codegen:   NewCodeGenerator(b),
		Enabled:   true,
	}
}

// Backend returns the backend requested for generated code.
func (jit *JITCompiler) Backend() Backend {
	return jit.codegen.Requested()
}

// Compile runs the full pipeline for one function. The returned report is
// nil when lowering fails.
func (jit *JITCompiler) Compile(id bytecode.FunctionID, chunk *bytecode.Chunk) (*CompiledFunction, *OptimizationReport, error) {
	if !jit.Enabled {
		return nil, nil, ErrJITDisabled
	}
	start := time.Now()

	ir, err := LowerToIR(id, chunk)
	if err != nil {
		atomic.AddUint64(&jit.functionsRejected, 1)
		return nil, nil, err
	}

	report := jit.optimizer.Run(ir)

	cf, err := jit.codegen.Generate(ir, report)
	if err != nil {
		atomic.AddUint64(&jit.functionsRejected, 1)
		return nil, report, err
	}
	cf.Checksum = chunk.Checksum()

	elapsed := time.Since(start)
	atomic.AddUint64(&jit.functionsCompiled, 1)
	atomic.AddUint64(&jit.bytesEmitted, uint64(len(cf.Code)))
	atomic.AddUint64(&jit.compilationTime, uint64(elapsed.Nanoseconds()))

	kv := []any{
		"function", id,
		"nodes", ir.Len(),
		"folded", len(report.Folded),
		"specialized", len(report.Specialized),
		"bytes", len(cf.Code),
		"elapsed", elapsed,
	}
	if jit.LogCompilation {
		jitLog.Info("compiled", kv...)
	} else {
		jitLog.Debug("compiled", kv...)
	}
	return cf, report, nil
}

// JITStats holds JIT compiler statistics.
type JITStats struct {
	FunctionsCompiled uint64        `json:"functionsCompiled"`
	FunctionsRejected uint64        `json:"functionsRejected"`
	BytesEmitted      uint64        `json:"bytesEmitted"`
	CompilationTime   time.Duration `json:"compilationTime"`
}

// Stats returns JIT compiler statistics.
func (jit *JITCompiler) Stats() JITStats {
	return JITStats{
		FunctionsCompiled: atomic.LoadUint64(&jit.functionsCompiled),
		FunctionsRejected: atomic.LoadUint64(&jit.functionsRejected),
		BytesEmitted:      atomic.LoadUint64(&jit.bytesEmitted),
		CompilationTime:   time.Duration(atomic.LoadUint64(&jit.compilationTime)),
	}
}

// Reset zeroes the statistics.
func (jit *JITCompiler) Reset() {
	atomic.StoreUint64(&jit.functionsCompiled, 0)
	atomic.StoreUint64(&jit.functionsRejected, 0)
	atomic.StoreUint64(&jit.bytesEmitted, 0)
	atomic.StoreUint64(&jit.compilationTime, 0)
}
