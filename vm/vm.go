package vm

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// VM: tier coordinator
// ---------------------------------------------------------------------------

// VM owns one interpreter, profiler, JIT compiler and deopt manager and
// moves functions between the interpreted and compiled tiers. A VM is
// single-threaded; use one per goroutine or serialize access.
type VM struct {
	ID uuid.UUID

	interpreter *Interpreter
	profiler    *HotspotProfiler
	jit         *JITCompiler
	deopt       *DeoptManager
	cache       *CodeCache
	frontend    *compiler.Compiler

	functions map[bytecode.FunctionID]*bytecode.Chunk
	compiled  map[bytecode.FunctionID]*CompiledFunction
	reports   map[bytecode.FunctionID]*OptimizationReport
	rejected  map[bytecode.FunctionID]error

	// Functions that turned hot and still await compilation.
	hotQueue []bytecode.FunctionID

	executions uint64
	tierUps    uint64
	deopts     uint64
	cacheHits  uint64
}

// Option configures a VM.
type Option func(*VM)

// WithHotThreshold sets the profiler threshold.
func WithHotThreshold(n int) Option {
	return func(vm *VM) {
		vm.profiler = NewProfiler(n)
	}
}

// WithBackend selects the code generator backend.
func WithBackend(b Backend) Option {
	return func(vm *VM) {
		enabled := vm.jit.Enabled
		vm.jit = NewJITCompiler(b)
		vm.jit.Enabled = enabled
	}
}

// WithJIT turns the compiled tier on or off.
func WithJIT(enabled bool) Option {
	return func(vm *VM) {
		vm.jit.Enabled = enabled
	}
}

// WithLogCompilation logs every compilation at Info level.
func WithLogCompilation(on bool) Option {
	return func(vm *VM) {
		vm.jit.LogCompilation = on
	}
}

// WithMaxCallDepth bounds interpreter recursion.
func WithMaxCallDepth(n int) Option {
	return func(vm *VM) {
		vm.interpreter.MaxCallDepth = n
	}
}

// WithOutput redirects PRINT output.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) {
		vm.interpreter.Out = w
	}
}

// WithCodeCache persists compiled functions in c. The VM does not close it.
func WithCodeCache(c *CodeCache) Option {
	return func(vm *VM) {
		vm.cache = c
	}
}

// NewVM creates a VM with a threshold of DefaultHotThreshold, the mock
// backend and the JIT enabled, then applies opts.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		ID:        uuid.New(),
		profiler:  NewProfiler(DefaultHotThreshold),
		jit:       NewJITCompiler(BackendMock),
		deopt:     NewDeoptManager(),
		frontend:  compiler.NewCompiler(),
		functions: make(map[bytecode.FunctionID]*bytecode.Chunk),
		compiled:  make(map[bytecode.FunctionID]*CompiledFunction),
		reports:   make(map[bytecode.FunctionID]*OptimizationReport),
		rejected:  make(map[bytecode.FunctionID]error),
	}
	vm.interpreter = NewInterpreter(vm, nil)
	for _, opt := range opts {
		opt(vm)
	}
	vm.interpreter.Profiler = vm.profiler
	vm.profiler.OnHot = vm.onHot

	vmLog.Debug("created", "vm", vm.ID.String(), "threshold", vm.profiler.Threshold(), "backend", vm.jit.Backend().String(), "jit", vm.jit.Enabled)
	return vm
}

// onHot queues a function for compilation after the current run.
func (vm *VM) onHot(id bytecode.FunctionID, profile *FunctionProfile) {
	vmLog.Debug("hot", "function", id, "count", profile.ExecutionCount)
	vm.hotQueue = append(vm.hotQueue, id)
}

// Function implements FunctionTable over the registered chunks.
func (vm *VM) Function(id bytecode.FunctionID) (*bytecode.Chunk, bool) {
	c, ok := vm.functions[id]
	return c, ok
}

// Functions returns the registered function ids in ascending order.
func (vm *VM) Functions() []bytecode.FunctionID {
	ids := make([]bytecode.FunctionID, 0, len(vm.functions))
	for id := range vm.functions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RegisterFunction makes chunk callable as id. Replacing a chunk with
// different bytecode drops any compiled code and rejection for id, and
// the new bytecode has to warm up again.
// Malformed bytecode is reported by the interpreter when it runs.
func (vm *VM) RegisterFunction(id bytecode.FunctionID, chunk *bytecode.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("register function %d: %w", id, bytecode.ErrInvalidChunk)
	}
	if prev, ok := vm.functions[id]; ok && prev != chunk && prev.Checksum() != chunk.Checksum() {
		delete(vm.compiled, id)
		delete(vm.reports, id)
		delete(vm.rejected, id)
		if vm.profiler.IsHot(id) {
			vm.profiler.UnmarkHot(id)
		}
	}
	vm.functions[id] = chunk
	return nil
}

// Execute runs chunk as the main function.
func (vm *VM) Execute(chunk *bytecode.Chunk) (bytecode.Value, error) {
	return vm.ExecuteFunction(bytecode.MainFunctionID, chunk)
}

// ExecuteFunction registers chunk as id and interprets it. A nil chunk
// runs the chunk already registered for id. After a successful run every
// function that turned hot is compiled.
func (vm *VM) ExecuteFunction(id bytecode.FunctionID, chunk *bytecode.Chunk, args ...bytecode.Value) (bytecode.Value, error) {
	if chunk == nil {
		var ok bool
		if chunk, ok = vm.functions[id]; !ok {
			return bytecode.Undefined, &RuntimeError{Kind: KindUndefinedFunction, Message: fmt.Sprintf("function %d is not registered", id), Function: id, Offset: -1}
		}
	} else if err := vm.RegisterFunction(id, chunk); err != nil {
		return bytecode.Undefined, err
	}

	vm.executions++
	v, err := vm.interpreter.Run(id, chunk, args...)
	if err != nil {
		return bytecode.Undefined, err
	}
	vm.tierUp()
	return v, nil
}

// EvalSource compiles source, registers its functions and runs its
// top-level code. Function declarations persist across calls.
func (vm *VM) EvalSource(source string) (bytecode.Value, error) {
	mod, err := vm.frontend.Compile(source)
	if err != nil {
		return bytecode.Undefined, err
	}
	for _, fn := range mod.Functions {
		if err := vm.RegisterFunction(fn.ID, fn.Chunk); err != nil {
			return bytecode.Undefined, err
		}
	}
	return vm.Execute(mod.Main)
}

// tierUp compiles queued hot functions. Rejections are remembered so a
// function with branches is not retried on every run.
func (vm *VM) tierUp() {
	queue := vm.hotQueue
	vm.hotQueue = nil
	for _, id := range queue {
		if _, done := vm.compiled[id]; done {
			continue
		}
		if _, bad := vm.rejected[id]; bad {
			continue
		}
		chunk, ok := vm.functions[id]
		if !ok || !vm.jit.Enabled {
			continue
		}
		if vm.loadCached(id, chunk) {
			continue
		}
		if _, err := vm.compile(id, chunk); err != nil {
			vm.rejected[id] = err
			jitLog.Info("staying interpreted", "function", id, "error", err.Error())
			continue
		}
		vm.tierUps++
	}
}

// loadCached installs a persisted compilation of chunk, if one exists.
func (vm *VM) loadCached(id bytecode.FunctionID, chunk *bytecode.Chunk) bool {
	if vm.cache == nil {
		return false
	}
	cf, err := vm.cache.Get(id, chunk.Checksum(), vm.jit.Backend())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			cacheLog.Warning("lookup failed", "function", id, "error", err.Error())
		}
		return false
	}
	vm.deopt.RegisterBytecode(id, chunk)
	vm.compiled[id] = cf
	vm.cacheHits++
	vm.tierUps++
	cacheLog.Debug("hit", "function", id, "checksum", cf.Checksum)
	return true
}

func (vm *VM) compile(id bytecode.FunctionID, chunk *bytecode.Chunk) (*CompiledFunction, error) {
	cf, report, err := vm.jit.Compile(id, chunk)
	if err != nil {
		return nil, err
	}
	vm.deopt.RegisterBytecode(id, chunk)
	vm.compiled[id] = cf
	vm.reports[id] = report
	if vm.cache != nil {
		if err := vm.cache.Put(cf, vm.jit.Backend()); err != nil {
			cacheLog.Warning("store failed", "function", id, "error", err.Error())
		}
	}
	return cf, nil
}

// Optimize compiles chunk as id immediately, whatever its profile, and
// marks it hot. Branching bytecode yields a *CompileError.
func (vm *VM) Optimize(chunk *bytecode.Chunk, id bytecode.FunctionID) (*CompiledFunction, error) {
	if !vm.jit.Enabled {
		return nil, ErrJITDisabled
	}
	if err := vm.RegisterFunction(id, chunk); err != nil {
		return nil, err
	}
	cf, err := vm.compile(id, chunk)
	if err != nil {
		return nil, fmt.Errorf("optimize function %d: %w", id, err)
	}
	delete(vm.rejected, id)
	vm.profiler.MarkHot(id)
	return cf, nil
}

// Deoptimize sends id back to the interpreter: the compiled entry and any
// cached copy are dropped and the function must warm up again. Fails with
// a *MissingBytecodeError when id was never compiled.
func (vm *VM) Deoptimize(info *DeoptInfo) error {
	state, err := vm.deopt.TriggerDeopt(info)
	if err != nil {
		return fmt.Errorf("deoptimize: %w", err)
	}
	delete(vm.compiled, state.FunctionID)
	delete(vm.reports, state.FunctionID)
	vm.profiler.UnmarkHot(state.FunctionID)
	if vm.cache != nil {
		if _, err := vm.cache.Invalidate(state.FunctionID); err != nil {
			cacheLog.Warning("invalidate failed", "function", state.FunctionID, "error", err.Error())
		}
	}
	vm.deopts++
	return nil
}

// CompiledFunction returns the compiled code for id, if any.
func (vm *VM) CompiledFunction(id bytecode.FunctionID) (*CompiledFunction, bool) {
	cf, ok := vm.compiled[id]
	return cf, ok
}

// IsCompiled reports whether id currently has compiled code.
func (vm *VM) IsCompiled(id bytecode.FunctionID) bool {
	_, ok := vm.compiled[id]
	return ok
}

// Report returns the optimizer report from id's last compilation.
func (vm *VM) Report(id bytecode.FunctionID) (*OptimizationReport, bool) {
	r, ok := vm.reports[id]
	return r, ok
}

// Rejection returns why id was refused by the JIT, if it was.
func (vm *VM) Rejection(id bytecode.FunctionID) error {
	return vm.rejected[id]
}

// SetOutput redirects PRINT output for subsequent runs and returns the
// previous writer.
func (vm *VM) SetOutput(w io.Writer) io.Writer {
	prev := vm.interpreter.Out
	vm.interpreter.Out = w
	return prev
}

// Profiler returns the VM's profiler.
func (vm *VM) Profiler() *HotspotProfiler {
	return vm.profiler
}

// DeoptManager returns the VM's deopt manager.
func (vm *VM) DeoptManager() *DeoptManager {
	return vm.deopt
}

// JIT returns the VM's JIT compiler.
func (vm *VM) JIT() *JITCompiler {
	return vm.jit
}

// Stats is a snapshot of VM activity.
type Stats struct {
	ID          string           `json:"id"`
	Executions  uint64           `json:"executions"`
	Functions   int              `json:"functions"`
	Compiled    int              `json:"compiled"`
	Rejected    int              `json:"rejected"`
	TierUps     uint64           `json:"tierUps"`
	Deopts      uint64           `json:"deopts"`
	CacheHits   uint64           `json:"cacheHits"`
	CodeBytes   int              `json:"codeBytes"`
	Interpreter InterpreterStats `json:"interpreter"`
	Profiler    ProfilerStats    `json:"profiler"`
	JIT         JITStats         `json:"jit"`
}

// Stats returns a snapshot of VM activity.
func (vm *VM) Stats() Stats {
	s := Stats{
		ID:          vm.ID.String(),
		Executions:  vm.executions,
		Functions:   len(vm.functions),
		Compiled:    len(vm.compiled),
		Rejected:    len(vm.rejected),
		TierUps:     vm.tierUps,
		Deopts:      vm.deopts,
		CacheHits:   vm.cacheHits,
		Interpreter: vm.interpreter.Stats(),
		Profiler:    vm.profiler.Stats(),
		JIT:         vm.jit.Stats(),
	}
	for _, cf := range vm.compiled {
		s.CodeBytes += len(cf.Code)
	}
	return s
}
