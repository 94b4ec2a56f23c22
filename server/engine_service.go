package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/tiervm/compiler"
	"github.com/chazu/tiervm/pkg/bytecode"
	"github.com/chazu/tiervm/vm"
)

// EngineService implements the EngineService Connect/gRPC handlers.
type EngineService struct {
	worker *VMWorker
}

// NewEngineService creates an EngineService.
func NewEngineService(worker *VMWorker) *EngineService {
	return &EngineService{worker: worker}
}

// Execute runs source or a chunk on the shared VM. Program failures are
// reported in the response; only malformed requests fail the RPC.
func (s *EngineService) Execute(
	ctx context.Context,
	req *connect.Request[ExecuteRequest],
) (*connect.Response[ExecuteResponse], error) {
	msg := req.Msg
	if msg.Source == "" && len(msg.Chunk) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source or chunk is required"))
	}
	if msg.Source != "" && len(msg.Chunk) != 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source and chunk are mutually exclusive"))
	}

	var chunk *bytecode.Chunk
	if len(msg.Chunk) != 0 {
		c, err := bytecode.UnmarshalChunk(msg.Chunk)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		chunk = c
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (interface{}, error) {
		return s.execute(v, msg, chunk), nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*ExecuteResponse)), nil
}

// execute runs on the VM goroutine.
func (s *EngineService) execute(v *vm.VM, msg *ExecuteRequest, chunk *bytecode.Chunk) *ExecuteResponse {
	var out bytes.Buffer
	prev := v.SetOutput(&out)
	defer v.SetOutput(prev)

	before := compiledSet(v)

	var (
		val bytecode.Value
		err error
	)
	if chunk != nil {
		val, err = v.ExecuteFunction(msg.FunctionID, chunk)
	} else {
		val, err = v.EvalSource(msg.Source)
	}

	resp := &ExecuteResponse{Output: out.String()}
	if err != nil {
		resp.ErrorKind = errorKind(err)
		resp.ErrorMessage = err.Error()
		serverLog.Debug("execute failed", "kind", resp.ErrorKind, "error", resp.ErrorMessage)
		return resp
	}
	resp.Success = true
	resp.Value = val
	resp.Result = val.String()
	for _, id := range v.Functions() {
		if v.IsCompiled(id) && !before[id] {
			resp.Compiled = append(resp.Compiled, id)
		}
	}
	return resp
}

// Compile force-compiles a function regardless of its profile.
func (s *EngineService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := req.Msg
	var chunk *bytecode.Chunk
	switch {
	case len(msg.Chunk) != 0:
		c, err := bytecode.UnmarshalChunk(msg.Chunk)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		chunk = c
	case msg.Source != "":
		mod, err := compiler.Compile(msg.Source)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		chunk = mod.Main
	default:
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source or chunk is required"))
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (interface{}, error) {
		cf, err := v.Optimize(chunk, msg.FunctionID)
		if err != nil {
			return nil, err
		}
		report, _ := v.Report(msg.FunctionID)
		return &CompileResponse{Function: cf, Report: report}, nil
	})
	if err != nil {
		var ce *vm.CompileError
		switch {
		case errors.Is(err, vm.ErrJITDisabled), errors.As(err, &ce):
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		case errors.Is(err, bytecode.ErrInvalidChunk):
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*CompileResponse)), nil
}

// Deoptimize sends a compiled function back to the interpreter.
func (s *EngineService) Deoptimize(
	ctx context.Context,
	req *connect.Request[DeoptimizeRequest],
) (*connect.Response[DeoptimizeResponse], error) {
	msg := req.Msg
	reason, err := msg.Reason.Decode()
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	info := vm.NewDeoptInfo(msg.FunctionID, reason)
	info.SetBytecodeOffset(msg.BytecodeOffset)
	for _, lv := range msg.LiveValues {
		info.AddLiveValue(lv)
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (interface{}, error) {
		if err := v.Deoptimize(info); err != nil {
			return nil, err
		}
		return &DeoptimizeResponse{
			FunctionID: msg.FunctionID,
			IsHot:      v.Profiler().IsHot(msg.FunctionID),
		}, nil
	})
	if err != nil {
		if errors.Is(err, vm.ErrNoBytecode) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*DeoptimizeResponse)), nil
}

// Stats returns a snapshot of the VM counters.
func (s *EngineService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	result, err := s.worker.Do(ctx, func(v *vm.VM) (interface{}, error) {
		return &StatsResponse{Stats: v.Stats()}, nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*StatsResponse)), nil
}

func compiledSet(v *vm.VM) map[bytecode.FunctionID]bool {
	set := make(map[bytecode.FunctionID]bool)
	for _, id := range v.Functions() {
		if v.IsCompiled(id) {
			set[id] = true
		}
	}
	return set
}

// errorKind names the class of a failed execution.
func errorKind(err error) string {
	var (
		re *vm.RuntimeError
		pe *compiler.ParseError
		ce *compiler.CompileError
	)
	switch {
	case errors.As(err, &re):
		return re.Kind.String()
	case errors.As(err, &pe):
		return "ParseError"
	case errors.As(err, &ce):
		return "CompileError"
	}
	return "Error"
}

func workerError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
