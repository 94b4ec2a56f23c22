package server

import (
	"slices"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/tiervm/pkg/bytecode"
	"github.com/chazu/tiervm/vm"
)

// ---------------------------------------------------------------------------
// Execute
// ---------------------------------------------------------------------------

func TestExecute_Source(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "print(3); 10 + 20"}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("Execute was not successful: %s", resp.Msg.ErrorMessage)
	}
	if resp.Msg.Result != "30" {
		t.Errorf("Result = %q, want %q", resp.Msg.Result, "30")
	}
	if !resp.Msg.Value.Equal(bytecode.Number(30)) {
		t.Errorf("Value = %v, want 30", resp.Msg.Value)
	}
	if resp.Msg.Output != "3\n" {
		t.Errorf("Output = %q, want %q", resp.Msg.Output, "3\n")
	}
}

func TestExecute_Chunk(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Execute(bg(), connectReq(&ExecuteRequest{
		Chunk:      encodedChunk(t, addChunk(2, 40)),
		FunctionID: 9,
	}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if !resp.Msg.Success || resp.Msg.Result != "42" {
		t.Errorf("Execute = %+v, want success with 42", resp.Msg)
	}
}

func TestExecute_RuntimeErrorInResponse(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "10 / 0"}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if resp.Msg.Success {
		t.Fatal("Execute succeeded on division by zero")
	}
	if resp.Msg.ErrorKind != "DivisionByZero" {
		t.Errorf("ErrorKind = %q, want DivisionByZero", resp.Msg.ErrorKind)
	}
	if resp.Msg.ErrorMessage != "division by zero" {
		t.Errorf("ErrorMessage = %q, want %q", resp.Msg.ErrorMessage, "division by zero")
	}
}

func TestExecute_ParseErrorInResponse(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "let = 10"}))
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if resp.Msg.Success || resp.Msg.ErrorKind != "ParseError" {
		t.Errorf("Execute = %+v, want ParseError", resp.Msg)
	}
}

func TestExecute_ReportsTierUp(t *testing.T) {
	svc, _ := newTestService(t, vm.WithHotThreshold(2))

	if _, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "function add(a, b) { return a + b; }"})); err != nil {
		t.Fatalf("define: %v", err)
	}
	first, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "add(1, 2)"}))
	if err != nil {
		t.Fatalf("run 1: %v", err)
	}
	if slices.Contains(first.Msg.Compiled, 1) {
		t.Error("add compiled after one call")
	}
	second, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: "add(1, 2)"}))
	if err != nil {
		t.Fatalf("run 2: %v", err)
	}
	if !slices.Contains(second.Msg.Compiled, 1) {
		t.Errorf("Compiled = %v, want add (1) after two calls", second.Msg.Compiled)
	}
}

func TestExecute_EmptyRequest(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Execute(bg(), connectReq(&ExecuteRequest{}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestExecute_SourceAndChunk(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Execute(bg(), connectReq(&ExecuteRequest{
		Source: "1",
		Chunk:  encodedChunk(t, addChunk(1, 2)),
	}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestExecute_BadChunk(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Chunk: []byte{0xff, 0x00}}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompile_Source(t *testing.T) {
	svc, w := newTestService(t)

	resp, err := svc.Compile(bg(), connectReq(&CompileRequest{Source: "10 + 20", FunctionID: 5}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	cf := resp.Msg.Function
	if cf == nil || cf.FunctionID != 5 || len(cf.Code) == 0 {
		t.Fatalf("Function = %+v, want code for function 5", cf)
	}
	if resp.Msg.Report == nil || len(resp.Msg.Report.Folded) == 0 {
		t.Errorf("Report = %+v, want folded constants", resp.Msg.Report)
	}

	hot, _ := w.Do(bg(), func(v *vm.VM) (interface{}, error) {
		return v.Profiler().IsHot(5), nil
	})
	if hot != true {
		t.Error("compiled function is not hot")
	}
}

func TestCompile_Chunk(t *testing.T) {
	svc, _ := newTestService(t)

	resp, err := svc.Compile(bg(), connectReq(&CompileRequest{Chunk: encodedChunk(t, addChunk(1, 2)), FunctionID: 2}))
	if err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	if resp.Msg.Function.Backend != vm.BackendMock {
		t.Errorf("Backend = %v, want mock", resp.Msg.Function.Backend)
	}
}

func TestCompile_RejectsBranches(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Compile(bg(), connectReq(&CompileRequest{Chunk: encodedChunk(t, branchChunk()), FunctionID: 3}))
	assertCode(t, err, connect.CodeFailedPrecondition)
}

func TestCompile_JITDisabled(t *testing.T) {
	svc, _ := newTestService(t, vm.WithJIT(false))
	_, err := svc.Compile(bg(), connectReq(&CompileRequest{Source: "1 + 1"}))
	assertCode(t, err, connect.CodeFailedPrecondition)
}

func TestCompile_EmptyRequest(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Compile(bg(), connectReq(&CompileRequest{}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

func TestCompile_ParseError(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Compile(bg(), connectReq(&CompileRequest{Source: "let = 10"}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

// ---------------------------------------------------------------------------
// Deoptimize
// ---------------------------------------------------------------------------

func TestDeoptimize_AfterCompile(t *testing.T) {
	svc, w := newTestService(t)

	if _, err := svc.Compile(bg(), connectReq(&CompileRequest{Chunk: encodedChunk(t, addChunk(1, 2)), FunctionID: 4})); err != nil {
		t.Fatalf("Compile returned error: %v", err)
	}
	resp, err := svc.Deoptimize(bg(), connectReq(&DeoptimizeRequest{
		FunctionID:     4,
		BytecodeOffset: 2,
		LiveValues:     []bytecode.Value{bytecode.Number(1)},
		Reason:         vm.EncodeReason(&vm.AssumptionInvalidated{Assumption: "operands are numbers"}),
	}))
	if err != nil {
		t.Fatalf("Deoptimize returned error: %v", err)
	}
	if resp.Msg.IsHot {
		t.Error("IsHot = true after deopt")
	}

	compiled, _ := w.Do(bg(), func(v *vm.VM) (interface{}, error) {
		return v.IsCompiled(4), nil
	})
	if compiled != false {
		t.Error("function still compiled after deopt")
	}
}

func TestDeoptimize_UnknownFunction(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Deoptimize(bg(), connectReq(&DeoptimizeRequest{FunctionID: 77}))
	assertCode(t, err, connect.CodeNotFound)
}

func TestDeoptimize_BadReason(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Deoptimize(bg(), connectReq(&DeoptimizeRequest{
		FunctionID: 1,
		Reason:     vm.ReasonWire{Kind: 99},
	}))
	assertCode(t, err, connect.CodeInvalidArgument)
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

func TestStats_CountsExecutions(t *testing.T) {
	svc, _ := newTestService(t)

	for _, src := range []string{"1", "2", "3"} {
		if _, err := svc.Execute(bg(), connectReq(&ExecuteRequest{Source: src})); err != nil {
			t.Fatalf("Execute(%q): %v", src, err)
		}
	}
	resp, err := svc.Stats(bg(), connectReq(&StatsRequest{}))
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	if resp.Msg.Stats.Executions != 3 {
		t.Errorf("Executions = %d, want 3", resp.Msg.Stats.Executions)
	}
	if resp.Msg.Stats.ID == "" {
		t.Error("Stats.ID is empty")
	}
}
