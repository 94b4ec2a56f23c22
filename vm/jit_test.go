package vm

import (
	"errors"
	"testing"

	"github.com/chazu/tiervm/pkg/bytecode"
)

func TestJITCompile(t *testing.T) {
	jit := NewJITCompiler(BackendMock)
	chunk := addFunc()

	cf, report, err := jit.Compile(1, chunk)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if cf.Checksum != chunk.Checksum() {
		t.Errorf("Checksum = %08x, want %08x", cf.Checksum, chunk.Checksum())
	}
	if report == nil || len(report.Live) == 0 {
		t.Errorf("report = %+v, want liveness filled in", report)
	}

	stats := jit.Stats()
	if stats.FunctionsCompiled != 1 {
		t.Errorf("FunctionsCompiled = %d, want 1", stats.FunctionsCompiled)
	}
	if stats.BytesEmitted != uint64(len(cf.Code)) {
		t.Errorf("BytesEmitted = %d, want %d", stats.BytesEmitted, len(cf.Code))
	}
}

func TestJITRejects(t *testing.T) {
	jit := NewJITCompiler(BackendMock)
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpJump, 0)

	if _, _, err := jit.Compile(1, c); !errors.Is(err, ErrBranchNotSupported) {
		t.Errorf("error = %v, want ErrBranchNotSupported", err)
	}
	if got := jit.Stats().FunctionsRejected; got != 1 {
		t.Errorf("FunctionsRejected = %d, want 1", got)
	}

	jit.Reset()
	if got := jit.Stats().FunctionsRejected; got != 0 {
		t.Errorf("FunctionsRejected after Reset = %d, want 0", got)
	}
}

func TestJITDisabled(t *testing.T) {
	jit := NewJITCompiler(BackendMock)
	jit.Enabled = false
	if _, _, err := jit.Compile(1, addFunc()); !errors.Is(err, ErrJITDisabled) {
		t.Errorf("error = %v, want ErrJITDisabled", err)
	}
}
