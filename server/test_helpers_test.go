package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/tiervm/pkg/bytecode"
	"github.com/chazu/tiervm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

// newTestService creates an EngineService over a fresh VM. The worker is
// stopped when the test ends.
func newTestService(t *testing.T, opts ...vm.Option) (*EngineService, *VMWorker) {
	t.Helper()
	w := NewVMWorker(vm.NewVM(opts...))
	t.Cleanup(w.Stop)
	return NewEngineService(w), w
}

// newTestServer starts an EngineServer on an httptest server speaking
// HTTP/1.1 and cleartext HTTP/2.
func newTestServer(t *testing.T, opts ...vm.Option) (*EngineServer, *httptest.Server) {
	t.Helper()
	s := New(vm.NewVM(opts...))
	ts := httptest.NewUnstartedServer(s.Handler())
	ts.Config.Protocols = Protocols()
	ts.Start()
	t.Cleanup(func() {
		ts.Close()
		s.Stop()
	})
	return s, ts
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}

func encodedChunk(t *testing.T, c *bytecode.Chunk) []byte {
	t.Helper()
	data, err := bytecode.MarshalChunk(c)
	if err != nil {
		t.Fatalf("MarshalChunk() error = %v", err)
	}
	return data
}

func addChunk(a, b float64) *bytecode.Chunk {
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(a)))
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(b)))
	c.EmitOp(bytecode.OpAdd)
	return c
}

func branchChunk() *bytecode.Chunk {
	c := bytecode.NewChunk()
	c.Emit(bytecode.OpLoadConst, c.AddConstant(bytecode.Number(1)))
	c.Emit(bytecode.OpJump, 0)
	return c
}

func assertCode(t *testing.T, err error, want connect.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	if got := connect.CodeOf(err); got != want {
		t.Errorf("code = %v, want %v (err = %v)", got, want, err)
	}
}
