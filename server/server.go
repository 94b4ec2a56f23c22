package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/tiervm/vm"
)

// EngineServer exposes a VM over Connect, gRPC and gRPC-Web on one port.
// Messages are CBOR encoded; see Codec.
type EngineServer struct {
	worker *VMWorker
	mux    *http.ServeMux
	http   *http.Server

	readHeaderTimeout time.Duration
}

// ServerOption configures an EngineServer.
type ServerOption func(*EngineServer)

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) ServerOption {
	return func(s *EngineServer) { s.readHeaderTimeout = d }
}

// New creates an EngineServer wrapping the given VM. The VM must not be
// used directly until Stop is called.
func New(v *vm.VM, opts ...ServerOption) *EngineServer {
	s := &EngineServer{
		worker:            NewVMWorker(v),
		mux:               http.NewServeMux(),
		readHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Handler:           s.mux,
		Protocols:         Protocols(),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	svc := NewEngineService(s.worker)
	handlerOpts := []connect.HandlerOption{connect.WithCodec(Codec{})}
	s.mux.Handle(ExecuteProcedure, connect.NewUnaryHandler(ExecuteProcedure, svc.Execute, handlerOpts...))
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, handlerOpts...))
	s.mux.Handle(DeoptimizeProcedure, connect.NewUnaryHandler(DeoptimizeProcedure, svc.Deoptimize, handlerOpts...))
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, svc.Stats, handlerOpts...))
	return s
}

// Handler returns the HTTP handler serving all procedures.
func (s *EngineServer) Handler() http.Handler {
	return s.mux
}

// Worker returns the worker that owns the VM.
func (s *EngineServer) Worker() *VMWorker {
	return s.worker
}

// Protocols returns the protocol set the server speaks: HTTP/1.1 for
// Connect and cleartext HTTP/2 for gRPC.
func Protocols() *http.Protocols {
	p := new(http.Protocols)
	p.SetHTTP1(true)
	p.SetUnencryptedHTTP2(true)
	return p
}

// ListenAndServe starts the HTTP server on addr ("host:port" or ":port").
// It returns nil after Shutdown.
func (s *EngineServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *EngineServer) Serve(ln net.Listener) error {
	serverLog.Info("listening", "addr", ln.Addr().String())
	serverLog.Info("connect endpoint", "url", "http://"+ln.Addr().String()+ExecuteProcedure)
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the VM worker.
func (s *EngineServer) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.worker.Stop()
	serverLog.Info("stopped")
	return err
}

// Stop shuts down immediately.
func (s *EngineServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.Shutdown(ctx)
}
