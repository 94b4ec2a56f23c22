package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCClient calls an EngineServer over plain gRPC with the CBOR codec.
type GRPCClient struct {
	conn *grpc.ClientConn
}

// DialGRPC connects to the server at target ("host:port") without TLS.
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

// Close releases the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Execute runs source or a chunk remotely.
func (c *GRPCClient) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	resp := new(ExecuteResponse)
	if err := c.conn.Invoke(ctx, ExecuteProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Compile force-compiles a function remotely.
func (c *GRPCClient) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp := new(CompileResponse)
	if err := c.conn.Invoke(ctx, CompileProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Deoptimize sends a function back to the interpreter remotely.
func (c *GRPCClient) Deoptimize(ctx context.Context, req *DeoptimizeRequest) (*DeoptimizeResponse, error) {
	resp := new(DeoptimizeResponse)
	if err := c.conn.Invoke(ctx, DeoptimizeProcedure, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stats fetches the remote VM counters.
func (c *GRPCClient) Stats(ctx context.Context) (*StatsResponse, error) {
	resp := new(StatsResponse)
	if err := c.conn.Invoke(ctx, StatsProcedure, &StatsRequest{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
