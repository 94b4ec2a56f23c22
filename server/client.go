package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls an EngineServer over the Connect protocol.
type Client struct {
	execute    *connect.Client[ExecuteRequest, ExecuteResponse]
	compile    *connect.Client[CompileRequest, CompileResponse]
	deoptimize *connect.Client[DeoptimizeRequest, DeoptimizeResponse]
	stats      *connect.Client[StatsRequest, StatsResponse]
}

// NewClient creates a Client for the server at baseURL, e.g.
// "http://127.0.0.1:8765". A nil httpClient uses http.DefaultClient.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		execute:    connect.NewClient[ExecuteRequest, ExecuteResponse](httpClient, baseURL+ExecuteProcedure, opts...),
		compile:    connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts...),
		deoptimize: connect.NewClient[DeoptimizeRequest, DeoptimizeResponse](httpClient, baseURL+DeoptimizeProcedure, opts...),
		stats:      connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+StatsProcedure, opts...),
	}
}

// Execute runs source or a chunk remotely.
func (c *Client) Execute(ctx context.Context, req *ExecuteRequest) (*ExecuteResponse, error) {
	resp, err := c.execute.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Compile force-compiles a function remotely.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Deoptimize sends a function back to the interpreter remotely.
func (c *Client) Deoptimize(ctx context.Context, req *DeoptimizeRequest) (*DeoptimizeResponse, error) {
	resp, err := c.deoptimize.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Stats fetches the remote VM counters.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
