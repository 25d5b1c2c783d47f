// Package server exposes a running pacemaker instance over gRPC so another
// terminal can query its progress, stop it, or list past runs.
//
// Messages are well-known protobuf types (Empty and Struct), so the service
// needs no generated code: the descriptor below is written by hand and the
// client uses conn.Invoke directly.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ChuLiYu/pacemaker/pkg/types"
)

var log = slog.Default()

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "pacemaker.v1.RunControl"

const (
	methodStatus   = "/" + ServiceName + "/Status"
	methodStop     = "/" + ServiceName + "/Stop"
	methodListRuns = "/" + ServiceName + "/ListRuns"
)

// DefaultListLimit caps ListRuns when the request has no limit.
const DefaultListLimit = 20

// Runner is the active run.
type Runner interface {
	Snapshot() types.Snapshot
	Stop()
	Result() *types.CompletedRun
}

// RunLister reads the run history.
type RunLister interface {
	List(ctx context.Context) ([]types.CompletedRun, error)
}

// RunControlServer is the server API for the RunControl service.
type RunControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Server implements RunControlServer.
type Server struct {
	runner  Runner
	history RunLister
}

// NewServer creates a new RunControl server. Either collaborator may be nil;
// the matching RPCs then return Unavailable.
func NewServer(runner Runner, history RunLister) *Server {
	return &Server{runner: runner, history: history}
}

// Status returns the live snapshot.
func (s *Server) Status(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.Unavailable, "no active run")
	}
	return toStruct(s.runner.Snapshot())
}

// Stop stops the active run and returns its record.
func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if s.runner == nil {
		return nil, status.Error(codes.Unavailable, "no active run")
	}
	s.runner.Stop()

	run := s.runner.Result()
	if run == nil {
		return nil, status.Error(codes.FailedPrecondition, "run never started")
	}
	return toStruct(run)
}

// ListRuns returns the most recent runs. The request may carry {"limit": n}.
func (s *Server) ListRuns(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.history == nil {
		return nil, status.Error(codes.Unavailable, "history disabled")
	}

	limit := DefaultListLimit
	if v, ok := req.GetFields()["limit"]; ok {
		n := int(v.GetNumberValue())
		if n < 0 {
			return nil, status.Errorf(codes.InvalidArgument, "limit must not be negative, got %d", n)
		}
		if n > 0 {
			limit = n
		}
	}

	runs, err := s.history.List(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list runs: %v", err)
	}
	if len(runs) > limit {
		runs = runs[:limit]
	}
	if runs == nil {
		runs = []types.CompletedRun{}
	}
	return toStruct(struct {
		Runs []types.CompletedRun `json:"runs"`
	}{runs})
}

// Register attaches the service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// NewGRPCServer builds a gRPC server with the service registered and
// request logging.
func NewGRPCServer(s *Server) *grpc.Server {
	g := grpc.NewServer(grpc.UnaryInterceptor(logUnary))
	s.Register(g)
	return g
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	log.Debug("RPC handled", "method", info.FullMethod, "duration", time.Since(start), "code", status.Code(err))
	return resp, err
}

// ============================================================================
// Service descriptor
// ============================================================================

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Stop", Handler: stopHandler},
		{MethodName: "ListRuns", Handler: listRunsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pacemaker/v1/run_control.proto",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunControlServer).Status(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func stopHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunControlServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStop}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunControlServer).Stop(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func listRunsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunControlServer).ListRuns(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListRuns}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunControlServer).ListRuns(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ============================================================================
// Client
// ============================================================================

// Client calls a remote RunControl service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to addr without transport security.
func Dial(addr string) (*Client, *grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// Status fetches the live snapshot.
func (c *Client) Status(ctx context.Context) (types.Snapshot, error) {
	var snap types.Snapshot
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStatus, &emptypb.Empty{}, out); err != nil {
		return snap, err
	}
	return snap, fromStruct(out, &snap)
}

// Stop stops the remote run and returns its record.
func (c *Client) Stop(ctx context.Context) (types.CompletedRun, error) {
	var run types.CompletedRun
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodStop, &emptypb.Empty{}, out); err != nil {
		return run, err
	}
	return run, fromStruct(out, &run)
}

// ListRuns fetches up to limit runs, newest first; 0 means the server default.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]types.CompletedRun, error) {
	in, err := structpb.NewStruct(map[string]any{"limit": limit})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListRuns, in, out); err != nil {
		return nil, err
	}

	var resp struct {
		Runs []types.CompletedRun `json:"runs"`
	}
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// ============================================================================
// Struct conversion
// ============================================================================

// toStruct converts a JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
