package raftrpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/leifraft/raft/internal/raft"
)

// serviceName and the per-method paths below are what a protoc-gen-go-grpc
// build would have produced from a raftrpc.proto service named Raft; they
// are hand-declared here for the same reason the wire types in
// internal/raft/wire.go are plain structs (see DESIGN.md).
const serviceName = "raftrpc.Raft"

// RaftServer is implemented by the driver side that answers incoming RPCs
// (internal/driver wires this to the engine's Handle* methods).
type RaftServer interface {
	RequestVote(context.Context, *raft.VoteRequest) (*raft.VoteResponse, error)
	AppendEntries(context.Context, *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error)
	InstallSnapshot(context.Context, *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error)
}

// RaftClient is implemented by the hand-declared client stub below.
// internal/driver's in-memory test router implements raft.Transport
// instead and does not go through this interface.
type RaftClient interface {
	RequestVote(ctx context.Context, in *raft.VoteRequest, opts ...grpc.CallOption) (*raft.VoteResponse, error)
	AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest, opts ...grpc.CallOption) (*raft.AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, in *raft.InstallSnapshotRequest, opts ...grpc.CallOption) (*raft.InstallSnapshotResponse, error)
}

type raftClient struct {
	cc grpc.ClientConnInterface
}

// NewRaftClient wraps a dialed connection with typed Raft RPC methods.
func NewRaftClient(cc grpc.ClientConnInterface) RaftClient {
	return &raftClient{cc: cc}
}

func (c *raftClient) RequestVote(ctx context.Context, in *raft.VoteRequest, opts ...grpc.CallOption) (*raft.VoteResponse, error) {
	out := new(raft.VoteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/RequestVote", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftClient) AppendEntries(ctx context.Context, in *raft.AppendEntriesRequest, opts ...grpc.CallOption) (*raft.AppendEntriesResponse, error) {
	out := new(raft.AppendEntriesResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/AppendEntries", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *raftClient) InstallSnapshot(ctx context.Context, in *raft.InstallSnapshotRequest, opts ...grpc.CallOption) (*raft.InstallSnapshotResponse, error) {
	out := new(raft.InstallSnapshotResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/InstallSnapshot", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.VoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RequestVote"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftServer).RequestVote(ctx, req.(*raft.VoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/AppendEntries"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftServer).AppendEntries(ctx, req.(*raft.AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func installSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(raft.InstallSnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RaftServer).InstallSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/InstallSnapshot"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RaftServer).InstallSnapshot(ctx, req.(*raft.InstallSnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RaftServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc build
// would emit for a service named Raft with these three unary methods.
var RaftServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RaftServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: installSnapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "raftrpc.proto",
}

// RegisterRaftServer registers srv's RPC handlers on s.
func RegisterRaftServer(s grpc.ServiceRegistrar, srv RaftServer) {
	s.RegisterService(&RaftServiceDesc, srv)
}
