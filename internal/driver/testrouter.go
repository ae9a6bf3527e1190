package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/leifraft/raft/internal/raft"
)

// TestRouter is a raft.Transport that dispatches directly to in-process
// Servers instead of dialing real connections, the in-process analogue
// of original_source/tests/fixtures/router.rs's RaftRouter actor: that
// router keeps a routing_table of NodeId -> node address and forwards
// each RPC message to the addressee directly rather than over a wire.
// Driver-level integration tests and benchmarks build a cluster of
// Drivers, register each one's Server under its NodeID, and hand every
// Driver the same *TestRouter as its Transport.
type TestRouter struct {
	mu    sync.RWMutex
	nodes map[raft.NodeID]*Server
}

// NewTestRouter returns an empty router; call Register for each node
// before any Driver using it calls Start.
func NewTestRouter() *TestRouter {
	return &TestRouter{nodes: make(map[raft.NodeID]*Server)}
}

// Register adds (or replaces) the routing entry for id.
func (r *TestRouter) Register(id raft.NodeID, s *Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[id] = s
}

// Unregister removes id, simulating a node that is unreachable —
// sends to it return an error rather than panicking (router.rs panics
// on an unknown target since its tests never exercise a missing node;
// this router instead reports it as a normal transport error). No test
// in this package calls it.
func (r *TestRouter) Unregister(id raft.NodeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

func (r *TestRouter) serverFor(id raft.NodeID) (*Server, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("driver: testrouter: no node registered for %d", id)
	}
	return s, nil
}

var _ raft.Transport = (*TestRouter)(nil)

func (r *TestRouter) SendVote(ctx context.Context, target raft.NodeID, req raft.VoteRequest) (raft.VoteResponse, error) {
	s, err := r.serverFor(target)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	resp, err := s.RequestVote(ctx, &req)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	return *resp, nil
}

func (r *TestRouter) SendAppendEntries(ctx context.Context, target raft.NodeID, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	s, err := r.serverFor(target)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	resp, err := s.AppendEntries(ctx, &req)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	return *resp, nil
}

func (r *TestRouter) SendInstallSnapshot(ctx context.Context, target raft.NodeID, req raft.InstallSnapshotRequest) (raft.InstallSnapshotResponse, error) {
	s, err := r.serverFor(target)
	if err != nil {
		return raft.InstallSnapshotResponse{}, err
	}
	resp, err := s.InstallSnapshot(ctx, &req)
	if err != nil {
		return raft.InstallSnapshotResponse{}, err
	}
	return *resp, nil
}
