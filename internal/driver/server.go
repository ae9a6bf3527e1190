package driver

import (
	"context"

	"github.com/leifraft/raft/internal/raft"
	"github.com/leifraft/raft/internal/transport/raftrpc"
)

// Server adapts incoming RPCs to the engine's synchronous
// request/response handlers, matching the teacher's node.HandleVote /
// node.HandleAppend (a direct call-and-reply, no queueing) while still
// draining whatever commands the call produced through the same
// executeAll path every other event uses.
type Server struct {
	d *Driver
}

// NewServer wraps a Driver as a raftrpc.RaftServer, ready to register
// on a grpc.Server via raftrpc.NewServer / RegisterRaftServer.
func NewServer(d *Driver) *Server { return &Server{d: d} }

var _ raftrpc.RaftServer = (*Server)(nil)

func (s *Server) RequestVote(_ context.Context, req *raft.VoteRequest) (*raft.VoteResponse, error) {
	defer s.d.recoverInvariant()
	s.d.mu.Lock()
	resp := s.d.engine.HandleVoteRequest(*req, s.d.clock.Now())
	cmds := s.d.engine.TakeCommands()
	s.d.mu.Unlock()
	s.d.executeAll(cmds)
	return &resp, nil
}

func (s *Server) AppendEntries(_ context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	defer s.d.recoverInvariant()
	s.d.mu.Lock()
	resp := s.d.engine.HandleAppendEntriesRequest(*req, s.d.clock.Now())
	cmds := s.d.engine.TakeCommands()
	s.d.mu.Unlock()
	s.d.executeAll(cmds)
	return &resp, nil
}

// InstallSnapshot buffers chunks by SnapshotID until the final one
// arrives (spec.md §4.5, §6 "InstallSnapshotRequest streams ... in
// chunks"); only then does the engine decide anything, at which point
// the reassembled bytes are stashed on the Driver so the
// CommandInstallFullSnapshot handler (executor.go) can hand them to
// the state machine.
func (s *Server) InstallSnapshot(_ context.Context, req *raft.InstallSnapshotRequest) (*raft.InstallSnapshotResponse, error) {
	defer s.d.recoverInvariant()
	d := s.d
	d.pendingMu.Lock()
	if d.pendingSnapshot.id != req.Meta.SnapshotID {
		d.pendingSnapshot.id = req.Meta.SnapshotID
		d.pendingSnapshot.data = nil
	}
	d.pendingSnapshot.data = append(d.pendingSnapshot.data, req.Data...)
	d.pendingMu.Unlock()

	if !req.Done {
		return &raft.InstallSnapshotResponse{Vote: req.Vote}, nil
	}

	d.mu.Lock()
	resp := d.engine.HandleInstallSnapshotRequest(*req)
	cmds := d.engine.TakeCommands()
	d.mu.Unlock()
	d.executeAll(cmds)
	return &resp, nil
}
