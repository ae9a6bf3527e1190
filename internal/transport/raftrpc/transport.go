package raftrpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/leifraft/raft/internal/raft"
)

// peer mirrors the teacher's ForeignNode: a lazily-dialed connection
// plus the typed client built on top of it.
type peer struct {
	conn   *grpc.ClientConn
	client RaftClient
}

// Transport implements raft.Transport by dialing one grpc connection
// per known peer on first use and reusing it thereafter.
type Transport struct {
	mu    sync.Mutex
	peers map[raft.NodeID]*peer
	dial  func(raft.NodeID) (string, error)
	log   zerolog.Logger
}

// NewTransport builds a Transport that resolves peer addresses via
// dial (typically a lookup into static cluster configuration).
func NewTransport(dial func(raft.NodeID) (string, error), log zerolog.Logger) *Transport {
	return &Transport{
		peers: make(map[raft.NodeID]*peer),
		dial:  dial,
		log:   log,
	}
}

func (t *Transport) clientFor(target raft.NodeID) (RaftClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.peers[target]; ok {
		return p.client, nil
	}
	addr, err := t.dial(target)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: resolve peer %d: %w", target, err)
	}
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("raftrpc: dial peer %d at %s: %w", target, addr, err)
	}
	p := &peer{conn: conn, client: NewRaftClient(conn)}
	t.peers[target] = p
	t.log.Info().Uint64("peer", uint64(target)).Str("addr", addr).Msg("dialed raft peer")
	return p.client, nil
}

func (t *Transport) SendVote(ctx context.Context, target raft.NodeID, req raft.VoteRequest) (raft.VoteResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	resp, err := client.RequestVote(ctx, &req)
	if err != nil {
		return raft.VoteResponse{}, err
	}
	return *resp, nil
}

func (t *Transport) SendAppendEntries(ctx context.Context, target raft.NodeID, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	resp, err := client.AppendEntries(ctx, &req)
	if err != nil {
		return raft.AppendEntriesResponse{}, err
	}
	return *resp, nil
}

func (t *Transport) SendInstallSnapshot(ctx context.Context, target raft.NodeID, req raft.InstallSnapshotRequest) (raft.InstallSnapshotResponse, error) {
	client, err := t.clientFor(target)
	if err != nil {
		return raft.InstallSnapshotResponse{}, err
	}
	resp, err := client.InstallSnapshot(ctx, &req)
	if err != nil {
		return raft.InstallSnapshotResponse{}, err
	}
	return *resp, nil
}

// Close tears down every dialed peer connection.
func (t *Transport) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.peers {
		if err := p.conn.Close(); err != nil {
			t.log.Warn().Err(err).Uint64("peer", uint64(id)).Msg("error closing peer connection")
		}
	}
}

// NewServer registers h's RPC handlers on a fresh grpc.Server and
// returns it without serving; the caller owns lis.Accept via
// s.Serve(lis), mirroring the teacher's StartRaftServer (kept async
// there; left to the caller here since internal/driver already owns
// the process's goroutines).
func NewServer(h RaftServer) *grpc.Server {
	s := grpc.NewServer()
	RegisterRaftServer(s, h)
	return s
}
