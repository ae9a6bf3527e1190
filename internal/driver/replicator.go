package driver

import (
	"context"

	"github.com/google/uuid"

	"github.com/leifraft/raft/internal/raft"
)

// replicator owns the one replication worker spec.md §5 allows per
// follower: a single goroutine draining a depth-1 job queue, so at
// most one RPC is ever in flight toward that peer (matching the
// engine's own "at most one inflight per follower" invariant). It
// never calls back into the engine directly — every RPC outcome is
// converted to an Event and handed to Driver.step, exactly like every
// other completion in this package.
type replicator struct {
	target raft.NodeID
	d      *Driver
	jobs   chan raft.Inflight
	quit   chan struct{}
}

func newReplicator(d *Driver, target raft.NodeID) *replicator {
	r := &replicator{
		target: target,
		d:      d,
		jobs:   make(chan raft.Inflight, 1),
		quit:   make(chan struct{}),
	}
	d.wg.Add(1)
	go r.run()
	return r
}

func (r *replicator) run() {
	defer r.d.wg.Done()
	for {
		select {
		case <-r.quit:
			return
		case <-r.d.quit:
			return
		case req := <-r.jobs:
			r.send(req)
		}
	}
}

// enqueue hands off the engine's single current inflight request for
// this follower. The channel is depth-1 and non-blocking: the engine
// never issues a second request before the first clears (§4.2), so a
// full channel here means a stale job is still draining and the new
// one is dropped — the engine will re-issue on its own next tick.
func (r *replicator) enqueue(req raft.Inflight) {
	select {
	case r.jobs <- req:
	default:
		r.d.log.Debug().Uint64("peer", uint64(r.target)).Msg("replicator: job queue full, dropping reissue")
	}
}

func (r *replicator) stop() {
	close(r.quit)
}

// send dispatches one RPC attempt. corrID is a log-correlation id
// distinct from the engine's own curr_inflight_id (spec.md §4.2): the
// engine's id is what gates stale-response handling, while corrID only
// ties together the several log lines one RPC attempt can produce.
func (r *replicator) send(req raft.Inflight) {
	corrID := uuid.NewString()
	switch req.Kind {
	case raft.InflightLogs:
		r.sendLogs(req, corrID)
	case raft.InflightSnapshot:
		r.sendSnapshot(req, corrID)
	}
}

func (r *replicator) currentVoteAndCommit() (raft.Vote, raft.LogIndex) {
	d := r.d
	d.mu.Lock()
	defer d.mu.Unlock()
	vote := d.engine.State.Vote.Value
	var committed raft.LogIndex
	if d.engine.State.Committed != nil {
		committed = d.engine.State.Committed.Index
	}
	return vote, committed
}

func (r *replicator) sendLogs(req raft.Inflight, corrID string) {
	ctx := context.Background()
	d := r.d
	vote, leaderCommit := r.currentVoteAndCommit()

	var entries []raft.Entry
	if req.Last != nil {
		lo := raft.LogIndex(0)
		if req.Prev != nil {
			lo = req.Prev.Index + 1
		}
		var err error
		entries, err = d.logStore.Read(ctx, lo, req.Last.Index)
		if err != nil {
			d.log.Warn().Err(err).Str("corr_id", corrID).Uint64("peer", uint64(r.target)).Msg("replicator: read log range")
			d.step(raft.NewReplicationFailed(r.target, req.ID))
			return
		}
	}

	wireReq := raft.AppendEntriesRequest{
		Vote:         vote,
		PrevLogID:    req.Prev,
		Entries:      entries,
		LeaderCommit: leaderCommit,
	}
	resp, err := d.transport.SendAppendEntries(ctx, r.target, wireReq)
	if err != nil {
		d.log.Debug().Err(err).Str("corr_id", corrID).Uint64("peer", uint64(r.target)).Msg("replicator: append entries rpc")
		d.step(raft.NewReplicationFailed(r.target, req.ID))
		return
	}
	d.step(raft.NewAppendEntriesResponseReceived(r.target, req.ID, resp))
}

func (r *replicator) sendSnapshot(req raft.Inflight, corrID string) {
	ctx := context.Background()
	d := r.d

	full, err := d.sm.CurrentSnapshot(ctx)
	if err != nil || full == nil {
		d.log.Warn().Err(err).Str("corr_id", corrID).Uint64("peer", uint64(r.target)).Msg("replicator: no snapshot available")
		d.step(raft.NewReplicationFailed(r.target, req.ID))
		return
	}
	vote, _ := r.currentVoteAndCommit()

	wireReq := raft.InstallSnapshotRequest{
		Vote:   vote,
		Meta:   full.Meta,
		Offset: 0,
		Data:   full.Data,
		Done:   true,
	}
	resp, err := d.transport.SendInstallSnapshot(ctx, r.target, wireReq)
	if err != nil {
		d.log.Debug().Err(err).Str("corr_id", corrID).Uint64("peer", uint64(r.target)).Msg("replicator: install snapshot rpc")
		d.step(raft.NewReplicationFailed(r.target, req.ID))
		return
	}
	d.step(raft.NewInstallSnapshotResponseReceived(r.target, req.ID, resp))
}
