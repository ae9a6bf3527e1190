package driver

import (
	"context"

	"github.com/leifraft/raft/internal/raft"
)

// executeCommand dispatches a single engine command to the
// collaborator task that owns it (spec.md §4.7). Called outside
// d.mu, after the lock that produced the command batch has been
// released, so none of these ever re-enter the engine synchronously —
// any engine mutation they trigger goes back through d.step.
// CommandSaveVote and CommandAppendInputEntries never reach here: drain.go's
// executeAll intercepts and batches them before dispatch.
func (d *Driver) executeCommand(cmd raft.Command) {
	switch cmd.Kind {
	case raft.CommandBecomeLeader:
		d.log.Info().Msg("became leader")
	case raft.CommandQuitLeader:
		d.quitLeader()
	case raft.CommandRebuildReplicationStreams:
		d.rebuildReplicators(cmd.Targets)
	case raft.CommandReplicate:
		d.enqueueReplicate(cmd.Target, cmd.Request)
	case raft.CommandCommit:
		d.applyUpTo(cmd.NewCommitIndex)
	case raft.CommandBuildSnapshot:
		d.buildSnapshot()
	case raft.CommandInstallFullSnapshot:
		d.installFullSnapshot(cmd.SnapshotLogID)
	case raft.CommandPurgeLog:
		d.purgeLog(cmd.PurgeUpto)
	case raft.CommandSendVote:
		d.enqueueSendVote(cmd.Target, cmd.Vote, cmd.LastLogID)
	case raft.CommandRespond:
		d.resolvePending(cmd.RespondTo, cmd.RespondResult)
	}
}

// saveVote persists the vote before anything using it (§4.7) is
// allowed to leave the process; a failure here is the storage-failure
// error kind (§7 kind 1) and is fatal, matching the teacher's
// WriteTerm, which log.Fatal()s on a failed write rather than
// continuing with an un-persisted vote.
func (d *Driver) saveVote(vote raft.Vote) {
	if err := d.voteStore.SaveVote(vote); err != nil {
		d.log.Fatal().Err(err).Msg("failed to persist vote")
	}
}

// appendEntries durably writes new log entries, then feeds back
// LogPersisted so followers can advance their commit floor (§4.3) and
// replicators can read the bytes they reference.
func (d *Driver) appendEntries(entries []raft.Entry) {
	if len(entries) == 0 {
		return
	}
	ctx := context.Background()
	if err := d.logStore.Append(ctx, entries); err != nil {
		d.log.Fatal().Err(err).Msg("failed to append log entries")
		return
	}
	last := entries[len(entries)-1].LogID
	d.step(raft.NewLogPersisted(&last))
}

func (d *Driver) quitLeader() {
	d.mu.Lock()
	reps := d.replicators
	d.replicators = make(map[raft.NodeID]*replicator)
	d.mu.Unlock()
	for _, r := range reps {
		r.stop()
	}
}

// rebuildReplicators reconciles the set of running replication
// workers with the leader's current targets (spec.md §4.2 "On
// becoming leader"): one worker per follower, no more, no fewer.
func (d *Driver) rebuildReplicators(targets []raft.ReplicationTarget) {
	want := make(map[raft.NodeID]struct{}, len(targets))
	for _, t := range targets {
		want[t.NodeID] = struct{}{}
	}

	d.mu.Lock()
	var stale []*replicator
	for id, r := range d.replicators {
		if _, ok := want[id]; !ok {
			stale = append(stale, r)
			delete(d.replicators, id)
		}
	}
	for id := range want {
		if _, ok := d.replicators[id]; !ok {
			d.replicators[id] = newReplicator(d, id)
		}
	}
	d.mu.Unlock()

	for _, r := range stale {
		r.stop()
	}
}

func (d *Driver) enqueueReplicate(target raft.NodeID, req raft.Inflight) {
	d.mu.Lock()
	r, ok := d.replicators[target]
	d.mu.Unlock()
	if !ok {
		d.log.Warn().Uint64("peer", uint64(target)).Msg("replicate command for unknown target")
		return
	}
	r.enqueue(req)
}

// enqueueSendVote fires a vote request as its own fire-and-forget
// goroutine rather than through a replicator — canvassing only
// happens during the brief candidate window, not as a steady stream,
// mirroring the teacher's DoElection, which spawns one goroutine per
// peer (node.go `go func(k string) {...}`) instead of keeping
// election workers alive between elections.
func (d *Driver) enqueueSendVote(target raft.NodeID, vote raft.Vote, lastLogID *raft.LogID) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		resp, err := d.transport.SendVote(context.Background(), target, raft.VoteRequest{Vote: vote, LastLogID: lastLogID})
		if err != nil {
			d.log.Debug().Err(err).Uint64("peer", uint64(target)).Msg("send vote rpc failed")
			return
		}
		d.step(raft.NewVoteResponseReceived(target, resp))
	}()
}

// applyUpTo applies every committed-but-unapplied entry to the state
// machine, strictly in index order and exactly once (spec.md §6
// "Apply is strictly in index order and exactly once per committed
// entry").
func (d *Driver) applyUpTo(newCommitIndex raft.LogIndex) {
	ctx := context.Background()
	d.mu.Lock()
	from := d.lastApplied + 1
	d.mu.Unlock()
	if from > int64(newCommitIndex) {
		return
	}

	entries, err := d.logStore.Read(ctx, raft.LogIndex(from), newCommitIndex)
	if err != nil {
		d.log.Error().Err(err).Msg("failed to read committed entries for apply")
		return
	}
	for _, e := range entries {
		if _, err := d.sm.Apply(ctx, e); err != nil {
			d.log.Error().Err(err).Uint64("index", uint64(e.LogID.Index)).Msg("state machine apply failed")
			continue
		}
		d.mu.Lock()
		d.lastApplied = int64(e.LogID.Index)
		d.mu.Unlock()
	}
}

func (d *Driver) buildSnapshot() {
	ctx := context.Background()
	full, err := d.sm.BuildSnapshot(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("build snapshot failed")
		return
	}
	if d.snapStore != nil {
		// The snapshot must be durable before SnapshotPersisted lets
		// the engine purge the log it replaces.
		if err := d.snapStore.Save(full.Meta, full.Data); err != nil {
			d.log.Error().Err(err).Msg("persist snapshot failed")
			return
		}
	}
	d.step(raft.NewSnapshotPersisted(full.Meta))
}

// installFullSnapshot has two callers in the engine, distinguished
// here by whether a buffered inbound snapshot is waiting:
//   - follower path: Server.InstallSnapshot buffered the final chunk's
//     bytes before calling HandleInstallSnapshotRequest, which pushed
//     this command — apply them to the state machine now.
//   - leader path: replicateOne pushes this command purely as a marker
//     before the Replicate command that follows it; the replicator
//     reads the current snapshot lazily via StateMachine.CurrentSnapshot
//     when it actually sends, so there is nothing to do here.
func (d *Driver) installFullSnapshot(lastLogID *raft.LogID) {
	d.pendingMu.Lock()
	data := d.pendingSnapshot.data
	d.pendingSnapshot.data = nil
	d.pendingSnapshot.id = ""
	d.pendingMu.Unlock()

	if len(data) == 0 {
		return
	}

	d.mu.Lock()
	meta := raft.SnapshotMeta{LastLogID: lastLogID}
	if d.engine.State.Snapshot != nil {
		meta = *d.engine.State.Snapshot
	}
	d.mu.Unlock()

	if err := d.sm.InstallSnapshot(context.Background(), meta, data); err != nil {
		d.log.Error().Err(err).Msg("install snapshot failed")
		return
	}
	if d.snapStore != nil {
		if err := d.snapStore.Save(meta, data); err != nil {
			d.log.Error().Err(err).Msg("persist installed snapshot failed")
		}
	}
	if lastLogID != nil {
		// Everything the snapshot covers is now applied; a later Commit
		// command must not re-apply (or try to read) the purged range.
		d.mu.Lock()
		if int64(lastLogID.Index) > d.lastApplied {
			d.lastApplied = int64(lastLogID.Index)
		}
		d.mu.Unlock()
	}
}

func (d *Driver) purgeLog(upto raft.LogIndex) {
	if err := d.logStore.Purge(context.Background(), upto); err != nil {
		d.log.Error().Err(err).Msg("purge log failed")
	}
}

