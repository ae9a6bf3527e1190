package raft

// snapshot_engine.go implements spec.md §4.5: deciding when to build a
// snapshot, installing one received from a leader, and purging the log
// once a snapshot is durable.

// maybeBuildSnapshot triggers a BuildSnapshot command once enough log
// has committed since the last snapshot, suppressing repeats while one
// is already outstanding.
func (e *Engine) maybeBuildSnapshot() {
	if e.snapshotBuildInFlight || e.State.Committed == nil {
		return
	}
	var lastSnapshotIndex int64 = -1
	if e.State.Snapshot != nil {
		lastSnapshotIndex = IndexOpt(e.State.Snapshot.LastLogID)
	}
	gap := int64(e.State.Committed.Index) - lastSnapshotIndex
	if gap < int64(e.Config.SnapshotThreshold) {
		return
	}
	e.snapshotBuildInFlight = true
	e.push(BuildSnapshot())
}

// HandleSnapshotPersisted reacts to the driver finishing a snapshot
// build (self-initiated via BuildSnapshot) or an install (received via
// HandleInstallSnapshotRequest): records it as current and purges the
// log below its coverage (§4.5 "Purge").
func (e *Engine) HandleSnapshotPersisted(meta SnapshotMeta) {
	e.snapshotBuildInFlight = false
	if e.State.Snapshot != nil && !LessOpt(e.State.Snapshot.LastLogID, meta.LastLogID) {
		return // stale or duplicate
	}
	e.State.Snapshot = &meta
	e.State.Committed = MaxOpt(e.State.Committed, meta.LastLogID)

	idx := IndexOpt(meta.LastLogID)
	if idx < 0 {
		return
	}
	// Retain the most recent MaxInSnapshotLogToKeep entries even though
	// the snapshot covers them, so slightly-lagging followers can still
	// be caught up with logs instead of a full snapshot transfer.
	upto := idx - int64(e.Config.MaxInSnapshotLogToKeep)
	if upto < 0 {
		return
	}
	first := e.State.LogIDs.First()
	start := int64(0)
	if first != nil {
		start = int64(first.Index)
	}
	if start > upto {
		return
	}
	e.State.LogIDs.PurgeUpto(LogIndex(upto))
	// Purge in bounded batches so no single command asks the driver to
	// rewrite an unbounded amount of log in one fsync.
	batch := int64(e.Config.PurgeBatchSize)
	for lo := start; lo <= upto; lo += batch {
		hi := lo + batch - 1
		if hi > upto {
			hi = upto
		}
		e.push(PurgeLog(LogIndex(hi)))
	}
}

// HandleInstallSnapshotRequest is the follower side of §4.5 "Install":
// once the final chunk arrives, adopt the snapshot if it covers more
// than the local log already does, replacing local log state and
// membership with the snapshot's.
func (e *Engine) HandleInstallSnapshotRequest(req InstallSnapshotRequest) InstallSnapshotResponse {
	if req.Vote.Term > e.State.Vote.Value.Term {
		e.observeHigherTerm(req.Vote.Term)
	}
	if req.Vote.Term < e.State.Vote.Value.Term {
		return InstallSnapshotResponse{Vote: e.State.Vote.Value}
	}
	if !req.Done {
		// Chunk buffering is the driver's concern; the engine only
		// decides anything on the final chunk.
		return InstallSnapshotResponse{Vote: e.State.Vote.Value}
	}
	if !LessOpt(e.State.LastLogID(), req.Meta.LastLogID) {
		// Local log already covers (or exceeds) this snapshot.
		return InstallSnapshotResponse{Vote: e.State.Vote.Value}
	}

	e.push(InstallFullSnapshot(req.Meta.LastLogID))
	e.State.Snapshot = &req.Meta
	e.State.Committed = MaxOpt(e.State.Committed, req.Meta.LastLogID)
	e.State.LogIDs = LogIdList{}
	if req.Meta.LastLogID != nil {
		e.State.LogIDs.Append(*req.Meta.LastLogID)
	}
	if req.Meta.Membership != nil {
		e.State.MembershipState.SetEffective(req.Meta.Membership)
		e.State.MembershipState.SetCommitted(req.Meta.Membership)
	}
	if idx := IndexOpt(req.Meta.LastLogID); idx >= 0 {
		e.push(PurgeLog(LogIndex(idx)))
	}

	return InstallSnapshotResponse{Vote: e.State.Vote.Value}
}

// HandleInstallSnapshotResponse is the leader side: a follower that
// finished installing is now matching exactly what was sent.
func (e *Engine) HandleInstallSnapshotResponse(from NodeID, inflightID uint64, resp InstallSnapshotResponse) {
	if e.State.Vote.Value.Term < resp.Vote.Term {
		e.observeHigherVote(resp.Vote)
		return
	}
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		return
	}
	pe, ok := e.Leader.Progress[from]
	if !ok || pe.CurrInflightID != inflightID {
		return
	}
	pe.Matching = pe.Inflight.Last
	pe.Inflight = NoInflight()
	e.recomputeCommit()
	e.replicateOne(from)
}
