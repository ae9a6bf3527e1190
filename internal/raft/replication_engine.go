package raft

import "time"

// replication_engine.go implements spec.md §4.2: deciding what to send
// each follower, and reacting to success/conflict responses.

// replicateToAll issues (or re-issues) a replication request to every
// follower that isn't currently paused, in ascending NodeID order so
// command output is deterministic for tests.
func (e *Engine) replicateToAll() {
	if e.Leader == nil {
		return
	}
	ids := make([]NodeID, 0, len(e.Leader.Progress))
	for id := range e.Leader.Progress {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	for _, id := range ids {
		e.replicateOne(id)
	}
}

// replicateOne issues the next request for a single follower, if any
// is due.
func (e *Engine) replicateOne(target NodeID) {
	if e.Leader == nil {
		return
	}
	pe, ok := e.Leader.Progress[target]
	if !ok || pe.IsPaused() {
		return
	}
	req, ok := e.nextRequestFor(pe)
	if !ok {
		return
	}
	id := e.Leader.nextInflight()
	req = req.WithID(id)
	pe.Inflight = req
	pe.CurrInflightID = id

	if req.Kind == InflightSnapshot {
		e.push(InstallFullSnapshot(req.Last))
	}
	e.push(Replicate(target, req))
}

// nextRequestFor implements spec.md §4.2 "Deciding the next request".
func (e *Engine) nextRequestFor(pe *ProgressEntry) (Inflight, bool) {
	lastLogID := e.Leader.LastLogID()
	if lastLogID == nil {
		return Inflight{}, false // nothing to replicate yet
	}

	if pe.Matching != nil {
		if EqualOpt(pe.Matching, lastLogID) {
			return Inflight{}, false // fully caught up
		}
		if purged := e.purgedBelow(pe.Matching); purged {
			return e.snapshotInflight(), true
		}
		last := e.clampBatch(pe.Matching, lastLogID)
		return NewLogsInflight(pe.Matching, last), true
	}

	// matching unknown.
	lastIndex := IndexOpt(lastLogID)
	if int64(pe.SearchingEnd) == lastIndex+1 {
		// No conflict has been recorded yet for this follower: assume
		// optimistically that it has nothing, and send the whole known
		// log in one shot rather than starting with a probe. This is
		// what makes a freshly-elected leader's very first Replicate
		// command carry prev=None instead of a probe at mid (spec.md
		// §8 scenarios 1 and 2 both show prev=None on takeover). A
		// follower this guess turns out wrong for answers Conflict and
		// the probe path below takes over.
		return NewLogsInflight(nil, lastLogID), true
	}

	if pe.SearchingEnd == 0 {
		// The window is exhausted: no index can match, the follower
		// shares nothing with us. Send the whole log from the start —
		// unless the head has been purged into a snapshot, in which
		// case entries below first no longer exist and only the
		// snapshot can bring the follower up.
		if first := e.State.LogIDs.First(); first != nil && first.Index > 0 {
			return e.snapshotInflight(), true
		}
		return NewLogsInflight(nil, lastLogID), true
	}

	// A prior Conflict narrowed the search window: binary-probe it.
	// Only the upper bound (SearchingEnd) is tracked, so each round
	// halves the window from zero rather than from a remembered lower
	// bound — slower convergence than a textbook binary search, but it
	// needs no extra state on ProgressEntry and still terminates in
	// O(log n) rounds.
	mid := LogIndex(int64(pe.SearchingEnd) / 2)
	if purgedIndex(e.State.LogIDs, mid) {
		return e.snapshotInflight(), true
	}
	probe := e.State.LogIDs.Get(mid)
	return NewLogsInflight(probe, probe), true
}

// purgedBelow reports whether id (nil meaning "before the first entry")
// has already been compacted into a snapshot and is no longer present
// in the log (spec.md §4.2 "If the required prev has been purged").
func (e *Engine) purgedBelow(id *LogID) bool {
	first := e.State.LogIDs.First()
	if first == nil || id == nil {
		return false
	}
	return id.Index < first.Index
}

func purgedIndex(ids LogIdList, index LogIndex) bool {
	first := ids.First()
	if first == nil {
		return false
	}
	return index < first.Index
}

func (e *Engine) snapshotInflight() Inflight {
	return NewSnapshotInflight(e.Leader.LastLogID())
}

// clampBatch bounds a replication batch to MaxPayloadEntries.
func (e *Engine) clampBatch(from, lastLogID *LogID) *LogID {
	if lastLogID == nil || from == nil {
		return lastLogID
	}
	maxIndex := from.Index + LogIndex(e.Config.MaxPayloadEntries)
	if maxIndex >= lastLogID.Index {
		return lastLogID
	}
	return e.State.LogIDs.Get(maxIndex)
}

// HandleAppendEntriesResponse reacts to a follower's reply (spec.md
// §4.2 "Reacting to responses"). Stale responses (inflightID not
// matching the current request) are silently dropped — the engine's
// only defense against out-of-order delivery (§4.2, §5).
func (e *Engine) HandleAppendEntriesResponse(from NodeID, inflightID uint64, resp AppendEntriesResponse) {
	if e.State.Vote.Value.Term < resp.Vote.Term {
		e.observeHigherVote(resp.Vote)
		return
	}
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		return
	}
	pe, ok := e.Leader.Progress[from]
	if !ok || pe.CurrInflightID != inflightID {
		return // stale
	}

	switch resp.Result {
	case AppendSuccess:
		// Clamp to our own tail: a response can never prove more log
		// than we hold (invariant #7), no matter what it claims.
		matching := resp.LastLogID
		if last := e.Leader.LastLogID(); LessOpt(last, matching) {
			matching = last
		}
		pe.Matching = matching
		pe.Inflight = NoInflight()
		if last := e.Leader.LastLogID(); last != nil && pe.Matching != nil &&
			uint64(last.Index-pe.Matching.Index) > e.Config.ReplicationLagThreshold {
			e.Config.Logger.Warn().
				Uint64("peer", uint64(from)).
				Uint64("matching", uint64(pe.Matching.Index)).
				Uint64("last", uint64(last.Index)).
				Msg("follower replication lag above threshold")
		}
		e.recomputeCommit()
		e.replicateOne(from)
	case AppendConflict:
		pe.SearchingEnd = resp.ConflictHint
		pe.Inflight = NoInflight()
		e.replicateOne(from)
	case AppendHigherVote:
		e.observeHigherVote(resp.HigherVote)
	}
}

// HandleAppendEntriesRequest is the follower side of §4.2: validate
// the log-matching property at prevLogID, splice in any new entries,
// and report what happened. The returned response is optimistic about
// durability — it reflects log-matching only; the commit floor it
// implies is not applied until HandleLogPersisted confirms the write
// landed (§5 "writing to log is a suspension point only in the
// driver").
func (e *Engine) HandleAppendEntriesRequest(req AppendEntriesRequest, now time.Time) AppendEntriesResponse {
	if req.Vote.Term < e.State.Vote.Value.Term {
		return AppendEntriesResponse{Vote: e.State.Vote.Value, Result: AppendHigherVote, HigherVote: e.State.Vote.Value}
	}
	if e.State.Vote.Value.Less(req.Vote) {
		e.State.Vote = NewUTime(req.Vote, now)
		e.push(SaveVote(req.Vote))
	}
	e.becomeFollower()
	e.resetElectionTimer(now)

	if req.PrevLogID != nil {
		local := e.State.LogIDs.Get(req.PrevLogID.Index)
		if local == nil || local.Term != req.PrevLogID.Term {
			return AppendEntriesResponse{
				Vote:         e.State.Vote.Value,
				Result:       AppendConflict,
				ConflictHint: e.conflictHint(req.PrevLogID.Index),
			}
		}
	} else if len(req.Entries) > 0 && req.Entries[0].LogID.Index > 0 {
		// prev=None with entries that do not start at the head: the
		// leader's log head was purged and it optimistically assumed we
		// hold the missing prefix. Accepting would leave a gap
		// (invariant #2); reject so the leader probes or falls back to
		// a snapshot.
		firstNew := req.Entries[0].LogID.Index
		local := e.State.LastLogID()
		if local == nil || local.Index+1 < firstNew {
			return AppendEntriesResponse{
				Vote:         e.State.Vote.Value,
				Result:       AppendConflict,
				ConflictHint: e.conflictHint(firstNew),
			}
		}
	}

	if len(req.Entries) > 0 {
		firstNew := int64(req.Entries[0].LogID.Index)
		if firstNew == 0 {
			e.State.LogIDs = LogIdList{}
		} else {
			e.State.LogIDs.TruncateAfter(LogIndex(firstNew - 1))
		}
		// The prev check (or the gap guard above) guarantees the splice
		// point; a gap here means the guards themselves are broken.
		if last := e.State.LastLogID(); last != nil && int64(last.Index)+1 != firstNew {
			invariantViolation("append would leave a gap in the log")
		}
		for _, entry := range req.Entries {
			e.State.LogIDs.Append(entry.LogID)
			if entry.IsMembership() {
				em := NewEffectiveMembership(&entry.LogID, entry.Payload.Membership)
				e.State.MembershipState.SetEffective(em)
			}
		}
		e.push(AppendInputEntries(req.Vote, req.Entries))
	}

	// The success response reports only what this request covered
	// (prev plus its entries), never the whole local log: on an empty
	// heartbeat our tail may hold an unverified suffix from an older
	// term, and claiming it as matching would let the leader's
	// progress run past entries it never confirmed.
	matched := req.PrevLogID
	if len(req.Entries) > 0 {
		matched = &req.Entries[len(req.Entries)-1].LogID
	}

	// The commit floor is clamped to the verified prefix, not the local
	// tail: a stale suffix past `matched` must never be committed off a
	// leader_commit that refers to different entries at those indices.
	if matched != nil {
		floor := req.LeaderCommit
		if matched.Index < floor {
			floor = matched.Index
		}
		e.pendingCommitFloor = &floor
		if len(req.Entries) == 0 {
			// Nothing new to wait on: the verified prefix was made
			// durable by earlier appends, so an entry-less heartbeat
			// advances the commit floor immediately instead of waiting
			// for a LogPersisted that will never come.
			e.applyPendingCommitFloor(matched)
		}
	}

	return AppendEntriesResponse{Vote: e.State.Vote.Value, Result: AppendSuccess, LastLogID: matched}
}

// conflictHint picks the index the leader should retry from: past the
// end of a shorter log, or the exact mismatched index otherwise.
func (e *Engine) conflictHint(reqIndex LogIndex) LogIndex {
	lastLogID := e.State.LastLogID()
	if lastLogID == nil {
		return 0
	}
	if lastLogID.Index < reqIndex {
		return lastLogID.Index + 1
	}
	return reqIndex
}

// HandleLogPersisted reacts to the driver confirming durability up to
// a given LogID. A follower applies its pending commit floor only now
// (§4.3 "Followers set committed = min(leader_committed, last_log_id)
// on successful append" — gated on durability, not mere receipt). A
// leader's own durability is not separately gated here: recomputeCommit
// counts the leader's own last_log_id as matched as soon as it is
// appended, without waiting for this event.
func (e *Engine) HandleLogPersisted(upto *LogID) {
	if e.State.ServerState == ServerStateLeader {
		return
	}
	e.applyPendingCommitFloor(upto)
}

// applyPendingCommitFloor advances a follower's commit index to the
// pending floor, clamped to the durable prefix ending at upto.
func (e *Engine) applyPendingCommitFloor(upto *LogID) {
	if e.pendingCommitFloor == nil || upto == nil {
		return
	}
	floor := *e.pendingCommitFloor
	if floor > upto.Index {
		floor = upto.Index
	}
	newCommit := e.State.LogIDs.Get(floor)
	if newCommit == nil || !LessOpt(e.State.Committed, newCommit) {
		return
	}
	e.State.Committed = newCommit
	e.push(Commit(floor))
}

// HandleReplicationFailed clears a stuck inflight slot reported by the
// driver (spec.md §7 kind 7) and immediately retries, the same
// recovery path a Conflict or Success response would have taken.
func (e *Engine) HandleReplicationFailed(target NodeID, inflightID uint64) {
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		return
	}
	pe, ok := e.Leader.Progress[target]
	if !ok || pe.CurrInflightID != inflightID {
		return // stale
	}
	pe.Inflight = NoInflight()
	e.replicateOne(target)
}

func sortNodeIDs(ids []NodeID) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
