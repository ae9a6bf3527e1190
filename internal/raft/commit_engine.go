package raft

// commit_engine.go implements spec.md §4.3 (quorum commit index
// computation) and §4.4 (single-step joint consensus).

// HandleClientPropose implements the client half of §4.7 "Respond":
// append an application entry if leading, else redirect.
func (e *Engine) HandleClientPropose(data []byte, replyTo uint64) {
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		e.respondNotLeader(replyTo)
		return
	}
	entry := e.appendEntry(NormalPayload(data))
	e.Leader.pendingReplies[entry.LogID.Index] = replyTo
	// Single-node clusters commit on propose alone (§8 boundary
	// behavior): self's own match already forms a quorum.
	e.recomputeCommit()
	e.replicateToAll()
}

// HandleChangeMembership implements §4.4: propose a joint `[old, new]`
// entry, rejecting a second change while one is still uncommitted.
func (e *Engine) HandleChangeMembership(m Membership, replyTo uint64) {
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		e.respondNotLeader(replyTo)
		return
	}
	if e.State.MembershipState.Effective.Membership.IsJoint() {
		e.push(Respond(replyTo, RespondResult{Err: ErrConfigChangeInProgress}))
		return
	}
	if len(m.Voters) == 0 || len(m.Voters[0]) == 0 {
		e.push(Respond(replyTo, RespondResult{Err: ErrEmptyMembership}))
		return
	}

	oldVoters := e.State.MembershipState.Effective.Membership.Voters[0]
	joint := NewJointMembership(oldVoters, m.Voters[0], m.Learners)
	entry := e.appendEntry(MembershipPayload(joint))
	e.Leader.pendingReplies[entry.LogID.Index] = replyTo

	e.recomputeCommit()
	e.replicateToAll()
}

// respondNotLeader redirects a rejected proposal using the best leader
// hint this replica has: a committed vote names its own holder as the
// believed leader (§7 kind 5).
func (e *Engine) respondNotLeader(replyTo uint64) {
	v := e.State.Vote.Value
	hint := &LeaderHintError{HasLeader: v.Committed, Leader: v.NodeID}
	e.push(Respond(replyTo, RespondResult{Err: hint}))
}

// appendEntry assigns the next LogID in the current term, records it
// in LogIDs, caches it as the leader's last_log_id, and emits the
// durable AppendInputEntries command (§4.7 ordering: SaveVote already
// precedes this on election; this append precedes any Replicate that
// references it). Membership payloads additionally update the
// effective configuration and self-departure state (§4.4).
func (e *Engine) appendEntry(payload Payload) Entry {
	lastIndex := IndexOpt(e.Leader.LastLogID())
	newIndex := LogIndex(lastIndex + 1)
	id := NewLeaderLogID(e.State.Vote.Value.Term, newIndex, e.Config.ID)
	entry := Entry{LogID: id, Payload: payload}

	e.State.LogIDs.Append(id)
	e.Leader.lastLogID = &id
	e.push(AppendInputEntries(e.State.Vote.Value, []Entry{entry}))

	if payload.Kind == PayloadMembership {
		e.State.MembershipState.SetEffective(NewEffectiveMembership(&id, payload.Membership))
		e.syncProgressToEffective()
		e.checkSelfDeparture()
	}
	return entry
}

// syncProgressToEffective adds a fresh ProgressEntry for every member
// newly named by the effective configuration; existing entries (and
// their matching/inflight state) are left untouched.
func (e *Engine) syncProgressToEffective() {
	if e.Leader == nil {
		return
	}
	lastIndex := IndexOpt(e.Leader.LastLogID())
	for id := range e.State.MembershipState.Effective.Membership.AllMembers() {
		if id == e.Config.ID {
			continue
		}
		if _, ok := e.Leader.Progress[id]; !ok {
			pe := NewProgressEntry(lastIndex)
			e.Leader.Progress[id] = &pe
		}
	}
}

// checkSelfDeparture implements the effective-membership half of §4.4:
// a leader that just proposed itself out of the voter set steps down
// immediately once it has nothing left pending a reply.
func (e *Engine) checkSelfDeparture() {
	if e.Leader == nil {
		return
	}
	if e.State.MembershipState.Effective.Membership.IsVoter(e.Config.ID) {
		return
	}
	if len(e.Leader.pendingReplies) > 0 {
		return
	}
	e.becomeFollower()
}

// matchingSnapshot copies the leader's current per-follower matching
// indices, the shape medianMatching expects.
func (e *Engine) matchingSnapshot() map[NodeID]*LogID {
	out := make(map[NodeID]*LogID, len(e.Leader.Progress))
	for id, pe := range e.Leader.Progress {
		out[id] = pe.Matching
	}
	return out
}

// recomputeCommit implements §4.3: recompute the commit index from
// every voter set in the *committed* membership (joint consensus
// requires agreement from both), clamp to the current term (leader
// completeness — an older-term entry is never committed directly), and
// react to any advance.
func (e *Engine) recomputeCommit() {
	if e.State.ServerState != ServerStateLeader || e.Leader == nil {
		return
	}
	committed := e.State.MembershipState.Committed.Membership
	matching := e.matchingSnapshot()
	lastLogID := e.Leader.LastLogID()

	var newCommit *LogID
	for _, set := range committed.Voters {
		m := medianMatching(set, e.Config.ID, lastLogID, matching)
		if m == nil {
			// Empty voter set, or no quorum has matched anything yet:
			// nothing to commit against (§8 boundary behavior handles
			// the demotion path separately).
			return
		}
		if newCommit == nil || m.Less(*newCommit) {
			newCommit = m
		}
	}
	if newCommit == nil || newCommit.Term != e.State.Vote.Value.Term {
		return
	}
	if !LessOpt(e.State.Committed, newCommit) {
		return
	}
	if lastLogID == nil || lastLogID.Less(*newCommit) {
		// Matchings are clamped on arrival, so a median past the log
		// tail cannot be produced by any reachable state.
		invariantViolation("commit index would exceed last_log_id")
	}

	e.State.Committed = newCommit
	e.Config.Logger.Debug().
		Uint64("index", uint64(newCommit.Index)).
		Msg("commit index advanced")
	e.push(Commit(newCommit.Index))
	e.respondCommittedProposals(newCommit.Index)
	e.finalizeCommittedMembership(newCommit.Index)
	e.maybeBuildSnapshot()
}

// respondCommittedProposals replies OK to every pending client/config
// proposal whose entry has now committed (§4.7 "Respond").
func (e *Engine) respondCommittedProposals(upto LogIndex) {
	if e.Leader == nil {
		return
	}
	for index, replyTo := range e.Leader.pendingReplies {
		if index > upto {
			continue
		}
		id := e.State.LogIDs.Get(index)
		e.push(Respond(replyTo, RespondResult{OK: true, LogID: id}))
		delete(e.Leader.pendingReplies, index)
	}
}

// finalizeCommittedMembership implements the commit half of §4.4: once
// the effective configuration's own LogID has committed, it becomes
// the committed configuration; a joint config additionally auto-
// proposes its uniform successor, and a self-departure from the
// committed set demotes to Learner.
func (e *Engine) finalizeCommittedMembership(committedIndex LogIndex) {
	eff := e.State.MembershipState.Effective
	if eff == nil || eff.LogID == nil || eff.LogID.Index > committedIndex {
		return
	}
	if e.State.MembershipState.Committed == eff {
		return
	}
	e.State.MembershipState.SetCommitted(eff)
	e.pruneDepartedProgress()

	if !eff.Membership.IsVoter(e.Config.ID) {
		e.becomeLearner()
		return
	}
	if eff.Membership.IsJoint() && e.State.ServerState == ServerStateLeader {
		uniform := NewUniformMembership(eff.Membership.Voters[1], eff.Membership.Learners)
		e.appendEntry(MembershipPayload(uniform))
	}
}

// pruneDepartedProgress drops ProgressEntry bookkeeping for any node no
// longer in the committed membership, provided it has no outstanding
// replication request (§3 "ProgressEntry ... destroyed when it leaves
// and has no outstanding replication").
func (e *Engine) pruneDepartedProgress() {
	if e.Leader == nil {
		return
	}
	keep := e.State.MembershipState.Committed.Membership.AllMembers()
	for id, pe := range e.Leader.Progress {
		if keep.Contains(id) {
			continue
		}
		if pe.IsPaused() {
			continue
		}
		delete(e.Leader.Progress, id)
	}
}
