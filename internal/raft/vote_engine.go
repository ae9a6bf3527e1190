package raft

import "time"

// vote_engine.go implements spec.md §4.1: election timeout, candidacy,
// and vote-granting rules.

// HandleTick advances time-driven behavior: a leader sends heartbeats
// on its interval, everyone else starts (or restarts) an election once
// the deadline passes (spec.md §4.1, §5).
func (e *Engine) HandleTick(now time.Time) {
	if e.State.ServerState == ServerStateLeader {
		e.maybeHeartbeat(now)
		return
	}
	if e.electionDeadline.IsZero() {
		e.resetElectionTimer(now)
		return
	}
	if now.Before(e.electionDeadline) {
		return
	}
	if !e.isVoter() {
		return
	}
	e.startElection(now)
}

// maybeHeartbeat reuses electionDeadline as the next-heartbeat instant
// while leading, since the two timers are never active simultaneously.
func (e *Engine) maybeHeartbeat(now time.Time) {
	if e.electionDeadline.IsZero() || !now.Before(e.electionDeadline) {
		e.electionDeadline = now.Add(e.Config.HeartbeatInterval)
		e.sendHeartbeats()
	}
}

// sendHeartbeats re-issues a (possibly empty) AppendEntries to every
// follower not already paused, independent of whether it is caught up,
// to keep the leader lease alive and followers' election timers reset.
func (e *Engine) sendHeartbeats() {
	if e.Leader == nil {
		return
	}
	ids := make([]NodeID, 0, len(e.Leader.Progress))
	for id := range e.Leader.Progress {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)
	for _, target := range ids {
		pe := e.Leader.Progress[target]
		if pe.IsPaused() {
			continue
		}
		anchor := pe.Matching
		if anchor == nil {
			anchor = e.Leader.LastLogID()
		}
		req := NewLogsInflight(anchor, anchor)
		id := e.Leader.nextInflight()
		req = req.WithID(id)
		pe.Inflight = req
		pe.CurrInflightID = id
		e.push(Replicate(target, req))
	}
}

// votersExceptSelf returns every voter in the effective membership
// other than this replica.
func (e *Engine) votersExceptSelf() NodeIDSet {
	all := NodeIDSet{}
	for _, set := range e.State.MembershipState.Effective.Membership.Voters {
		for id := range set {
			if id != e.Config.ID {
				all[id] = struct{}{}
			}
		}
	}
	return all
}

// startElection bumps the term, votes for self, and canvasses every
// other voter (spec.md §4.1 "Starting an election").
func (e *Engine) startElection(now time.Time) {
	newTerm := e.State.Vote.Value.Term + 1
	vote := NewVote(newTerm, e.Config.ID)
	e.State.Vote = NewUTime(vote, now)
	e.State.ServerState = ServerStateCandidate
	e.Leader = nil
	e.electionVotes = NewNodeIDSet(e.Config.ID)
	e.resetElectionTimer(now)

	e.push(SaveVote(vote))
	lastLogID := e.State.LastLogID()
	for id := range e.votersExceptSelf() {
		e.push(SendVote(id, vote, lastLogID))
	}

	// A single-voter cluster has its quorum the moment self votes;
	// there is no response to wait for.
	e.maybeWinElection()
}

// resetElectionTimer schedules the next election timeout, randomized
// within [ElectionTimeoutMin, ElectionTimeoutMax] to reduce split votes
// (spec.md §6 "randomized range").
func (e *Engine) resetElectionTimer(now time.Time) {
	e.electionDeadline = now.Add(e.Config.ElectionTimeoutMin + e.jitter())
}

// jitter returns a deterministic pseudo-random duration in
// [0, ElectionTimeoutMax-ElectionTimeoutMin). Deterministic per-replica
// randomness (seeded from the node id, advanced by a plain xorshift64)
// keeps engine-level tests reproducible without injecting a PRNG
// dependency the driver would have to thread through.
func (e *Engine) jitter() time.Duration {
	span := e.Config.ElectionTimeoutMax - e.Config.ElectionTimeoutMin
	if span <= 0 {
		return 0
	}
	if e.lastRandSeed == 0 {
		e.lastRandSeed = uint64(e.Config.ID)*2654435761 + 0x9E3779B97F4A7C15
	}
	x := e.lastRandSeed
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	e.lastRandSeed = x
	return time.Duration(x % uint64(span))
}

// HandleVoteRequest implements spec.md §4.1 "Granting a vote".
func (e *Engine) HandleVoteRequest(req VoteRequest, now time.Time) VoteResponse {
	if req.Vote.Term > e.State.Vote.Value.Term {
		e.observeHigherTerm(req.Vote.Term)
	}

	granted := e.State.Vote.Value.Less(req.Vote) && LessEqOpt(e.State.LastLogID(), req.LastLogID)
	if granted {
		e.State.Vote = NewUTime(req.Vote, now)
		e.push(SaveVote(req.Vote))
		e.becomeFollower()
		e.resetElectionTimer(now)
	}
	return VoteResponse{Vote: e.State.Vote.Value, Granted: granted}
}

// HandleVoteResponse implements spec.md §4.1 "Winning".
func (e *Engine) HandleVoteResponse(from NodeID, resp VoteResponse) {
	if resp.Vote.Term > e.State.Vote.Value.Term {
		e.observeHigherTerm(resp.Vote.Term)
		return
	}
	if e.State.ServerState != ServerStateCandidate {
		return
	}
	if resp.Vote.Term != e.State.Vote.Value.Term {
		return
	}
	if !resp.Granted {
		return
	}
	if e.electionVotes == nil {
		e.electionVotes = NodeIDSet{}
	}
	e.electionVotes[from] = struct{}{}
	e.maybeWinElection()
}

// maybeWinElection promotes the candidacy to leadership once grants
// from a quorum of every voter set have arrived (spec.md §4.1
// "Winning").
func (e *Engine) maybeWinElection() {
	if !e.State.MembershipState.Effective.Membership.IsQuorum(e.electionVotes) {
		return
	}

	won := e.State.Vote.Value.Commit()
	e.State.Vote.Value = won
	// The committed vote must be durable before leadership acts on it:
	// a restart between here and the first append would otherwise come
	// back up as Follower with an uncommitted vote and lose the §4.6
	// resume-as-leader path.
	e.push(SaveVote(won))
	e.Config.Logger.Info().
		Uint64("term", uint64(won.Term)).
		Msg("election won")
	e.resumeAsLeader()
}

// observeHigherTerm implements spec.md §4.1 "Stepping down": any
// message carrying a higher term resets this replica to Follower and
// clears LeaderState, without granting anything by itself.
func (e *Engine) observeHigherTerm(term Term) {
	if term <= e.State.Vote.Value.Term {
		return
	}
	e.Config.Logger.Info().
		Uint64("term", uint64(term)).
		Uint64("prev_term", uint64(e.State.Vote.Value.Term)).
		Msg("observed higher term, stepping down")
	e.State.Vote.Value = NewVote(term, 0)
	e.becomeFollower()
}

// observeHigherVote is the response-path variant: the incoming vote
// itself (not just its term) determines the new local vote, since a
// higher-term-but-not-yet-committed vote from another candidate should
// not silently become "voted for no one."
func (e *Engine) observeHigherVote(vote Vote) {
	if !e.State.Vote.Value.Less(vote) {
		return
	}
	e.State.Vote.Value = vote
	e.becomeFollower()
}

// HasLease reports whether the leader's committed vote is still within
// its lease window, authorizing a local (non-quorum-confirmed) read
// (spec.md §4.1 "Leader lease").
func (e *Engine) HasLease(now time.Time) bool {
	if e.State.ServerState != ServerStateLeader || !e.State.Vote.Value.Committed {
		return false
	}
	return now.Sub(e.State.Vote.At) < e.Config.ElectionTimeoutMin
}
