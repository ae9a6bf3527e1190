package raft

import "time"

// Engine is the deterministic consensus core (spec.md §1): state in,
// event in, state mutated, commands queued out. It owns no goroutines
// and performs no I/O; every exported Handle* method (and Step, which
// dispatches to them) is a synchronous, single-threaded mutation,
// matching §5 "the engine itself is strictly single-threaded and
// non-suspending."
type Engine struct {
	Config EngineConfig
	State  State
	Leader *LeaderState

	// electionDeadline is the instant at which, absent a qualifying
	// heartbeat/append/grant before then, this replica should start a
	// new election (spec.md §4.1, §5 "Tick events carrying the current
	// monotonic instant").
	electionDeadline time.Time
	// electionVotes tracks grants received for the in-flight candidacy;
	// valid only while State.ServerState == ServerStateCandidate.
	electionVotes NodeIDSet

	lastRandSeed uint64 // xorshift state for jittering election timeouts

	// pendingCommitFloor is a follower's not-yet-applied commit target,
	// derived from the most recent AppendEntriesRequest.LeaderCommit but
	// held back until the corresponding entries are confirmed durable
	// (HandleLogPersisted) — see commit_engine.go / replication_engine.go.
	pendingCommitFloor *LogIndex

	// snapshotBuildInFlight suppresses repeat BuildSnapshot commands
	// while one is already outstanding (snapshot_engine.go).
	snapshotBuildInFlight bool

	output []Command
}

// NewEngine constructs an Engine from validated configuration and
// whatever persistent state the driver loaded from disk. Construction
// never emits commands; call Startup for that.
func NewEngine(cfg EngineConfig, vote UTime[Vote], logIDs LogIdList, ms MembershipState, committed *LogID, snapshot *SnapshotMeta) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		Config: cfg,
		State: State{
			Vote:            vote,
			LogIDs:          logIDs,
			MembershipState: ms,
			Committed:       committed,
			ServerState:     ServerStateFollower,
			Snapshot:        snapshot,
		},
	}, nil
}

// TakeCommands drains and returns the queued commands, in emission
// order (spec.md §4.7 "command ordering is significant").
func (e *Engine) TakeCommands() []Command {
	cmds := e.output
	e.output = nil
	return cmds
}

func (e *Engine) push(cmd Command) {
	e.output = append(e.output, cmd)
}

// Step dispatches a single Event to the matching Handle* method. It is
// the only entry point the driver needs; Handle* methods remain
// exported individually for tests that want to target one transition
// precisely.
func (e *Engine) Step(ev Event) {
	switch ev.Kind {
	case EventTick:
		e.HandleTick(ev.At)
	case EventVoteRequestReceived:
		resp := e.HandleVoteRequest(ev.VoteReq, ev.At)
		_ = resp // the driver reads the response via the returned value in direct calls; Step is for uniform dispatch in tests/benchmarks
	case EventVoteResponseReceived:
		e.HandleVoteResponse(ev.From, ev.VoteResp)
	case EventAppendEntriesRequestReceived:
		e.HandleAppendEntriesRequest(ev.AppendReq, ev.At)
	case EventAppendEntriesResponseReceived:
		e.HandleAppendEntriesResponse(ev.From, ev.InflightID, ev.AppendResp)
	case EventInstallSnapshotRequestReceived:
		e.HandleInstallSnapshotRequest(ev.SnapshotReq)
	case EventInstallSnapshotResponseReceived:
		e.HandleInstallSnapshotResponse(ev.From, ev.InflightID, ev.SnapshotResp)
	case EventClientPropose:
		e.HandleClientPropose(ev.ProposeData, ev.ProposeReplyTo)
	case EventChangeMembership:
		e.HandleChangeMembership(ev.NewMembership, ev.ChangeReplyTo)
	case EventLogPersisted:
		e.HandleLogPersisted(ev.PersistedUpto)
	case EventSnapshotPersisted:
		e.HandleSnapshotPersisted(ev.SnapshotMetaPersisted)
	case EventReplicationFailed:
		e.HandleReplicationFailed(ev.From, ev.InflightID)
	}
}

// isVoter reports whether self is a voter in the effective membership.
func (e *Engine) isVoter() bool {
	return e.State.MembershipState.Effective.Membership.IsVoter(e.Config.ID)
}

// effectiveMembers returns every node (voter or learner) in the
// effective configuration.
func (e *Engine) effectiveMembers() NodeIDSet {
	return e.State.MembershipState.Effective.Membership.AllMembers()
}

// becomeFollower transitions to Follower and drops any LeaderState
// (spec.md §3 "LeaderState ... destroyed on any transition away").
func (e *Engine) becomeFollower() {
	if e.State.ServerState == ServerStateLeader {
		e.push(QuitLeader())
	}
	e.State.ServerState = ServerStateFollower
	e.Leader = nil
	// Drop whatever deadline the previous role was tracking (heartbeat
	// interval for a leader); the next tick re-arms a full election
	// timeout. Grant paths immediately re-arm with an explicit reset.
	e.electionDeadline = time.Time{}
}

// becomeLearner transitions to Learner and drops any LeaderState
// (§4.4: departing the committed configuration demotes to Learner).
func (e *Engine) becomeLearner() {
	if e.State.ServerState == ServerStateLeader {
		e.push(QuitLeader())
	}
	e.State.ServerState = ServerStateLearner
	e.Leader = nil
}

// Startup classifies the replica from persistent state and emits the
// minimum commands to reach a consistent runtime state (spec.md §4.6).
func (e *Engine) Startup() {
	if !e.isVoter() {
		e.State.ServerState = ServerStateLearner
		return
	}

	vote := e.State.Vote.Value
	if !vote.Committed {
		// An uncommitted vote (even one already cast for self in a
		// prior run) starts this replica as Follower: actual candidacy
		// — bumping the term, requesting votes — only happens once an
		// election timeout tick fires (spec.md §8 scenario 4, and the
		// GLOSSARY note that Candidate behaves like Follower toward
		// incoming RPCs).
		e.State.ServerState = ServerStateFollower
		return
	}
	if vote.NodeID != e.Config.ID {
		e.State.ServerState = ServerStateFollower
		return
	}

	// self holds a committed vote for self: resume as leader.
	e.resumeAsLeader()
}

// resumeAsLeader implements the two "committed vote, vote.node == self"
// rows of the startup table (spec.md §4.6).
func (e *Engine) resumeAsLeader() {
	members := e.effectiveMembers()
	lastLogID := e.State.LastLogID()
	lastIndex := IndexOpt(lastLogID)

	e.State.ServerState = ServerStateLeader
	e.Leader = NewLeaderState(members, lastIndex, e.Config.ID)
	e.Leader.lastLogID = lastLogID
	// Clear the candidacy deadline so the very next tick sends
	// heartbeats instead of waiting out the remainder of an election
	// timeout armed before leadership was won.
	e.electionDeadline = time.Time{}

	e.push(BecomeLeader())

	targets := make([]ReplicationTarget, 0, len(e.Leader.Progress))
	for id, pe := range e.Leader.Progress {
		targets = append(targets, ReplicationTarget{NodeID: id, Progress: *pe})
	}
	sortTargets(targets)
	e.push(RebuildReplicationStreams(targets))

	currentTerm := e.State.Vote.Value.Term
	noop := findNoopOfTerm(e.State.LogIDs, currentTerm, e.Config.ID)
	if noop == nil {
		// No entry of the current term survives on disk: append a
		// fresh blank noop (spec.md §4.6 "if none exists, a blank is
		// appended").
		newIndex := LogIndex(lastIndex + 1)
		id := NewLeaderLogID(currentTerm, newIndex, e.Config.ID)
		entry := NewBlankEntry(id)
		e.State.LogIDs.Append(id)
		e.Leader.NoopLogID = &id
		e.Leader.lastLogID = &id
		e.push(AppendInputEntries(e.State.Vote.Value, []Entry{entry}))
	} else {
		e.Leader.NoopLogID = noop
	}

	// Every ProgressEntry was sized against the pre-noop log (so the
	// RebuildReplicationStreams command above reports the true
	// pre-takeover searching_end, spec.md §8 scenario 1); refresh it now
	// that the noop may have advanced last_log_id, so nextRequestFor
	// still recognizes "no conflict recorded yet" and sends the whole
	// known log optimistically instead of probing (§4.2).
	newLastIndex := IndexOpt(e.Leader.lastLogID)
	for _, pe := range e.Leader.Progress {
		if pe.Matching == nil {
			pe.SearchingEnd = LogIndex(newLastIndex + 1)
		}
	}

	e.replicateToAll()

	// A single-voter cluster needs no acks: its own append is already a
	// quorum, so the noop (and anything else on disk) can commit now.
	e.recomputeCommit()
}

// findNoopOfTerm returns the first LogID of the given term proposed by
// self still present in the log, or nil if no such entry survives
// (spec.md §4.6 "reuse existing noop ... the first entry of the
// current term after restart", and the §9 open question: this only
// holds if vote-writes precede entry-writes for that term). A term can
// outlive more than one leader incarnation, so matching on leader as
// well as term is required — see LogIdList.Append.
func findNoopOfTerm(ids LogIdList, term Term, self NodeID) *LogID {
	for _, key := range ids.keys {
		if key.Term == term && key.HasLeader && key.LeaderID == self {
			found := key
			return &found
		}
	}
	return nil
}

func sortTargets(targets []ReplicationTarget) {
	for i := 1; i < len(targets); i++ {
		for j := i; j > 0 && targets[j].NodeID < targets[j-1].NodeID; j-- {
			targets[j], targets[j-1] = targets[j-1], targets[j]
		}
	}
}
