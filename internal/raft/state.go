package raft

// ServerState is the replica's current role (spec.md §3). Candidate is
// tracked distinctly from Follower so metrics and logs can tell the
// two apart, even though (per the GLOSSARY) a candidate behaves like a
// follower toward incoming RPCs.
type ServerState int

const (
	ServerStateLearner ServerState = iota
	ServerStateFollower
	ServerStateCandidate
	ServerStateLeader
)

func (s ServerState) String() string {
	switch s {
	case ServerStateLearner:
		return "Learner"
	case ServerStateFollower:
		return "Follower"
	case ServerStateCandidate:
		return "Candidate"
	case ServerStateLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// State is the full persistent-plus-derived state of one replica
// (spec.md §3). Everything here except ServerState and the transient
// parts of MembershipState.Effective is meant to survive restart; the
// driver is responsible for actually persisting Vote and the log via
// LogStore/SaveVote/AppendInputEntries commands.
type State struct {
	Vote            UTime[Vote]
	LogIDs          LogIdList
	MembershipState MembershipState
	Committed       *LogID
	ServerState     ServerState
	Snapshot        *SnapshotMeta
}

// LastLogID returns the most recent entry known to this replica.
func (s *State) LastLogID() *LogID {
	return s.LogIDs.Last()
}

// LeaderState exists only while ServerState == Leader (spec.md §3).
type LeaderState struct {
	NoopLogID *LogID
	lastLogID *LogID
	Progress  map[NodeID]*ProgressEntry

	nextInflightID uint64

	// pendingReplies maps a proposed entry's index to the id the driver
	// gave the client proposal, so Commit can fire Respond (spec.md
	// §4.7 "Respond"). Whether a joint-consensus change is already
	// underway is read directly off MembershipState.Effective rather
	// than tracked separately here.
	pendingReplies map[LogIndex]uint64
}

// NewLeaderState builds the LeaderState a replica enters on winning an
// election, with one ProgressEntry per current member (§4.2 "On
// becoming leader"). lastLogIndex is -1 for an empty log.
func NewLeaderState(members NodeIDSet, lastLogIndex int64, self NodeID) *LeaderState {
	ls := &LeaderState{
		Progress:       make(map[NodeID]*ProgressEntry, len(members)),
		pendingReplies: make(map[LogIndex]uint64),
	}
	for id := range members {
		if id == self {
			continue
		}
		pe := NewProgressEntry(lastLogIndex)
		ls.Progress[id] = &pe
	}
	return ls
}

// LastLogID returns the leader's cached last log id.
func (l *LeaderState) LastLogID() *LogID { return l.lastLogID }

// nextInflight returns the next monotonic inflight id for a follower
// request (§4.2 "Inflight identifiers").
func (l *LeaderState) nextInflight() uint64 {
	l.nextInflightID++
	return l.nextInflightID
}
