package raft

import "time"

// EventKind discriminates the closed set of inputs the engine accepts.
// Like Command, Event is a tagged struct rather than an interface
// hierarchy so every case is exhaustively switchable (spec.md §9).
type EventKind int

const (
	EventTick EventKind = iota
	EventVoteRequestReceived
	EventVoteResponseReceived
	EventAppendEntriesRequestReceived
	EventAppendEntriesResponseReceived
	EventInstallSnapshotRequestReceived
	EventInstallSnapshotResponseReceived
	EventClientPropose
	EventChangeMembership
	EventLogPersisted
	EventSnapshotPersisted
	// EventReplicationFailed is fed back by the driver when a Replicate
	// RPC never produced a response (transport error, dial failure,
	// timeout) — spec.md §7 kind 7 "RPC timeout produces retry via next
	// tick": it clears the stuck inflight slot so the follower is no
	// longer paused and a subsequent tick or commit can retry it.
	EventReplicationFailed
)

// Event is a single input to Engine.Step (or one of its Handle*
// methods, which Step dispatches to).
type Event struct {
	Kind EventKind
	At   time.Time

	From NodeID

	VoteReq  VoteRequest
	VoteResp VoteResponse

	AppendReq  AppendEntriesRequest
	AppendResp AppendEntriesResponse
	// the id tagging the inflight request this response answers, for
	// stale-response detection (§4.2 "Inflight identifiers")
	InflightID uint64

	SnapshotReq  InstallSnapshotRequest
	SnapshotResp InstallSnapshotResponse

	ProposeData    []byte
	ProposeReplyTo uint64

	NewMembership  Membership
	ChangeReplyTo  uint64

	PersistedUpto *LogID

	SnapshotMetaPersisted SnapshotMeta
}

// NewReplicationFailed builds the driver-observed-failure event for a
// stuck inflight request toward target.
func NewReplicationFailed(target NodeID, inflightID uint64) Event {
	return Event{Kind: EventReplicationFailed, From: target, InflightID: inflightID}
}

func NewTick(at time.Time) Event { return Event{Kind: EventTick, At: at} }

func NewVoteRequestReceived(from NodeID, req VoteRequest) Event {
	return Event{Kind: EventVoteRequestReceived, From: from, VoteReq: req}
}

func NewVoteResponseReceived(from NodeID, resp VoteResponse) Event {
	return Event{Kind: EventVoteResponseReceived, From: from, VoteResp: resp}
}

func NewAppendEntriesRequestReceived(from NodeID, req AppendEntriesRequest) Event {
	return Event{Kind: EventAppendEntriesRequestReceived, From: from, AppendReq: req}
}

func NewAppendEntriesResponseReceived(from NodeID, inflightID uint64, resp AppendEntriesResponse) Event {
	return Event{Kind: EventAppendEntriesResponseReceived, From: from, InflightID: inflightID, AppendResp: resp}
}

func NewInstallSnapshotRequestReceived(from NodeID, req InstallSnapshotRequest) Event {
	return Event{Kind: EventInstallSnapshotRequestReceived, From: from, SnapshotReq: req}
}

func NewInstallSnapshotResponseReceived(from NodeID, inflightID uint64, resp InstallSnapshotResponse) Event {
	return Event{Kind: EventInstallSnapshotResponseReceived, From: from, InflightID: inflightID, SnapshotResp: resp}
}

func NewClientPropose(data []byte, replyTo uint64) Event {
	return Event{Kind: EventClientPropose, ProposeData: data, ProposeReplyTo: replyTo}
}

func NewChangeMembership(m Membership, replyTo uint64) Event {
	return Event{Kind: EventChangeMembership, NewMembership: m, ChangeReplyTo: replyTo}
}

func NewLogPersisted(upto *LogID) Event {
	return Event{Kind: EventLogPersisted, PersistedUpto: upto}
}

func NewSnapshotPersisted(meta SnapshotMeta) Event {
	return Event{Kind: EventSnapshotPersisted, SnapshotMetaPersisted: meta}
}
