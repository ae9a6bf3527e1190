package raft

// Wire messages, semantic schema per spec.md §6. These are plain Go
// structs rather than protoc-generated types; see DESIGN.md
// "Hand-authored protobuf" for why, and internal/transport/raftrpc for
// how they're carried over a real google.golang.org/grpc connection.

// AppendEntriesRequest is sent by a leader to replicate (or probe)
// entries toward a follower.
type AppendEntriesRequest struct {
	Vote         Vote
	PrevLogID    *LogID
	Entries      []Entry
	LeaderCommit LogIndex
}

// AppendResultKind discriminates AppendEntriesResponse.Result.
type AppendResultKind int

const (
	AppendSuccess AppendResultKind = iota
	AppendConflict
	AppendHigherVote
)

// AppendEntriesResponse answers an AppendEntriesRequest.
type AppendEntriesResponse struct {
	Vote   Vote
	Result AppendResultKind

	// Success
	LastLogID *LogID
	// Conflict
	ConflictHint LogIndex
	// HigherVote
	HigherVote Vote
}

// VoteRequest is sent by a candidate canvassing for votes.
type VoteRequest struct {
	Vote      Vote
	LastLogID *LogID
}

// VoteResponse answers a VoteRequest.
type VoteResponse struct {
	Vote    Vote
	Granted bool
}

// SnapshotMeta describes a snapshot's coverage.
type SnapshotMeta struct {
	LastLogID  *LogID
	Membership *EffectiveMembership
	SnapshotID string
}

// InstallSnapshotRequest streams a snapshot to a follower in chunks.
type InstallSnapshotRequest struct {
	Vote   Vote
	Meta   SnapshotMeta
	Offset int64
	Data   []byte
	Done   bool
}

// InstallSnapshotResponse answers an InstallSnapshotRequest.
type InstallSnapshotResponse struct {
	Vote Vote
}
