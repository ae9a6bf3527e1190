package raft

import (
	"context"
	"time"
)

// The engine touches none of these directly (spec.md §1 "out of
// scope"); they document the contract the driver's collaborators must
// satisfy. internal/logstore, internal/statemachine and
// internal/transport/raftrpc provide concrete implementations.

// LogStore persists the replicated log. All writes must be durable
// before completion is reported (spec.md §6).
type LogStore interface {
	Append(ctx context.Context, entries []Entry) error
	Read(ctx context.Context, lo, hi LogIndex) ([]Entry, error)
	Truncate(ctx context.Context, fromIndex LogIndex) error
	Purge(ctx context.Context, uptoIndex LogIndex) error
	LastLogID(ctx context.Context) (*LogID, error)
	GetLogID(ctx context.Context, index LogIndex) (*LogID, error)
}

// SnapshotMetaFull describes a built snapshot plus how to read it: Data
// is the full flattened payload the driver chunks into
// InstallSnapshotRequest.Data frames.
type SnapshotMetaFull struct {
	Meta SnapshotMeta
	Data []byte
}

// StateMachine applies committed entries and manages snapshots. Apply
// is called strictly in index order and exactly once per committed
// entry (spec.md §6).
type StateMachine interface {
	Apply(ctx context.Context, entry Entry) (any, error)
	CurrentSnapshot(ctx context.Context) (*SnapshotMetaFull, error)
	BuildSnapshot(ctx context.Context) (*SnapshotMetaFull, error)
	InstallSnapshot(ctx context.Context, meta SnapshotMeta, data []byte) error
}

// Transport sends RPCs to other replicas. Asynchronous and best
// effort; completions arrive back to the engine as events (spec.md
// §6).
type Transport interface {
	SendVote(ctx context.Context, target NodeID, req VoteRequest) (VoteResponse, error)
	SendAppendEntries(ctx context.Context, target NodeID, req AppendEntriesRequest) (AppendEntriesResponse, error)
	SendInstallSnapshot(ctx context.Context, target NodeID, req InstallSnapshotRequest) (InstallSnapshotResponse, error)
}

// Clock is the monotonic instant source every Tick event and lease
// check is stamped from (spec.md §6). The driver defaults to the
// system clock; tests substitute a deterministic fake that only moves
// when told to.
type Clock interface {
	Now() time.Time
}

// MetricsSnapshot is the periodic metrics payload (spec.md §6).
type MetricsSnapshot struct {
	ServerState ServerState
	Vote        Vote
	LastLogID   *LogID
	Committed   LogIndex
	Membership  Membership
	Progress    map[NodeID]ProgressEntry
}

// MetricsSink receives periodic MetricsSnapshots.
type MetricsSink interface {
	Observe(MetricsSnapshot)
}
