package raft

// InflightKind discriminates the closed set of outstanding replication
// requests a leader may have toward one follower (spec.md §3, §4.2).
type InflightKind int

const (
	// InflightNone means no outstanding request toward this follower.
	InflightNone InflightKind = iota
	// InflightLogs means a log-replication (or probe) request is out.
	InflightLogs
	// InflightSnapshot means an InstallSnapshot request is out.
	InflightSnapshot
)

// Inflight describes the single outstanding replication request a
// leader may have toward a follower at any time (§4.2 "Inflight
// identifiers": at most one per follower).
type Inflight struct {
	Kind InflightKind
	ID   uint64 // curr_inflight_id this request was tagged with
	Prev *LogID // Logs only: the entry immediately before the batch
	Last *LogID // Logs/Snapshot: the last entry the request covers
}

// NoInflight is the zero-value "nothing outstanding" Inflight.
func NoInflight() Inflight { return Inflight{Kind: InflightNone} }

// NewLogsInflight builds a Logs-kind inflight request (untagged; call
// WithID before sending).
func NewLogsInflight(prev, last *LogID) Inflight {
	return Inflight{Kind: InflightLogs, Prev: prev, Last: last}
}

// NewSnapshotInflight builds a Snapshot-kind inflight request.
func NewSnapshotInflight(last *LogID) Inflight {
	return Inflight{Kind: InflightSnapshot, Last: last}
}

// WithID returns a copy of i tagged with the given inflight id.
func (i Inflight) WithID(id uint64) Inflight {
	i.ID = id
	return i
}

// ProgressEntry tracks one follower's replication state from the
// leader's point of view (spec.md §3, §4.2).
type ProgressEntry struct {
	Matching       *LogID
	Inflight       Inflight
	SearchingEnd   LogIndex
	CurrInflightID uint64
}

// NewProgressEntry builds the initial ProgressEntry for a follower
// just discovered by a new leader: matching unknown, search space is
// the whole log (§4.2 "On becoming leader"). lastLogIndex is -1 for an
// empty log.
func NewProgressEntry(lastLogIndex int64) ProgressEntry {
	return ProgressEntry{
		Matching:     nil,
		Inflight:     NoInflight(),
		SearchingEnd: LogIndex(lastLogIndex + 1),
	}
}

// IsPaused reports whether this entry may not currently be issued a
// new request: either an inflight request already exists, or (per the
// caller) leadership is not held / a snapshot is underway (§4.2
// "Pausing" — the inflight half of that rule; the leadership half is
// enforced by the caller, which only calls NextRequest while Leader).
func (p ProgressEntry) IsPaused() bool {
	return p.Inflight.Kind != InflightNone
}
