package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/leifraft/raft/internal/raft"
)

// LoadEngine reconstructs an Engine from whatever the LogStore and
// VoteStore already hold on disk, the same "classify self from
// persistent state" step spec.md §4.6 describes for Engine.Startup —
// this is the piece upstream of Startup, building the State Startup
// then classifies. initial is only consulted when no membership entry
// has ever been written to the log (a brand-new, never-bootstrapped
// node); once any membership entry exists, the log is authoritative.
func LoadEngine(ctx context.Context, cfg raft.EngineConfig, logStore raft.LogStore, votes interface {
	ReadVote() (raft.Vote, error)
}, snap *raft.SnapshotMeta, initial raft.Membership) (*raft.Engine, error) {
	vote, err := votes.ReadVote()
	if err != nil {
		return nil, fmt.Errorf("driver: read vote: %w", err)
	}

	last, err := logStore.LastLogID(ctx)
	if err != nil {
		return nil, fmt.Errorf("driver: read last log id: %w", err)
	}

	var entries []raft.Entry
	if last != nil {
		entries, err = logStore.Read(ctx, 0, last.Index)
		if err != nil {
			return nil, fmt.Errorf("driver: read log: %w", err)
		}
	}

	ids := make([]raft.LogID, len(entries))
	for i, e := range entries {
		ids[i] = e.LogID
	}
	if len(ids) == 0 && snap != nil && snap.LastLogID != nil {
		// The whole log was purged into the snapshot; without seeding
		// its last id, a resumed leader would number its next entry
		// from zero instead of after the snapshot.
		ids = []raft.LogID{*snap.LastLogID}
	}
	logIDs := raft.NewLogIdList(ids)

	// The most recently written membership entry is this replica's best
	// local knowledge of its configuration; committed and effective
	// start equal (NewMembershipState's convention) and the next leader
	// re-derives the true commit index from scratch, exactly as it
	// would after any restart.
	effective := (*raft.EffectiveMembership)(nil)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsMembership() {
			id := entries[i].LogID
			effective = raft.NewEffectiveMembership(&id, entries[i].Payload.Membership)
			break
		}
	}
	// A snapshot's membership wins over the log's only when it is
	// newer, i.e. every log entry at or before it was purged.
	if snap != nil && snap.Membership != nil {
		if effective == nil || raft.LessOpt(effective.LogID, snap.Membership.LogID) {
			effective = snap.Membership
		}
	}
	if effective == nil {
		effective = raft.NewEffectiveMembership(nil, initial)
	}
	ms := raft.NewMembershipState(effective)

	return raft.NewEngine(cfg, raft.NewUTime(vote, time.Now()), logIDs, ms, nil, snap)
}
