package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaybeBuildSnapshot_TriggersOnceThresholdCrossed(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1), NewCommittedVote(1, 1), LogIdList{})
	e.Config.SnapshotThreshold = 5
	committed := NewLogID(1, 3)
	e.State.Committed = &committed

	e.maybeBuildSnapshot()
	assert.Empty(t, e.TakeCommands(), "gap of 4 (committed 3, no snapshot) is still below the threshold")

	committed2 := NewLogID(1, 5)
	e.State.Committed = &committed2
	e.maybeBuildSnapshot()
	cmds := e.TakeCommands()
	require.Len(t, cmds, 1)
	assert.Equal(t, CommandBuildSnapshot, cmds[0].Kind)
	assert.True(t, e.snapshotBuildInFlight)

	// A second crossing while one build is outstanding must not double-fire.
	e.maybeBuildSnapshot()
	assert.Empty(t, e.TakeCommands())
}

func TestHandleSnapshotPersisted_PurgesLogAndAdvancesCommit(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1), NewCommittedVote(1, 1), LogIdList{})
	e.Config.MaxInSnapshotLogToKeep = 0
	e.snapshotBuildInFlight = true
	for i := LogIndex(0); i <= 10; i++ {
		e.State.LogIDs.Append(NewLogID(1, i))
	}

	meta := SnapshotMeta{LastLogID: &LogID{Term: 1, Index: 7}}
	e.HandleSnapshotPersisted(meta)
	cmds := e.TakeCommands()

	assert.False(t, e.snapshotBuildInFlight)
	require.NotNil(t, e.State.Snapshot)
	assert.Equal(t, LogIndex(7), e.State.Snapshot.LastLogID.Index)
	require.NotNil(t, e.State.Committed)
	assert.Equal(t, LogIndex(7), e.State.Committed.Index)
	require.Len(t, cmds, 1)
	assert.Equal(t, CommandPurgeLog, cmds[0].Kind)
	assert.Equal(t, LogIndex(7), cmds[0].PurgeUpto)

	first := e.State.LogIDs.First()
	require.NotNil(t, first)
	assert.LessOrEqual(t, int(first.Index), 7)
}

func TestHandleSnapshotPersisted_IgnoresStaleSnapshot(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1), NewCommittedVote(1, 1), LogIdList{})
	e.State.Snapshot = &SnapshotMeta{LastLogID: &LogID{Term: 2, Index: 20}}

	e.HandleSnapshotPersisted(SnapshotMeta{LastLogID: &LogID{Term: 1, Index: 5}})
	assert.Empty(t, e.TakeCommands())
	assert.Equal(t, LogIndex(20), e.State.Snapshot.LastLogID.Index, "a strictly older snapshot is dropped")
}

func TestHandleInstallSnapshotRequest_AdoptsAheadSnapshot(t *testing.T) {
	e := engineFor(t, 2, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	members := NewUniformMembership(NewNodeIDSet(1, 2, 3), nil)
	meta := SnapshotMeta{
		LastLogID:  &LogID{Term: 1, Index: 50},
		Membership: NewEffectiveMembership(&LogID{Term: 1, Index: 50}, members),
		SnapshotID: "snap-1",
	}

	resp := e.HandleInstallSnapshotRequest(InstallSnapshotRequest{
		Vote: NewCommittedVote(1, 1), Meta: meta, Done: true,
	})
	cmds := e.TakeCommands()

	assert.Equal(t, e.State.Vote.Value, resp.Vote)
	require.Len(t, cmds, 2)
	assert.Equal(t, CommandInstallFullSnapshot, cmds[0].Kind)
	assert.Equal(t, CommandPurgeLog, cmds[1].Kind)
	assert.Equal(t, LogIndex(50), cmds[1].PurgeUpto)
	require.NotNil(t, e.State.Snapshot)
	assert.Equal(t, LogIndex(50), e.State.Snapshot.LastLogID.Index)
	require.NotNil(t, e.State.Committed)
	assert.Equal(t, LogIndex(50), e.State.Committed.Index)
	assert.True(t, e.State.MembershipState.Effective.Membership.IsVoter(3))
}

func TestHandleInstallSnapshotRequest_IgnoresPartialChunk(t *testing.T) {
	e := engineFor(t, 2, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})

	resp := e.HandleInstallSnapshotRequest(InstallSnapshotRequest{
		Vote: NewCommittedVote(1, 1),
		Meta: SnapshotMeta{LastLogID: &LogID{Term: 1, Index: 50}},
		Done: false,
	})
	assert.Empty(t, e.TakeCommands())
	assert.Equal(t, e.State.Vote.Value, resp.Vote)
	assert.Nil(t, e.State.Snapshot, "chunk buffering is a driver concern, not decided here")
}

func TestHandleInstallSnapshotResponse_SetsMatchingAndRecomputesCommit(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	// Force the follower onto the snapshot path by making its inflight a
	// Snapshot request.
	id := e.Leader.nextInflight()
	pe.Inflight = NewSnapshotInflight(e.Leader.LastLogID()).WithID(id)
	pe.CurrInflightID = id

	e.HandleInstallSnapshotResponse(2, id, InstallSnapshotResponse{Vote: e.State.Vote.Value})

	assert.Equal(t, e.Leader.LastLogID(), pe.Matching)
	assert.False(t, pe.IsPaused())
}

func TestHandleSnapshotPersisted_RetainsRecentLog(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1), NewCommittedVote(1, 1), LogIdList{})
	e.Config.MaxInSnapshotLogToKeep = 3
	for i := LogIndex(0); i <= 10; i++ {
		e.State.LogIDs.Append(NewLogID(1, i))
	}

	e.HandleSnapshotPersisted(SnapshotMeta{LastLogID: &LogID{Term: 1, Index: 7}})
	cmds := e.TakeCommands()

	require.True(t, containsCommand(cmds, CommandPurgeLog))
	assert.Equal(t, LogIndex(4), cmds[len(cmds)-1].PurgeUpto, "entries within the retention window survive the purge")
}

func TestHandleSnapshotPersisted_PurgesInBatches(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1), NewCommittedVote(1, 1), LogIdList{})
	e.Config.MaxInSnapshotLogToKeep = 0
	e.Config.PurgeBatchSize = 4
	for i := LogIndex(0); i <= 10; i++ {
		e.State.LogIDs.Append(NewLogID(1, i))
	}

	e.HandleSnapshotPersisted(SnapshotMeta{LastLogID: &LogID{Term: 1, Index: 9}})
	cmds := e.TakeCommands()

	require.Len(t, cmds, 3)
	assert.Equal(t, LogIndex(3), cmds[0].PurgeUpto)
	assert.Equal(t, LogIndex(7), cmds[1].PurgeUpto)
	assert.Equal(t, LogIndex(9), cmds[2].PurgeUpto)
}
