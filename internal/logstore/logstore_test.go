package logstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leifraft/raft/internal/raft"
)

func testEntries() []raft.Entry {
	m := raft.NewUniformMembership(raft.NewNodeIDSet(1, 2, 3), raft.NewNodeIDSet(4))
	return []raft.Entry{
		raft.NewBlankEntry(raft.NewLeaderLogID(1, 0, 1)),
		raft.NewNormalEntry(raft.NewLeaderLogID(1, 1, 1), []byte("set x=1")),
		raft.NewMembershipEntry(raft.NewLeaderLogID(1, 2, 1), m),
		raft.NewNormalEntry(raft.NewLeaderLogID(2, 3, 2), []byte("set y=2")),
	}
}

// Serializing then deserializing the log yields the original: entries
// written by one store instance are read back identically by another
// opened on the same file.
func TestLogRoundTripAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/log.dat"

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, testEntries()))

	reopened, err := Open(path)
	require.NoError(t, err)

	got, err := reopened.Read(ctx, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, testEntries(), got)

	last, err := reopened.LastLogID(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, raft.NewLeaderLogID(2, 3, 2), *last)
}

func TestTruncateDropsSuffix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir() + "/log.dat")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, testEntries()))

	require.NoError(t, s.Truncate(ctx, 2))

	last, err := s.LastLogID(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, raft.LogIndex(1), last.Index)

	id, err := s.GetLogID(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, id)
}

func TestPurgeDropsPrefix(t *testing.T) {
	ctx := context.Background()
	s, err := Open(t.TempDir() + "/log.dat")
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, testEntries()))

	require.NoError(t, s.Purge(ctx, 1))

	got, err := s.Read(ctx, 0, 3)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, raft.LogIndex(2), got[0].LogID.Index)

	// the tail survives a prefix purge untouched
	last, err := s.LastLogID(ctx)
	require.NoError(t, err)
	assert.Equal(t, raft.LogIndex(3), last.Index)
}

func TestVoteFileRoundTrip(t *testing.T) {
	v, err := OpenVoteFile(t.TempDir() + "/vote.dat")
	require.NoError(t, err)

	// a brand-new node reads the zero vote
	vote, err := v.ReadVote()
	require.NoError(t, err)
	assert.Equal(t, raft.Vote{}, vote)

	want := raft.NewCommittedVote(7, 2)
	require.NoError(t, v.SaveVote(want))

	got, err := v.ReadVote()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSnapshotFileRoundTrip(t *testing.T) {
	s, err := OpenSnapshotFile(t.TempDir() + "/snapshot.dat")
	require.NoError(t, err)

	// nothing saved yet
	full, err := s.Load()
	require.NoError(t, err)
	assert.Nil(t, full)

	last := raft.NewLeaderLogID(3, 42, 1)
	meta := raft.SnapshotMeta{
		LastLogID:  &last,
		Membership: raft.NewEffectiveMembership(&last, raft.NewUniformMembership(raft.NewNodeIDSet(1, 2, 3), nil)),
		SnapshotID: "snap-42-1",
	}
	require.NoError(t, s.Save(meta, []byte("flattened-kv-state")))

	got, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, meta.SnapshotID, got.Meta.SnapshotID)
	require.NotNil(t, got.Meta.LastLogID)
	assert.Equal(t, last, *got.Meta.LastLogID)
	assert.Equal(t, []byte("flattened-kv-state"), got.Data)
	assert.True(t, got.Meta.Membership.Membership.IsVoter(2))
}
