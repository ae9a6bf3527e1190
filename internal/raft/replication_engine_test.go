package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRequestFor_FreshLeaderSendsFullLogOptimistically(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	cmds := e.TakeCommands()

	var replicate *Command
	for i := range cmds {
		if cmds[i].Kind == CommandReplicate {
			replicate = &cmds[i]
		}
	}
	require.NotNil(t, replicate)
	assert.Nil(t, replicate.Request.Prev)
	require.NotNil(t, replicate.Request.Last)
	assert.Equal(t, LogIndex(0), replicate.Request.Last.Index)
}

func TestHandleAppendEntriesResponse_ConflictNarrowsSearchAndRetries(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	require.NotNil(t, pe)
	inflightID := pe.CurrInflightID

	e.HandleAppendEntriesResponse(2, inflightID, AppendEntriesResponse{
		Vote: e.State.Vote.Value, Result: AppendConflict, ConflictHint: 0,
	})
	cmds := e.TakeCommands()

	assert.Equal(t, LogIndex(0), pe.SearchingEnd)
	assert.True(t, pe.Matching == nil)
	require.Len(t, cmds, 1)
	assert.Equal(t, CommandReplicate, cmds[0].Kind, "a retry is issued immediately")
}

func TestHandleAppendEntriesResponse_DropsStaleInflightID(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	staleID := pe.CurrInflightID
	pe.CurrInflightID = staleID + 1 // simulate a second request already issued

	e.HandleAppendEntriesResponse(2, staleID, AppendEntriesResponse{
		Vote: e.State.Vote.Value, Result: AppendSuccess, LastLogID: e.Leader.LastLogID(),
	})
	assert.Empty(t, e.TakeCommands(), "stale response is silently dropped")
	assert.Nil(t, pe.Matching)
}

func TestHandleAppendEntriesResponse_HigherVoteStepsDown(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	e.HandleAppendEntriesResponse(2, pe.CurrInflightID, AppendEntriesResponse{
		Vote: NewVote(1, 1), Result: AppendHigherVote, HigherVote: NewVote(9, 2),
	})

	assert.Equal(t, ServerStateFollower, e.State.ServerState)
	assert.Equal(t, Term(9), e.State.Vote.Value.Term)
	assert.Nil(t, e.Leader)
}

func TestHandleAppendEntriesRequest_HigherVoteRejected(t *testing.T) {
	e := engineFor(t, 2, NewNodeIDSet(1, 2), NewCommittedVote(5, 1), LogIdList{})

	req := AppendEntriesRequest{Vote: NewVote(3, 3)}
	resp := e.HandleAppendEntriesRequest(req, at(0))

	assert.Equal(t, AppendHigherVote, resp.Result)
	assert.Equal(t, Term(5), resp.Vote.Term, "our higher vote is reported back untouched")
}

func TestHandleLogPersisted_FollowerAppliesPendingFloor(t *testing.T) {
	e := engineFor(t, 2, NewNodeIDSet(1, 2), Vote{}, LogIdList{})

	req := AppendEntriesRequest{
		Vote:         NewCommittedVote(1, 1),
		Entries:      []Entry{NewNormalEntry(NewLeaderLogID(1, 0, 1), []byte("a"))},
		LeaderCommit: 0,
	}
	e.HandleAppendEntriesRequest(req, at(0))
	e.TakeCommands()
	require.NotNil(t, e.pendingCommitFloor)

	e.HandleLogPersisted(e.State.LastLogID())
	cmds := e.TakeCommands()

	require.Len(t, cmds, 1)
	assert.Equal(t, CommandCommit, cmds[0].Kind)
	assert.Equal(t, LogIndex(0), cmds[0].NewCommitIndex)
	require.NotNil(t, e.State.Committed)
	assert.Equal(t, LogIndex(0), e.State.Committed.Index)
}

func TestHandleReplicationFailed_ClearsInflightAndRetries(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	id := pe.CurrInflightID
	require.True(t, pe.IsPaused())

	e.HandleReplicationFailed(2, id)
	cmds := e.TakeCommands()

	assert.True(t, pe.IsPaused(), "a fresh request was immediately reissued, not left idle")
	assert.NotEqual(t, id, pe.CurrInflightID, "the reissued request carries a new inflight id")
	require.Len(t, cmds, 1)
	assert.Equal(t, CommandReplicate, cmds[0].Kind)
}

func TestHandleReplicationFailed_IgnoresStaleID(t *testing.T) {
	e := engineFor(t, 1, NewNodeIDSet(1, 2), NewCommittedVote(1, 1), LogIdList{})
	e.Startup()
	e.TakeCommands()

	pe := e.Leader.Progress[2]
	id := pe.CurrInflightID

	e.HandleReplicationFailed(2, id+100)
	assert.Empty(t, e.TakeCommands())
	assert.True(t, pe.IsPaused(), "the real inflight is left alone")
}
