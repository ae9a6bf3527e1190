package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// leaderUp elects e as leader of its configured voter set (with a
// single voter, propose commits immediately) without going through the full HandleTick path,
// keeping these tests focused on commit_engine.go behavior.
func leaderUp(e *Engine, term Term) {
	e.State.Vote = NewUTime(NewCommittedVote(term, e.Config.ID), at(0))
	e.State.ServerState = ServerStateLeader
	e.Leader = NewLeaderState(e.effectiveMembers(), IndexOpt(e.State.LastLogID()), e.Config.ID)
	e.TakeCommands()
}

func TestHandleClientPropose_SingleNodeCommitsImmediately(t *testing.T) {
	e := newTestEngine(t, 1, 1)
	leaderUp(e, 1)

	e.HandleClientPropose([]byte("hello"), 42)
	cmds := e.TakeCommands()

	require.NotEmpty(t, cmds)
	assert.Contains(t, commandKinds(cmds), CommandCommit, "self's own match already forms quorum")
	var respond *Command
	for i := range cmds {
		if cmds[i].Kind == CommandRespond {
			respond = &cmds[i]
		}
	}
	require.NotNil(t, respond)
	assert.Equal(t, uint64(42), respond.RespondTo)
	assert.True(t, respond.RespondResult.OK)
	require.NotNil(t, respond.RespondResult.LogID)
	assert.Equal(t, LogIndex(0), respond.RespondResult.LogID.Index)
}

func TestHandleClientPropose_RejectsWhenNotLeader(t *testing.T) {
	e := newTestEngine(t, 1, 1, 2, 3)

	e.HandleClientPropose([]byte("x"), 7)
	cmds := e.TakeCommands()

	require.Len(t, cmds, 1)
	assert.Equal(t, CommandRespond, cmds[0].Kind)
	require.Error(t, cmds[0].RespondResult.Err)
	var hint *LeaderHintError
	assert.ErrorAs(t, cmds[0].RespondResult.Err, &hint)
}

func TestHandleClientPropose_MultiNodeWaitsForQuorum(t *testing.T) {
	e := newTestEngine(t, 1, 1, 2, 3)
	leaderUp(e, 1)

	e.HandleClientPropose([]byte("hello"), 1)
	cmds := e.TakeCommands()

	assert.NotContains(t, commandKinds(cmds), CommandCommit, "two followers unacked: no quorum yet")
	assert.Contains(t, commandKinds(cmds), CommandReplicate)

	pe := e.Leader.Progress[2]
	require.NotNil(t, pe)
	e.HandleAppendEntriesResponse(2, pe.CurrInflightID, AppendEntriesResponse{
		Vote: e.State.Vote.Value, Result: AppendSuccess, LastLogID: e.Leader.LastLogID(),
	})
	cmds = e.TakeCommands()
	assert.Contains(t, commandKinds(cmds), CommandCommit, "leader + one follower forms quorum of 3")
}

func TestHandleChangeMembership_RejectsSecondChangeInProgress(t *testing.T) {
	e := newTestEngine(t, 1, 1, 2, 3)
	leaderUp(e, 1)

	e.HandleChangeMembership(NewUniformMembership(NewNodeIDSet(1, 2, 3, 4), nil), 1)
	e.TakeCommands()

	e.HandleChangeMembership(NewUniformMembership(NewNodeIDSet(1, 2), nil), 2)
	cmds := e.TakeCommands()

	require.Len(t, cmds, 1)
	assert.Equal(t, CommandRespond, cmds[0].Kind)
	assert.ErrorIs(t, cmds[0].RespondResult.Err, ErrConfigChangeInProgress)
}

func TestHandleChangeMembership_RejectsEmptyVoters(t *testing.T) {
	e := newTestEngine(t, 1, 1)
	leaderUp(e, 1)

	e.HandleChangeMembership(Membership{}, 1)
	cmds := e.TakeCommands()

	require.Len(t, cmds, 1)
	assert.ErrorIs(t, cmds[0].RespondResult.Err, ErrEmptyMembership)
}

func TestHandleChangeMembership_JointThenAutoUniform(t *testing.T) {
	e := newTestEngine(t, 1, 1, 2, 3)
	leaderUp(e, 1)

	e.HandleChangeMembership(NewUniformMembership(NewNodeIDSet(1, 2, 3, 4), nil), 9)
	e.TakeCommands()

	assert.True(t, e.State.MembershipState.Effective.Membership.IsJoint())

	jointLogID := e.State.MembershipState.Effective.LogID
	require.NotNil(t, jointLogID)

	// Acking every voter in both the old and new sets commits the joint
	// entry and should auto-propose the uniform successor (§4.4).
	for _, target := range []NodeID{2, 3, 4} {
		pe := e.Leader.Progress[target]
		require.NotNil(t, pe)
		e.HandleAppendEntriesResponse(target, pe.CurrInflightID, AppendEntriesResponse{
			Vote: e.State.Vote.Value, Result: AppendSuccess, LastLogID: e.Leader.LastLogID(),
		})
	}
	assert.False(t, e.State.MembershipState.Effective.Membership.IsJoint(), "uniform successor auto-proposed")
	assert.Equal(t, e.State.MembershipState.Effective, e.State.MembershipState.Committed, "the uniform successor is committed too")
}

func TestCheckSelfDeparture_LeaderStepsDownOnceRepliesClear(t *testing.T) {
	e := newTestEngine(t, 1, 1, 2, 3)
	leaderUp(e, 1)

	e.HandleChangeMembership(NewUniformMembership(NewNodeIDSet(2, 3), nil), 5)
	assert.Equal(t, ServerStateLeader, e.State.ServerState, "still leader until the departure entry commits")

	// Old voter set {1,2,3} has quorum 2: self's own match plus one
	// follower ack is already enough to commit the joint entry, which
	// immediately auto-proposes the successor excluding self and steps
	// this replica down (no reply is left pending on the auto-proposed
	// entry, so checkSelfDeparture fires at once rather than waiting for
	// a second ack).
	pe := e.Leader.Progress[2]
	require.NotNil(t, pe)
	e.HandleAppendEntriesResponse(2, pe.CurrInflightID, AppendEntriesResponse{
		Vote: e.State.Vote.Value, Result: AppendSuccess, LastLogID: e.Leader.LastLogID(),
	})
	assert.Equal(t, ServerStateFollower, e.State.ServerState, "self is no longer a voter once the uniform successor excluding self is proposed")
	assert.Nil(t, e.Leader)
}
