package raft

// CommandKind discriminates the closed set of side effects the engine
// can request of the driver (spec.md §4.7). Commands are a tagged
// variant rather than an interface hierarchy so a switch over Kind is
// exhaustively checkable (spec.md §9 "polymorphism over message kinds").
type CommandKind int

const (
	CommandSaveVote CommandKind = iota
	CommandAppendInputEntries
	CommandBecomeLeader
	CommandQuitLeader
	CommandRebuildReplicationStreams
	CommandReplicate
	CommandCommit
	CommandBuildSnapshot
	CommandInstallFullSnapshot
	CommandPurgeLog
	CommandSendVote
	CommandRespond
)

// ReplicationTarget pairs a follower with the ProgressEntry the leader
// is tracking for it, used by RebuildReplicationStreams.
type ReplicationTarget struct {
	NodeID   NodeID
	Progress ProgressEntry
}

// RespondResult is the closed set of outcomes a Respond command can
// carry back to a pending caller (spec.md §7).
type RespondResult struct {
	OK    bool
	Err   error // a *LeaderHintError here carries the redirect target
	LogID *LogID // position the proposal landed at, on success
}

// Command is a single instruction for the driver to execute. Only the
// fields relevant to Kind are populated; see the constructors below,
// which are the only supported way to build one.
type Command struct {
	Kind CommandKind

	Vote    Vote
	Entries []Entry

	Targets []ReplicationTarget

	Target   NodeID
	Request  Inflight

	NewCommitIndex LogIndex

	SnapshotLogID *LogID
	PurgeUpto     LogIndex

	LastLogID *LogID // SendVote's last_log_id

	RespondTo     uint64
	RespondResult RespondResult
}

func SaveVote(vote Vote) Command {
	return Command{Kind: CommandSaveVote, Vote: vote}
}

func AppendInputEntries(vote Vote, entries []Entry) Command {
	return Command{Kind: CommandAppendInputEntries, Vote: vote, Entries: entries}
}

func BecomeLeader() Command { return Command{Kind: CommandBecomeLeader} }

func QuitLeader() Command { return Command{Kind: CommandQuitLeader} }

func RebuildReplicationStreams(targets []ReplicationTarget) Command {
	return Command{Kind: CommandRebuildReplicationStreams, Targets: targets}
}

func Replicate(target NodeID, req Inflight) Command {
	return Command{Kind: CommandReplicate, Target: target, Request: req}
}

func Commit(newIndex LogIndex) Command {
	return Command{Kind: CommandCommit, NewCommitIndex: newIndex}
}

func BuildSnapshot() Command { return Command{Kind: CommandBuildSnapshot} }

func InstallFullSnapshot(meta *LogID) Command {
	return Command{Kind: CommandInstallFullSnapshot, SnapshotLogID: meta}
}

func PurgeLog(upto LogIndex) Command {
	return Command{Kind: CommandPurgeLog, PurgeUpto: upto}
}

func SendVote(target NodeID, vote Vote, lastLogID *LogID) Command {
	return Command{Kind: CommandSendVote, Target: target, Vote: vote, LastLogID: lastLogID}
}

func Respond(to uint64, result RespondResult) Command {
	return Command{Kind: CommandRespond, RespondTo: to, RespondResult: result}
}
