package driver

import "github.com/leifraft/raft/internal/raft"

// executeAll drains one batch of commands from the engine, implementing
// the durability-batching policy spec.md §9 leaves as an open question
// ("whether the driver is required to fsync between each durable
// command or may batch until the next non-durable command"): it
// accumulates consecutive CommandSaveVote/CommandAppendInputEntries
// commands and flushes them as a single vote write and a single log
// append — one fsync each — instead of one per command, then dispatches
// everything else (including the first non-durable command that ends a
// run, e.g. CommandReplicate/CommandSendVote) in order. This is sound
// only because command order is already the durability-dependency order
// (§4.7): nothing after a flush point can depend on a durable write that
// hasn't happened yet, and nothing before it is reordered past it.
func (d *Driver) executeAll(cmds []raft.Command) {
	var pendingVote *raft.Vote
	var pendingEntries []raft.Entry

	flush := func() {
		if pendingVote != nil {
			d.saveVote(*pendingVote)
			pendingVote = nil
		}
		if len(pendingEntries) > 0 {
			d.appendEntries(pendingEntries)
			pendingEntries = nil
		}
	}

	for _, cmd := range cmds {
		switch cmd.Kind {
		case raft.CommandSaveVote:
			vote := cmd.Vote
			pendingVote = &vote
			continue
		case raft.CommandAppendInputEntries:
			pendingEntries = append(pendingEntries, cmd.Entries...)
			continue
		}
		flush()
		d.executeCommand(cmd)
	}
	flush()
}
