// VoteFile persists the current term/vote the same way the teacher's
// node.WriteTerm/ReadTerm persist its TermRecord: one small file,
// fully rewritten and fsynced on every SaveVote (spec.md §4.7
// "SaveVote always precedes any message sent for that term"), framed
// with the same protowire varint helpers logstore.go uses for entries.
package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leifraft/raft/internal/raft"
)

// VoteFile is a raft.EngineConfig-external collaborator: the driver's
// SaveVote command handler writes through it directly.
type VoteFile struct {
	mu   sync.Mutex
	path string
}

// OpenVoteFile prepares the vote file's directory and returns a ready
// VoteFile; it does not itself read the file (use ReadVote).
func OpenVoteFile(path string) (*VoteFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir: %w", err)
	}
	return &VoteFile{path: path}, nil
}

// ReadVote loads the persisted vote, or the zero vote if no file
// exists yet (a brand-new node).
func (v *VoteFile) ReadVote() (raft.Vote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := os.ReadFile(v.path)
	if err != nil {
		if os.IsNotExist(err) {
			return raft.Vote{}, nil
		}
		return raft.Vote{}, fmt.Errorf("logstore: read %s: %w", v.path, err)
	}
	vote, err := decodeVote(data)
	if err != nil {
		return raft.Vote{}, fmt.Errorf("logstore: decode %s: %w", v.path, err)
	}
	return vote, nil
}

// SaveVote durably persists vote before the caller may act on it
// (spec.md §4.7).
func (v *VoteFile) SaveVote(vote raft.Vote) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	f, err := os.OpenFile(v.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", v.path, err)
	}
	defer f.Close()
	if _, err := f.Write(encodeVote(vote)); err != nil {
		return fmt.Errorf("logstore: write %s: %w", v.path, err)
	}
	return f.Sync()
}

func encodeVote(v raft.Vote) []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(v.Term))
	b = protowire.AppendVarint(b, uint64(v.NodeID))
	committed := uint64(0)
	if v.Committed {
		committed = 1
	}
	b = protowire.AppendVarint(b, committed)
	return b
}

func decodeVote(b []byte) (raft.Vote, error) {
	var v raft.Vote

	term, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return v, protowire.ParseError(n)
	}
	b = b[n:]

	node, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return v, protowire.ParseError(n)
	}
	b = b[n:]

	committed, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return v, protowire.ParseError(n)
	}

	v.Term = raft.Term(term)
	v.NodeID = raft.NodeID(node)
	v.Committed = committed == 1
	return v, nil
}
