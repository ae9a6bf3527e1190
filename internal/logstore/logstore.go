// Package logstore implements internal/raft.LogStore as a single
// fsynced file holding the whole log, rewritten on every append —
// the same whole-file-rewrite strategy as the teacher's
// node.WriteLogs/ReadLogs, adapted to the new entry shape and encoded
// with google.golang.org/protobuf's low-level wire helpers rather than
// a generated message type (see DESIGN.md "Hand-authored protobuf").
package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leifraft/raft/internal/raft"
)

// FileLogStore is a raft.LogStore backed by one file on disk, with an
// in-memory mirror for fast reads.
type FileLogStore struct {
	mu      sync.Mutex
	path    string
	entries []raft.Entry
}

// Open loads an existing log file (if any) and returns a ready store.
func Open(path string) (*FileLogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir: %w", err)
	}
	s := &FileLogStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("logstore: read %s: %w", path, err)
	}
	entries, err := decodeAll(data)
	if err != nil {
		return nil, fmt.Errorf("logstore: decode %s: %w", path, err)
	}
	s.entries = entries
	return s, nil
}

func (s *FileLogStore) persist() error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(encodeAll(s.entries)); err != nil {
		return fmt.Errorf("logstore: write %s: %w", s.path, err)
	}
	// Durability before completion is reported (raft.LogStore contract).
	return f.Sync()
}

func (s *FileLogStore) Append(_ context.Context, entries []raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return s.persist()
}

func (s *FileLogStore) Read(_ context.Context, lo, hi raft.LogIndex) ([]raft.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]raft.Entry, 0, hi-lo+1)
	for _, e := range s.entries {
		if e.LogID.Index >= lo && e.LogID.Index <= hi {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *FileLogStore) Truncate(_ context.Context, fromIndex raft.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := 0
	for i, e := range s.entries {
		if e.LogID.Index >= fromIndex {
			break
		}
		keep = i + 1
	}
	s.entries = s.entries[:keep]
	return s.persist()
}

func (s *FileLogStore) Purge(_ context.Context, uptoIndex raft.LogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keep := 0
	for i, e := range s.entries {
		if e.LogID.Index > uptoIndex {
			break
		}
		keep = i + 1
	}
	s.entries = s.entries[keep:]
	return s.persist()
}

func (s *FileLogStore) LastLogID(_ context.Context) (*raft.LogID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return nil, nil
	}
	id := s.entries[len(s.entries)-1].LogID
	return &id, nil
}

func (s *FileLogStore) GetLogID(_ context.Context, index raft.LogIndex) (*raft.LogID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.LogID.Index == index {
			id := e.LogID
			return &id, nil
		}
	}
	return nil, nil
}

// --- wire encoding ---
//
// Each entry is framed as a length-prefixed protobuf Bytes field
// (protowire.AppendBytes) holding a flat sequence of Varint/Bytes
// fields for its contents. Membership payloads piggyback on JSON
// within that inner Bytes field rather than a second wire format,
// since Membership's shape (nested voter sets) has no fixed field
// count to assign wire numbers to.

func encodeAll(entries []raft.Entry) []byte {
	var buf []byte
	for _, e := range entries {
		buf = protowire.AppendBytes(buf, encodeEntry(e))
	}
	return buf
}

func decodeAll(data []byte) ([]raft.Entry, error) {
	var out []raft.Entry
	for len(data) > 0 {
		inner, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		entry, err := decodeEntry(inner)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
		data = data[n:]
	}
	return out, nil
}

func encodeEntry(e raft.Entry) []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(e.LogID.Term))
	b = protowire.AppendVarint(b, uint64(e.LogID.Index))
	hasLeader := uint64(0)
	if e.LogID.HasLeader {
		hasLeader = 1
	}
	b = protowire.AppendVarint(b, hasLeader)
	b = protowire.AppendVarint(b, uint64(e.LogID.LeaderID))
	b = protowire.AppendVarint(b, uint64(e.Payload.Kind))
	b = protowire.AppendBytes(b, e.Payload.Data)
	membershipJSON, _ := json.Marshal(e.Payload.Membership)
	b = protowire.AppendBytes(b, membershipJSON)
	return b
}

func decodeEntry(b []byte) (raft.Entry, error) {
	var e raft.Entry

	term, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	index, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	hasLeader, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	leaderID, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	kind, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	data, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}
	b = b[n:]

	membershipJSON, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return e, protowire.ParseError(n)
	}

	var membership raft.Membership
	if len(membershipJSON) > 0 {
		if err := json.Unmarshal(membershipJSON, &membership); err != nil {
			return e, fmt.Errorf("logstore: decode membership: %w", err)
		}
	}

	e.LogID = raft.LogID{
		Term:      raft.Term(term),
		Index:     raft.LogIndex(index),
		LeaderID:  raft.NodeID(leaderID),
		HasLeader: hasLeader == 1,
	}
	e.Payload = raft.Payload{
		Kind:       raft.PayloadKind(kind),
		Data:       append([]byte(nil), data...),
		Membership: membership,
	}
	return e, nil
}
