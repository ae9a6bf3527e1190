// SnapshotFile persists the most recent snapshot alongside the log and
// vote files: one file, fully rewritten and fsynced per snapshot, with
// the same protowire framing logstore.go uses for entries. Without it a
// restart after PurgeLog would have neither the purged entries nor the
// state they produced.
package logstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/leifraft/raft/internal/raft"
)

// SnapshotFile stores at most one snapshot, the latest.
type SnapshotFile struct {
	mu   sync.Mutex
	path string
}

// OpenSnapshotFile prepares the snapshot file's directory and returns
// a ready store; it does not read the file (use Load).
func OpenSnapshotFile(path string) (*SnapshotFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logstore: create dir: %w", err)
	}
	return &SnapshotFile{path: path}, nil
}

// Save durably replaces the stored snapshot.
func (s *SnapshotFile) Save(meta raft.SnapshotMeta, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("logstore: marshal snapshot meta: %w", err)
	}
	var buf []byte
	buf = protowire.AppendBytes(buf, metaJSON)
	buf = protowire.AppendBytes(buf, data)

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("logstore: open %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("logstore: write %s: %w", s.path, err)
	}
	return f.Sync()
}

// Load returns the stored snapshot, or nil if none has been saved.
func (s *SnapshotFile) Load() (*raft.SnapshotMetaFull, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("logstore: read %s: %w", s.path, err)
	}

	metaJSON, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	buf = buf[n:]
	data, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}

	var meta raft.SnapshotMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("logstore: decode snapshot meta: %w", err)
	}
	return &raft.SnapshotMetaFull{Meta: meta, Data: append([]byte(nil), data...)}, nil
}
