// Package statemachine implements internal/raft.StateMachine over an
// immutable radix tree, following the teacher's db.Database Set/Delete
// usage in node.go (applyLogs) but against go-immutable-radix directly
// since the teacher's own database package isn't part of this
// retrieval pack. Structural sharing means BuildSnapshot never copies
// live keys, only walks them.
package statemachine

import (
	"context"
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/leifraft/raft/internal/raft"
)

// KV is a raft.StateMachine holding committed key/value state.
type KV struct {
	mu       sync.RWMutex
	tree     *iradix.Tree
	lastID   *raft.LogID
	members  *raft.EffectiveMembership
	snapshot int
}

// New returns an empty KV state machine.
func New() *KV {
	return &KV{tree: iradix.New()}
}

func (k *KV) Apply(_ context.Context, entry raft.Entry) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	id := entry.LogID
	k.lastID = &id

	if entry.IsMembership() {
		k.members = raft.NewEffectiveMembership(&id, entry.Payload.Membership)
		return nil, nil
	}
	if entry.Payload.Kind != raft.PayloadNormal {
		return nil, nil
	}
	if len(entry.Payload.Data) == 0 {
		// Zero-payload entries are quorum-confirmation rounds (lease
		// fallback reads); they commit but mutate nothing.
		return nil, nil
	}

	cmd, err := decodeCommand(entry.Payload.Data)
	if err != nil {
		return nil, err
	}

	txn := k.tree.Txn()
	switch cmd.Op {
	case OpSet:
		txn.Insert([]byte(cmd.Key), cmd.Value)
	case OpDelete:
		txn.Delete([]byte(cmd.Key))
	default:
		return nil, fmt.Errorf("statemachine: unknown op %d", cmd.Op)
	}
	k.tree = txn.Commit()
	return nil, nil
}

// Get reads committed state directly, bypassing the replicated log —
// callers wanting linearizable reads must first consult Engine.HasLease.
func (k *KV) Get(key string) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.tree.Get([]byte(key))
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

func (k *KV) CurrentSnapshot(_ context.Context) (*raft.SnapshotMetaFull, error) {
	if k.lastKnownID() == nil {
		return nil, nil
	}
	return k.BuildSnapshot(context.Background())
}

// BuildSnapshot walks the current tree into a flat encoding. The radix
// tree itself is never copied: this is the one point where committed
// state briefly exists twice, as a flattened byte stream for transfer.
func (k *KV) BuildSnapshot(_ context.Context) (*raft.SnapshotMetaFull, error) {
	pairs := k.Snapshot()
	data, err := EncodeSnapshot(pairs)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.lastID == nil {
		return nil, fmt.Errorf("statemachine: no entries applied yet")
	}
	k.snapshot++
	id := fmt.Sprintf("snap-%d-%d", k.lastID.Index, k.snapshot)
	return &raft.SnapshotMetaFull{
		Meta: raft.SnapshotMeta{
			LastLogID:  k.lastID,
			Membership: k.members,
			SnapshotID: id,
		},
		Data: data,
	}, nil
}

func (k *KV) lastKnownID() *raft.LogID {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.lastID
}

// Snapshot flattens the tree to a sequence of key/value pairs for
// wire transfer by the driver's snapshot-streaming command handler.
func (k *KV) Snapshot() []KVCommand {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]KVCommand, 0, k.tree.Len())
	iter := k.tree.Root().Iterator()
	for {
		key, value, ok := iter.Next()
		if !ok {
			break
		}
		out = append(out, KVCommand{Op: OpSet, Key: string(key), Value: value.([]byte)})
	}
	return out
}

func (k *KV) InstallSnapshot(_ context.Context, meta raft.SnapshotMeta, data []byte) error {
	pairs, err := decodeSnapshot(data)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	tree := iradix.New()
	txn := tree.Txn()
	for _, p := range pairs {
		txn.Insert([]byte(p.Key), p.Value)
	}
	k.tree = txn.Commit()
	k.lastID = meta.LastLogID
	k.members = meta.Membership
	return nil
}
