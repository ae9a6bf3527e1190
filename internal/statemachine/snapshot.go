package statemachine

import (
	"encoding/json"
	"fmt"
)

// EncodeSnapshot flattens a key/value listing (see KV.Snapshot) into
// the byte stream InstallSnapshotRequest.Data chunks concatenate to.
func EncodeSnapshot(pairs []KVCommand) ([]byte, error) {
	out, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("statemachine: encode snapshot: %w", err)
	}
	return out, nil
}

func decodeSnapshot(data []byte) ([]KVCommand, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var pairs []KVCommand
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("statemachine: decode snapshot: %w", err)
	}
	return pairs, nil
}
