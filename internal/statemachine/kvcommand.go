package statemachine

import (
	"encoding/json"
	"fmt"
)

// KVOp discriminates the two mutations a client can propose, mirroring
// the teacher's LogRecord_SET/LogRecord_DEL action tag.
type KVOp int

const (
	OpSet KVOp = iota
	OpDelete
)

// KVCommand is the application payload carried in a PayloadNormal
// entry's Data field (raft.Payload.Data), encoded the same way the
// engine's own wire messages are: a plain struct through the grpc
// codec's JSON marshaling rather than a generated protobuf type.
type KVCommand struct {
	Op    KVOp
	Key   string
	Value []byte
}

// EncodeSet builds the Data bytes for a set command.
func EncodeSet(key string, value []byte) ([]byte, error) {
	return json.Marshal(KVCommand{Op: OpSet, Key: key, Value: value})
}

// EncodeDelete builds the Data bytes for a delete command.
func EncodeDelete(key string) ([]byte, error) {
	return json.Marshal(KVCommand{Op: OpDelete, Key: key})
}

func decodeCommand(data []byte) (KVCommand, error) {
	var cmd KVCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("statemachine: decode command: %w", err)
	}
	return cmd, nil
}
