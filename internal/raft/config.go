package raft

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// EngineConfig is the single validated configuration record the engine
// is constructed from (spec.md §6, §9 "config fields as structured
// value" — invalid combinations fail construction, not later use).
type EngineConfig struct {
	ID NodeID

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration

	MaxPayloadEntries int
	PurgeBatchSize    int

	SnapshotThreshold      uint64
	MaxInSnapshotLogToKeep uint64

	ReplicationLagThreshold uint64

	Logger zerolog.Logger
}

// DefaultEngineConfig returns reasonable defaults, matching the
// magnitudes commonly used across the retrieved pack's Raft examples
// (sub-second election timeouts, heartbeat well under the minimum
// timeout).
func DefaultEngineConfig(id NodeID) EngineConfig {
	return EngineConfig{
		ID:                      id,
		ElectionTimeoutMin:      150 * time.Millisecond,
		ElectionTimeoutMax:      300 * time.Millisecond,
		HeartbeatInterval:       50 * time.Millisecond,
		MaxPayloadEntries:       64,
		PurgeBatchSize:          256,
		SnapshotThreshold:       1000,
		MaxInSnapshotLogToKeep:  200,
		ReplicationLagThreshold: 1000,
		Logger:                  zerolog.Nop(),
	}
}

// Validate rejects configuration combinations that can never produce
// correct behavior, failing fast at construction rather than at first
// use (§9).
func (c EngineConfig) Validate() error {
	if c.ElectionTimeoutMax < c.ElectionTimeoutMin {
		return fmt.Errorf("raft: election_timeout_max (%s) < election_timeout_min (%s)",
			c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.ElectionTimeoutMin <= 0 {
		return fmt.Errorf("raft: election_timeout_min must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("raft: heartbeat_interval must be positive")
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return fmt.Errorf("raft: heartbeat_interval (%s) must be below election_timeout_min (%s)",
			c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	if c.MaxPayloadEntries <= 0 {
		return fmt.Errorf("raft: max_payload_entries must be positive")
	}
	if c.PurgeBatchSize <= 0 {
		return fmt.Errorf("raft: purge_batch_size must be positive")
	}
	return nil
}
