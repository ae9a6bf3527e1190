// Package config loads the single validated record cmd/raftd builds a
// node from, following the `Load(prefix, target)` viper idiom used by
// the retrieved pack's platform/tenant-auth services: environment
// variables and an optional config file populate one struct, which is
// validated once at construction rather than at first use (spec.md §9
// "config fields as structured value").
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/leifraft/raft/internal/raft"
)

// Config is the full set of recognized options: the engine's own
// tunables (spec.md §6) plus the driver's transport/storage/metrics
// settings.
type Config struct {
	NodeID     uint64            `mapstructure:"node_id"`
	ListenAddr string            `mapstructure:"listen_addr"`
	DataDir    string            `mapstructure:"data_dir"`
	HTTPAddr   string            `mapstructure:"http_addr"`
	Peers      map[uint64]string `mapstructure:"peers"`

	ElectionTimeoutMinMS int `mapstructure:"election_timeout_min_ms"`
	ElectionTimeoutMaxMS int `mapstructure:"election_timeout_max_ms"`
	HeartbeatIntervalMS  int `mapstructure:"heartbeat_interval_ms"`

	MaxPayloadEntries int `mapstructure:"max_payload_entries"`
	PurgeBatchSize    int `mapstructure:"purge_batch_size"`

	SnapshotThreshold       uint64 `mapstructure:"snapshot_threshold"`
	MaxInSnapshotLogToKeep  uint64 `mapstructure:"max_in_snapshot_log_to_keep"`
	ReplicationLagThreshold uint64 `mapstructure:"replication_lag_threshold"`

	TickIntervalMS  int `mapstructure:"tick_interval_ms"`
	MetricsPeriodMS int `mapstructure:"metrics_period_ms"`

	LeaseCacheSize int `mapstructure:"lease_cache_size"`
}

// Default returns the baseline configuration Load starts from before
// file/env overrides are applied.
func Default() Config {
	return Config{
		ListenAddr:              "127.0.0.1:7000",
		DataDir:                 "./data",
		HTTPAddr:                "127.0.0.1:7080",
		ElectionTimeoutMinMS:    150,
		ElectionTimeoutMaxMS:    300,
		HeartbeatIntervalMS:     50,
		MaxPayloadEntries:       64,
		PurgeBatchSize:          256,
		SnapshotThreshold:       1000,
		MaxInSnapshotLogToKeep:  200,
		ReplicationLagThreshold: 1000,
		TickIntervalMS:          10,
		MetricsPeriodMS:         1000,
		LeaseCacheSize:          4096,
	}
}

// Load populates a Config from an optional file at path (if non-empty)
// and environment variables prefixed RAFTD_ (e.g. RAFTD_NODE_ID=2),
// mirroring the retrieved pack's env-over-file precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	const prefix = "RAFTD_"
	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		v.Set(strings.ToLower(strings.TrimPrefix(key, prefix)), value)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// Validate fails fast on combinations the engine would otherwise only
// reject at EngineConfig construction, plus the driver-level settings
// layered on top (spec.md §9).
func (c Config) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("config: node_id must be set")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir must be set")
	}
	if c.ElectionTimeoutMaxMS < c.ElectionTimeoutMinMS {
		return fmt.Errorf("config: election_timeout_max_ms < election_timeout_min_ms")
	}
	if c.HeartbeatIntervalMS <= 0 || c.HeartbeatIntervalMS >= c.ElectionTimeoutMinMS {
		return fmt.Errorf("config: heartbeat_interval_ms must be positive and below election_timeout_min_ms")
	}
	if c.LeaseCacheSize <= 0 {
		return fmt.Errorf("config: lease_cache_size must be positive")
	}
	return nil
}

// EngineConfig projects the engine-relevant fields into a
// raft.EngineConfig, the shape raft.NewEngine requires.
func (c Config) EngineConfig() raft.EngineConfig {
	return raft.EngineConfig{
		ID:                      raft.NodeID(c.NodeID),
		ElectionTimeoutMin:      time.Duration(c.ElectionTimeoutMinMS) * time.Millisecond,
		ElectionTimeoutMax:      time.Duration(c.ElectionTimeoutMaxMS) * time.Millisecond,
		HeartbeatInterval:       time.Duration(c.HeartbeatIntervalMS) * time.Millisecond,
		MaxPayloadEntries:       c.MaxPayloadEntries,
		PurgeBatchSize:          c.PurgeBatchSize,
		SnapshotThreshold:       c.SnapshotThreshold,
		MaxInSnapshotLogToKeep:  c.MaxInSnapshotLogToKeep,
		ReplicationLagThreshold: c.ReplicationLagThreshold,
		Logger:                  zerolog.Nop(),
	}
}
