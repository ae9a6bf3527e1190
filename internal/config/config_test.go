package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.NodeID = 1
	return cfg
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	missingID := Default()
	assert.Error(t, missingID.Validate())

	swapped := validConfig()
	swapped.ElectionTimeoutMinMS = 300
	swapped.ElectionTimeoutMaxMS = 150
	assert.Error(t, swapped.Validate())

	hotHeartbeat := validConfig()
	hotHeartbeat.HeartbeatIntervalMS = hotHeartbeat.ElectionTimeoutMinMS
	assert.Error(t, hotHeartbeat.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RAFTD_NODE_ID", "7")
	t.Setenv("RAFTD_ELECTION_TIMEOUT_MIN_MS", "200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), cfg.NodeID)
	assert.Equal(t, 200, cfg.ElectionTimeoutMinMS)
	assert.Equal(t, Default().HeartbeatIntervalMS, cfg.HeartbeatIntervalMS, "untouched fields keep defaults")
}

func TestEngineConfigProjection(t *testing.T) {
	cfg := validConfig()
	ec := cfg.EngineConfig()
	require.NoError(t, ec.Validate())
	assert.Equal(t, uint64(cfg.NodeID), uint64(ec.ID))
}
