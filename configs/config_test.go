package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	viper.Reset()
	Cfg = Config{}
	t.Cleanup(func() {
		viper.Reset()
		Cfg = Config{}
	})
	require.NoError(t, LoadConfig(path))
}

func TestLoadConfigRetentionDays(t *testing.T) {
	loadTestConfig(t, `
networks:
  - name: cosmoshub
    family: cosmos
    rpcUrl: http://localhost:26657
    retentionDays: 0
  - name: osmosis
    family: cosmos
    rpcUrl: http://localhost:26658
  - name: ethereum
    family: ethereum
    rpcUrl: http://localhost:8545
    retentionDays: 30
`)

	disabled, ok := Cfg.Network("cosmoshub")
	require.True(t, ok)
	require.NotNil(t, disabled.RetentionDays)
	assert.Equal(t, 0, *disabled.RetentionDays)
	_, enabled := disabled.Retention()
	assert.False(t, enabled)

	defaulted, ok := Cfg.Network("osmosis")
	require.True(t, ok)
	period, enabled := defaulted.Retention()
	assert.True(t, enabled)
	assert.Equal(t, 90*24*time.Hour, period)

	explicit, ok := Cfg.Network("ethereum")
	require.True(t, ok)
	period, enabled = explicit.Retention()
	assert.True(t, enabled)
	assert.Equal(t, 30*24*time.Hour, period)
}

func TestApplyFamilyDefaultsKeepsExplicitValues(t *testing.T) {
	zero := 0
	n := NetworkConfig{Name: "cosmoshub", Family: FamilyCosmos, RetentionDays: &zero, BatchSize: MAX_BATCH_SIZE + 1}
	n.ApplyFamilyDefaults()

	assert.Equal(t, 0, *n.RetentionDays)
	assert.Equal(t, MAX_BATCH_SIZE, n.BatchSize)
	assert.Equal(t, 1, n.ReorgDepth)
}

func TestLoadConfigRejectsUnknownFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("networks:\n  - name: x\n    family: nope\n"), 0o600))
	viper.Reset()
	Cfg = Config{}
	t.Cleanup(func() {
		viper.Reset()
		Cfg = Config{}
	})
	assert.Error(t, LoadConfig(path))
}
