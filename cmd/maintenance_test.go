package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

func TestSelectNetworks(t *testing.T) {
	config.Cfg = config.Config{
		Networks: []config.NetworkConfig{
			{Name: "ethereum", Family: config.FamilyEthereum, Enabled: true},
			{Name: "cosmoshub", Family: config.FamilyCosmos, Enabled: false},
			{Name: "polkadot", Family: config.FamilyPolkadot, Enabled: true},
		},
	}
	defer func() { config.Cfg = config.Config{} }()

	networks, err := selectNetworks("")
	require.NoError(t, err)
	require.Len(t, networks, 2)
	assert.Equal(t, "ethereum", networks[0].Name)
	assert.Equal(t, "polkadot", networks[1].Name)

	// an explicit name also selects disabled networks
	networks, err = selectNetworks("cosmoshub")
	require.NoError(t, err)
	require.Len(t, networks, 1)
	assert.Equal(t, config.FamilyCosmos, networks[0].Family)

	_, err = selectNetworks("solana")
	assert.Error(t, err)
}
