package common

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockExtRoundTrip(t *testing.T) {
	exts := []BlockExt{
		&EthereumBlockExt{Miner: "0xminer", GasUsed: 10, GasLimit: 20, BaseFeePerGas: uint256.NewInt(7)},
		&EthereumBlockExt{GasUsed: 1, L2: &L2BlockExt{L1BlockNumber: 99, L1GasFees: uint256.NewInt(5), CompressionRatio: 0.25}},
		&CosmosBlockExt{Proposer: "cosmosvaloper1xyz"},
		&PolkadotBlockExt{},
	}
	for _, ext := range exts {
		t.Run(string(ext.Family()), func(t *testing.T) {
			raw, err := MarshalBlockExt(ext)
			require.NoError(t, err)
			decoded, err := UnmarshalBlockExt(raw)
			require.NoError(t, err)
			assert.Equal(t, ext, decoded)
		})
	}
}

func TestBlockExtEmpty(t *testing.T) {
	raw, err := MarshalBlockExt(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	ext, err := UnmarshalBlockExt(nil)
	require.NoError(t, err)
	assert.Nil(t, ext)

	_, err = UnmarshalBlockExt([]byte(`{"family":"solana","data":{}}`))
	assert.Error(t, err)
}

func TestUint256MarshalsAsDecimal(t *testing.T) {
	raw, err := MarshalBlockExt(&EthereumBlockExt{BaseFeePerGas: uint256.MustFromDecimal("1000000000000000000000")})
	require.NoError(t, err)
	assert.Contains(t, string(raw), "1000000000000000000000")
}
