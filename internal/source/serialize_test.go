package source

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

func feeEvent(fee string) cosmosEvent {
	return cosmosEvent{Type: "tx", Attributes: []cosmosAttribute{{Key: "fee", Value: fee}, {Key: "fee_payer", Value: "cosmos1payer"}}}
}

func TestSerializeCosmosTx(t *testing.T) {
	tx, err := serializeCosmosTx("AB", 0, cosmosTxResult{GasWanted: "200000", GasUsed: "150000", Events: []cosmosEvent{feeEvent("5000uatom")}})
	require.NoError(t, err)
	assert.Equal(t, uint64(200000), tx.GasLimit)
	assert.Equal(t, uint64(150000), tx.GasUsed)
	require.NotNil(t, tx.Fee)
	assert.Equal(t, uint64(5000), tx.Fee.Uint64())
	assert.Equal(t, "cosmos1payer", tx.From)
}

func TestSerializeCosmosTxRejectsMalformedAmounts(t *testing.T) {
	tests := []struct {
		name string
		res  cosmosTxResult
	}{
		{"gas wanted", cosmosTxResult{GasWanted: "lots", GasUsed: "1"}},
		{"gas used", cosmosTxResult{GasWanted: "1", GasUsed: "-3"}},
		{"fee", cosmosTxResult{GasWanted: "1", GasUsed: "1", Events: []cosmosEvent{feeEvent("uatom")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := serializeCosmosTx("AB", 0, tt.res)
			assert.Error(t, err)
		})
	}
}

func TestCosmosSerializeBlockSurfacesBadTx(t *testing.T) {
	s := &CosmosSource{network: "cosmoshub"}
	raw := &cosmosBlock{}
	raw.Block.Header.Height = "7"
	raw.Block.Data.Txs = []string{"AAEC"}
	results := &cosmosBlockResults{TxsResults: []cosmosTxResult{{GasWanted: "x", GasUsed: "1"}}}

	_, err := s.serializeBlock(7, raw, results)
	var transient *common.TransientSourceError
	require.True(t, errors.As(err, &transient))
	assert.Equal(t, "block_results", transient.Op)
}

func polkadotBlockAt(number string) *polkadotSignedBlock {
	raw := &polkadotSignedBlock{}
	raw.Block.Header.Number = number
	raw.Block.Header.ParentHash = "0x01"
	return raw
}

func TestPolkadotSerializeBlockIssuance(t *testing.T) {
	s := &PolkadotSource{network: "polkadot"}
	issuance := "0x" + "e803" + "0000000000000000000000000000"

	bd, err := s.serializeBlock(5, "0x05", polkadotBlockAt("0x5"), nil, &issuance, polkadotRuntimeVersion{SpecVersion: 9430})
	require.NoError(t, err)
	ext, ok := bd.Block.Ext.(*common.PolkadotBlockExt)
	require.True(t, ok)
	require.NotNil(t, ext.TotalIssuance)
	assert.Equal(t, uint64(1000), ext.TotalIssuance.Uint64())
}

func TestPolkadotSerializeBlockRejectsShortIssuance(t *testing.T) {
	s := &PolkadotSource{network: "polkadot"}
	for _, issuance := range []string{"0xe803", "not-hex"} {
		_, err := s.serializeBlock(5, "0x05", polkadotBlockAt("0x5"), nil, &issuance, polkadotRuntimeVersion{})
		var transient *common.TransientSourceError
		require.True(t, errors.As(err, &transient), issuance)
		assert.Equal(t, "state_getStorage", transient.Op)
	}
}
