package source

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethRpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/rpc"
)

// fakeEth serves a tiny chain over the eth namespace
type fakeEth struct {
	head    uint64
	chainID int64
	l1Fee   bool
}

func (f *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(f.chainID))
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(f.head)
}

func blockHash(h uint64) string {
	return fmt.Sprintf("0x%064x", h)
}

func txHash(h uint64) string {
	return fmt.Sprintf("0x%063x1", h)
}

func (f *fakeEth) GetBlockByNumber(number hexutil.Uint64, full bool) (map[string]interface{}, error) {
	h := uint64(number)
	if h > f.head {
		return nil, nil
	}
	return map[string]interface{}{
		"number":        hexutil.Uint64(h),
		"hash":          blockHash(h),
		"parentHash":    blockHash(h - 1),
		"timestamp":     hexutil.Uint64(1700000000 + h*12),
		"miner":         "0xABCDEF0000000000000000000000000000000001",
		"gasUsed":       hexutil.Uint64(21000),
		"gasLimit":      hexutil.Uint64(30000000),
		"baseFeePerGas": (*hexutil.Big)(big.NewInt(10)),
		"transactions": []map[string]interface{}{{
			"hash":             txHash(h),
			"from":             "0xAAAA000000000000000000000000000000000001",
			"to":               "0xBBBB000000000000000000000000000000000002",
			"transactionIndex": hexutil.Uint64(0),
			"value":            (*hexutil.Big)(big.NewInt(1000)),
			"gas":              hexutil.Uint64(50000),
			"gasPrice":         (*hexutil.Big)(big.NewInt(12)),
			"input":            "0xa9059cbb00000000",
		}},
	}, nil
}

func (f *fakeEth) GetBlockReceipts(number hexutil.Uint64) ([]map[string]interface{}, error) {
	h := uint64(number)
	if h > f.head {
		return nil, nil
	}
	receipt := map[string]interface{}{
		"transactionHash":   txHash(h),
		"status":            hexutil.Uint64(1),
		"gasUsed":           hexutil.Uint64(21000),
		"effectiveGasPrice": (*hexutil.Big)(big.NewInt(11)),
		"logs": []map[string]interface{}{{
			"address":         "0xCCCC000000000000000000000000000000000003",
			"topics":          []string{"0xddf252ad"},
			"data":            "0x",
			"logIndex":        hexutil.Uint64(0),
			"transactionHash": txHash(h),
		}},
	}
	if f.l1Fee {
		receipt["l1Fee"] = (*hexutil.Big)(big.NewInt(500))
	}
	return []map[string]interface{}{receipt}, nil
}

func newFakeEVMSource(t *testing.T, fake *fakeEth, cfg config.NetworkConfig) *EVMSource {
	t.Helper()
	server := gethRpc.NewServer()
	require.NoError(t, server.RegisterName("eth", fake))
	client := rpc.NewClient(gethRpc.DialInProc(server), "inproc", 4)
	t.Cleanup(func() {
		client.Close()
		server.Stop()
	})
	return NewEVMSource(client, cfg)
}

func TestEVMSourceGetBlockRange(t *testing.T) {
	ctx := context.Background()
	src := newFakeEVMSource(t, &fakeEth{head: 10, chainID: 1}, config.NetworkConfig{Name: "ethereum", Family: config.FamilyEthereum, ChainID: "1"})

	head, err := src.GetHead(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), head)

	blocks, err := src.GetBlockRange(ctx, 4, 6)
	require.NoError(t, err)
	require.Len(t, blocks, 3)

	bd := blocks[1]
	assert.Equal(t, uint64(5), bd.Block.Height)
	assert.Equal(t, "ethereum", bd.Block.Network)
	assert.Equal(t, blockHash(5), bd.Block.Hash)
	assert.Equal(t, blockHash(4), bd.Block.ParentHash)
	assert.Equal(t, int64(1700000060), bd.Block.Timestamp.Unix())
	assert.Equal(t, uint64(1), bd.Block.TransactionCount)
	assert.Equal(t, uint64(1), bd.Block.EventCount)

	ext, ok := bd.Block.Ext.(*common.EthereumBlockExt)
	require.True(t, ok)
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", ext.Miner)
	assert.Equal(t, uint64(10), ext.BaseFeePerGas.Uint64())
	assert.Nil(t, ext.L2)

	require.Len(t, bd.Transactions, 1)
	tx := bd.Transactions[0]
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", tx.From)
	assert.Equal(t, "0xbbbb000000000000000000000000000000000002", tx.To)
	assert.Equal(t, uint64(1000), tx.Value.Uint64())
	assert.Equal(t, uint64(21000*11), tx.Fee.Uint64())
	assert.True(t, tx.Success)
	assert.Equal(t, "0xa9059cbb", tx.Method)

	require.Len(t, bd.Events, 1)
	assert.Equal(t, "0xddf252ad", bd.Events[0].Name)
	assert.Equal(t, uint64(5), bd.Events[0].BlockHeight)
}

func TestEVMSourceGetBlockHashes(t *testing.T) {
	src := newFakeEVMSource(t, &fakeEth{head: 10, chainID: 1}, config.NetworkConfig{Name: "ethereum", Family: config.FamilyEthereum})

	hashes, err := src.GetBlockHashes(context.Background(), 8, 10)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{8: blockHash(8), 9: blockHash(9), 10: blockHash(10)}, hashes)
}

func TestEVMSourceHeightAboveHead(t *testing.T) {
	src := newFakeEVMSource(t, &fakeEth{head: 10, chainID: 1}, config.NetworkConfig{Name: "ethereum", Family: config.FamilyEthereum})

	_, err := src.GetBlockRange(context.Background(), 9, 11)
	var notFound *common.HeightNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, uint64(11), notFound.Height)
}

func TestEVMSourceRejectsWrongChain(t *testing.T) {
	src := newFakeEVMSource(t, &fakeEth{head: 10, chainID: 137}, config.NetworkConfig{Name: "ethereum", Family: config.FamilyEthereum, ChainID: "1"})

	_, err := src.GetHead(context.Background())
	assert.True(t, common.IsPermanent(err))
}

func TestEVMSourceL2Fees(t *testing.T) {
	src := newFakeEVMSource(t, &fakeEth{head: 3, chainID: 10, l1Fee: true}, config.NetworkConfig{Name: "optimism", Family: config.FamilyL2, ChainID: "10"})

	blocks, err := src.GetBlockRange(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	tx := blocks[0].Transactions[0]
	assert.Equal(t, uint64(21000*11+500), tx.Fee.Uint64())

	ext := blocks[0].Block.Ext.(*common.EthereumBlockExt)
	require.NotNil(t, ext.L2)
	assert.Equal(t, uint64(500), ext.L2.L1GasFees.Uint64())
	assert.Equal(t, uint64(21000*11), ext.L2.L2GasFees.Uint64())
	assert.Equal(t, uint64(21000), ext.L2.SequencerFees.Uint64())
	assert.Equal(t, common.FamilyL2, src.Family())
}

func TestCalldataGas(t *testing.T) {
	assert.Equal(t, uint64(16+4+16), calldataGas("0x010002"))
	assert.Equal(t, uint64(0), calldataGas("not hex"))
}
