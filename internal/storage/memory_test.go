package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

const testNetworkName = "testnet"

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testBlock(h uint64, fork string, txs int) common.BlockData {
	hash := fmt.Sprintf("0x%s%06d", fork, h)
	bd := common.BlockData{
		Block: common.Block{Height: h, Hash: hash, Timestamp: genesisTime.Add(time.Duration(h) * time.Minute)},
	}
	for i := 0; i < txs; i++ {
		txHash := fmt.Sprintf("%s-%d", hash, i)
		bd.Transactions = append(bd.Transactions, common.Transaction{Hash: txHash, Index: uint64(i)})
		bd.Events = append(bd.Events, common.Event{TxHash: txHash, Index: uint64(i)})
	}
	bd.Normalize(testNetworkName)
	return bd
}

// testCheckpointStore runs the checkpoint contract against any implementation
func testCheckpointStore(t *testing.T, store ICheckpointStore) {
	ctx := context.Background()

	_, err := store.GetCheckpoint(ctx, testNetworkName)
	assert.ErrorIs(t, err, common.ErrCheckpointNotFound)

	cp, err := store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: testNetworkName, ChainID: "1", Height: 100, Status: common.SyncStatusSyncing, BlocksProcessed: 100, TransactionsProcessed: 250})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cp.LastProcessedHeight)

	// same height is a status-only update
	cp, err = store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: testNetworkName, Height: 100, Status: common.SyncStatusError, ErrorMessage: common.StringPtr("rpc down")})
	require.NoError(t, err)
	assert.Equal(t, common.SyncStatusError, cp.SyncStatus)
	require.NotNil(t, cp.ErrorMessage)

	_, err = store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: testNetworkName, Height: 99, Status: common.SyncStatusIdle})
	var stale *common.StaleAdvanceError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, uint64(100), stale.Current)

	_, err = store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: testNetworkName, Height: 101, Status: common.SyncStatus("paused")})
	assert.Error(t, err)

	got, err := store.GetCheckpoint(ctx, testNetworkName)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got.LastProcessedHeight)
	assert.Equal(t, "1", got.ChainID)
	assert.Equal(t, uint64(100), got.TotalBlocksProcessed)
	assert.Equal(t, uint64(250), got.TotalTransactionsProcessed)
	assert.Equal(t, common.SyncStatusError, got.SyncStatus)

	_, err = store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: "other", Height: 5, Status: common.SyncStatusIdle})
	require.NoError(t, err)
	snaps, err := store.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "other", snaps[0].Network)
	assert.Equal(t, testNetworkName, snaps[1].Network)
}

// testColdStore runs the cold object contract against any implementation
func testColdStore(t *testing.T, store IColdStore) {
	ctx := context.Background()
	key := common.Extent{Network: testNetworkName, From: 0, To: 9}.Key()

	_, err := store.Get(ctx, key)
	assert.ErrorIs(t, err, common.ErrObjectNotFound)

	require.NoError(t, store.Put(ctx, key, []byte("first"), "c1"))
	require.NoError(t, store.Put(ctx, key, []byte("second"), "c2"))
	data, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	require.NoError(t, store.Delete(ctx, key))
	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, common.ErrObjectNotFound)
}

func TestMemoryCheckpointStore(t *testing.T) {
	testCheckpointStore(t, NewMemoryConnector())
}

func TestMemoryColdStore(t *testing.T) {
	testColdStore(t, NewMemoryConnector())
}

func TestMemoryWriteBatchIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryConnector()
	batch := []common.BlockData{testBlock(1, "a", 2), testBlock(2, "a", 3)}

	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, batch))
	first, err := mem.GetBlockRange(ctx, testNetworkName, 1, 2)
	require.NoError(t, err)
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, batch))
	second, err := mem.GetBlockRange(ctx, testNetworkName, 1, 2)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, second, 2)
	assert.Len(t, second[1].Transactions, 3)
	assert.Len(t, second[1].Events, 3)
}

func TestMemoryOverwriteCascadesToOwnedRows(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryConnector()
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, []common.BlockData{testBlock(1, "a", 1), testBlock(2, "a", 4)}))

	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, []common.BlockData{testBlock(2, "b", 1)}))

	blocks, err := mem.GetBlockRange(ctx, testNetworkName, 2, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "0xb000002", blocks[0].Block.Hash)
	require.Len(t, blocks[0].Transactions, 1)
	assert.Equal(t, "0xb000002-0", blocks[0].Transactions[0].Hash)
	assert.Len(t, blocks[0].Events, 1)

	hashes, err := mem.GetBlockHashes(ctx, testNetworkName, 1, 5)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]string{1: "0xa000001", 2: "0xb000002"}, hashes)
}

func TestMemoryRejectsInconsistentBatch(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryConnector()
	good := testBlock(1, "a", 1)
	bad := testBlock(2, "a", 1)
	bad.Transactions[0].BlockHeight = 7

	err := mem.WriteBatch(ctx, testNetworkName, []common.BlockData{good, bad})
	var wf *common.WriteFailureError
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, uint64(1), wf.From)
	assert.Equal(t, uint64(2), wf.To)

	count, err := mem.CountBlocks(ctx, testNetworkName, 1, 2)
	require.NoError(t, err)
	assert.Zero(t, count, "a rejected batch leaves nothing behind")
}

func TestMemoryDeleteBeforeAndRange(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryConnector()
	for h := uint64(1); h <= 10; h++ {
		require.NoError(t, mem.WriteBatch(ctx, testNetworkName, []common.BlockData{testBlock(h, "a", 2)}))
	}

	height, ok, err := mem.MaxHeightBefore(ctx, testNetworkName, genesisTime.Add(4*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), height)

	stats, err := mem.DeleteBefore(ctx, testNetworkName, genesisTime.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, common.DeleteStats{Events: 6, Transactions: 6, Blocks: 3}, stats)

	stats, err = mem.DeleteRange(ctx, testNetworkName, 8, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Blocks)

	byTime, err := mem.GetBlocksByTime(ctx, testNetworkName, genesisTime, genesisTime.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, byTime, 4)
	assert.Equal(t, uint64(4), byTime[0].Block.Height)
	assert.Equal(t, uint64(7), byTime[3].Block.Height)

	lowest, ok, err := mem.MinHeight(ctx, testNetworkName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), lowest)

	_, ok, err = mem.MinHeight(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStorageConnectorSharesMemory(t *testing.T) {
	store, err := NewStorageConnector(context.Background(), &config.StorageConfig{})
	require.NoError(t, err)
	mem, ok := store.Ledger.(*MemoryConnector)
	require.True(t, ok)
	assert.Same(t, mem, store.Checkpoints)
	assert.Same(t, mem, store.Cold)

	_, err = NewStorageConnector(context.Background(), &config.StorageConfig{Cold: config.ColdStorageConfig{Driver: "tape"}})
	assert.Error(t, err)
	_, err = NewStorageConnector(context.Background(), &config.StorageConfig{Ledger: config.LedgerStorageConfig{Driver: "postgres"}})
	assert.Error(t, err)
}
