package tiering

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

const testNetworkName = "testnet"

var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func testChain(from, to uint64) []common.BlockData {
	out := make([]common.BlockData, 0, to-from+1)
	for h := from; h <= to; h++ {
		hash := fmt.Sprintf("0x%06d", h)
		bd := common.BlockData{
			Block: common.Block{
				Height:     h,
				Hash:       hash,
				ParentHash: fmt.Sprintf("0x%06d", h-1),
				Timestamp:  genesisTime.Add(time.Duration(h) * 12 * time.Second),
				Ext:        &common.EthereumBlockExt{GasUsed: 21000, GasLimit: 30000000},
			},
			Transactions: []common.Transaction{{
				Hash:    hash + "-tx",
				From:    "0xfrom",
				To:      "0xto",
				Value:   uint256.NewInt(h),
				Fee:     uint256.NewInt(21000),
				GasUsed: 21000,
				Success: true,
			}},
			Events: []common.Event{{TxHash: hash + "-tx", Source: "0xtoken", Name: "Transfer"}},
		}
		bd.Normalize(testNetworkName)
		out = append(out, bd)
	}
	return out
}

func setup(t *testing.T, last uint64) (storage.IStorage, *storage.MemoryConnector) {
	t.Helper()
	ctx := context.Background()
	mem := storage.NewMemoryConnector()
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, testChain(1, last)))
	_, err := mem.AdvanceCheckpoint(ctx, common.CheckpointAdvance{
		Network:         testNetworkName,
		Height:          last,
		Status:          common.SyncStatusIdle,
		BlocksProcessed: last,
	})
	require.NoError(t, err)
	return storage.IStorage{Checkpoints: mem, Ledger: mem, Extents: mem, Aggregates: mem, Cold: mem}, mem
}

func testNetwork(hotWindow uint64) config.NetworkConfig {
	return config.NetworkConfig{Name: testNetworkName, Family: "ethereum", StartHeight: 1, HotWindow: hotWindow}
}

// corruptingStore returns a damaged copy of every object it serves
type corruptingStore struct {
	storage.IColdStore
}

func (c corruptingStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.IColdStore.Get(ctx, key)
	if err != nil || len(data) == 0 {
		return data, err
	}
	data[len(data)/2] ^= 0xff
	return data, nil
}

func TestBoundaryKeepsHotWindow(t *testing.T) {
	m := NewManager(storage.IStorage{}, config.TieringConfig{})

	boundary, ok := m.Boundary(500000, config.DEFAULT_HOT_WINDOW)
	require.True(t, ok)
	assert.Equal(t, uint64(300000), boundary)

	_, ok = m.Boundary(150000, config.DEFAULT_HOT_WINDOW)
	assert.False(t, ok)
}

func TestSweepMigratesOnlyExtentsBelowBoundary(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 100)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	res, err := m.Sweep(ctx, testNetwork(50))
	require.NoError(t, err)
	// boundary 50: extents [0-9] .. [40-49] are fully below it
	assert.Equal(t, 5, res.Migrated)
	assert.Equal(t, 5, res.Reclaimed)
	assert.Equal(t, 0, res.Failed)

	hot, err := mem.CountBlocks(ctx, testNetworkName, 1, 49)
	require.NoError(t, err)
	assert.Equal(t, int64(0), hot)
	hot, err = mem.CountBlocks(ctx, testNetworkName, 50, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(51), hot)

	records, err := mem.ListExtents(ctx, testNetworkName)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for _, rec := range records {
		assert.True(t, rec.Reclaimed)
		assert.LessOrEqual(t, rec.To, uint64(50))
	}
	assert.Len(t, mem.ObjectKeys(), 5)

	// a second sweep has nothing left to do
	res, err = m.Sweep(ctx, testNetwork(50))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, res)
}

func TestReadExtentReturnsMigratedBlocks(t *testing.T) {
	ctx := context.Background()
	store, _ := setup(t, 40)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	want := testChain(10, 19)
	migrated, err := m.Migrate(ctx, common.Extent{Network: testNetworkName, From: 10, To: 19})
	require.NoError(t, err)
	require.True(t, migrated)

	got, err := m.ReadExtent(ctx, testNetworkName, 10)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Block.Hash, got[i].Block.Hash)
		assert.True(t, want[i].Block.Timestamp.Equal(got[i].Block.Timestamp))
		assert.Equal(t, want[i].Block.Ext, got[i].Block.Ext)
		require.Len(t, got[i].Transactions, 1)
		assert.Equal(t, want[i].Transactions[0].Hash, got[i].Transactions[0].Hash)
		assert.Equal(t, want[i].Transactions[0].Value.Uint64(), got[i].Transactions[0].Value.Uint64())
		require.Len(t, got[i].Events, 1)
	}

	_, err = m.ReadExtent(ctx, testNetworkName, 20)
	assert.ErrorIs(t, err, common.ErrObjectNotFound)
}

func TestMigrateKeepsHotCopyWhenVerificationFails(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 40)
	store.Cold = corruptingStore{IColdStore: mem}
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	migrated, err := m.Migrate(ctx, common.Extent{Network: testNetworkName, From: 10, To: 19})
	assert.False(t, migrated)
	var verr *common.MigrationVerificationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, uint64(10), verr.Extent.From)

	hot, err := mem.CountBlocks(ctx, testNetworkName, 10, 19)
	require.NoError(t, err)
	assert.Equal(t, int64(10), hot)
	rec, err := mem.GetExtent(ctx, testNetworkName, 10)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, mem.ObjectKeys())
}

func TestSweepCompletesInterruptedMigration(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 40)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	// copied and marked, but the process stopped before reclaiming
	ext := common.Extent{Network: testNetworkName, From: 0, To: 9}
	hot, err := mem.GetBlockRange(ctx, testNetworkName, 0, 9)
	require.NoError(t, err)
	data, err := Encode(hot)
	require.NoError(t, err)
	require.NoError(t, mem.Put(ctx, ext.Key(), data, Checksum(data)))
	require.NoError(t, mem.MarkCold(ctx, common.ExtentRecord{
		Network:  testNetworkName,
		From:     0,
		To:       9,
		Key:      ext.Key(),
		Checksum: Checksum(data),
		Blocks:   uint64(len(hot)),
	}))

	res, err := m.Sweep(ctx, testNetwork(20))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Failed)
	// [0-9] resumed, [10-19] migrated; [20-29] would end past boundary 20
	assert.Equal(t, 1, res.Migrated)
	assert.Equal(t, 2, res.Reclaimed)

	rec, err := mem.GetExtent(ctx, testNetworkName, 0)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Reclaimed)
	count, err := mem.CountBlocks(ctx, testNetworkName, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestSweepReturnsBadInterruptedExtentToHotTier(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 40)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	ext := common.Extent{Network: testNetworkName, From: 0, To: 9}
	require.NoError(t, mem.Put(ctx, ext.Key(), []byte("truncated"), "bogus"))
	require.NoError(t, mem.MarkCold(ctx, common.ExtentRecord{Network: testNetworkName, From: 0, To: 9, Key: ext.Key(), Checksum: "bogus"}))

	res, err := m.Sweep(ctx, testNetwork(35))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec, err := mem.GetExtent(ctx, testNetworkName, 0)
	require.NoError(t, err)
	assert.Nil(t, rec)
	count, err := mem.CountBlocks(ctx, testNetworkName, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
	assert.Empty(t, mem.ObjectKeys())
}

// stuckDeleteStore cannot remove objects
type stuckDeleteStore struct {
	storage.IColdStore
}

func (s stuckDeleteStore) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("delete %s: access denied", key)
}

func TestSweepReturnsBadExtentWhenCopyCannotBeRemoved(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 40)
	store.Cold = stuckDeleteStore{IColdStore: mem}
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	ext := common.Extent{Network: testNetworkName, From: 0, To: 9}
	require.NoError(t, mem.Put(ctx, ext.Key(), []byte("truncated"), "bogus"))
	require.NoError(t, mem.MarkCold(ctx, common.ExtentRecord{Network: testNetworkName, From: 0, To: 9, Key: ext.Key(), Checksum: "bogus"}))

	res, err := m.Sweep(ctx, testNetwork(35))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	rec, err := mem.GetExtent(ctx, testNetworkName, 0)
	require.NoError(t, err)
	assert.Nil(t, rec)
	count, err := mem.CountBlocks(ctx, testNetworkName, 0, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), count)
}

// countingLedger records the start of every hot range read
type countingLedger struct {
	storage.ILedgerStore
	reads []uint64
}

func (c *countingLedger) GetBlockRange(ctx context.Context, network string, from, to uint64) ([]common.BlockData, error) {
	c.reads = append(c.reads, from)
	return c.ILedgerStore.GetBlockRange(ctx, network, from, to)
}

func TestSweepStartsAtLowestHotHeight(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 100)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	res, err := m.Sweep(ctx, testNetwork(50))
	require.NoError(t, err)
	require.Equal(t, 5, res.Migrated)

	// the oldest extents age out of the cold tier
	for _, from := range []uint64{0, 10, 20} {
		rec, err := mem.GetExtent(ctx, testNetworkName, from)
		require.NoError(t, err)
		require.NotNil(t, rec)
		require.NoError(t, mem.Delete(ctx, rec.Key))
		require.NoError(t, mem.DeleteExtent(ctx, testNetworkName, from))
	}

	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, testChain(101, 130)))
	_, err = mem.AdvanceCheckpoint(ctx, common.CheckpointAdvance{
		Network:         testNetworkName,
		Height:          130,
		Status:          common.SyncStatusIdle,
		BlocksProcessed: 30,
	})
	require.NoError(t, err)

	ledger := &countingLedger{ILedgerStore: mem}
	store.Ledger = ledger
	m = NewManager(store, config.TieringConfig{ExtentSize: 10})

	res, err = m.Sweep(ctx, testNetwork(50))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Migrated)
	assert.Equal(t, []uint64{50, 60, 70}, ledger.reads)
}

func TestReclaimedExtentsSkipsUnreclaimed(t *testing.T) {
	ctx := context.Background()
	store, mem := setup(t, 40)
	m := NewManager(store, config.TieringConfig{ExtentSize: 10})

	migrated, err := m.Migrate(ctx, common.Extent{Network: testNetworkName, From: 10, To: 19})
	require.NoError(t, err)
	require.True(t, migrated)
	require.NoError(t, mem.MarkCold(ctx, common.ExtentRecord{Network: testNetworkName, From: 20, To: 29, Key: "pending"}))

	records, err := NewReader(store).ReclaimedExtents(ctx, testNetworkName)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(10), records[0].From)
}

func TestThrottleWaitsForLargePayloads(t *testing.T) {
	m := NewManager(storage.IStorage{}, config.TieringConfig{BytesPerSecond: 1 << 20})
	require.NoError(t, m.throttle(context.Background(), 1<<19))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, m.throttle(ctx, 4<<20))
}
