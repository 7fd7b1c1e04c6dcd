package aggregation

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
	"github.com/thirdweb-dev/ledgersync/internal/tiering"
)

const testNetworkName = "testnet"

// one block every ten minutes: six per hourly bucket
var genesisTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func blockAt(h uint64, fork string, value uint64) common.BlockData {
	hash := fmt.Sprintf("0x%s%06d", fork, h)
	bd := common.BlockData{
		Block: common.Block{
			Height:    h,
			Hash:      hash,
			Timestamp: genesisTime.Add(time.Duration(h) * 10 * time.Minute),
		},
		Transactions: []common.Transaction{
			{Hash: hash + "-1", From: fmt.Sprintf("0xuser%d", h%3), To: "0xpool", Value: uint256.NewInt(value), Fee: uint256.NewInt(10), GasUsed: 21000, Success: true},
			{Hash: hash + "-2", From: "0xpool", To: "0xpool", Value: uint256.NewInt(0), Fee: uint256.NewInt(5), GasUsed: 50000, Success: false},
		},
		Events: []common.Event{{TxHash: hash + "-1", Source: "0xpool", Name: "Swap"}},
	}
	bd.Normalize(testNetworkName)
	return bd
}

func blocks(from, to uint64, fork string, value uint64) []common.BlockData {
	out := make([]common.BlockData, 0, to-from+1)
	for h := from; h <= to; h++ {
		out = append(out, blockAt(h, fork, value))
	}
	return out
}

func testNetwork() config.NetworkConfig {
	return config.NetworkConfig{Name: testNetworkName, Family: "ethereum", StartHeight: 1, ReorgDepth: 4}
}

func newEngine(mem *storage.MemoryConnector) *Engine {
	e := NewEngine(storage.IStorage{Checkpoints: mem, Ledger: mem, Extents: mem, Aggregates: mem, Cold: mem})
	e.now = func() time.Time { return genesisTime.Add(48 * time.Hour) }
	return e
}

func ingest(t *testing.T, mem *storage.MemoryConnector, batch []common.BlockData, height uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, batch))
	_, err := mem.AdvanceCheckpoint(ctx, common.CheckpointAdvance{
		Network:         testNetworkName,
		Height:          height,
		Status:          common.SyncStatusIdle,
		BlocksProcessed: uint64(len(batch)),
	})
	require.NoError(t, err)
}

func refreshAll(t *testing.T, e *Engine) {
	t.Helper()
	for i := 0; i < 100; i++ {
		res, err := e.Refresh(context.Background(), testNetwork())
		require.NoError(t, err)
		if res.UpToDate {
			return
		}
	}
	t.Fatal("aggregation never caught up")
}

func listBuckets(t *testing.T, mem *storage.MemoryConnector, g common.Granularity) []common.Aggregate {
	t.Helper()
	out, err := mem.ListBuckets(context.Background(), common.AggregateQuery{Network: testNetworkName, Granularity: g})
	require.NoError(t, err)
	return out
}

func TestComputeIgnoresBlocksOutsideBucket(t *testing.T) {
	start := genesisTime.Add(time.Hour)
	batch := blocks(1, 20, "a", 100)

	agg := Compute(testNetworkName, common.GranularityHour, start, batch)
	again := Compute(testNetworkName, common.GranularityHour, start, batch)
	assert.True(t, agg.SameMetrics(&again))

	// heights 6..11 fall in [01:00, 02:00)
	assert.Equal(t, uint64(6), agg.BlockCount)
	assert.Equal(t, uint64(6), agg.FirstHeight)
	assert.Equal(t, uint64(11), agg.LastHeight)
	assert.Equal(t, uint64(12), agg.TransactionCount)
	assert.Equal(t, uint64(6), agg.FailedTransactionCount)
	assert.Equal(t, uint64(6), agg.EventCount)
	assert.Equal(t, uint64(600), agg.Volume.Uint64())
	assert.Equal(t, uint64(90), agg.TotalFees.Uint64())
	assert.Equal(t, uint64(4), agg.ActiveAddresses)
	assert.InDelta(t, 35500.0, agg.AvgGasUsed, 1e-9)

	empty := Compute(testNetworkName, common.GranularityHour, genesisTime.Add(10*time.Hour), batch)
	assert.Zero(t, empty.BlockCount)
	assert.True(t, empty.Volume.IsZero())
}

func TestBucketStartsAreDistinctAndOrdered(t *testing.T) {
	batch := blocks(1, 20, "a", 1)
	starts := BucketStarts(common.GranularityHour, batch)
	require.Len(t, starts, 4)
	for i, s := range starts {
		assert.Equal(t, genesisTime.Add(time.Duration(i)*time.Hour), s)
	}
	assert.Len(t, BucketStarts(common.GranularityDay, batch), 1)
}

func TestRefreshClosesBucketsBelowReorgDepth(t *testing.T) {
	mem := storage.NewMemoryConnector()
	ingest(t, mem, blocks(1, 30, "a", 100), 30)
	refreshAll(t, newEngine(mem))

	watermark, ok, err := mem.GetWatermark(context.Background(), testNetworkName)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(30), watermark)

	// block 26 is at 04:20, so buckets ending at or before it are closed
	hours := listBuckets(t, mem, common.GranularityHour)
	require.Len(t, hours, 6)
	for _, agg := range hours {
		assert.Equal(t, !agg.BucketEnd().After(genesisTime.Add(260*time.Minute)), agg.Closed, agg.BucketStart.String())
	}
	days := listBuckets(t, mem, common.GranularityDay)
	require.Len(t, days, 1)
	assert.False(t, days[0].Closed)
	assert.Equal(t, uint64(30), days[0].BlockCount)
}

func TestRefreshConvergesAfterReorg(t *testing.T) {
	mem := storage.NewMemoryConnector()
	ingest(t, mem, blocks(1, 30, "a", 100), 30)
	refreshAll(t, newEngine(mem))

	// heights 28-30 are replaced by a fork and the chain grows to 32
	fork := blocks(28, 32, "b", 7)
	ingest(t, mem, fork, 32)
	refreshAll(t, newEngine(mem))

	fresh := storage.NewMemoryConnector()
	ingest(t, fresh, append(blocks(1, 27, "a", 100), fork...), 32)
	refreshAll(t, newEngine(fresh))

	for _, g := range common.Granularities {
		got := listBuckets(t, mem, g)
		want := listBuckets(t, fresh, g)
		require.Len(t, got, len(want))
		for i := range want {
			assert.True(t, want[i].SameMetrics(&got[i]), "%s bucket %s", g, want[i].BucketStart)
			assert.Equal(t, want[i].Closed, got[i].Closed)
		}
	}
}

func TestClosedBucketsAreNotRecomputed(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryConnector()
	ingest(t, mem, blocks(1, 30, "a", 100), 30)
	e := newEngine(mem)
	refreshAll(t, e)

	before := listBuckets(t, mem, common.GranularityHour)
	require.True(t, before[0].Closed)

	// rewrite a height of the first bucket and force a full rescan
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, []common.BlockData{blockAt(2, "a", 999)}))
	_, err := mem.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: testNetworkName, Height: 31, Status: common.SyncStatusIdle, BlocksProcessed: 1})
	require.NoError(t, err)
	require.NoError(t, mem.WriteBatch(ctx, testNetworkName, []common.BlockData{blockAt(31, "a", 100)}))
	require.NoError(t, mem.SetWatermark(ctx, testNetworkName, 0))
	refreshAll(t, e)

	after := listBuckets(t, mem, common.GranularityHour)
	assert.True(t, before[0].SameMetrics(&after[0]))
	assert.Equal(t, uint64(500), after[0].Volume.Uint64())
}

func TestRefreshWithoutCheckpointIsUpToDate(t *testing.T) {
	res, err := newEngine(storage.NewMemoryConnector()).Refresh(context.Background(), testNetwork())
	require.NoError(t, err)
	assert.True(t, res.UpToDate)
}

func TestRefreshChunksLargeRanges(t *testing.T) {
	mem := storage.NewMemoryConnector()
	ingest(t, mem, blocks(1, 30, "a", 1), 30)
	e := newEngine(mem)
	e.heightsPerRefresh = 10

	res, err := e.Refresh(context.Background(), testNetwork())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), res.From)
	assert.Equal(t, uint64(10), res.To)
	assert.False(t, res.UpToDate)

	res, err = e.Refresh(context.Background(), testNetwork())
	require.NoError(t, err)
	// rescans the last reorg depth heights below the watermark
	assert.Equal(t, uint64(7), res.From)
	assert.Equal(t, uint64(16), res.To)
}

func tieredStore(mem *storage.MemoryConnector) storage.IStorage {
	return storage.IStorage{Checkpoints: mem, Ledger: mem, Extents: mem, Aggregates: mem, Cold: mem}
}

func sweep(t *testing.T, mem *storage.MemoryConnector) int {
	t.Helper()
	m := tiering.NewManager(tieredStore(mem), config.TieringConfig{ExtentSize: 10, HotWindow: 20})
	res, err := m.Sweep(context.Background(), testNetwork())
	require.NoError(t, err)
	require.Zero(t, res.Failed)
	return res.Migrated
}

func TestRefreshCountsReclaimedRowsOfOpenBuckets(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryConnector()
	e := newEngine(mem)

	// 144 blocks per day: heights 1..110 share the first daily bucket
	ingest(t, mem, blocks(1, 100, "a", 100), 100)
	refreshAll(t, e)
	days := listBuckets(t, mem, common.GranularityDay)
	require.Len(t, days, 1)
	require.Equal(t, uint64(100), days[0].BlockCount)

	// boundary 80: [0-9] .. [70-79] leave the hot tier
	require.Equal(t, 8, sweep(t, mem))
	hot, err := mem.CountBlocks(ctx, testNetworkName, 1, 100)
	require.NoError(t, err)
	require.Equal(t, int64(21), hot)

	ingest(t, mem, blocks(101, 110, "a", 100), 110)
	refreshAll(t, e)

	days = listBuckets(t, mem, common.GranularityDay)
	require.Len(t, days, 1)
	day := days[0]
	assert.False(t, day.Closed)
	assert.Equal(t, uint64(110), day.BlockCount)
	assert.Equal(t, uint64(220), day.TransactionCount)
	assert.Equal(t, uint64(110), day.EventCount)
	assert.Equal(t, uint64(11000), day.Volume.Uint64())
	assert.Equal(t, uint64(1), day.FirstHeight)
	assert.Equal(t, uint64(110), day.LastHeight)
}

func TestRefreshAfterTieringCoversColdHeights(t *testing.T) {
	mem := storage.NewMemoryConnector()
	ingest(t, mem, blocks(1, 100, "a", 100), 100)
	require.Equal(t, 8, sweep(t, mem))

	// aggregation enabled on a network that was already tiered
	e := newEngine(mem)
	refreshAll(t, e)

	days := listBuckets(t, mem, common.GranularityDay)
	require.Len(t, days, 1)
	assert.Equal(t, uint64(100), days[0].BlockCount)

	var first *common.Aggregate
	for _, h := range listBuckets(t, mem, common.GranularityHour) {
		if h.BucketStart.Equal(genesisTime) {
			h := h
			first = &h
		}
	}
	require.NotNil(t, first)
	assert.Equal(t, uint64(5), first.BlockCount)
	assert.True(t, first.Closed)
}
