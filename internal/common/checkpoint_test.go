package common

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckpointApplyAccumulatesTotals(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cp := &Checkpoint{}
	cp.Apply(CheckpointAdvance{Network: "ethereum", ChainID: "1", Height: 10, Status: SyncStatusSyncing, BlocksProcessed: 10, TransactionsProcessed: 30}, now)
	cp.Apply(CheckpointAdvance{Network: "ethereum", Height: 15, Status: SyncStatusError, ErrorMessage: StringPtr("boom"), BlocksProcessed: 5}, now)

	assert.Equal(t, "1", cp.ChainID)
	assert.Equal(t, uint64(15), cp.LastProcessedHeight)
	assert.Equal(t, uint64(15), cp.TotalBlocksProcessed)
	assert.Equal(t, uint64(30), cp.TotalTransactionsProcessed)
	assert.Equal(t, SyncStatusError, cp.SyncStatus)

	snap := cp.Snapshot()
	*cp.ErrorMessage = "changed"
	assert.Equal(t, "boom", *snap.ErrorMessage)

	cp.Apply(CheckpointAdvance{Network: "ethereum", Height: 15, Status: SyncStatusIdle}, now)
	assert.Nil(t, cp.ErrorMessage)
}

func TestSyncStatusValid(t *testing.T) {
	assert.True(t, SyncStatusIdle.Valid())
	assert.False(t, SyncStatus("paused").Valid())
}

func TestErrorKinds(t *testing.T) {
	transient := fmt.Errorf("wrapped: %w", &TransientSourceError{Op: "eth_blockNumber", Err: errors.New("timeout")})
	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))

	assert.True(t, IsTransient(&HeightNotFoundError{Height: 5}))
	assert.True(t, IsPermanent(&PermanentSourceError{Op: "dial", Err: errors.New("bad url")}))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestExtentFor(t *testing.T) {
	ext := ExtentFor("ethereum", 123456, 10000)
	assert.Equal(t, uint64(120000), ext.From)
	assert.Equal(t, uint64(129999), ext.To)
	assert.Equal(t, "network=ethereum/extent_000000120000_000000129999.parquet", ext.Key())
	assert.Equal(t, ExtentFor("ethereum", 120000, 10000), ext)
}

func TestGranularityTruncate(t *testing.T) {
	ts := time.Date(2024, 3, 5, 17, 42, 9, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC), GranularityHour.Truncate(ts))
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), GranularityDay.Truncate(ts))

	g, err := ParseGranularity("day")
	assert.NoError(t, err)
	assert.Equal(t, GranularityDay, g)
	_, err = ParseGranularity("week")
	assert.Error(t, err)
}
