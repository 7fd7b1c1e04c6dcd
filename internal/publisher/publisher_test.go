package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

type recordingPublisher struct {
	name   string
	err    error
	events []CheckpointEvent
	blocks int
}

func (r *recordingPublisher) Name() string { return r.name }

func (r *recordingPublisher) PublishCheckpoint(ctx context.Context, event CheckpointEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingPublisher) PublishBlocks(ctx context.Context, network string, batch []common.BlockData) error {
	r.blocks += len(batch)
	return r.err
}

func (r *recordingPublisher) Close() error { return r.err }

func TestPublishingCheckpointStoreEmitsAfterAdvance(t *testing.T) {
	ctx := context.Background()
	failing := &recordingPublisher{name: "failing", err: errors.New("broker down")}
	ok := &recordingPublisher{name: "ok"}
	store := NewPublishingCheckpointStore(storage.NewMemoryConnector(), NewMulti(failing, ok))
	store.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	cp, err := store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{
		Network:         "ethereum",
		Height:          42,
		Status:          common.SyncStatusSyncing,
		BlocksPerSecond: 12.5,
		BlocksProcessed: 42,
	})
	require.NoError(t, err, "a failing sink never fails the advance")
	assert.Equal(t, uint64(42), cp.LastProcessedHeight)

	require.Len(t, ok.events, 1)
	ev := ok.events[0]
	assert.Equal(t, MessageTypeCheckpoint, ev.Type)
	assert.Equal(t, "ethereum", ev.Checkpoint.Network)
	assert.Equal(t, uint64(42), ev.Checkpoint.LastProcessedHeight)
	assert.Equal(t, common.SyncStatusSyncing, ev.Checkpoint.SyncStatus)
	assert.Equal(t, 12.5, ev.Checkpoint.BlocksPerSecond)
	assert.Equal(t, 2024, ev.Timestamp.Year())
	assert.Len(t, failing.events, 1)
}

func TestPublishingCheckpointStoreSkipsRejectedAdvance(t *testing.T) {
	ctx := context.Background()
	sink := &recordingPublisher{name: "sink"}
	store := NewPublishingCheckpointStore(storage.NewMemoryConnector(), NewMulti(sink))

	_, err := store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: "ethereum", Height: 10, Status: common.SyncStatusIdle})
	require.NoError(t, err)
	_, err = store.AdvanceCheckpoint(ctx, common.CheckpointAdvance{Network: "ethereum", Height: 9, Status: common.SyncStatusIdle})
	var stale *common.StaleAdvanceError
	require.ErrorAs(t, err, &stale)

	assert.Len(t, sink.events, 1)
}

func TestMultiPublishBlocksOnlyReachesBlockSinks(t *testing.T) {
	blocks := &recordingPublisher{name: "blocks"}
	m := NewMulti(&LogPublisher{}, blocks)

	m.PublishBlocks(context.Background(), "ethereum", make([]common.BlockData, 3))
	assert.Equal(t, 3, blocks.blocks)
	assert.NoError(t, m.Close())
}

func TestSummarizeBlock(t *testing.T) {
	b := common.Block{
		Network:          "ethereum",
		Height:           7,
		Hash:             "0x07",
		ParentHash:       "0x06",
		TransactionCount: 2,
		Ext:              &common.EthereumBlockExt{},
	}
	s := SummarizeBlock(b)
	assert.Equal(t, "ethereum", s.Family)
	assert.Equal(t, uint64(7), s.Height)
	assert.Equal(t, uint64(2), s.TransactionCount)
	assert.Empty(t, SummarizeBlock(common.Block{Height: 1}).Family)
}
