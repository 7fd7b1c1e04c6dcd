package aggregation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	customLogger "github.com/thirdweb-dev/ledgersync/internal/log"
	"github.com/thirdweb-dev/ledgersync/internal/metrics"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
	"github.com/thirdweb-dev/ledgersync/internal/tiering"
)

// heights scanned per refresh; a network far behind catches up over several refreshes
const DEFAULT_HEIGHTS_PER_REFRESH = 20000

type RefreshResult struct {
	From       uint64
	To         uint64
	Recomputed int
	Closed     int
	Watermark  uint64
	UpToDate   bool
}

// coldReader reads back extents whose hot rows were reclaimed
type coldReader interface {
	ReclaimedExtents(ctx context.Context, network string) ([]common.ExtentRecord, error)
	ReadExtent(ctx context.Context, network string, from uint64) ([]common.BlockData, error)
}

// Engine keeps hourly and daily buckets in step with the ledger. It reads the
// checkpoint but never writes it; its progress is the aggregation watermark.
// Buckets are computed over both tiers, so tiering never changes an aggregate.
type Engine struct {
	checkpoints       storage.ICheckpointReader
	ledger            storage.ILedgerStore
	aggregates        storage.IAggregateStore
	cold              coldReader
	heightsPerRefresh uint64
	now               func() time.Time
}

func NewEngine(store storage.IStorage) *Engine {
	e := &Engine{
		checkpoints:       store.Checkpoints,
		ledger:            store.Ledger,
		aggregates:        store.Aggregates,
		heightsPerRefresh: DEFAULT_HEIGHTS_PER_REFRESH,
		now:               time.Now,
	}
	if store.Extents != nil && store.Cold != nil {
		e.cold = tiering.NewReader(store)
	}
	return e
}

// Refresh recomputes the buckets touched by heights above the watermark, and
// by the last reorgDepth heights below it, then moves the watermark.
func (e *Engine) Refresh(ctx context.Context, network config.NetworkConfig) (RefreshResult, error) {
	logger := customLogger.ForNetwork("aggregation", network.Name)
	result := RefreshResult{}

	cp, err := e.checkpoints.GetCheckpoint(ctx, network.Name)
	if errors.Is(err, common.ErrCheckpointNotFound) {
		result.UpToDate = true
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if cp.TotalBlocksProcessed == 0 {
		result.UpToDate = true
		return result, nil
	}
	last := cp.LastProcessedHeight

	watermark, exists, err := e.aggregates.GetWatermark(ctx, network.Name)
	if err != nil {
		return result, fmt.Errorf("failed to read watermark: %w", err)
	}
	if exists && watermark >= last {
		result.Watermark = watermark
		result.UpToDate = true
		return result, nil
	}

	depth := uint64(max(network.ReorgDepth, 0))
	from := network.StartHeight
	if exists {
		from = max(from, satSub(watermark, depth)+1)
	}
	if from > last {
		result.UpToDate = true
		return result, nil
	}
	to := last
	if to-from+1 > e.heightsPerRefresh {
		to = from + e.heightsPerRefresh - 1
	}
	result.From, result.To = from, to

	closedThrough, canClose, err := e.closingTime(ctx, network.Name, last, depth)
	if err != nil {
		return result, err
	}

	cold, err := e.newColdBlocks(ctx, network.Name)
	if err != nil {
		return result, err
	}
	touched, err := e.ledger.GetBlockRange(ctx, network.Name, from, to)
	if err != nil {
		return result, fmt.Errorf("failed to read heights %d-%d: %w", from, to, err)
	}
	reclaimed, err := cold.inRange(ctx, from, to)
	if err != nil {
		return result, err
	}
	touched = append(touched, reclaimed...)

	for _, g := range common.Granularities {
		recomputed, closed, err := e.refreshBuckets(ctx, network.Name, g, BucketStarts(g, touched), closedThrough, canClose, cold)
		if err != nil {
			return result, err
		}
		result.Recomputed += recomputed
		result.Closed += closed
	}

	if err := e.aggregates.SetWatermark(ctx, network.Name, to); err != nil {
		return result, fmt.Errorf("failed to set watermark: %w", err)
	}
	result.Watermark = to
	result.UpToDate = to == last
	metrics.AggregatedThroughHeight.WithLabelValues(network.Name).Set(float64(to))
	logger.Debug().
		Uint64("from", from).
		Uint64("to", to).
		Int("recomputed", result.Recomputed).
		Int("closed", result.Closed).
		Msg("Aggregates refreshed")
	return result, nil
}

// closingTime is the timestamp of block lastProcessed-depth. Buckets that end
// at or before it can no longer be touched by a reorg.
func (e *Engine) closingTime(ctx context.Context, network string, last, depth uint64) (time.Time, bool, error) {
	if last < depth {
		return time.Time{}, false, nil
	}
	height := last - depth
	blocks, err := e.ledger.GetBlockRange(ctx, network, height, height)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read block %d: %w", height, err)
	}
	if len(blocks) == 0 {
		return time.Time{}, false, nil
	}
	return blocks[0].Block.Timestamp, true, nil
}

func (e *Engine) refreshBuckets(ctx context.Context, network string, g common.Granularity, starts []time.Time, closedThrough time.Time, canClose bool, cold *coldBlocks) (int, int, error) {
	if len(starts) == 0 {
		return 0, 0, nil
	}
	existing, err := e.aggregates.GetBuckets(ctx, network, g, starts)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read %s buckets: %w", g, err)
	}

	now := e.now().UTC()
	updates := make([]common.Aggregate, 0, len(starts))
	closed := 0
	for _, start := range starts {
		prev, ok := existing[start.Unix()]
		if ok && prev.Closed {
			continue
		}
		end := start.Add(g.Duration())
		blocks, err := e.bucketBlocks(ctx, network, start, end, cold)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to read blocks of %s bucket %s: %w", g, start, err)
		}
		agg := Compute(network, g, start, blocks)
		agg.Closed = canClose && !end.After(closedThrough)
		agg.ComputedAt = now
		if ok && prev.SameMetrics(&agg) && prev.Closed == agg.Closed {
			continue
		}
		if agg.Closed {
			closed++
		}
		updates = append(updates, agg)
	}
	if len(updates) == 0 {
		return 0, 0, nil
	}
	if err := e.aggregates.UpsertBuckets(ctx, updates); err != nil {
		return 0, 0, fmt.Errorf("failed to store %s buckets: %w", g, err)
	}
	metrics.BucketsRecomputed.WithLabelValues(network, string(g)).Add(float64(len(updates)))
	return len(updates), closed, nil
}

// bucketBlocks returns the committed blocks of [start, end) from the hot tier
// and from reclaimed extents
func (e *Engine) bucketBlocks(ctx context.Context, network string, start, end time.Time, cold *coldBlocks) ([]common.BlockData, error) {
	hot, err := e.ledger.GetBlocksByTime(ctx, network, start, end)
	if err != nil {
		return nil, err
	}
	reclaimed, err := cold.between(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) == 0 {
		return hot, nil
	}
	seen := make(map[uint64]struct{}, len(hot))
	for _, bd := range hot {
		seen[bd.Block.Height] = struct{}{}
	}
	for _, bd := range reclaimed {
		if _, ok := seen[bd.Block.Height]; !ok {
			hot = append(hot, bd)
		}
	}
	return hot, nil
}

// coldBlocks holds the reclaimed extents of one network for a single refresh.
// Each extent is read from the cold tier at most once.
type coldBlocks struct {
	network string
	reader  coldReader
	records []common.ExtentRecord
	loaded  map[uint64][]common.BlockData
}

func (e *Engine) newColdBlocks(ctx context.Context, network string) (*coldBlocks, error) {
	c := &coldBlocks{network: network, reader: e.cold, loaded: make(map[uint64][]common.BlockData)}
	if e.cold == nil {
		return c, nil
	}
	records, err := e.cold.ReclaimedExtents(ctx, network)
	if err != nil {
		return nil, fmt.Errorf("failed to list reclaimed extents: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].From < records[j].From })
	c.records = records
	return c, nil
}

func (c *coldBlocks) load(ctx context.Context, rec common.ExtentRecord) ([]common.BlockData, error) {
	if blocks, ok := c.loaded[rec.From]; ok {
		return blocks, nil
	}
	blocks, err := c.reader.ReadExtent(ctx, c.network, rec.From)
	if err != nil {
		return nil, fmt.Errorf("failed to read cold extent %s: %w", rec.Extent(), err)
	}
	c.loaded[rec.From] = blocks
	return blocks, nil
}

// inRange returns the reclaimed blocks with heights in [from, to]
func (c *coldBlocks) inRange(ctx context.Context, from, to uint64) ([]common.BlockData, error) {
	var out []common.BlockData
	for _, rec := range c.records {
		if rec.To < from || rec.From > to {
			continue
		}
		blocks, err := c.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		for _, bd := range blocks {
			if h := bd.Block.Height; h >= from && h <= to {
				out = append(out, bd)
			}
		}
	}
	return out, nil
}

// between returns the reclaimed blocks with timestamps in [start, end).
// Timestamps grow with height, so the scan stops at the first extent that
// reaches end.
func (c *coldBlocks) between(ctx context.Context, start, end time.Time) ([]common.BlockData, error) {
	var out []common.BlockData
	for _, rec := range c.records {
		if rec.MaxTimestamp.Before(start) {
			continue
		}
		blocks, err := c.load(ctx, rec)
		if err != nil {
			return nil, err
		}
		past := false
		for _, bd := range blocks {
			ts := bd.Block.Timestamp
			if !ts.Before(end) {
				past = true
				continue
			}
			if !ts.Before(start) {
				out = append(out, bd)
			}
		}
		if past {
			break
		}
	}
	return out, nil
}

// BucketStarts returns the distinct bucket starts of a batch in time order
func BucketStarts(g common.Granularity, batch []common.BlockData) []time.Time {
	seen := make(map[int64]struct{})
	starts := make([]time.Time, 0)
	for _, bd := range batch {
		start := g.Truncate(bd.Block.Timestamp)
		if _, ok := seen[start.Unix()]; ok {
			continue
		}
		seen[start.Unix()] = struct{}{}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts
}

// Compute derives a bucket from ledger rows. Blocks outside the bucket are
// ignored, so the result depends only on the rows of the bucket's interval.
func Compute(network string, g common.Granularity, start time.Time, blocks []common.BlockData) common.Aggregate {
	start = start.UTC()
	end := start.Add(g.Duration())
	agg := common.Aggregate{
		Network:     network,
		Granularity: g,
		BucketStart: start,
		Volume:      new(uint256.Int),
		TotalFees:   new(uint256.Int),
	}

	addresses := make(map[string]struct{})
	var gasUsed float64
	for _, bd := range blocks {
		ts := bd.Block.Timestamp
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		h := bd.Block.Height
		if agg.BlockCount == 0 || h < agg.FirstHeight {
			agg.FirstHeight = h
		}
		if agg.BlockCount == 0 || h > agg.LastHeight {
			agg.LastHeight = h
		}
		agg.BlockCount++
		agg.EventCount += uint64(len(bd.Events))

		for i := range bd.Transactions {
			tx := &bd.Transactions[i]
			agg.TransactionCount++
			if !tx.Success {
				agg.FailedTransactionCount++
			}
			if tx.Value != nil {
				agg.Volume.Add(agg.Volume, tx.Value)
			}
			if tx.Fee != nil {
				agg.TotalFees.Add(agg.TotalFees, tx.Fee)
			}
			gasUsed += float64(tx.GasUsed)
			for _, addr := range tx.Addresses() {
				addresses[addr] = struct{}{}
			}
		}
	}
	agg.ActiveAddresses = uint64(len(addresses))
	if agg.TransactionCount > 0 {
		agg.AvgGasUsed = gasUsed / float64(agg.TransactionCount)
	}
	return agg
}

func satSub(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
