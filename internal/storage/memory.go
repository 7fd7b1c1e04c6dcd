package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

type memoryLedger struct {
	blocks map[uint64]common.Block
	txs    map[string]common.Transaction
	events map[uint64]map[uint64]common.Event
}

type bucketKey struct {
	granularity common.Granularity
	start       int64
}

// MemoryConnector implements every store in process memory. It backs tests and
// single-process development setups; nothing survives a restart.
type MemoryConnector struct {
	mu          sync.RWMutex
	checkpoints map[string]common.Checkpoint
	ledgers     map[string]*memoryLedger
	extents     map[string]map[uint64]common.ExtentRecord
	watermarks  map[string]uint64
	buckets     map[string]map[bucketKey]common.Aggregate
	objects     map[string][]byte
	now         func() time.Time
}

func NewMemoryConnector() *MemoryConnector {
	return &MemoryConnector{
		checkpoints: make(map[string]common.Checkpoint),
		ledgers:     make(map[string]*memoryLedger),
		extents:     make(map[string]map[uint64]common.ExtentRecord),
		watermarks:  make(map[string]uint64),
		buckets:     make(map[string]map[bucketKey]common.Aggregate),
		objects:     make(map[string][]byte),
		now:         time.Now,
	}
}

func (m *MemoryConnector) Close() error {
	return nil
}

// Checkpoint Store Implementation

func (m *MemoryConnector) GetCheckpoint(ctx context.Context, network string) (*common.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[network]
	if !ok {
		return nil, common.ErrCheckpointNotFound
	}
	return copyCheckpoint(cp), nil
}

func (m *MemoryConnector) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) (*common.Checkpoint, error) {
	if !adv.Status.Valid() {
		return nil, fmt.Errorf("invalid sync status %q", adv.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp, exists := m.checkpoints[adv.Network]
	if exists && adv.Height < cp.LastProcessedHeight {
		return nil, &common.StaleAdvanceError{Network: adv.Network, Current: cp.LastProcessedHeight, Height: adv.Height}
	}
	cp.Apply(adv, m.now().UTC())
	m.checkpoints[adv.Network] = cp
	return copyCheckpoint(cp), nil
}

func (m *MemoryConnector) ListCheckpoints(ctx context.Context) ([]common.CheckpointSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snaps := make([]common.CheckpointSnapshot, 0, len(m.checkpoints))
	for _, cp := range m.checkpoints {
		snaps = append(snaps, cp.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Network < snaps[j].Network })
	return snaps, nil
}

func copyCheckpoint(cp common.Checkpoint) *common.Checkpoint {
	out := cp
	if cp.ErrorMessage != nil {
		msg := *cp.ErrorMessage
		out.ErrorMessage = &msg
	}
	return &out
}

// Ledger Store Implementation

func (m *MemoryConnector) ledger(network string) *memoryLedger {
	l, ok := m.ledgers[network]
	if !ok {
		l = &memoryLedger{
			blocks: make(map[uint64]common.Block),
			txs:    make(map[string]common.Transaction),
			events: make(map[uint64]map[uint64]common.Event),
		}
		m.ledgers[network] = l
	}
	return l
}

func (m *MemoryConnector) WriteBatch(ctx context.Context, network string, batch []common.BlockData) error {
	if len(batch) == 0 {
		return nil
	}
	if err := validateBatch(network, batch); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return batchWriteFailure(network, batch, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledger(network)
	for _, bd := range batch {
		l.upsertBlock(bd.Block)
		l.upsertTransactions(bd.Transactions)
		l.upsertEvents(bd.Block.Height, bd.Events)
	}
	return nil
}

func (m *MemoryConnector) UpsertBlock(ctx context.Context, network string, block common.Block) error {
	block.Network = network
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ledger(network).upsertBlock(block)
	return nil
}

func (m *MemoryConnector) UpsertTransactions(ctx context.Context, network string, height uint64, txs []common.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledger(network)
	if _, ok := l.blocks[height]; !ok {
		return fmt.Errorf("block %d of %s not found", height, network)
	}
	rows := make([]common.Transaction, len(txs))
	for i, tx := range txs {
		tx.Network = network
		tx.BlockHeight = height
		rows[i] = tx
	}
	l.upsertTransactions(rows)
	return nil
}

func (m *MemoryConnector) UpsertEvents(ctx context.Context, network string, height uint64, events []common.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.ledger(network)
	if _, ok := l.blocks[height]; !ok {
		return fmt.Errorf("block %d of %s not found", height, network)
	}
	rows := make([]common.Event, len(events))
	for i, ev := range events {
		ev.Network = network
		ev.BlockHeight = height
		rows[i] = ev
	}
	l.upsertEvents(height, rows)
	return nil
}

// upsertBlock overwrites the block at its height; a different hash drops the
// rows the previous block owned.
func (l *memoryLedger) upsertBlock(block common.Block) {
	if prev, ok := l.blocks[block.Height]; ok && prev.Hash != block.Hash {
		l.deleteChildren(block.Height)
	}
	l.blocks[block.Height] = block
}

func (l *memoryLedger) upsertTransactions(txs []common.Transaction) {
	for _, tx := range txs {
		l.txs[tx.Hash] = tx
	}
}

func (l *memoryLedger) upsertEvents(height uint64, events []common.Event) {
	if len(events) == 0 {
		return
	}
	byIndex, ok := l.events[height]
	if !ok {
		byIndex = make(map[uint64]common.Event, len(events))
		l.events[height] = byIndex
	}
	for _, ev := range events {
		byIndex[ev.Index] = ev
	}
}

func (l *memoryLedger) deleteChildren(height uint64) (events int64, txs int64) {
	events = int64(len(l.events[height]))
	delete(l.events, height)
	for hash, tx := range l.txs {
		if tx.BlockHeight == height {
			delete(l.txs, hash)
			txs++
		}
	}
	return events, txs
}

func (m *MemoryConnector) GetBlockHashes(ctx context.Context, network string, from, to uint64) (map[uint64]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hashes := make(map[uint64]string)
	l, ok := m.ledgers[network]
	if !ok {
		return hashes, nil
	}
	for h, b := range l.blocks {
		if h >= from && h <= to {
			hashes[h] = b.Hash
		}
	}
	return hashes, nil
}

func (m *MemoryConnector) GetBlockRange(ctx context.Context, network string, from, to uint64) ([]common.BlockData, error) {
	return m.collect(network, func(b common.Block) bool {
		return b.Height >= from && b.Height <= to
	}), nil
}

func (m *MemoryConnector) GetBlocksByTime(ctx context.Context, network string, start, end time.Time) ([]common.BlockData, error) {
	return m.collect(network, func(b common.Block) bool {
		return !b.Timestamp.Before(start) && b.Timestamp.Before(end)
	}), nil
}

func (m *MemoryConnector) collect(network string, match func(common.Block) bool) []common.BlockData {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[network]
	if !ok {
		return nil
	}

	byHeight := make(map[uint64]*common.BlockData)
	var heights []uint64
	for h, b := range l.blocks {
		if match(b) {
			byHeight[h] = &common.BlockData{Block: b}
			heights = append(heights, h)
		}
	}
	if len(heights) == 0 {
		return nil
	}
	for _, tx := range l.txs {
		if bd, ok := byHeight[tx.BlockHeight]; ok {
			bd.Transactions = append(bd.Transactions, tx)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	out := make([]common.BlockData, 0, len(heights))
	for _, h := range heights {
		bd := byHeight[h]
		sort.Slice(bd.Transactions, func(i, j int) bool { return bd.Transactions[i].Index < bd.Transactions[j].Index })
		for _, ev := range l.events[h] {
			bd.Events = append(bd.Events, ev)
		}
		sort.Slice(bd.Events, func(i, j int) bool { return bd.Events[i].Index < bd.Events[j].Index })
		out = append(out, *bd)
	}
	return out
}

func (m *MemoryConnector) CountBlocks(ctx context.Context, network string, from, to uint64) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[network]
	if !ok {
		return 0, nil
	}
	var n int64
	for h := range l.blocks {
		if h >= from && h <= to {
			n++
		}
	}
	return n, nil
}

func (m *MemoryConnector) MinHeight(ctx context.Context, network string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[network]
	if !ok {
		return 0, false, nil
	}
	var min uint64
	found := false
	for h := range l.blocks {
		if !found || h < min {
			min = h
			found = true
		}
	}
	return min, found, nil
}

func (m *MemoryConnector) MaxHeightBefore(ctx context.Context, network string, t time.Time) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.ledgers[network]
	if !ok {
		return 0, false, nil
	}
	var max uint64
	found := false
	for h, b := range l.blocks {
		if b.Timestamp.Before(t) && (!found || h > max) {
			max = h
			found = true
		}
	}
	return max, found, nil
}

func (m *MemoryConnector) DeleteRange(ctx context.Context, network string, from, to uint64) (common.DeleteStats, error) {
	return m.deleteWhere(network, func(b common.Block) bool {
		return b.Height >= from && b.Height <= to
	}), nil
}

func (m *MemoryConnector) DeleteBefore(ctx context.Context, network string, cutoff time.Time) (common.DeleteStats, error) {
	return m.deleteWhere(network, func(b common.Block) bool {
		return b.Timestamp.Before(cutoff)
	}), nil
}

func (m *MemoryConnector) deleteWhere(network string, match func(common.Block) bool) common.DeleteStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stats common.DeleteStats
	l, ok := m.ledgers[network]
	if !ok {
		return stats
	}
	for h, b := range l.blocks {
		if !match(b) {
			continue
		}
		events, txs := l.deleteChildren(h)
		stats.Events += events
		stats.Transactions += txs
		delete(l.blocks, h)
		stats.Blocks++
	}
	return stats
}

// Extent Store Implementation

func (m *MemoryConnector) ListExtents(ctx context.Context, network string) ([]common.ExtentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := make([]common.ExtentRecord, 0, len(m.extents[network]))
	for _, rec := range m.extents[network] {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].From < recs[j].From })
	return recs, nil
}

func (m *MemoryConnector) GetExtent(ctx context.Context, network string, from uint64) (*common.ExtentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.extents[network][from]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryConnector) MarkCold(ctx context.Context, rec common.ExtentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byFrom, ok := m.extents[rec.Network]
	if !ok {
		byFrom = make(map[uint64]common.ExtentRecord)
		m.extents[rec.Network] = byFrom
	}
	byFrom[rec.From] = rec
	return nil
}

func (m *MemoryConnector) MarkReclaimed(ctx context.Context, network string, from uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.extents[network][from]
	if !ok {
		return fmt.Errorf("extent %s[%d] is not marked cold", network, from)
	}
	rec.Reclaimed = true
	m.extents[network][from] = rec
	return nil
}

func (m *MemoryConnector) DeleteExtent(ctx context.Context, network string, from uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.extents[network], from)
	return nil
}

// Aggregate Store Implementation

func (m *MemoryConnector) GetWatermark(ctx context.Context, network string) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.watermarks[network]
	return h, ok, nil
}

func (m *MemoryConnector) SetWatermark(ctx context.Context, network string, height uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[network] = height
	return nil
}

func (m *MemoryConnector) GetBuckets(ctx context.Context, network string, granularity common.Granularity, starts []time.Time) (map[int64]common.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]common.Aggregate)
	for _, s := range starts {
		if agg, ok := m.buckets[network][bucketKey{granularity, s.Unix()}]; ok {
			out[s.Unix()] = copyAggregate(agg)
		}
	}
	return out, nil
}

func (m *MemoryConnector) UpsertBuckets(ctx context.Context, aggs []common.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, agg := range aggs {
		byKey, ok := m.buckets[agg.Network]
		if !ok {
			byKey = make(map[bucketKey]common.Aggregate)
			m.buckets[agg.Network] = byKey
		}
		byKey[bucketKey{agg.Granularity, agg.BucketStart.Unix()}] = copyAggregate(agg)
	}
	return nil
}

func (m *MemoryConnector) ListBuckets(ctx context.Context, q common.AggregateQuery) ([]common.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []common.Aggregate
	for key, agg := range m.buckets[q.Network] {
		if key.granularity != q.Granularity {
			continue
		}
		if !q.From.IsZero() && agg.BucketStart.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !agg.BucketStart.Before(q.To) {
			continue
		}
		out = append(out, copyAggregate(agg))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryConnector) DeleteBucketsBefore(ctx context.Context, network string, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, agg := range m.buckets[network] {
		if agg.BucketEnd().Before(cutoff) || agg.BucketEnd().Equal(cutoff) {
			delete(m.buckets[network], key)
			n++
		}
	}
	return n, nil
}

func copyAggregate(a common.Aggregate) common.Aggregate {
	out := a
	if a.Volume != nil {
		out.Volume = new(uint256.Int).Set(a.Volume)
	}
	if a.TotalFees != nil {
		out.TotalFees = new(uint256.Int).Set(a.TotalFees)
	}
	return out
}

// Cold Store Implementation

func (m *MemoryConnector) Put(ctx context.Context, key string, data []byte, checksum string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return nil
}

func (m *MemoryConnector) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, common.ErrObjectNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *MemoryConnector) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// ObjectKeys lists the cold objects currently held
func (m *MemoryConnector) ObjectKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validateBatch rejects batches whose rows disagree with their block; such a
// batch would otherwise commit rows that no height owns.
func validateBatch(network string, batch []common.BlockData) error {
	for _, bd := range batch {
		if bd.Block.Network != network {
			return batchWriteFailure(network, batch, fmt.Errorf("block %d belongs to %q", bd.Block.Height, bd.Block.Network))
		}
		if bd.Block.Hash == "" {
			return batchWriteFailure(network, batch, fmt.Errorf("block %d has no hash", bd.Block.Height))
		}
		for _, tx := range bd.Transactions {
			if tx.BlockHeight != bd.Block.Height || tx.Hash == "" {
				return batchWriteFailure(network, batch, fmt.Errorf("transaction %q does not belong to block %d", tx.Hash, bd.Block.Height))
			}
		}
		for _, ev := range bd.Events {
			if ev.BlockHeight != bd.Block.Height {
				return batchWriteFailure(network, batch, fmt.Errorf("event %d does not belong to block %d", ev.Index, bd.Block.Height))
			}
		}
	}
	return nil
}

func batchWriteFailure(network string, batch []common.BlockData, err error) error {
	from, to := batch[0].Block.Height, batch[len(batch)-1].Block.Height
	return &common.WriteFailureError{Network: network, From: from, To: to, Err: err}
}
