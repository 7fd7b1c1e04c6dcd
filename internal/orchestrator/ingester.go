package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	customLogger "github.com/thirdweb-dev/ledgersync/internal/log"
	"github.com/thirdweb-dev/ledgersync/internal/metrics"
	"github.com/thirdweb-dev/ledgersync/internal/publisher"
	"github.com/thirdweb-dev/ledgersync/internal/source"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

// SourceDialer opens the data source of a network
type SourceDialer func(ctx context.Context) (source.ISource, error)

type IngesterOption func(*Ingester)

func WithIngesterPublisher(p *publisher.Multi) IngesterOption {
	return func(i *Ingester) {
		i.publisher = p
	}
}

func WithIngesterBackoff(b *Backoff) IngesterOption {
	return func(i *Ingester) {
		if b != nil {
			i.backoff = b
		}
	}
}

// WithIngesterSleep replaces the wait between cycles and retries
func WithIngesterSleep(sleep func(ctx context.Context, d time.Duration) error) IngesterOption {
	return func(i *Ingester) {
		if sleep != nil {
			i.sleep = sleep
		}
	}
}

func WithIngesterClock(now func() time.Time) IngesterOption {
	return func(i *Ingester) {
		if now != nil {
			i.now = now
		}
	}
}

// Ingester keeps one network's ledger in step with its source. It is the only
// writer of the network's checkpoint.
type Ingester struct {
	cfg           config.NetworkConfig
	storage       storage.IStorage
	dial          SourceDialer
	source        source.ISource
	publisher     *publisher.Multi
	publishBlocks bool
	backoff       *Backoff
	throughput    *Throughput
	verifier      *ReorgVerifier
	logger        zerolog.Logger
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	state    common.SyncStatus
	next     uint64
	resumed  bool
	failures int
}

func NewIngester(cfg config.NetworkConfig, store storage.IStorage, dial SourceDialer, opts ...IngesterOption) (*Ingester, error) {
	cfg.ApplyFamilyDefaults()
	logger := customLogger.ForNetwork("ingester", cfg.Name)

	verifier, err := NewReorgVerifier(cfg.Name, cfg.ReorgDepth, config.Cfg.Ingester.HashCacheSize, store.Ledger, logger)
	if err != nil {
		return nil, err
	}

	i := &Ingester{
		cfg:           cfg,
		storage:       store,
		dial:          dial,
		publishBlocks: config.Cfg.Ingester.PublishBlocks,
		backoff:       NewBackoff(config.Cfg.Ingester),
		throughput:    NewThroughput(config.Cfg.Ingester.ThroughputAlpha),
		verifier:      verifier,
		logger:        logger,
		sleep:         sleepContext,
		now:           time.Now,
		state:         common.SyncStatusIdle,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

func (i *Ingester) Network() string {
	return i.cfg.Name
}

func (i *Ingester) State() common.SyncStatus {
	return i.state
}

func (i *Ingester) Start(ctx context.Context) {
	i.logger.Info().Msgf("Ingester running, polling every %s", i.cfg.PollIntervalDuration())
	defer i.closeSource()

	for {
		wait := i.Step(ctx)
		if ctx.Err() != nil {
			i.logger.Info().Msg("Ingester shutting down")
			return
		}
		if err := i.sleep(ctx, wait); err != nil {
			i.logger.Info().Msg("Ingester shutting down")
			return
		}
	}
}

// Step runs one cycle and returns how long to wait before the next one
func (i *Ingester) Step(ctx context.Context) time.Duration {
	err := i.RunCycle(ctx)
	if err == nil {
		i.failures = 0
		return i.cfg.PollIntervalDuration()
	}
	if ctx.Err() != nil {
		return 0
	}
	return i.fail(ctx, err)
}

// RunCycle syncs from the last durable checkpoint up to the current head
func (i *Ingester) RunCycle(ctx context.Context) error {
	if err := i.connect(ctx); err != nil {
		return err
	}
	if err := i.resume(ctx); err != nil {
		return err
	}

	var head uint64
	err := i.retry(ctx, "get head", func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, i.cfg.FetchTimeoutDuration())
		defer cancel()
		h, err := i.source.GetHead(fetchCtx)
		head = h
		return err
	})
	if err != nil {
		return err
	}
	metrics.SourceHead.WithLabelValues(i.cfg.Name).Set(float64(head))

	if err := i.verifyRecent(ctx, head); err != nil {
		return err
	}

	if i.next > head {
		return i.settle(ctx)
	}

	i.setState(common.SyncStatusSyncing)
	batchSize := uint64(max(1, min(i.cfg.BatchSize, config.MAX_BATCH_SIZE)))
	for i.next <= head {
		to := min(i.next+batchSize-1, head)
		if err := i.syncBatch(ctx, i.next, to, head); err != nil {
			return err
		}
	}
	return i.settle(ctx)
}

func (i *Ingester) connect(ctx context.Context) error {
	if i.source != nil {
		return nil
	}
	src, err := i.dial(ctx)
	if err != nil {
		return err
	}
	i.source = src
	return nil
}

func (i *Ingester) closeSource() {
	if i.source != nil {
		i.source.Close()
		i.source = nil
	}
}

// resume reloads the cursor from the durable checkpoint
func (i *Ingester) resume(ctx context.Context) error {
	if i.resumed {
		return nil
	}
	cp, err := i.storage.Checkpoints.GetCheckpoint(ctx, i.cfg.Name)
	if err != nil && !errors.Is(err, common.ErrCheckpointNotFound) {
		return fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil || cp.TotalBlocksProcessed == 0 {
		i.next = i.cfg.StartHeight
	} else {
		i.next = cp.LastProcessedHeight + 1
		metrics.LastProcessedHeight.WithLabelValues(i.cfg.Name).Set(float64(cp.LastProcessedHeight))
	}
	i.verifier.Forget()
	i.resumed = true
	i.logger.Debug().Uint64("next", i.next).Msg("Resuming from checkpoint")
	return nil
}

// committedHeight is the height recorded in status-only advances
func (i *Ingester) committedHeight() uint64 {
	if i.next == 0 {
		return 0
	}
	return i.next - 1
}

func (i *Ingester) hasCommitted() bool {
	return i.next > i.cfg.StartHeight
}

func (i *Ingester) verifyRecent(ctx context.Context, head uint64) error {
	if !i.hasCommitted() {
		return nil
	}
	tip := min(i.committedHeight(), head)

	var mismatch *common.DataIntegrityError
	err := i.retry(ctx, "verify recent hashes", func(ctx context.Context) error {
		fetchCtx, cancel := context.WithTimeout(ctx, i.cfg.FetchTimeoutDuration())
		defer cancel()
		m, err := i.verifier.Check(fetchCtx, i.source, i.cfg.StartHeight, tip)
		mismatch = m
		return err
	})
	if err != nil {
		return err
	}
	if mismatch == nil {
		return nil
	}

	i.logger.Warn().Err(mismatch).Msg("Reorg detected")
	metrics.IngesterErrors.WithLabelValues(i.cfg.Name, "reorg").Inc()
	return i.retry(ctx, "repair reorg", func(ctx context.Context) error {
		repairCtx, cancel := context.WithTimeout(ctx, i.cfg.FetchTimeoutDuration()+i.cfg.WriteTimeoutDuration())
		defer cancel()
		return i.verifier.Repair(repairCtx, i.source, mismatch.Height, tip)
	})
}

// linksToTip reports whether the first block of a batch extends the stored
// tip. A tip that is no longer in the hot tier cannot be checked.
func (i *Ingester) linksToTip(ctx context.Context, batch []common.BlockData) (bool, error) {
	if !i.hasCommitted() || len(batch) == 0 || batch[0].Block.ParentHash == "" {
		return true, nil
	}
	stored, ok, err := i.verifier.StoredHash(ctx, i.committedHeight())
	if err != nil || !ok {
		return true, err
	}
	return stored == batch[0].Block.ParentHash, nil
}

func (i *Ingester) syncBatch(ctx context.Context, from, to, head uint64) error {
	start := i.now()

	var batch []common.BlockData
	for attempt := 0; ; attempt++ {
		err := i.retry(ctx, fmt.Sprintf("fetch %d-%d", from, to), func(ctx context.Context) error {
			b, err := i.fetch(ctx, from, to, head)
			batch = b
			return err
		})
		if err != nil {
			return err
		}

		linked, err := i.linksToTip(ctx, batch)
		if err != nil {
			return err
		}
		if linked {
			break
		}
		if attempt+1 >= i.cfg.RetryBudget {
			return &common.TransientSourceError{Op: "fetch", Err: fmt.Errorf("block %d does not extend stored block %d", from, from-1)}
		}
		i.logger.Warn().Uint64("height", from).Msg("Batch does not extend the stored tip, re-verifying recent heights")
		if err := i.verifyRecent(ctx, head); err != nil {
			return err
		}
	}

	err := i.retry(ctx, fmt.Sprintf("write %d-%d", from, to), func(ctx context.Context) error {
		return i.write(ctx, batch)
	})
	if err != nil {
		return err
	}
	i.verifier.Remember(batch)

	txCount := common.CountTransactions(batch)
	rate := i.throughput.Observe(len(batch), i.now().Sub(start))
	if _, err := i.advance(ctx, common.SyncStatusSyncing, to, nil, uint64(len(batch)), txCount); err != nil {
		return err
	}
	i.next = to + 1

	metrics.LastProcessedHeight.WithLabelValues(i.cfg.Name).Set(float64(to))
	metrics.BlocksPerSecond.WithLabelValues(i.cfg.Name).Set(rate)
	metrics.BlocksProcessed.WithLabelValues(i.cfg.Name).Add(float64(len(batch)))
	metrics.TransactionsProcessed.WithLabelValues(i.cfg.Name).Add(float64(txCount))
	i.logger.Debug().Uint64("from", from).Uint64("to", to).Float64("blocks_per_second", rate).Msg("Committed batch")

	if i.publishBlocks && i.publisher != nil {
		i.publisher.PublishBlocks(ctx, i.cfg.Name, batch)
	}
	return nil
}

func (i *Ingester) fetch(ctx context.Context, from, to, head uint64) ([]common.BlockData, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, i.cfg.FetchTimeoutDuration())
	defer cancel()

	start := time.Now()
	batch, err := i.source.GetBlockRange(fetchCtx, from, to)
	metrics.SourceFetchDuration.WithLabelValues(i.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		var notFound *common.HeightNotFoundError
		if errors.As(err, &notFound) && notFound.Height > head {
			return nil, &heightAboveHeadError{height: notFound.Height, head: head}
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && !common.IsTransient(err) {
			return nil, &common.TransientSourceError{Op: "fetch", Err: err}
		}
		return nil, err
	}
	if err := checkBatch(batch, from, to); err != nil {
		return nil, err
	}
	return batch, nil
}

func (i *Ingester) write(ctx context.Context, batch []common.BlockData) error {
	writeCtx, cancel := context.WithTimeout(ctx, i.cfg.WriteTimeoutDuration())
	defer cancel()

	start := time.Now()
	err := i.storage.Ledger.WriteBatch(writeCtx, i.cfg.Name, batch)
	metrics.LedgerWriteDuration.WithLabelValues(i.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LedgerWriteFailures.WithLabelValues(i.cfg.Name).Inc()
		var wf *common.WriteFailureError
		if !errors.As(err, &wf) {
			err = &common.WriteFailureError{Network: i.cfg.Name, From: batch[0].Block.Height, To: batch[len(batch)-1].Block.Height, Err: err}
		}
		return err
	}
	return nil
}

// settle moves the ingester to idle once it has caught up
func (i *Ingester) settle(ctx context.Context) error {
	if i.state == common.SyncStatusIdle {
		return nil
	}
	if _, err := i.advance(ctx, common.SyncStatusIdle, i.committedHeight(), nil, 0, 0); err != nil {
		return err
	}
	i.setState(common.SyncStatusIdle)
	return nil
}

func (i *Ingester) advance(ctx context.Context, status common.SyncStatus, height uint64, errMsg *string, blocks, txs uint64) (*common.Checkpoint, error) {
	writeCtx, cancel := context.WithTimeout(ctx, i.cfg.WriteTimeoutDuration())
	defer cancel()

	cp, err := i.storage.Checkpoints.AdvanceCheckpoint(writeCtx, common.CheckpointAdvance{
		Network:               i.cfg.Name,
		ChainID:               i.cfg.ChainID,
		Height:                height,
		Status:                status,
		BlocksPerSecond:       i.throughput.Rate(),
		ErrorMessage:          errMsg,
		BlocksProcessed:       blocks,
		TransactionsProcessed: txs,
	})
	if err != nil {
		var stale *common.StaleAdvanceError
		if errors.As(err, &stale) {
			metrics.StaleAdvances.WithLabelValues(i.cfg.Name).Inc()
			i.resumed = false
		}
		return nil, fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return cp, nil
}

// fail records the error on the checkpoint and returns the backoff to wait
// before the next cycle. Heights are left untouched.
func (i *Ingester) fail(ctx context.Context, err error) time.Duration {
	i.failures++
	i.resumed = false
	i.setState(common.SyncStatusError)

	kind := errorKind(err)
	metrics.IngesterErrors.WithLabelValues(i.cfg.Name, kind).Inc()

	msg := err.Error()
	if _, advErr := i.advance(ctx, common.SyncStatusError, i.committedHeight(), &msg, 0, 0); advErr != nil {
		i.logger.Error().Err(advErr).Msg("Failed to record sync error")
	}

	var wait time.Duration
	if kind == "permanent" || kind == "height_above_head" {
		wait = i.backoff.Cap()
	} else {
		wait = i.backoff.Duration(i.failures)
	}
	i.logger.Error().Err(err).Str("kind", kind).Int("failures", i.failures).Msgf("Sync failed, retrying in %s", wait)
	return wait
}

// retry runs fn up to the retry budget while it fails with retryable errors
func (i *Ingester) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	budget := max(1, i.cfg.RetryBudget)
	var err error
	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			if serr := i.sleep(ctx, i.backoff.Duration(attempt-1)); serr != nil {
				return serr
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return err
		}
		i.logger.Warn().Err(err).Int("attempt", attempt+1).Int("budget", budget).Msgf("Failed to %s", op)
	}
	return err
}

func (i *Ingester) setState(state common.SyncStatus) {
	i.state = state
	var v float64
	switch state {
	case common.SyncStatusSyncing:
		v = 1
	case common.SyncStatusError:
		v = 2
	}
	metrics.IngesterState.WithLabelValues(i.cfg.Name).Set(v)
}

type heightAboveHeadError struct {
	height uint64
	head   uint64
}

func (e *heightAboveHeadError) Error() string {
	return fmt.Sprintf("source reports height %d missing above its own head %d", e.height, e.head)
}

func retryable(err error) bool {
	var above *heightAboveHeadError
	if errors.As(err, &above) || common.IsPermanent(err) {
		return false
	}
	var wf *common.WriteFailureError
	return common.IsTransient(err) || errors.As(err, &wf) || errors.Is(err, context.DeadlineExceeded)
}

func errorKind(err error) string {
	var above *heightAboveHeadError
	var wf *common.WriteFailureError
	var stale *common.StaleAdvanceError
	switch {
	case errors.As(err, &above):
		return "height_above_head"
	case common.IsPermanent(err):
		return "permanent"
	case errors.As(err, &wf):
		return "write"
	case errors.As(err, &stale):
		return "stale_advance"
	case common.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		return "transient"
	}
	return "other"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
