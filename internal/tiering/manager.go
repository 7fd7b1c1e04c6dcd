package tiering

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
	"github.com/thirdweb-dev/ledgersync/internal/storage"
	"golang.org/x/time/rate"
)

const DEFAULT_MAX_EXTENTS_PER_SWEEP = 10

type SweepResult struct {
	Migrated  int
	Reclaimed int
	Failed    int
}

// Manager moves extents that have fallen out of the hot window to the cold
// tier. Every step is idempotent: a sweep interrupted at any point is
// completed or redone by the next one.
type Manager struct {
	*Reader
	checkpoints storage.ICheckpointReader
	ledger      storage.ILedgerStore
	extentSize  uint64
	hotWindow   uint64
	maxExtents  int
	limiter     *rate.Limiter
	now         func() time.Time
}

func NewManager(store storage.IStorage, cfg config.TieringConfig) *Manager {
	m := &Manager{
		Reader:      NewReader(store),
		checkpoints: store.Checkpoints,
		ledger:      store.Ledger,
		extentSize:  cfg.ExtentSize,
		hotWindow:   cfg.HotWindow,
		maxExtents:  cfg.MaxExtentsPerSweep,
		now:         time.Now,
	}
	if m.extentSize == 0 {
		m.extentSize = config.DEFAULT_EXTENT_SIZE
	}
	if m.hotWindow == 0 {
		m.hotWindow = config.DEFAULT_HOT_WINDOW
	}
	if m.maxExtents <= 0 {
		m.maxExtents = DEFAULT_MAX_EXTENTS_PER_SWEEP
	}
	if cfg.BytesPerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSecond), cfg.BytesPerSecond)
	}
	return m
}

func (m *Manager) hotWindowFor(network config.NetworkConfig) uint64 {
	if network.HotWindow > 0 {
		return network.HotWindow
	}
	return m.hotWindow
}

// Boundary is the highest height that may leave the hot tier. ok is false
// while the network has not synced past its hot window.
func (m *Manager) Boundary(lastProcessed, hotWindow uint64) (uint64, bool) {
	if lastProcessed < hotWindow {
		return 0, false
	}
	return lastProcessed - hotWindow, true
}

// Sweep migrates up to maxExtents eligible extents of one network and
// finishes extents left marked but unreclaimed by an interrupted sweep.
func (m *Manager) Sweep(ctx context.Context, network config.NetworkConfig) (SweepResult, error) {
	logger := customLogger.ForNetwork("tiering", network.Name)
	var result SweepResult

	cp, err := m.checkpoints.GetCheckpoint(ctx, network.Name)
	if errors.Is(err, common.ErrCheckpointNotFound) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	boundary, ok := m.Boundary(cp.LastProcessedHeight, m.hotWindowFor(network))
	if !ok {
		return result, nil
	}

	records, err := m.extents.ListExtents(ctx, network.Name)
	if err != nil {
		return result, fmt.Errorf("failed to list extents: %w", err)
	}
	cold := make(map[uint64]struct{}, len(records))
	for _, rec := range records {
		cold[rec.From] = struct{}{}
		if rec.Reclaimed {
			continue
		}
		if err := m.resumeReclaim(ctx, rec, logger); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error().Err(err).Str("extent", rec.Extent().String()).Msg("Failed to complete interrupted migration")
			result.Failed++
			continue
		}
		result.Reclaimed++
	}

	// extents below the lowest hot height are cold or reaped
	lowest, hasHot, err := m.ledger.MinHeight(ctx, network.Name)
	if err != nil {
		return result, fmt.Errorf("failed to read lowest hot height: %w", err)
	}
	first := common.ExtentFor(network.Name, max(network.StartHeight, lowest), m.extentSize).From
	for from := first; hasHot && from+m.extentSize-1 <= boundary; from += m.extentSize {
		if result.Migrated >= m.maxExtents {
			break
		}
		if _, ok := cold[from]; ok {
			continue
		}
		ext := common.Extent{Network: network.Name, From: from, To: from + m.extentSize - 1}
		migrated, err := m.Migrate(ctx, ext)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			logger.Error().Err(err).Str("extent", ext.String()).Msg("Extent stays in the hot tier")
			result.Failed++
			continue
		}
		if migrated {
			result.Migrated++
			result.Reclaimed++
		}
	}

	if result.Migrated > 0 || result.Failed > 0 {
		logger.Info().Int("migrated", result.Migrated).Int("reclaimed", result.Reclaimed).Int("failed", result.Failed).Uint64("boundary", boundary).Msg("Tiering sweep finished")
	}
	return result, nil
}

// Migrate copies an extent to the cold tier, verifies the copy, marks the
// extent cold and reclaims its hot rows. It reports false for extents with no
// hot rows.
func (m *Manager) Migrate(ctx context.Context, ext common.Extent) (bool, error) {
	hot, err := m.ledger.GetBlockRange(ctx, ext.Network, ext.From, ext.To)
	if err != nil {
		return false, fmt.Errorf("failed to read hot rows of %s: %w", ext, err)
	}
	if len(hot) == 0 {
		return false, nil
	}

	data, err := Encode(hot)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", ext, err)
	}
	checksum := Checksum(data)
	if err := m.throttle(ctx, len(data)); err != nil {
		return false, err
	}
	if err := m.cold.Put(ctx, ext.Key(), data, checksum); err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", ext, err)
	}
	metrics.ColdBytesWritten.WithLabelValues(ext.Network).Add(float64(len(data)))

	if err := m.verify(ctx, ext, checksum, hot); err != nil {
		metrics.MigrationVerificationFailures.WithLabelValues(ext.Network).Inc()
		if delErr := m.cold.Delete(ctx, ext.Key()); delErr != nil {
			logger := customLogger.ForNetwork("tiering", ext.Network)
			logger.Warn().Err(delErr).Str("key", ext.Key()).Msg("Failed to remove rejected cold copy")
		}
		return false, err
	}

	rec := common.ExtentRecord{
		Network:    ext.Network,
		From:       ext.From,
		To:         ext.To,
		Key:        ext.Key(),
		Checksum:   checksum,
		Size:       int64(len(data)),
		Blocks:     uint64(len(hot)),
		MigratedAt: m.now().UTC(),
	}
	for _, bd := range hot {
		if bd.Block.Timestamp.After(rec.MaxTimestamp) {
			rec.MaxTimestamp = bd.Block.Timestamp
		}
	}
	if err := m.extents.MarkCold(ctx, rec); err != nil {
		return false, fmt.Errorf("failed to mark %s cold: %w", ext, err)
	}
	metrics.ExtentsMigrated.WithLabelValues(ext.Network).Inc()

	if err := m.reclaim(ctx, rec); err != nil {
		return true, err
	}
	return true, nil
}

// verify reads the cold copy back and checks its checksum and content
func (m *Manager) verify(ctx context.Context, ext common.Extent, checksum string, hot []common.BlockData) error {
	stored, err := m.cold.Get(ctx, ext.Key())
	if err != nil {
		return &common.MigrationVerificationError{Extent: ext, Expected: checksum, Reason: err.Error()}
	}
	if actual := Checksum(stored); actual != checksum {
		return &common.MigrationVerificationError{Extent: ext, Expected: checksum, Actual: actual}
	}
	decoded, err := Decode(stored)
	if err != nil {
		return &common.MigrationVerificationError{Extent: ext, Expected: checksum, Actual: checksum, Reason: err.Error()}
	}
	if hot != nil {
		if err := sameContent(hot, decoded); err != nil {
			return &common.MigrationVerificationError{Extent: ext, Expected: checksum, Actual: checksum, Reason: err.Error()}
		}
	}
	return nil
}

func (m *Manager) reclaim(ctx context.Context, rec common.ExtentRecord) error {
	stats, err := m.ledger.DeleteRange(ctx, rec.Network, rec.From, rec.To)
	if err != nil {
		return fmt.Errorf("failed to reclaim %s: %w", rec.Extent(), err)
	}
	if err := m.extents.MarkReclaimed(ctx, rec.Network, rec.From); err != nil {
		return fmt.Errorf("failed to mark %s reclaimed: %w", rec.Extent(), err)
	}
	metrics.ExtentsReclaimed.WithLabelValues(rec.Network).Inc()
	logger := customLogger.ForNetwork("tiering", rec.Network)
	logger.Debug().
		Str("extent", rec.Extent().String()).
		Int64("blocks", stats.Blocks).
		Int64("transactions", stats.Transactions).
		Int64("events", stats.Events).
		Msg("Reclaimed hot rows")
	return nil
}

// resumeReclaim finishes an extent that was marked cold but not reclaimed.
// The cold copy is verified again first; a bad copy sends the extent back to
// the hot tier.
func (m *Manager) resumeReclaim(ctx context.Context, rec common.ExtentRecord, logger zerolog.Logger) error {
	ext := rec.Extent()
	hot, err := m.ledger.GetBlockRange(ctx, rec.Network, rec.From, rec.To)
	if err != nil {
		return fmt.Errorf("failed to read hot rows of %s: %w", ext, err)
	}
	if len(hot) == 0 {
		hot = nil
	}
	if err := m.verify(ctx, ext, rec.Checksum, hot); err != nil {
		metrics.MigrationVerificationFailures.WithLabelValues(rec.Network).Inc()
		if hot == nil {
			return err
		}
		logger.Warn().Err(err).Str("extent", ext.String()).Msg("Cold copy failed verification, returning extent to the hot tier")
		if delErr := m.extents.DeleteExtent(ctx, rec.Network, rec.From); delErr != nil {
			return delErr
		}
		if delErr := m.cold.Delete(ctx, rec.Key); delErr != nil {
			logger.Warn().Err(delErr).Str("key", rec.Key).Msg("Failed to remove rejected cold copy")
		}
		return err
	}
	return m.reclaim(ctx, rec)
}

func (m *Manager) throttle(ctx context.Context, n int) error {
	if m.limiter == nil {
		return nil
	}
	burst := m.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := m.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
