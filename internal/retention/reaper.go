package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	customLogger "github.com/thirdweb-dev/ledgersync/internal/log"
	"github.com/thirdweb-dev/ledgersync/internal/metrics"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

type ReapResult struct {
	Cutoff         time.Time
	Hot            common.DeleteStats
	ExtentsDeleted int
	ExtentsKept    int
	Buckets        int64
}

// Reaper deletes ledger data older than a network's retention. Hot rows go
// first (events, then transactions, then blocks), then cold extents that no
// longer have a hot copy, then old aggregate buckets.
type Reaper struct {
	ledger                 storage.ILedgerStore
	extents                storage.IExtentStore
	cold                   storage.IColdStore
	aggregates             storage.IAggregateStore
	aggregateRetentionDays int
	now                    func() time.Time
}

func NewReaper(store storage.IStorage, cfg config.RetentionConfig) *Reaper {
	return &Reaper{
		ledger:                 store.Ledger,
		extents:                store.Extents,
		cold:                   store.Cold,
		aggregates:             store.Aggregates,
		aggregateRetentionDays: cfg.AggregateRetentionDays,
		now:                    time.Now,
	}
}

// Cutoff returns the retention cutoff of a network; false when retention is disabled
func (r *Reaper) Cutoff(network config.NetworkConfig) (time.Time, bool) {
	period, ok := network.Retention()
	if !ok {
		return time.Time{}, false
	}
	return r.now().UTC().Add(-period), true
}

func (r *Reaper) Reap(ctx context.Context, network config.NetworkConfig) (ReapResult, error) {
	logger := customLogger.ForNetwork("retention", network.Name)
	var result ReapResult

	cutoff, enabled := r.Cutoff(network)
	if enabled {
		result.Cutoff = cutoff
		if height, ok, err := r.ledger.MaxHeightBefore(ctx, network.Name, cutoff); err != nil {
			return result, fmt.Errorf("failed to find cutoff height: %w", err)
		} else if ok {
			logger.Debug().Time("cutoff", cutoff).Uint64("height", height).Msg("Reaping hot rows")
		}

		stats, err := r.ledger.DeleteBefore(ctx, network.Name, cutoff)
		if err != nil {
			return result, fmt.Errorf("failed to delete hot rows before %s: %w", cutoff, err)
		}
		result.Hot = stats
		metrics.RowsReaped.WithLabelValues(network.Name, "events").Add(float64(stats.Events))
		metrics.RowsReaped.WithLabelValues(network.Name, "transactions").Add(float64(stats.Transactions))
		metrics.RowsReaped.WithLabelValues(network.Name, "blocks").Add(float64(stats.Blocks))

		deleted, kept, err := r.reapCold(ctx, network.Name, cutoff)
		result.ExtentsDeleted, result.ExtentsKept = deleted, kept
		if err != nil {
			return result, err
		}
	}

	if r.aggregateRetentionDays > 0 {
		bucketCutoff := r.now().UTC().Add(-time.Duration(r.aggregateRetentionDays) * 24 * time.Hour)
		n, err := r.aggregates.DeleteBucketsBefore(ctx, network.Name, bucketCutoff)
		if err != nil {
			return result, fmt.Errorf("failed to delete buckets before %s: %w", bucketCutoff, err)
		}
		result.Buckets = n
		metrics.RowsReaped.WithLabelValues(network.Name, "aggregates").Add(float64(n))
	}

	if result.Hot.Blocks > 0 || result.ExtentsDeleted > 0 || result.Buckets > 0 {
		logger.Info().
			Int64("blocks", result.Hot.Blocks).
			Int64("transactions", result.Hot.Transactions).
			Int64("events", result.Hot.Events).
			Int("extents", result.ExtentsDeleted).
			Int64("buckets", result.Buckets).
			Msg("Retention pass finished")
	}
	return result, nil
}

// reapCold deletes cold extents entirely older than cutoff. An extent that
// still has rows in the hot tier is kept: its migration has not finished.
func (r *Reaper) reapCold(ctx context.Context, network string, cutoff time.Time) (deleted int, kept int, err error) {
	records, err := r.extents.ListExtents(ctx, network)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list extents: %w", err)
	}
	for _, rec := range records {
		if !rec.MaxTimestamp.Before(cutoff) {
			continue
		}
		hot, err := r.ledger.CountBlocks(ctx, network, rec.From, rec.To)
		if err != nil {
			return deleted, kept, fmt.Errorf("failed to count hot rows of %s: %w", rec.Extent(), err)
		}
		if hot > 0 {
			kept++
			continue
		}
		if err := r.cold.Delete(ctx, rec.Key); err != nil && !errors.Is(err, common.ErrObjectNotFound) {
			return deleted, kept, fmt.Errorf("failed to delete cold copy of %s: %w", rec.Extent(), err)
		}
		if err := r.extents.DeleteExtent(ctx, network, rec.From); err != nil {
			return deleted, kept, fmt.Errorf("failed to delete extent record %s: %w", rec.Extent(), err)
		}
		metrics.RowsReaped.WithLabelValues(network, "extents").Inc()
		deleted++
	}
	return deleted, kept, nil
}
