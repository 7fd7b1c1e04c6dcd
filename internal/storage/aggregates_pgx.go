package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// PgxAggregateStore keeps rollups and aggregation watermarks in postgres.
// Bucket upserts are sent as one pgx batch per refresh.
type PgxAggregateStore struct {
	pool *pgxpool.Pool
}

func NewPgxAggregateStore(ctx context.Context, cfg *config.PostgresConfig) (*PgxAggregateStore, error) {
	poolCfg, err := pgxpool.ParseConfig(PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime) * time.Second
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PgxAggregateStore{pool: pool}, nil
}

func (p *PgxAggregateStore) GetWatermark(ctx context.Context, network string) (uint64, bool, error) {
	var height int64
	err := p.pool.QueryRow(ctx,
		`SELECT aggregated_through_height FROM aggregation_watermarks WHERE network = $1`, network).Scan(&height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(height), true, nil
}

func (p *PgxAggregateStore) SetWatermark(ctx context.Context, network string, height uint64) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO aggregation_watermarks (network, aggregated_through_height, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (network)
		DO UPDATE SET aggregated_through_height = EXCLUDED.aggregated_through_height,
		              updated_at = NOW()
	`, network, int64(height))
	return err
}

const aggregateColumns = `network, granularity, bucket_start, block_count, transaction_count,
	failed_transaction_count, event_count, volume::text, total_fees::text, active_addresses,
	avg_gas_used, first_height, last_height, closed, computed_at`

func scanAggregate(row pgx.Row) (common.Aggregate, error) {
	var a common.Aggregate
	var granularity, volume, fees string
	var blocks, txs, failed, events, active, first, last int64
	if err := row.Scan(&a.Network, &granularity, &a.BucketStart, &blocks, &txs, &failed, &events,
		&volume, &fees, &active, &a.AvgGasUsed, &first, &last, &a.Closed, &a.ComputedAt); err != nil {
		return a, err
	}
	a.Granularity = common.Granularity(granularity)
	a.BucketStart = a.BucketStart.UTC()
	a.ComputedAt = a.ComputedAt.UTC()
	a.BlockCount = uint64(blocks)
	a.TransactionCount = uint64(txs)
	a.FailedTransactionCount = uint64(failed)
	a.EventCount = uint64(events)
	a.ActiveAddresses = uint64(active)
	a.FirstHeight = uint64(first)
	a.LastHeight = uint64(last)

	var err error
	if a.Volume, err = uint256.FromDecimal(volume); err != nil {
		return a, fmt.Errorf("invalid volume %q: %w", volume, err)
	}
	if a.TotalFees, err = uint256.FromDecimal(fees); err != nil {
		return a, fmt.Errorf("invalid total fees %q: %w", fees, err)
	}
	return a, nil
}

func (p *PgxAggregateStore) GetBuckets(ctx context.Context, network string, granularity common.Granularity, starts []time.Time) (map[int64]common.Aggregate, error) {
	out := make(map[int64]common.Aggregate)
	if len(starts) == 0 {
		return out, nil
	}
	utc := make([]time.Time, len(starts))
	for i, s := range starts {
		utc[i] = s.UTC()
	}
	rows, err := p.pool.Query(ctx, `SELECT `+aggregateColumns+`
		FROM aggregates
		WHERE network = $1 AND granularity = $2 AND bucket_start = ANY($3)`,
		network, string(granularity), utc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out[agg.BucketStart.Unix()] = agg
	}
	return out, rows.Err()
}

func (p *PgxAggregateStore) UpsertBuckets(ctx context.Context, aggs []common.Aggregate) error {
	if len(aggs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range aggs {
		batch.Queue(`
			INSERT INTO aggregates (network, granularity, bucket_start, block_count, transaction_count,
				failed_transaction_count, event_count, volume, total_fees, active_addresses,
				avg_gas_used, first_height, last_height, closed, computed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9::text::numeric, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (network, granularity, bucket_start)
			DO UPDATE SET block_count = EXCLUDED.block_count,
			              transaction_count = EXCLUDED.transaction_count,
			              failed_transaction_count = EXCLUDED.failed_transaction_count,
			              event_count = EXCLUDED.event_count,
			              volume = EXCLUDED.volume,
			              total_fees = EXCLUDED.total_fees,
			              active_addresses = EXCLUDED.active_addresses,
			              avg_gas_used = EXCLUDED.avg_gas_used,
			              first_height = EXCLUDED.first_height,
			              last_height = EXCLUDED.last_height,
			              closed = EXCLUDED.closed,
			              computed_at = EXCLUDED.computed_at
			WHERE NOT aggregates.closed`,
			a.Network, string(a.Granularity), a.BucketStart.UTC(), int64(a.BlockCount), int64(a.TransactionCount),
			int64(a.FailedTransactionCount), int64(a.EventCount), decimalOrZero(a.Volume), decimalOrZero(a.TotalFees),
			int64(a.ActiveAddresses), a.AvgGasUsed, int64(a.FirstHeight), int64(a.LastHeight), a.Closed, a.ComputedAt.UTC())
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range aggs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("error upserting aggregate bucket: %w", err)
		}
	}
	return nil
}

func (p *PgxAggregateStore) ListBuckets(ctx context.Context, q common.AggregateQuery) ([]common.Aggregate, error) {
	where := []string{"network = $1", "granularity = $2"}
	args := []interface{}{q.Network, string(q.Granularity)}
	if !q.From.IsZero() {
		args = append(args, q.From.UTC())
		where = append(where, fmt.Sprintf("bucket_start >= $%d", len(args)))
	}
	if !q.To.IsZero() {
		args = append(args, q.To.UTC())
		where = append(where, fmt.Sprintf("bucket_start < $%d", len(args)))
	}
	query := `SELECT ` + aggregateColumns + ` FROM aggregates WHERE ` + strings.Join(where, " AND ") + ` ORDER BY bucket_start ASC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Aggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

func (p *PgxAggregateStore) DeleteBucketsBefore(ctx context.Context, network string, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM aggregates
		WHERE network = $1
		  AND bucket_start + CASE granularity WHEN 'day' THEN INTERVAL '1 day' ELSE INTERVAL '1 hour' END <= $2
	`, network, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (p *PgxAggregateStore) Close() error {
	p.pool.Close()
	return nil
}

func decimalOrZero(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
