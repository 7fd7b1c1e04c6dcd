package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/holiman/uint256"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// ClickHouseAggregateStore keeps rollups in ReplacingMergeTree tables. Rows
// are versioned by computed_at, so a recompute is an insert and reads use FINAL.
type ClickHouseAggregateStore struct {
	conn clickhouse.Conn
	cfg  *config.ClickhouseConfig
}

func NewClickHouseAggregateStore(cfg *config.ClickhouseConfig) (*ClickHouseAggregateStore, error) {
	conn, err := connectClickHouse(cfg)
	if err != nil {
		return nil, err
	}
	return &ClickHouseAggregateStore{
		conn: conn,
		cfg:  cfg,
	}, nil
}

func connectClickHouse(cfg *config.ClickhouseConfig) (clickhouse.Conn, error) {
	if cfg.Port == 0 {
		return nil, fmt.Errorf("invalid CLICKHOUSE_PORT: %d", cfg.Port)
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Protocol: clickhouse.Native,
		TLS: func() *tls.Config {
			if cfg.DisableTLS {
				return nil
			}
			return &tls.Config{}
		}(),
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
		Settings: clickhouse.Settings{
			"do_not_merge_across_partitions_select_final": "1",
			"optimize_move_to_prewhere_if_final":          "1",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return conn, nil
}

func (c *ClickHouseAggregateStore) GetWatermark(ctx context.Context, network string) (uint64, bool, error) {
	rows, err := c.conn.Query(ctx,
		`SELECT aggregated_through_height FROM aggregation_watermarks FINAL WHERE network = ?`, network)
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var height uint64
	if err := rows.Scan(&height); err != nil {
		return 0, false, err
	}
	return height, true, nil
}

func (c *ClickHouseAggregateStore) SetWatermark(ctx context.Context, network string, height uint64) error {
	return c.conn.Exec(ctx,
		`INSERT INTO aggregation_watermarks (network, aggregated_through_height, updated_at) VALUES (?, ?, ?)`,
		network, height, time.Now().UTC())
}

const clickhouseAggregateColumns = `network, granularity, bucket_start, block_count, transaction_count,
	failed_transaction_count, event_count, volume, total_fees, active_addresses,
	avg_gas_used, first_height, last_height, closed, computed_at`

func scanClickHouseAggregate(rows driver.Rows) (common.Aggregate, error) {
	var a common.Aggregate
	var granularity string
	var volume, fees big.Int
	if err := rows.Scan(&a.Network, &granularity, &a.BucketStart, &a.BlockCount, &a.TransactionCount,
		&a.FailedTransactionCount, &a.EventCount, &volume, &fees, &a.ActiveAddresses,
		&a.AvgGasUsed, &a.FirstHeight, &a.LastHeight, &a.Closed, &a.ComputedAt); err != nil {
		return a, err
	}
	a.Granularity = common.Granularity(granularity)
	a.BucketStart = a.BucketStart.UTC()
	a.ComputedAt = a.ComputedAt.UTC()

	var overflow bool
	if a.Volume, overflow = uint256.FromBig(&volume); overflow {
		return a, fmt.Errorf("volume overflows uint256: %s", volume.String())
	}
	if a.TotalFees, overflow = uint256.FromBig(&fees); overflow {
		return a, fmt.Errorf("total fees overflow uint256: %s", fees.String())
	}
	return a, nil
}

func (c *ClickHouseAggregateStore) GetBuckets(ctx context.Context, network string, granularity common.Granularity, starts []time.Time) (map[int64]common.Aggregate, error) {
	out := make(map[int64]common.Aggregate)
	if len(starts) == 0 {
		return out, nil
	}
	utc := make([]time.Time, len(starts))
	for i, s := range starts {
		utc[i] = s.UTC()
	}

	rows, err := c.conn.Query(ctx, `SELECT `+clickhouseAggregateColumns+`
		FROM aggregates FINAL
		WHERE network = ? AND granularity = ? AND bucket_start IN (?)`,
		network, string(granularity), utc)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		agg, err := scanClickHouseAggregate(rows)
		if err != nil {
			return nil, err
		}
		out[agg.BucketStart.Unix()] = agg
	}
	return out, rows.Err()
}

// UpsertBuckets inserts new versions of the given buckets. Buckets already
// stored as closed are left untouched.
func (c *ClickHouseAggregateStore) UpsertBuckets(ctx context.Context, aggs []common.Aggregate) error {
	if len(aggs) == 0 {
		return nil
	}

	closed, err := c.closedBuckets(ctx, aggs)
	if err != nil {
		return err
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO aggregates ("+clickhouseAggregateColumns+")")
	if err != nil {
		return err
	}
	defer batch.Abort()

	appended := 0
	for _, a := range aggs {
		if closed[bucketID(a)] {
			continue
		}
		if err := batch.Append(
			a.Network, string(a.Granularity), a.BucketStart.UTC(), a.BlockCount, a.TransactionCount,
			a.FailedTransactionCount, a.EventCount, bigOrZero(a.Volume), bigOrZero(a.TotalFees), a.ActiveAddresses,
			a.AvgGasUsed, a.FirstHeight, a.LastHeight, a.Closed, a.ComputedAt.UTC(),
		); err != nil {
			return fmt.Errorf("error appending aggregate bucket: %w", err)
		}
		appended++
	}
	if appended == 0 {
		return nil
	}
	return batch.Send()
}

func bucketID(a common.Aggregate) string {
	return fmt.Sprintf("%s/%s/%d", a.Network, a.Granularity, a.BucketStart.Unix())
}

func (c *ClickHouseAggregateStore) closedBuckets(ctx context.Context, aggs []common.Aggregate) (map[string]bool, error) {
	type group struct {
		network     string
		granularity common.Granularity
	}
	starts := make(map[group][]time.Time)
	for _, a := range aggs {
		g := group{a.Network, a.Granularity}
		starts[g] = append(starts[g], a.BucketStart)
	}

	closed := make(map[string]bool)
	for g, s := range starts {
		existing, err := c.GetBuckets(ctx, g.network, g.granularity, s)
		if err != nil {
			return nil, err
		}
		for _, agg := range existing {
			if agg.Closed {
				closed[bucketID(agg)] = true
			}
		}
	}
	return closed, nil
}

func (c *ClickHouseAggregateStore) ListBuckets(ctx context.Context, q common.AggregateQuery) ([]common.Aggregate, error) {
	where := []string{"network = ?", "granularity = ?"}
	args := []interface{}{q.Network, string(q.Granularity)}
	if !q.From.IsZero() {
		where = append(where, "bucket_start >= ?")
		args = append(args, q.From.UTC())
	}
	if !q.To.IsZero() {
		where = append(where, "bucket_start < ?")
		args = append(args, q.To.UTC())
	}
	query := `SELECT ` + clickhouseAggregateColumns + ` FROM aggregates FINAL WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY bucket_start ASC`
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := c.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Aggregate
	for rows.Next() {
		agg, err := scanClickHouseAggregate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

const clickhouseBucketEnd = `bucket_start + if(granularity = 'day', toIntervalDay(1), toIntervalHour(1))`

func (c *ClickHouseAggregateStore) DeleteBucketsBefore(ctx context.Context, network string, cutoff time.Time) (int64, error) {
	var count uint64
	err := c.conn.QueryRow(ctx,
		`SELECT count() FROM aggregates FINAL WHERE network = ? AND `+clickhouseBucketEnd+` <= ?`,
		network, cutoff.UTC()).Scan(&count)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}
	err = c.conn.Exec(ctx,
		`DELETE FROM aggregates WHERE network = ? AND `+clickhouseBucketEnd+` <= ?`,
		network, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return int64(count), nil
}

func (c *ClickHouseAggregateStore) Close() error {
	return c.conn.Close()
}

func bigOrZero(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
