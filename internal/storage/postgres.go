package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// PostgresConnector is the hot tier. It stores the ledger, the checkpoints and
// the extent marks in one database so a ledger batch and the rows describing it
// share the same durability guarantees.
type PostgresConnector struct {
	db  *sql.DB
	cfg *config.PostgresConfig
}

func NewPostgresConnector(cfg *config.PostgresConfig) (*PostgresConnector, error) {
	db, err := sql.Open("postgres", PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.MaxConnLifetime) * time.Second)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresConnector{
		db:  db,
		cfg: cfg,
	}, nil
}

// PostgresDSN renders the key/value connection string for cfg
func PostgresDSN(cfg *config.PostgresConfig) string {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database)

	// Default to "require" for security if SSL mode not specified
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
		log.Info().Msg("No SSL mode specified, defaulting to 'require' for secure connection")
	}
	connStr += fmt.Sprintf(" sslmode=%s", sslMode)

	if cfg.ConnectTimeout > 0 {
		connStr += fmt.Sprintf(" connect_timeout=%d", cfg.ConnectTimeout)
	}
	return connStr
}

// Checkpoint Store Implementation

const checkpointColumns = `network, chain_id, last_processed_height, sync_status, error_message,
	blocks_per_second, total_blocks_processed, total_transactions_processed, updated_at`

func scanCheckpoint(row interface{ Scan(...any) error }) (*common.Checkpoint, error) {
	var cp common.Checkpoint
	var status string
	var errMsg sql.NullString
	var height, blocks, txs int64
	if err := row.Scan(&cp.Network, &cp.ChainID, &height, &status, &errMsg,
		&cp.BlocksPerSecond, &blocks, &txs, &cp.UpdatedAt); err != nil {
		return nil, err
	}
	cp.LastProcessedHeight = uint64(height)
	cp.SyncStatus = common.SyncStatus(status)
	cp.TotalBlocksProcessed = uint64(blocks)
	cp.TotalTransactionsProcessed = uint64(txs)
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	if errMsg.Valid {
		cp.ErrorMessage = &errMsg.String
	}
	return &cp, nil
}

func (p *PostgresConnector) GetCheckpoint(ctx context.Context, network string) (*common.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE network = $1`
	cp, err := scanCheckpoint(p.db.QueryRowContext(ctx, query, network))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("error reading checkpoint for %s: %w", network, err)
	}
	return cp, nil
}

// AdvanceCheckpoint upserts the checkpoint row. The WHERE clause on the conflict
// branch makes the monotonicity check and the write one atomic statement; when
// it filters the update out no row is returned and the advance is stale.
func (p *PostgresConnector) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) (*common.Checkpoint, error) {
	if !adv.Status.Valid() {
		return nil, fmt.Errorf("invalid sync status %q", adv.Status)
	}
	query := `INSERT INTO checkpoints (network, chain_id, last_processed_height, sync_status, error_message,
	              blocks_per_second, total_blocks_processed, total_transactions_processed, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	          ON CONFLICT (network) DO UPDATE SET
	              chain_id = CASE WHEN EXCLUDED.chain_id = '' THEN checkpoints.chain_id ELSE EXCLUDED.chain_id END,
	              last_processed_height = EXCLUDED.last_processed_height,
	              sync_status = EXCLUDED.sync_status,
	              error_message = EXCLUDED.error_message,
	              blocks_per_second = EXCLUDED.blocks_per_second,
	              total_blocks_processed = checkpoints.total_blocks_processed + EXCLUDED.total_blocks_processed,
	              total_transactions_processed = checkpoints.total_transactions_processed + EXCLUDED.total_transactions_processed,
	              updated_at = NOW()
	          WHERE checkpoints.last_processed_height <= EXCLUDED.last_processed_height
	          RETURNING ` + checkpointColumns

	var errMsg sql.NullString
	if adv.ErrorMessage != nil {
		errMsg = sql.NullString{String: *adv.ErrorMessage, Valid: true}
	}
	cp, err := scanCheckpoint(p.db.QueryRowContext(ctx, query,
		adv.Network, adv.ChainID, int64(adv.Height), string(adv.Status), errMsg,
		adv.BlocksPerSecond, int64(adv.BlocksProcessed), int64(adv.TransactionsProcessed)))
	if err == nil {
		return cp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("error advancing checkpoint for %s: %w", adv.Network, err)
	}

	current, getErr := p.GetCheckpoint(ctx, adv.Network)
	if getErr != nil {
		return nil, fmt.Errorf("checkpoint advance for %s was rejected: %w", adv.Network, getErr)
	}
	return nil, &common.StaleAdvanceError{Network: adv.Network, Current: current.LastProcessedHeight, Height: adv.Height}
}

func (p *PostgresConnector) ListCheckpoints(ctx context.Context) ([]common.CheckpointSnapshot, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints ORDER BY network`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close rows in ListCheckpoints")
		}
	}()

	snaps := make([]common.CheckpointSnapshot, 0)
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning checkpoint: %w", err)
		}
		snaps = append(snaps, cp.Snapshot())
	}
	return snaps, rows.Err()
}

// Extent Store Implementation

const extentColumns = `network, from_height, to_height, object_key, checksum, size_bytes,
	block_count, max_block_timestamp, reclaimed, migrated_at`

func scanExtent(row interface{ Scan(...any) error }) (*common.ExtentRecord, error) {
	var rec common.ExtentRecord
	var from, to, blocks int64
	if err := row.Scan(&rec.Network, &from, &to, &rec.Key, &rec.Checksum, &rec.Size,
		&blocks, &rec.MaxTimestamp, &rec.Reclaimed, &rec.MigratedAt); err != nil {
		return nil, err
	}
	rec.From = uint64(from)
	rec.To = uint64(to)
	rec.Blocks = uint64(blocks)
	rec.MaxTimestamp = rec.MaxTimestamp.UTC()
	rec.MigratedAt = rec.MigratedAt.UTC()
	return &rec, nil
}

func (p *PostgresConnector) ListExtents(ctx context.Context, network string) ([]common.ExtentRecord, error) {
	query := `SELECT ` + extentColumns + ` FROM tier_extents WHERE network = $1 ORDER BY from_height`
	rows, err := p.db.QueryContext(ctx, query, network)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close rows in ListExtents")
		}
	}()

	recs := make([]common.ExtentRecord, 0)
	for rows.Next() {
		rec, err := scanExtent(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning extent: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (p *PostgresConnector) GetExtent(ctx context.Context, network string, from uint64) (*common.ExtentRecord, error) {
	query := `SELECT ` + extentColumns + ` FROM tier_extents WHERE network = $1 AND from_height = $2`
	rec, err := scanExtent(p.db.QueryRowContext(ctx, query, network, int64(from)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

func (p *PostgresConnector) MarkCold(ctx context.Context, rec common.ExtentRecord) error {
	query := `INSERT INTO tier_extents (` + extentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (network, from_height) DO UPDATE SET
	              to_height = EXCLUDED.to_height,
	              object_key = EXCLUDED.object_key,
	              checksum = EXCLUDED.checksum,
	              size_bytes = EXCLUDED.size_bytes,
	              block_count = EXCLUDED.block_count,
	              max_block_timestamp = EXCLUDED.max_block_timestamp,
	              reclaimed = EXCLUDED.reclaimed,
	              migrated_at = EXCLUDED.migrated_at`
	_, err := p.db.ExecContext(ctx, query, rec.Network, int64(rec.From), int64(rec.To), rec.Key, rec.Checksum,
		rec.Size, int64(rec.Blocks), rec.MaxTimestamp, rec.Reclaimed, rec.MigratedAt)
	return err
}

func (p *PostgresConnector) MarkReclaimed(ctx context.Context, network string, from uint64) error {
	query := `UPDATE tier_extents SET reclaimed = TRUE WHERE network = $1 AND from_height = $2`
	res, err := p.db.ExecContext(ctx, query, network, int64(from))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("extent %s[%d] is not marked cold", network, from)
	}
	return nil
}

func (p *PostgresConnector) DeleteExtent(ctx context.Context, network string, from uint64) error {
	query := `DELETE FROM tier_extents WHERE network = $1 AND from_height = $2`
	_, err := p.db.ExecContext(ctx, query, network, int64(from))
	return err
}

// Close closes the database connection
func (p *PostgresConnector) Close() error {
	return p.db.Close()
}
