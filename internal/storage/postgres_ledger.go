package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// postgres caps a statement at 65535 bind parameters
const maxPostgresParams = 65535

// Ledger Store Implementation

func (p *PostgresConnector) WriteBatch(ctx context.Context, network string, batch []common.BlockData) error {
	if len(batch) == 0 {
		return nil
	}
	if err := validateBatch(network, batch); err != nil {
		return err
	}
	if err := p.inTx(ctx, func(tx *sql.Tx) error {
		return writeBlockData(ctx, tx, network, batch)
	}); err != nil {
		return batchWriteFailure(network, batch, err)
	}
	return nil
}

func writeBlockData(ctx context.Context, tx *sql.Tx, network string, batch []common.BlockData) error {
	blocks := make([]common.Block, 0, len(batch))
	var txs []common.Transaction
	var events []common.Event
	for _, bd := range batch {
		blocks = append(blocks, bd.Block)
		txs = append(txs, bd.Transactions...)
		events = append(events, bd.Events...)
	}

	if err := upsertBlocks(ctx, tx, network, blocks); err != nil {
		return err
	}
	if err := upsertTransactions(ctx, tx, dedupeTransactions(txs)); err != nil {
		return err
	}
	return upsertEvents(ctx, tx, events)
}

// dedupeTransactions keeps the last occurrence of each hash; one INSERT cannot
// update the same conflicting row twice.
func dedupeTransactions(txs []common.Transaction) []common.Transaction {
	seen := make(map[string]int, len(txs))
	out := make([]common.Transaction, 0, len(txs))
	for _, t := range txs {
		if i, ok := seen[t.Hash]; ok {
			out[i] = t
			continue
		}
		seen[t.Hash] = len(out)
		out = append(out, t)
	}
	return out
}

func (p *PostgresConnector) UpsertBlock(ctx context.Context, network string, block common.Block) error {
	block.Network = network
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return upsertBlocks(ctx, tx, network, []common.Block{block})
	})
}

func (p *PostgresConnector) UpsertTransactions(ctx context.Context, network string, height uint64, txs []common.Transaction) error {
	rows := make([]common.Transaction, len(txs))
	for i, t := range txs {
		t.Network = network
		t.BlockHeight = height
		rows[i] = t
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return upsertTransactions(ctx, tx, rows)
	})
}

func (p *PostgresConnector) UpsertEvents(ctx context.Context, network string, height uint64, events []common.Event) error {
	rows := make([]common.Event, len(events))
	for i, ev := range events {
		ev.Network = network
		ev.BlockHeight = height
		rows[i] = ev
	}
	return p.inTx(ctx, func(tx *sql.Tx) error {
		return upsertEvents(ctx, tx, rows)
	})
}

func (p *PostgresConnector) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("Failed to roll back ledger transaction")
		}
		return err
	}
	return tx.Commit()
}

// upsertBlocks locks the existing rows at the incoming heights, drops the
// children of every height whose hash changed, then upserts the blocks.
func upsertBlocks(ctx context.Context, tx *sql.Tx, network string, blocks []common.Block) error {
	heights := make([]int64, len(blocks))
	for i, b := range blocks {
		heights[i] = int64(b.Height)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT height, hash FROM blocks WHERE network = $1 AND height = ANY($2) FOR UPDATE`,
		network, pq.Array(heights))
	if err != nil {
		return fmt.Errorf("error locking blocks: %w", err)
	}
	existing := make(map[uint64]string, len(blocks))
	for rows.Next() {
		var h int64
		var hash string
		if err := rows.Scan(&h, &hash); err != nil {
			rows.Close()
			return err
		}
		existing[uint64(h)] = hash
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	var replaced []int64
	for _, b := range blocks {
		if prev, ok := existing[b.Height]; ok && prev != b.Hash {
			replaced = append(replaced, int64(b.Height))
		}
	}
	if len(replaced) > 0 {
		log.Debug().Str("network", network).Msgf("Replacing %d reorged blocks and their rows", len(replaced))
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE network = $1 AND block_height = ANY($2)`, network, pq.Array(replaced)); err != nil {
			return fmt.Errorf("error deleting replaced events: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE network = $1 AND block_height = ANY($2)`, network, pq.Array(replaced)); err != nil {
			return fmt.Errorf("error deleting replaced transactions: %w", err)
		}
	}

	values := make([][]interface{}, 0, len(blocks))
	for _, b := range blocks {
		ext, err := common.MarshalBlockExt(b.Ext)
		if err != nil {
			return err
		}
		values = append(values, []interface{}{
			network, int64(b.Height), b.Hash, b.ParentHash, b.Timestamp.UTC(),
			int64(b.TransactionCount), int64(b.EventCount), nullableJSON(ext),
		})
	}
	return multiInsert(ctx, tx,
		`INSERT INTO blocks (network, height, hash, parent_hash, block_timestamp, transaction_count, event_count, ext) VALUES `,
		` ON CONFLICT (network, height) DO UPDATE SET
		      hash = EXCLUDED.hash,
		      parent_hash = EXCLUDED.parent_hash,
		      block_timestamp = EXCLUDED.block_timestamp,
		      transaction_count = EXCLUDED.transaction_count,
		      event_count = EXCLUDED.event_count,
		      ext = EXCLUDED.ext`,
		values)
}

func upsertTransactions(ctx context.Context, tx *sql.Tx, txs []common.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(txs))
	for _, t := range txs {
		values = append(values, []interface{}{
			t.Network, t.Hash, int64(t.BlockHeight), int64(t.Index), t.From, t.To,
			numeric(t.Value), numeric(t.Fee), int64(t.GasUsed), int64(t.GasLimit), numeric(t.GasPrice),
			t.Success, int64(t.ResultCode), t.Method,
		})
	}
	return multiInsert(ctx, tx,
		`INSERT INTO transactions (network, hash, block_height, tx_index, from_address, to_address,
		     value, fee, gas_used, gas_limit, gas_price, success, result_code, method) VALUES `,
		` ON CONFLICT (network, hash) DO UPDATE SET
		      block_height = EXCLUDED.block_height,
		      tx_index = EXCLUDED.tx_index,
		      from_address = EXCLUDED.from_address,
		      to_address = EXCLUDED.to_address,
		      value = EXCLUDED.value,
		      fee = EXCLUDED.fee,
		      gas_used = EXCLUDED.gas_used,
		      gas_limit = EXCLUDED.gas_limit,
		      gas_price = EXCLUDED.gas_price,
		      success = EXCLUDED.success,
		      result_code = EXCLUDED.result_code,
		      method = EXCLUDED.method`,
		values)
}

func upsertEvents(ctx context.Context, tx *sql.Tx, events []common.Event) error {
	if len(events) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(events))
	for _, ev := range events {
		values = append(values, []interface{}{
			ev.Network, int64(ev.BlockHeight), int64(ev.Index), ev.TxHash, ev.Source, ev.Name,
			pq.Array(ev.Topics), ev.Data,
		})
	}
	return multiInsert(ctx, tx,
		`INSERT INTO events (network, block_height, event_index, tx_hash, source, name, topics, data) VALUES `,
		` ON CONFLICT (network, block_height, event_index) DO UPDATE SET
		      tx_hash = EXCLUDED.tx_hash,
		      source = EXCLUDED.source,
		      name = EXCLUDED.name,
		      topics = EXCLUDED.topics,
		      data = EXCLUDED.data`,
		values)
}

// multiInsert writes rows as multi-row INSERT statements, split so that no
// statement exceeds the bind parameter limit.
func multiInsert(ctx context.Context, tx *sql.Tx, prefix string, suffix string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	perStatement := maxPostgresParams / cols

	for start := 0; start < len(rows); start += perStatement {
		end := start + perStatement
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		valueStrings := make([]string, 0, len(chunk))
		valueArgs := make([]interface{}, 0, len(chunk)*cols)
		for i, row := range chunk {
			placeholders := make([]string, cols)
			for c := range row {
				placeholders[c] = fmt.Sprintf("$%d", i*cols+c+1)
			}
			valueStrings = append(valueStrings, "("+strings.Join(placeholders, ", ")+")")
			valueArgs = append(valueArgs, row...)
		}

		query := prefix + strings.Join(valueStrings, ",") + suffix
		if _, err := tx.ExecContext(ctx, query, valueArgs...); err != nil {
			return err
		}
	}
	return nil
}

func numeric(v *uint256.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.Dec()
}

func parseNumeric(s sql.NullString) (*uint256.Int, error) {
	if !s.Valid {
		return nil, nil
	}
	return uint256.FromDecimal(s.String)
}

func nullableJSON(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}

func (p *PostgresConnector) GetBlockHashes(ctx context.Context, network string, from, to uint64) (map[uint64]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT height, hash FROM blocks WHERE network = $1 AND height BETWEEN $2 AND $3`,
		network, int64(from), int64(to))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close rows in GetBlockHashes")
		}
	}()

	hashes := make(map[uint64]string)
	for rows.Next() {
		var h int64
		var hash string
		if err := rows.Scan(&h, &hash); err != nil {
			return nil, err
		}
		hashes[uint64(h)] = hash
	}
	return hashes, rows.Err()
}

func (p *PostgresConnector) GetBlockRange(ctx context.Context, network string, from, to uint64) ([]common.BlockData, error) {
	return p.readBlockData(ctx, network,
		`network = $1 AND height BETWEEN $2 AND $3`, network, int64(from), int64(to))
}

func (p *PostgresConnector) GetBlocksByTime(ctx context.Context, network string, start, end time.Time) ([]common.BlockData, error) {
	return p.readBlockData(ctx, network,
		`network = $1 AND block_timestamp >= $2 AND block_timestamp < $3`, network, start.UTC(), end.UTC())
}

// readBlockData loads the blocks matching where, then their transactions and
// events, in one read-only snapshot.
func (p *PostgresConnector) readBlockData(ctx context.Context, network string, where string, args ...interface{}) ([]common.BlockData, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	blocks, err := queryBlocks(ctx, tx, where, args...)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	byHeight := make(map[uint64]*common.BlockData, len(blocks))
	heights := make([]int64, 0, len(blocks))
	out := make([]common.BlockData, len(blocks))
	for i, b := range blocks {
		out[i].Block = b
		byHeight[b.Height] = &out[i]
		heights = append(heights, int64(b.Height))
	}

	txs, err := queryTransactions(ctx, tx, network, heights)
	if err != nil {
		return nil, err
	}
	for _, t := range txs {
		if bd, ok := byHeight[t.BlockHeight]; ok {
			bd.Transactions = append(bd.Transactions, t)
		}
	}

	events, err := queryEvents(ctx, tx, network, heights)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if bd, ok := byHeight[ev.BlockHeight]; ok {
			bd.Events = append(bd.Events, ev)
		}
	}
	return out, nil
}

func queryBlocks(ctx context.Context, tx *sql.Tx, where string, args ...interface{}) ([]common.Block, error) {
	query := `SELECT network, height, hash, parent_hash, block_timestamp, transaction_count, event_count, ext
	          FROM blocks WHERE ` + where + ` ORDER BY height ASC`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []common.Block
	for rows.Next() {
		var b common.Block
		var height, txCount, evCount int64
		var ext []byte
		if err := rows.Scan(&b.Network, &height, &b.Hash, &b.ParentHash, &b.Timestamp, &txCount, &evCount, &ext); err != nil {
			return nil, fmt.Errorf("error scanning block: %w", err)
		}
		b.Height = uint64(height)
		b.TransactionCount = uint64(txCount)
		b.EventCount = uint64(evCount)
		b.Timestamp = b.Timestamp.UTC()
		if b.Ext, err = common.UnmarshalBlockExt(ext); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func queryTransactions(ctx context.Context, tx *sql.Tx, network string, heights []int64) ([]common.Transaction, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT network, hash, block_height, tx_index, from_address, to_address, value, fee,
		        gas_used, gas_limit, gas_price, success, result_code, method
		 FROM transactions WHERE network = $1 AND block_height = ANY($2)
		 ORDER BY block_height ASC, tx_index ASC`,
		network, pq.Array(heights))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []common.Transaction
	for rows.Next() {
		var t common.Transaction
		var height, index, gasUsed, gasLimit, resultCode int64
		var value, fee, gasPrice sql.NullString
		if err := rows.Scan(&t.Network, &t.Hash, &height, &index, &t.From, &t.To, &value, &fee,
			&gasUsed, &gasLimit, &gasPrice, &t.Success, &resultCode, &t.Method); err != nil {
			return nil, fmt.Errorf("error scanning transaction: %w", err)
		}
		t.BlockHeight = uint64(height)
		t.Index = uint64(index)
		t.GasUsed = uint64(gasUsed)
		t.GasLimit = uint64(gasLimit)
		t.ResultCode = uint32(resultCode)
		if t.Value, err = parseNumeric(value); err != nil {
			return nil, err
		}
		if t.Fee, err = parseNumeric(fee); err != nil {
			return nil, err
		}
		if t.GasPrice, err = parseNumeric(gasPrice); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func queryEvents(ctx context.Context, tx *sql.Tx, network string, heights []int64) ([]common.Event, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT network, block_height, event_index, tx_hash, source, name, topics, data
		 FROM events WHERE network = $1 AND block_height = ANY($2)
		 ORDER BY block_height ASC, event_index ASC`,
		network, pq.Array(heights))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []common.Event
	for rows.Next() {
		var ev common.Event
		var height, index int64
		var topics []string
		if err := rows.Scan(&ev.Network, &height, &index, &ev.TxHash, &ev.Source, &ev.Name, pq.Array(&topics), &ev.Data); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}
		ev.BlockHeight = uint64(height)
		ev.Index = uint64(index)
		if len(topics) > 0 {
			ev.Topics = topics
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *PostgresConnector) CountBlocks(ctx context.Context, network string, from, to uint64) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE network = $1 AND height BETWEEN $2 AND $3`,
		network, int64(from), int64(to)).Scan(&n)
	return n, err
}

func (p *PostgresConnector) MinHeight(ctx context.Context, network string) (uint64, bool, error) {
	var height sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT MIN(height) FROM blocks WHERE network = $1`, network).Scan(&height)
	if err != nil || !height.Valid {
		return 0, false, err
	}
	return uint64(height.Int64), true, nil
}

func (p *PostgresConnector) MaxHeightBefore(ctx context.Context, network string, t time.Time) (uint64, bool, error) {
	var height sql.NullInt64
	err := p.db.QueryRowContext(ctx,
		`SELECT MAX(height) FROM blocks WHERE network = $1 AND block_timestamp < $2`,
		network, t.UTC()).Scan(&height)
	if err != nil || !height.Valid {
		return 0, false, err
	}
	return uint64(height.Int64), true, nil
}

// DeleteRange removes a height range child rows first, in one transaction
func (p *PostgresConnector) DeleteRange(ctx context.Context, network string, from, to uint64) (common.DeleteStats, error) {
	return p.deleteBlocks(ctx,
		`e.network = $1 AND e.block_height BETWEEN $2 AND $3`,
		`t.network = $1 AND t.block_height BETWEEN $2 AND $3`,
		`network = $1 AND height BETWEEN $2 AND $3`,
		network, int64(from), int64(to))
}

func (p *PostgresConnector) DeleteBefore(ctx context.Context, network string, cutoff time.Time) (common.DeleteStats, error) {
	return p.deleteBlocks(ctx,
		`e.network = $1 AND e.block_height IN (SELECT height FROM blocks WHERE network = $1 AND block_timestamp < $2)`,
		`t.network = $1 AND t.block_height IN (SELECT height FROM blocks WHERE network = $1 AND block_timestamp < $2)`,
		`network = $1 AND block_timestamp < $2`,
		network, cutoff.UTC())
}

func (p *PostgresConnector) deleteBlocks(ctx context.Context, eventsWhere, txsWhere, blocksWhere string, args ...interface{}) (common.DeleteStats, error) {
	var stats common.DeleteStats
	err := p.inTx(ctx, func(tx *sql.Tx) error {
		steps := []struct {
			query string
			count *int64
		}{
			{`DELETE FROM events e WHERE ` + eventsWhere, &stats.Events},
			{`DELETE FROM transactions t WHERE ` + txsWhere, &stats.Transactions},
			{`DELETE FROM blocks WHERE ` + blocksWhere, &stats.Blocks},
		}
		for _, step := range steps {
			res, err := tx.ExecContext(ctx, step.query, args...)
			if err != nil {
				return err
			}
			if *step.count, err = res.RowsAffected(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return common.DeleteStats{}, err
	}
	return stats, nil
}

