package tiering

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// ColdBlockRow is one block of an extent as stored in the cold tier. Owned
// rows and the family extension are kept as JSON documents.
type ColdBlockRow struct {
	Network          string `parquet:"network"`
	Height           uint64 `parquet:"height"`
	Hash             string `parquet:"hash"`
	ParentHash       string `parquet:"parent_hash"`
	Timestamp        int64  `parquet:"timestamp_ns"`
	TransactionCount uint64 `parquet:"transaction_count"`
	EventCount       uint64 `parquet:"event_count"`
	Ext              []byte `parquet:"ext_json"`
	Transactions     []byte `parquet:"transactions_json"`
	Events           []byte `parquet:"events_json"`
}

var writerOptions = []parquet.WriterOption{
	parquet.Compression(&parquet.Zstd),
	parquet.DataPageStatistics(true),
	parquet.SortingWriterConfig(
		parquet.SortingColumns(
			parquet.Ascending("height"),
		),
	),
}

func Encode(batch []common.BlockData) ([]byte, error) {
	rows := make([]ColdBlockRow, 0, len(batch))
	for _, bd := range batch {
		ext, err := common.MarshalBlockExt(bd.Block.Ext)
		if err != nil {
			return nil, err
		}
		txJSON, err := json.Marshal(bd.Transactions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transactions of block %d: %w", bd.Block.Height, err)
		}
		eventsJSON, err := json.Marshal(bd.Events)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal events of block %d: %w", bd.Block.Height, err)
		}
		rows = append(rows, ColdBlockRow{
			Network:          bd.Block.Network,
			Height:           bd.Block.Height,
			Hash:             bd.Block.Hash,
			ParentHash:       bd.Block.ParentHash,
			Timestamp:        bd.Block.Timestamp.UnixNano(),
			TransactionCount: bd.Block.TransactionCount,
			EventCount:       bd.Block.EventCount,
			Ext:              ext,
			Transactions:     txJSON,
			Events:           eventsJSON,
		})
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[ColdBlockRow](&buf, writerOptions...)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write parquet data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) ([]common.BlockData, error) {
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet data: %w", err)
	}
	reader := parquet.NewGenericReader[ColdBlockRow](file)
	defer reader.Close()

	out := make([]common.BlockData, 0, int(reader.NumRows()))
	rows := make([]ColdBlockRow, 100)
	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			bd, decodeErr := decodeRow(row)
			if decodeErr != nil {
				return nil, decodeErr
			}
			out = append(out, bd)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read parquet: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

func decodeRow(row ColdBlockRow) (common.BlockData, error) {
	ext, err := common.UnmarshalBlockExt(row.Ext)
	if err != nil {
		return common.BlockData{}, fmt.Errorf("block %d: %w", row.Height, err)
	}
	bd := common.BlockData{
		Block: common.Block{
			Network:          row.Network,
			Height:           row.Height,
			Hash:             row.Hash,
			ParentHash:       row.ParentHash,
			Timestamp:        time.Unix(0, row.Timestamp).UTC(),
			TransactionCount: row.TransactionCount,
			EventCount:       row.EventCount,
			Ext:              ext,
		},
	}
	if err := json.Unmarshal(row.Transactions, &bd.Transactions); err != nil {
		return common.BlockData{}, fmt.Errorf("failed to unmarshal transactions of block %d: %w", row.Height, err)
	}
	if err := json.Unmarshal(row.Events, &bd.Events); err != nil {
		return common.BlockData{}, fmt.Errorf("failed to unmarshal events of block %d: %w", row.Height, err)
	}
	return bd, nil
}

func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sameContent compares what the hot tier holds with a decoded cold copy
func sameContent(hot, cold []common.BlockData) error {
	if len(hot) != len(cold) {
		return fmt.Errorf("cold copy has %d blocks, hot tier %d", len(cold), len(hot))
	}
	for i := range hot {
		h, c := hot[i], cold[i]
		if h.Block.Height != c.Block.Height || h.Block.Hash != c.Block.Hash || h.Block.ParentHash != c.Block.ParentHash {
			return fmt.Errorf("block %d differs", h.Block.Height)
		}
		if !h.Block.Timestamp.Equal(c.Block.Timestamp) {
			return fmt.Errorf("block %d timestamp differs", h.Block.Height)
		}
		if len(h.Transactions) != len(c.Transactions) || len(h.Events) != len(c.Events) {
			return fmt.Errorf("block %d row counts differ", h.Block.Height)
		}
		for j := range h.Transactions {
			if h.Transactions[j].Hash != c.Transactions[j].Hash {
				return fmt.Errorf("block %d transaction %d differs", h.Block.Height, j)
			}
		}
	}
	return nil
}
