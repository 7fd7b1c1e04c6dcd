package common

import (
	"time"
)

type Block struct {
	Network          string
	Height           uint64
	Hash             string
	ParentHash       string
	Timestamp        time.Time
	TransactionCount uint64
	EventCount       uint64
	Ext              BlockExt
}

// BlockData is the unit of ingestion: a block with every row it owns. It is
// committed to the ledger as a whole or not at all.
type BlockData struct {
	Block        Block
	Transactions []Transaction
	Events       []Event
}

// Heights returns the heights of a batch in input order
func Heights(batch []BlockData) []uint64 {
	heights := make([]uint64, 0, len(batch))
	for _, bd := range batch {
		heights = append(heights, bd.Block.Height)
	}
	return heights
}

// CountTransactions sums the transactions of a batch
func CountTransactions(batch []BlockData) uint64 {
	var n uint64
	for _, bd := range batch {
		n += uint64(len(bd.Transactions))
	}
	return n
}

// Normalize stamps the network on every row and derives the block counters from
// the owned rows so that re-ingesting identical payloads yields identical rows.
func (bd *BlockData) Normalize(network string) {
	bd.Block.Network = network
	bd.Block.TransactionCount = uint64(len(bd.Transactions))
	bd.Block.EventCount = uint64(len(bd.Events))
	bd.Block.Timestamp = bd.Block.Timestamp.UTC()
	for i := range bd.Transactions {
		bd.Transactions[i].Network = network
		bd.Transactions[i].BlockHeight = bd.Block.Height
	}
	for i := range bd.Events {
		bd.Events[i].Network = network
		bd.Events[i].BlockHeight = bd.Block.Height
	}
}
