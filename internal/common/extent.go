package common

import (
	"fmt"
	"time"
)

// Extent is an aligned height range [From, To] of one network: the unit that
// moves between storage tiers.
type Extent struct {
	Network string
	From    uint64
	To      uint64
}

// ExtentFor returns the aligned extent of the given size that contains height
func ExtentFor(network string, height uint64, size uint64) Extent {
	from := height - height%size
	return Extent{Network: network, From: from, To: from + size - 1}
}

// Key is the content address of the extent in the cold tier
func (e Extent) Key() string {
	return fmt.Sprintf("network=%s/extent_%012d_%012d.parquet", e.Network, e.From, e.To)
}

func (e Extent) String() string {
	return fmt.Sprintf("%s[%d-%d]", e.Network, e.From, e.To)
}

// ExtentRecord marks an extent as cold. An extent with no record lives in the hot tier.
type ExtentRecord struct {
	Network      string    `json:"network"`
	From         uint64    `json:"from"`
	To           uint64    `json:"to"`
	Key          string    `json:"key"`
	Checksum     string    `json:"checksum"`
	Size         int64     `json:"size"`
	Blocks       uint64    `json:"blocks"`
	MaxTimestamp time.Time `json:"max_timestamp"`
	Reclaimed    bool      `json:"reclaimed"`
	MigratedAt   time.Time `json:"migrated_at"`
}

func (r *ExtentRecord) Extent() Extent {
	return Extent{Network: r.Network, From: r.From, To: r.To}
}

type DeleteStats struct {
	Events       int64
	Transactions int64
	Blocks       int64
}

func (s *DeleteStats) Add(o DeleteStats) {
	s.Events += o.Events
	s.Transactions += o.Transactions
	s.Blocks += o.Blocks
}
