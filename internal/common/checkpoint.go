package common

import (
	"time"
)

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusIdle, SyncStatusSyncing, SyncStatusError:
		return true
	}
	return false
}

type Checkpoint struct {
	Network                    string     `json:"network"`
	ChainID                    string     `json:"chain_id"`
	LastProcessedHeight        uint64     `json:"last_processed_height"`
	SyncStatus                 SyncStatus `json:"sync_status"`
	ErrorMessage               *string    `json:"error_message"`
	BlocksPerSecond            float64    `json:"blocks_per_second"`
	TotalBlocksProcessed       uint64     `json:"total_blocks_processed"`
	TotalTransactionsProcessed uint64     `json:"total_transactions_processed"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

// CheckpointAdvance is a request to move a checkpoint. Height may equal the
// current height (status-only update) but never be lower.
type CheckpointAdvance struct {
	Network               string
	ChainID               string
	Height                uint64
	Status                SyncStatus
	BlocksPerSecond       float64
	ErrorMessage          *string
	BlocksProcessed       uint64
	TransactionsProcessed uint64
}

// CheckpointSnapshot is the read-only view handed to operational tooling
type CheckpointSnapshot struct {
	Network             string     `json:"network"`
	ChainID             string     `json:"chain_id"`
	SyncStatus          SyncStatus `json:"sync_status"`
	LastProcessedHeight uint64     `json:"last_processed_height"`
	BlocksPerSecond     float64    `json:"blocks_per_second"`
	ErrorMessage        *string    `json:"error_message"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (c *Checkpoint) Snapshot() CheckpointSnapshot {
	snap := CheckpointSnapshot{
		Network:             c.Network,
		ChainID:             c.ChainID,
		SyncStatus:          c.SyncStatus,
		LastProcessedHeight: c.LastProcessedHeight,
		BlocksPerSecond:     c.BlocksPerSecond,
		UpdatedAt:           c.UpdatedAt,
	}
	if c.ErrorMessage != nil {
		msg := *c.ErrorMessage
		snap.ErrorMessage = &msg
	}
	return snap
}

// Apply merges an advance into the checkpoint. The caller is responsible for
// rejecting stale advances before calling it.
func (c *Checkpoint) Apply(adv CheckpointAdvance, now time.Time) {
	c.Network = adv.Network
	if adv.ChainID != "" {
		c.ChainID = adv.ChainID
	}
	c.LastProcessedHeight = adv.Height
	c.SyncStatus = adv.Status
	c.ErrorMessage = adv.ErrorMessage
	c.BlocksPerSecond = adv.BlocksPerSecond
	c.TotalBlocksProcessed += adv.BlocksProcessed
	c.TotalTransactionsProcessed += adv.TransactionsProcessed
	c.UpdatedAt = now
}

func StringPtr(s string) *string {
	return &s
}
