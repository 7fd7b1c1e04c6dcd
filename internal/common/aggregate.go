package common

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"
)

type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
)

var Granularities = []Granularity{GranularityHour, GranularityDay}

func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Truncate returns the start of the bucket containing t, in UTC
func (g Granularity) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(g.Duration())
}

func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityHour, GranularityDay:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("unknown granularity %q", s)
}

type Aggregate struct {
	Network                string       `json:"network"`
	Granularity            Granularity  `json:"granularity"`
	BucketStart            time.Time    `json:"bucket_start"`
	BlockCount             uint64       `json:"block_count"`
	TransactionCount       uint64       `json:"transaction_count"`
	FailedTransactionCount uint64       `json:"failed_transaction_count"`
	EventCount             uint64       `json:"event_count"`
	Volume                 *uint256.Int `json:"volume"`
	TotalFees              *uint256.Int `json:"total_fees"`
	ActiveAddresses        uint64       `json:"active_addresses"`
	AvgGasUsed             float64      `json:"avg_gas_used"`
	FirstHeight            uint64       `json:"first_height"`
	LastHeight             uint64       `json:"last_height"`
	Closed                 bool         `json:"closed"`
	ComputedAt             time.Time    `json:"computed_at"`
}

func (a *Aggregate) BucketEnd() time.Time {
	return a.BucketStart.Add(a.Granularity.Duration())
}

// SameMetrics reports whether two aggregates carry identical computed values,
// ignoring bookkeeping fields.
func (a *Aggregate) SameMetrics(b *Aggregate) bool {
	return a.Network == b.Network &&
		a.Granularity == b.Granularity &&
		a.BucketStart.Equal(b.BucketStart) &&
		a.BlockCount == b.BlockCount &&
		a.TransactionCount == b.TransactionCount &&
		a.FailedTransactionCount == b.FailedTransactionCount &&
		a.EventCount == b.EventCount &&
		uintEq(a.Volume, b.Volume) &&
		uintEq(a.TotalFees, b.TotalFees) &&
		a.ActiveAddresses == b.ActiveAddresses &&
		a.AvgGasUsed == b.AvgGasUsed &&
		a.FirstHeight == b.FirstHeight &&
		a.LastHeight == b.LastHeight
}

func uintEq(a, b *uint256.Int) bool {
	if a == nil || b == nil {
		return (a == nil || a.IsZero()) && (b == nil || b.IsZero())
	}
	return a.Eq(b)
}

type AggregateQuery struct {
	Network     string
	Granularity Granularity
	From        time.Time
	To          time.Time
	Limit       int
}
