package common

import (
	"errors"
	"fmt"
)

var (
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrNoNewBlocks        = errors.New("no new blocks to sync")
	ErrObjectNotFound     = errors.New("object not found")
)

// TransientSourceError is a retryable failure talking to a data source
// (timeouts, connection resets, 5xx).
type TransientSourceError struct {
	Op  string
	Err error
}

func (e *TransientSourceError) Error() string {
	return fmt.Sprintf("source unreachable during %s, retrying: %v", e.Op, e.Err)
}

func (e *TransientSourceError) Unwrap() error { return e.Err }

// PermanentSourceError needs an operator to change configuration (auth failures,
// invalid endpoints, wrong chain).
type PermanentSourceError struct {
	Op  string
	Err error
}

func (e *PermanentSourceError) Error() string {
	return fmt.Sprintf("source rejected %s, check network configuration: %v", e.Op, e.Err)
}

func (e *PermanentSourceError) Unwrap() error { return e.Err }

// HeightNotFoundError is returned when the source does not know a height yet
type HeightNotFoundError struct {
	Height uint64
}

func (e *HeightNotFoundError) Error() string {
	return fmt.Sprintf("height %d not found at source", e.Height)
}

// DataIntegrityError signals a hash mismatch between the ledger and the source
// at an already ingested height, i.e. a reorg.
type DataIntegrityError struct {
	Network      string
	Height       uint64
	StoredHash   string
	ReportedHash string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("hash mismatch for %s at height %d: stored %s, source reports %s", e.Network, e.Height, e.StoredHash, e.ReportedHash)
}

type StaleAdvanceError struct {
	Network string
	Current uint64
	Height  uint64
}

func (e *StaleAdvanceError) Error() string {
	return fmt.Sprintf("stale checkpoint advance for %s: height %d is below current %d", e.Network, e.Height, e.Current)
}

// WriteFailureError means a ledger batch was discarded as a whole
type WriteFailureError struct {
	Network string
	From    uint64
	To      uint64
	Err     error
}

func (e *WriteFailureError) Error() string {
	return fmt.Sprintf("failed to write %s heights %d-%d: %v", e.Network, e.From, e.To, e.Err)
}

func (e *WriteFailureError) Unwrap() error { return e.Err }

type MigrationVerificationError struct {
	Extent   Extent
	Expected string
	Actual   string
	Reason   string
}

func (e *MigrationVerificationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cold copy of %s failed verification: %s", e.Extent, e.Reason)
	}
	return fmt.Sprintf("cold copy of %s failed verification: checksum %s, expected %s", e.Extent, e.Actual, e.Expected)
}

func IsTransient(err error) bool {
	var t *TransientSourceError
	var h *HeightNotFoundError
	return errors.As(err, &t) || errors.As(err, &h)
}

func IsPermanent(err error) bool {
	var p *PermanentSourceError
	return errors.As(err, &p)
}
