package tiering

import (
	"context"
	"fmt"

	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

// Reader serves the rows of cold extents back to readers of the ledger
type Reader struct {
	extents storage.IExtentStore
	cold    storage.IColdStore
}

func NewReader(store storage.IStorage) *Reader {
	return &Reader{extents: store.Extents, cold: store.Cold}
}

// ReclaimedExtents lists the extents of a network whose hot rows are gone, in height order
func (r *Reader) ReclaimedExtents(ctx context.Context, network string) ([]common.ExtentRecord, error) {
	records, err := r.extents.ListExtents(ctx, network)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.Reclaimed {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ReadExtent returns the verified cold content of the extent starting at from
func (r *Reader) ReadExtent(ctx context.Context, network string, from uint64) ([]common.BlockData, error) {
	rec, err := r.extents.GetExtent(ctx, network, from)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("extent %s[%d] is not cold: %w", network, from, common.ErrObjectNotFound)
	}
	data, err := r.cold.Get(ctx, rec.Key)
	if err != nil {
		return nil, err
	}
	if actual := Checksum(data); actual != rec.Checksum {
		return nil, &common.MigrationVerificationError{Extent: rec.Extent(), Expected: rec.Checksum, Actual: actual}
	}
	return Decode(data)
}
