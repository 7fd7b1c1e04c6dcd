package source

import (
	"context"
	"fmt"
	"time"

	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/rpc"
)

// ISource is a network's data source. Implementations return typed source
// errors: TransientSourceError, PermanentSourceError and HeightNotFoundError.
type ISource interface {
	Network() string
	Family() common.Family
	// GetHead returns the latest height the source knows
	GetHead(ctx context.Context) (uint64, error)
	// GetBlockRange returns [from, to] in height order, every block with its
	// transactions and events
	GetBlockRange(ctx context.Context, from, to uint64) ([]common.BlockData, error)
	// GetBlockHashes returns the canonical hash of every height in [from, to]
	GetBlockHashes(ctx context.Context, from, to uint64) (map[uint64]string, error)
	Close()
}

// New dials the network's RPC endpoint and returns the source for its family
func New(ctx context.Context, cfg config.NetworkConfig) (ISource, error) {
	client, err := rpc.Dial(ctx, cfg.RPCURL, cfg.MaxConcurrentRequests)
	if err != nil {
		return nil, rpc.Classify("dial", err)
	}

	switch cfg.Family {
	case config.FamilyEthereum, config.FamilyL2:
		return NewEVMSource(client, cfg), nil
	case config.FamilyCosmos:
		return NewCosmosSource(client, cfg), nil
	case config.FamilyPolkadot:
		return NewPolkadotSource(client, cfg), nil
	}
	client.Close()
	return nil, &common.PermanentSourceError{Op: "dial", Err: fmt.Errorf("unsupported network family %q", cfg.Family)}
}

func heightRange(from, to uint64) []uint64 {
	if to < from {
		return nil
	}
	heights := make([]uint64, 0, to-from+1)
	for h := from; h <= to; h++ {
		heights = append(heights, h)
	}
	return heights
}

func unixSeconds(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}
