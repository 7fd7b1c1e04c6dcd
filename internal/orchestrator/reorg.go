package orchestrator

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/metrics"
	"github.com/thirdweb-dev/ledgersync/internal/source"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

const DEFAULT_HASH_CACHE_SIZE = 1024

// a fork deeper than this many windows is left to an operator
const maxReorgWindows = 8

// ReorgVerifier compares the hashes of recently committed heights with the
// source and overwrites the heights that changed.
type ReorgVerifier struct {
	network string
	depth   uint64
	ledger  storage.ILedgerStore
	hashes  *lru.Cache[uint64, string]
	logger  zerolog.Logger
}

func NewReorgVerifier(network string, depth int, cacheSize int, ledger storage.ILedgerStore, logger zerolog.Logger) (*ReorgVerifier, error) {
	if depth <= 0 {
		depth = 1
	}
	if cacheSize <= 0 {
		cacheSize = DEFAULT_HASH_CACHE_SIZE
	}
	cacheSize = max(cacheSize, 2*depth)
	hashes, err := lru.New[uint64, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create hash cache: %w", err)
	}
	return &ReorgVerifier{
		network: network,
		depth:   uint64(depth),
		ledger:  ledger,
		hashes:  hashes,
		logger:  logger,
	}, nil
}

// Remember caches the hashes of committed blocks
func (v *ReorgVerifier) Remember(batch []common.BlockData) {
	for _, bd := range batch {
		v.hashes.Add(bd.Block.Height, bd.Block.Hash)
	}
}

func (v *ReorgVerifier) Forget() {
	v.hashes.Purge()
}

// StoredHash returns the committed hash at height. Heights that are not in the
// hot tier report false.
func (v *ReorgVerifier) StoredHash(ctx context.Context, height uint64) (string, bool, error) {
	hashes, err := v.storedHashes(ctx, height, height)
	if err != nil {
		return "", false, err
	}
	hash, ok := hashes[height]
	return hash, ok, nil
}

func (v *ReorgVerifier) storedHashes(ctx context.Context, from, to uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, to-from+1)
	missing := false
	for h := from; h <= to; h++ {
		hash, ok := v.hashes.Get(h)
		if !ok {
			missing = true
			break
		}
		out[h] = hash
	}
	if !missing {
		return out, nil
	}

	stored, err := v.ledger.GetBlockHashes(ctx, v.network, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored hashes %d-%d: %w", from, to, err)
	}
	for h, hash := range stored {
		v.hashes.Add(h, hash)
	}
	return stored, nil
}

// Check re-verifies the last depth heights up to tip and returns the lowest
// height whose stored hash differs from the source. When the whole window
// differs it walks further back, never below floor.
func (v *ReorgVerifier) Check(ctx context.Context, src source.ISource, floor, tip uint64) (*common.DataIntegrityError, error) {
	if tip < floor {
		return nil, nil
	}
	var lowest *common.DataIntegrityError
	hi := tip
	for window := 0; window < maxReorgWindows; window++ {
		lo := floor
		if hi-floor+1 > v.depth {
			lo = hi - v.depth + 1
		}

		stored, err := v.storedHashes(ctx, lo, hi)
		if err != nil {
			return nil, err
		}
		if len(stored) == 0 {
			return lowest, nil
		}
		reported, err := src.GetBlockHashes(ctx, lo, hi)
		if err != nil {
			return nil, err
		}

		var windowLowest *common.DataIntegrityError
		for h := hi; ; h-- {
			storedHash, ok := stored[h]
			if ok && reported[h] != storedHash {
				windowLowest = &common.DataIntegrityError{
					Network:      v.network,
					Height:       h,
					StoredHash:   storedHash,
					ReportedHash: reported[h],
				}
			} else if ok {
				break
			}
			if h == lo {
				break
			}
		}
		if windowLowest == nil {
			return lowest, nil
		}
		lowest = windowLowest
		if lowest.Height != lo || lo == floor {
			return lowest, nil
		}
		hi = lo - 1
	}
	v.logger.Error().Uint64("height", lowest.Height).Msgf("Fork is deeper than %d windows of %d heights", maxReorgWindows, v.depth)
	return lowest, nil
}

// Repair refetches [from, to] and overwrites the stored heights. The ledger
// drops the transactions and events of every height whose hash changed.
func (v *ReorgVerifier) Repair(ctx context.Context, src source.ISource, from, to uint64) error {
	batch, err := src.GetBlockRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("cannot fix reorg: failed to fetch %d-%d: %w", from, to, err)
	}
	if err := checkBatch(batch, from, to); err != nil {
		return err
	}
	if err := v.ledger.WriteBatch(ctx, v.network, batch); err != nil {
		return fmt.Errorf("cannot fix reorg: %w", err)
	}
	v.Remember(batch)
	metrics.ReorgsDetected.WithLabelValues(v.network).Add(float64(len(batch)))
	v.logger.Warn().Uint64("from", from).Uint64("to", to).Msg("Overwrote reorged heights")
	return nil
}

// checkBatch rejects a fetched range that has gaps or does not chain
func checkBatch(batch []common.BlockData, from, to uint64) error {
	if uint64(len(batch)) != to-from+1 {
		return &common.TransientSourceError{Op: "fetch", Err: fmt.Errorf("requested %d heights from %d, got %d", to-from+1, from, len(batch))}
	}
	for i, bd := range batch {
		if bd.Block.Height != from+uint64(i) {
			return &common.TransientSourceError{Op: "fetch", Err: fmt.Errorf("expected height %d, got %d", from+uint64(i), bd.Block.Height)}
		}
		if i > 0 && bd.Block.ParentHash != "" && bd.Block.ParentHash != batch[i-1].Block.Hash {
			return &common.TransientSourceError{Op: "fetch", Err: fmt.Errorf("block %d does not extend block %d", bd.Block.Height, batch[i-1].Block.Height)}
		}
	}
	return nil
}
