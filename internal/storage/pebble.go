package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// PebbleColdStore is a local cold tier: extents are kept as single values in a
// pebble database on a high-capacity disk.
type PebbleColdStore struct {
	db *pebble.DB
}

func NewPebbleColdStore(cfg *config.PebbleConfig) (*PebbleColdStore, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), "ledgersync-cold")
	}

	cache := pebble.NewCache(64 << 20)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:        cache,
		MemTableSize: 64 << 20,
		Levels:       make([]pebble.LevelOptions, 7),
	}
	for i := range opts.Levels {
		// cold extents are written once and read rarely: favour ratio over speed
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:   256 << 10,
			Compression: pebble.ZstdCompression,
		}
		if i == 0 {
			opts.Levels[i].TargetFileSize = 64 << 20
		} else {
			opts.Levels[i].TargetFileSize = min(opts.Levels[i-1].TargetFileSize*2, 1<<30)
		}
	}

	// Disable Pebble's verbose logging
	opts.Logger = nil

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}
	return &PebbleColdStore{db: db}, nil
}

func coldDataKey(key string) []byte {
	return []byte("extent:" + key)
}

func coldChecksumKey(key string) []byte {
	return []byte("checksum:" + key)
}

func (ps *PebbleColdStore) Put(ctx context.Context, key string, data []byte, checksum string) error {
	batch := ps.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(coldDataKey(key), data, nil); err != nil {
		return err
	}
	if err := batch.Set(coldChecksumKey(key), []byte(checksum), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (ps *PebbleColdStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, closer, err := ps.db.Get(coldDataKey(key))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, common.ErrObjectNotFound
		}
		return nil, err
	}
	defer closer.Close()

	// the slice is only valid until closer is closed
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (ps *PebbleColdStore) Delete(ctx context.Context, key string) error {
	batch := ps.db.NewBatch()
	defer batch.Close()

	if err := batch.Delete(coldDataKey(key), nil); err != nil {
		return err
	}
	if err := batch.Delete(coldChecksumKey(key), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (ps *PebbleColdStore) Close() error {
	return ps.db.Close()
}
