package storage

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

const badgerConflictRetries = 5

// BadgerCheckpointStore keeps checkpoints in an embedded badger database, for
// deployments where the ledger lives elsewhere and no postgres is available.
type BadgerCheckpointStore struct {
	db       *badger.DB
	gcTicker *time.Ticker
	stopGC   chan struct{}
	now      func() time.Time
}

func NewBadgerCheckpointStore(cfg *config.BadgerConfig) (*BadgerCheckpointStore, error) {
	path := cfg.Path
	if path == "" {
		path = filepath.Join(os.TempDir(), "ledgersync-checkpoints")
	}
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true      // a checkpoint must be durable before the next batch is fetched
	opts.DetectConflicts = true // read-compare-write in AdvanceCheckpoint
	opts.NumVersionsToKeep = 1
	opts.Compression = options.Snappy
	opts.Logger = nil // Disable badger's internal logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	bs := &BadgerCheckpointStore{
		db:       db,
		stopGC:   make(chan struct{}),
		gcTicker: time.NewTicker(5 * time.Minute),
		now:      time.Now,
	}
	go bs.runGC()
	return bs, nil
}

func (bs *BadgerCheckpointStore) runGC() {
	for {
		select {
		case <-bs.gcTicker.C:
			err := bs.db.RunValueLogGC(0.5)
			if err != nil && err != badger.ErrNoRewrite {
				log.Debug().Err(err).Msg("BadgerDB GC error")
			}
		case <-bs.stopGC:
			return
		}
	}
}

func checkpointKey(network string) []byte {
	return []byte(fmt.Sprintf("checkpoint:%s", network))
}

func encodeCheckpoint(cp *common.Checkpoint) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCheckpoint(val []byte) (*common.Checkpoint, error) {
	var cp common.Checkpoint
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

func readCheckpoint(txn *badger.Txn, network string) (*common.Checkpoint, error) {
	item, err := txn.Get(checkpointKey(network))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, common.ErrCheckpointNotFound
		}
		return nil, err
	}
	var cp *common.Checkpoint
	err = item.Value(func(val []byte) error {
		var decodeErr error
		cp, decodeErr = decodeCheckpoint(val)
		return decodeErr
	})
	return cp, err
}

func (bs *BadgerCheckpointStore) GetCheckpoint(ctx context.Context, network string) (*common.Checkpoint, error) {
	var cp *common.Checkpoint
	err := bs.db.View(func(txn *badger.Txn) error {
		var err error
		cp, err = readCheckpoint(txn, network)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (bs *BadgerCheckpointStore) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) (*common.Checkpoint, error) {
	if !adv.Status.Valid() {
		return nil, fmt.Errorf("invalid sync status %q", adv.Status)
	}

	var result *common.Checkpoint
	update := func(txn *badger.Txn) error {
		cp, err := readCheckpoint(txn, adv.Network)
		if err != nil && !errors.Is(err, common.ErrCheckpointNotFound) {
			return err
		}
		if cp == nil {
			cp = &common.Checkpoint{}
		} else if adv.Height < cp.LastProcessedHeight {
			return &common.StaleAdvanceError{Network: adv.Network, Current: cp.LastProcessedHeight, Height: adv.Height}
		}
		cp.Apply(adv, bs.now().UTC())

		val, err := encodeCheckpoint(cp)
		if err != nil {
			return err
		}
		result = cp
		return txn.Set(checkpointKey(adv.Network), val)
	}

	var err error
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		if err = bs.db.Update(update); err != badger.ErrConflict {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (bs *BadgerCheckpointStore) ListCheckpoints(ctx context.Context) ([]common.CheckpointSnapshot, error) {
	snaps := make([]common.CheckpointSnapshot, 0)
	err := bs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("checkpoint:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				cp, err := decodeCheckpoint(val)
				if err != nil {
					return err
				}
				snaps = append(snaps, cp.Snapshot())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Network < snaps[j].Network })
	return snaps, err
}

func (bs *BadgerCheckpointStore) Close() error {
	bs.gcTicker.Stop()
	close(bs.stopGC)
	return bs.db.Close()
}
