package storage

import (
	"context"
	"fmt"
	"time"

	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
)

// ICheckpointReader is the read-only side of the checkpoint store. Tiering,
// aggregation and operational tooling only ever get this.
type ICheckpointReader interface {
	GetCheckpoint(ctx context.Context, network string) (*common.Checkpoint, error)
	ListCheckpoints(ctx context.Context) ([]common.CheckpointSnapshot, error)
}

type ICheckpointStore interface {
	ICheckpointReader
	AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) (*common.Checkpoint, error)
	Close() error
}

type ILedgerStore interface {
	// WriteBatch commits blocks with their transactions and events atomically
	WriteBatch(ctx context.Context, network string, batch []common.BlockData) error
	UpsertBlock(ctx context.Context, network string, block common.Block) error
	UpsertTransactions(ctx context.Context, network string, height uint64, txs []common.Transaction) error
	UpsertEvents(ctx context.Context, network string, height uint64, events []common.Event) error

	GetBlockHashes(ctx context.Context, network string, from, to uint64) (map[uint64]string, error)
	GetBlockRange(ctx context.Context, network string, from, to uint64) ([]common.BlockData, error)
	GetBlocksByTime(ctx context.Context, network string, start, end time.Time) ([]common.BlockData, error)
	CountBlocks(ctx context.Context, network string, from, to uint64) (int64, error)
	// MinHeight is the lowest height still stored in the hot tier
	MinHeight(ctx context.Context, network string) (height uint64, exists bool, err error)
	// MaxHeightBefore is the highest stored height with a timestamp before t
	MaxHeightBefore(ctx context.Context, network string, t time.Time) (height uint64, exists bool, err error)

	DeleteRange(ctx context.Context, network string, from, to uint64) (common.DeleteStats, error)
	DeleteBefore(ctx context.Context, network string, cutoff time.Time) (common.DeleteStats, error)
	Close() error
}

// IExtentStore records which extents live in the cold tier
type IExtentStore interface {
	ListExtents(ctx context.Context, network string) ([]common.ExtentRecord, error)
	GetExtent(ctx context.Context, network string, from uint64) (*common.ExtentRecord, error)
	MarkCold(ctx context.Context, rec common.ExtentRecord) error
	MarkReclaimed(ctx context.Context, network string, from uint64) error
	DeleteExtent(ctx context.Context, network string, from uint64) error
}

type IAggregateStore interface {
	GetWatermark(ctx context.Context, network string) (height uint64, exists bool, err error)
	SetWatermark(ctx context.Context, network string, height uint64) error
	// GetBuckets returns the stored buckets among starts keyed by BucketStart.Unix()
	GetBuckets(ctx context.Context, network string, granularity common.Granularity, starts []time.Time) (map[int64]common.Aggregate, error)
	UpsertBuckets(ctx context.Context, aggs []common.Aggregate) error
	ListBuckets(ctx context.Context, q common.AggregateQuery) ([]common.Aggregate, error)
	DeleteBucketsBefore(ctx context.Context, network string, cutoff time.Time) (int64, error)
	Close() error
}

// IColdStore is the high-capacity tier. Objects are addressed by extent key.
type IColdStore interface {
	Put(ctx context.Context, key string, data []byte, checksum string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

type IStorage struct {
	Checkpoints ICheckpointStore
	Ledger      ILedgerStore
	Extents     IExtentStore
	Aggregates  IAggregateStore
	Cold        IColdStore
}

func (s IStorage) Close() {
	for _, c := range []interface{ Close() error }{s.Checkpoints, s.Ledger, s.Aggregates, s.Cold} {
		if c != nil {
			_ = c.Close()
		}
	}
}

func NewStorageConnector(ctx context.Context, cfg *config.StorageConfig) (IStorage, error) {
	var storage IStorage
	var err error

	// connectors shared between roles, e.g. one postgres for ledger and checkpoints
	shared := &sharedConnectors{}

	storage.Ledger, err = newLedgerStore(cfg.Ledger, shared)
	if err != nil {
		return IStorage{}, fmt.Errorf("failed to create ledger storage: %w", err)
	}

	extents, ok := storage.Ledger.(IExtentStore)
	if !ok {
		return IStorage{}, fmt.Errorf("ledger storage does not track extents")
	}
	storage.Extents = extents

	storage.Checkpoints, err = newCheckpointStore(cfg.Checkpoint, shared)
	if err != nil {
		return IStorage{}, fmt.Errorf("failed to create checkpoint storage: %w", err)
	}

	storage.Aggregates, err = newAggregateStore(ctx, cfg.Aggregates, shared)
	if err != nil {
		return IStorage{}, fmt.Errorf("failed to create aggregate storage: %w", err)
	}

	storage.Cold, err = newColdStore(ctx, cfg.Cold, shared)
	if err != nil {
		return IStorage{}, fmt.Errorf("failed to create cold storage: %w", err)
	}

	return storage, nil
}

type sharedConnectors struct {
	postgres map[string]*PostgresConnector
	memory   *MemoryConnector
}

func (s *sharedConnectors) getPostgres(cfg *config.PostgresConfig) (*PostgresConnector, error) {
	key := fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	if conn, ok := s.postgres[key]; ok {
		return conn, nil
	}
	conn, err := NewPostgresConnector(cfg)
	if err != nil {
		return nil, err
	}
	if s.postgres == nil {
		s.postgres = make(map[string]*PostgresConnector)
	}
	s.postgres[key] = conn
	return conn, nil
}

func (s *sharedConnectors) getMemory() *MemoryConnector {
	if s.memory == nil {
		s.memory = NewMemoryConnector()
	}
	return s.memory
}

func newLedgerStore(cfg config.LedgerStorageConfig, shared *sharedConnectors) (ILedgerStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres ledger driver selected without postgres config")
		}
		return shared.getPostgres(cfg.Postgres)
	case "memory", "":
		return shared.getMemory(), nil
	}
	return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
}

func newCheckpointStore(cfg config.CheckpointStorageConfig, shared *sharedConnectors) (ICheckpointStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres checkpoint driver selected without postgres config")
		}
		return shared.getPostgres(cfg.Postgres)
	case "badger":
		if cfg.Badger == nil {
			return nil, fmt.Errorf("badger checkpoint driver selected without badger config")
		}
		return NewBadgerCheckpointStore(cfg.Badger)
	case "memory", "":
		return shared.getMemory(), nil
	}
	return nil, fmt.Errorf("unknown checkpoint driver %q", cfg.Driver)
}

func newAggregateStore(ctx context.Context, cfg config.AggregateStorageConfig, shared *sharedConnectors) (IAggregateStore, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres aggregate driver selected without postgres config")
		}
		return NewPgxAggregateStore(ctx, cfg.Postgres)
	case "clickhouse":
		if cfg.Clickhouse == nil {
			return nil, fmt.Errorf("clickhouse aggregate driver selected without clickhouse config")
		}
		return NewClickHouseAggregateStore(cfg.Clickhouse)
	case "memory", "":
		return shared.getMemory(), nil
	}
	return nil, fmt.Errorf("unknown aggregate driver %q", cfg.Driver)
}

func newColdStore(ctx context.Context, cfg config.ColdStorageConfig, shared *sharedConnectors) (IColdStore, error) {
	switch cfg.Driver {
	case "s3":
		if cfg.S3 == nil {
			return nil, fmt.Errorf("s3 cold driver selected without s3 config")
		}
		return NewS3ColdStore(ctx, cfg.S3)
	case "pebble":
		if cfg.Pebble == nil {
			return nil, fmt.Errorf("pebble cold driver selected without pebble config")
		}
		return NewPebbleColdStore(cfg.Pebble)
	case "memory", "":
		return shared.getMemory(), nil
	}
	return nil, fmt.Errorf("unknown cold driver %q", cfg.Driver)
}
