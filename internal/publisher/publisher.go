package publisher

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/thirdweb-dev/ledgersync/internal/metrics"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

type MessageType string

const (
	MessageTypeCheckpoint MessageType = "checkpoint_changed"
	MessageTypeBlocks     MessageType = "blocks_committed"
)

// CheckpointEvent is emitted after every successful checkpoint advance
type CheckpointEvent struct {
	Type       MessageType               `json:"type"`
	Checkpoint common.CheckpointSnapshot `json:"checkpoint"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// BlockSummary is the published form of a committed block
type BlockSummary struct {
	Network          string    `json:"network"`
	Family           string    `json:"family,omitempty"`
	Height           uint64    `json:"height"`
	Hash             string    `json:"hash"`
	ParentHash       string    `json:"parent_hash"`
	Timestamp        time.Time `json:"timestamp"`
	TransactionCount uint64    `json:"transaction_count"`
	EventCount       uint64    `json:"event_count"`
}

func SummarizeBlock(b common.Block) BlockSummary {
	s := BlockSummary{
		Network:          b.Network,
		Height:           b.Height,
		Hash:             b.Hash,
		ParentHash:       b.ParentHash,
		Timestamp:        b.Timestamp,
		TransactionCount: b.TransactionCount,
		EventCount:       b.EventCount,
	}
	if b.Ext != nil {
		s.Family = string(b.Ext.Family())
	}
	return s
}

type Publisher interface {
	Name() string
	PublishCheckpoint(ctx context.Context, event CheckpointEvent) error
	Close() error
}

type BlockPublisher interface {
	PublishBlocks(ctx context.Context, network string, batch []common.BlockData) error
}

// Multi fans an event out to every configured sink. A failing sink is logged
// and counted but never stops the others.
type Multi struct {
	publishers []Publisher
}

func NewMulti(publishers ...Publisher) *Multi {
	return &Multi{publishers: publishers}
}

// New builds the sinks enabled in cfg. A log sink is always present.
func New(cfg *config.PublisherConfig) (*Multi, error) {
	publishers := []Publisher{&LogPublisher{}}
	if cfg.Kafka.Enabled {
		kp, err := NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, kp)
	}
	if cfg.Redis.Enabled {
		rp, err := NewRedisPublisher(&cfg.Redis)
		if err != nil {
			for _, p := range publishers {
				_ = p.Close()
			}
			return nil, err
		}
		publishers = append(publishers, rp)
	}
	return NewMulti(publishers...), nil
}

func (m *Multi) PublishCheckpoint(ctx context.Context, event CheckpointEvent) {
	for _, p := range m.publishers {
		if err := p.PublishCheckpoint(ctx, event); err != nil {
			metrics.PublishFailures.WithLabelValues(p.Name()).Inc()
			log.Error().Err(err).Str("sink", p.Name()).Str("network", event.Checkpoint.Network).Msg("Failed to publish checkpoint event")
		}
	}
}

// PublishBlocks hands a committed batch to every sink that accepts blocks
func (m *Multi) PublishBlocks(ctx context.Context, network string, batch []common.BlockData) {
	for _, p := range m.publishers {
		bp, ok := p.(BlockPublisher)
		if !ok {
			continue
		}
		if err := bp.PublishBlocks(ctx, network, batch); err != nil {
			metrics.PublishFailures.WithLabelValues(p.Name()).Inc()
			log.Error().Err(err).Str("sink", p.Name()).Str("network", network).Msg("Failed to publish committed blocks")
		}
	}
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishingCheckpointStore emits a checkpoint-changed event after each
// successful advance. Publishing never fails the advance.
type PublishingCheckpointStore struct {
	storage.ICheckpointStore
	sink *Multi
	now  func() time.Time
}

func NewPublishingCheckpointStore(inner storage.ICheckpointStore, sink *Multi) *PublishingCheckpointStore {
	return &PublishingCheckpointStore{ICheckpointStore: inner, sink: sink, now: time.Now}
}

func (s *PublishingCheckpointStore) AdvanceCheckpoint(ctx context.Context, adv common.CheckpointAdvance) (*common.Checkpoint, error) {
	cp, err := s.ICheckpointStore.AdvanceCheckpoint(ctx, adv)
	if err != nil {
		return nil, err
	}
	s.sink.PublishCheckpoint(ctx, CheckpointEvent{
		Type:       MessageTypeCheckpoint,
		Checkpoint: cp.Snapshot(),
		Timestamp:  s.now().UTC(),
	})
	return cp, nil
}
