package publisher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/common"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
)

const (
	defaultCheckpointTopic = "ledgersync.checkpoints"
	defaultBlockTopic      = "ledgersync.blocks"
)

type KafkaPublisher struct {
	client *kgo.Client
	cfg    *config.KafkaConfig
	mu     sync.RWMutex
}

func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka publisher enabled without brokers")
	}
	brokers := strings.Split(cfg.Brokers, ",")
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ClientID("ledgersync"),
		kgo.MaxBufferedRecords(100_000),
		kgo.ProducerBatchMaxBytes(16_000_000),
		kgo.RecordPartitioner(kgo.StickyKeyPartitioner(nil)),
		kgo.MetadataMaxAge(60 * time.Second),
		kgo.DialTimeout(10 * time.Second),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RequestRetries(5),
	}

	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()))
	}

	if cfg.EnableTLS {
		tlsDialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
		opts = append(opts, kgo.Dialer(tlsDialer.DialContext))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Kafka: %v", err)
	}

	return &KafkaPublisher{client: client, cfg: cfg}, nil
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) checkpointTopics() []string {
	topic := p.cfg.CheckpointTopic
	if topic == "" {
		topic = defaultCheckpointTopic
	}
	return append([]string{topic}, p.cfg.ExtraTopics...)
}

func (p *KafkaPublisher) blockTopic() string {
	if p.cfg.BlockTopic != "" {
		return p.cfg.BlockTopic
	}
	return defaultBlockTopic
}

func (p *KafkaPublisher) PublishCheckpoint(ctx context.Context, event CheckpointEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint event: %v", err)
	}
	cp := event.Checkpoint
	var records []*kgo.Record
	for _, topic := range p.checkpointTopics() {
		records = append(records, &kgo.Record{
			Topic:   topic,
			Key:     []byte(cp.Network),
			Value:   value,
			Headers: recordHeaders(event.Type, cp.Network, cp.LastProcessedHeight, event.Timestamp),
		})
	}
	return p.publishMessages(ctx, records)
}

// PublishBlocks sends one summary per committed block, keyed by network so a
// network's blocks stay ordered within a partition.
func (p *KafkaPublisher) PublishBlocks(ctx context.Context, network string, batch []common.BlockData) error {
	if len(batch) == 0 {
		return nil
	}
	publishStart := time.Now()
	now := publishStart.UTC()

	records := make([]*kgo.Record, 0, len(batch))
	for _, bd := range batch {
		value, err := json.Marshal(SummarizeBlock(bd.Block))
		if err != nil {
			return fmt.Errorf("failed to marshal block summary: %v", err)
		}
		records = append(records, &kgo.Record{
			Topic:   p.blockTopic(),
			Key:     []byte(network),
			Value:   value,
			Headers: recordHeaders(MessageTypeBlocks, network, bd.Block.Height, now),
		})
	}
	if err := p.publishMessages(ctx, records); err != nil {
		return fmt.Errorf("failed to publish block messages: %v", err)
	}

	log.Debug().Str("metric", "publish_duration").Str("network", network).Msgf("KafkaPublisher.PublishBlocks duration: %f", time.Since(publishStart).Seconds())
	return nil
}

func recordHeaders(msgType MessageType, network string, height uint64, timestamp time.Time) []kgo.RecordHeader {
	return []kgo.RecordHeader{
		{Key: "network", Value: []byte(network)},
		{Key: "height", Value: []byte(fmt.Sprintf("%d", height))},
		{Key: "type", Value: []byte(msgType)},
		{Key: "timestamp", Value: []byte(timestamp.Format(time.RFC3339Nano))},
		{Key: "schema_version", Value: []byte("1")},
	}
}

func (p *KafkaPublisher) publishMessages(ctx context.Context, messages []*kgo.Record) error {
	if len(messages) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.client == nil {
		return fmt.Errorf("no kafka client configured")
	}

	results := p.client.ProduceSync(ctx, messages...)
	return results.FirstErr()
}

func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		p.client.Close()
		p.client = nil
		log.Debug().Msg("Kafka publisher client closed")
	}
	return nil
}
