package publisher

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	config "github.com/thirdweb-dev/ledgersync/configs"
)

const (
	defaultRedisChannel = "ledgersync:checkpoints"
	defaultRedisHashKey = "ledgersync:checkpoint_snapshots"
)

// RedisPublisher keeps the latest snapshot of every network in a hash and
// announces each change on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	hashKey string
}

func NewRedisPublisher(cfg *config.RedisConfig) (*RedisPublisher, error) {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")

	return newRedisPublisher(client, cfg), nil
}

func newRedisPublisher(client *redis.Client, cfg *config.RedisConfig) *RedisPublisher {
	p := &RedisPublisher{client: client, channel: cfg.Channel, hashKey: cfg.HashKey}
	if p.channel == "" {
		p.channel = defaultRedisChannel
	}
	if p.hashKey == "" {
		p.hashKey = defaultRedisHashKey
	}
	return p
}

func (r *RedisPublisher) Name() string { return "redis" }

func (r *RedisPublisher) PublishCheckpoint(ctx context.Context, event CheckpointEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint event: %w", err)
	}
	snapshot, err := json.Marshal(event.Checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint snapshot: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.hashKey, event.Checkpoint.Network, snapshot)
		pipe.Publish(ctx, r.channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish checkpoint to Redis: %w", err)
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
