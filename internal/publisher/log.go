package publisher

import (
	"context"

	"github.com/rs/zerolog/log"
)

// LogPublisher writes checkpoint events to the debug log
type LogPublisher struct{}

func (l *LogPublisher) Name() string { return "log" }

func (l *LogPublisher) PublishCheckpoint(ctx context.Context, event CheckpointEvent) error {
	cp := event.Checkpoint
	ev := log.Debug().
		Str("network", cp.Network).
		Str("sync_status", string(cp.SyncStatus)).
		Uint64("last_processed_height", cp.LastProcessedHeight).
		Float64("blocks_per_second", cp.BlocksPerSecond)
	if cp.ErrorMessage != nil {
		ev = ev.Str("error_message", *cp.ErrorMessage)
	}
	ev.Msg("Checkpoint changed")
	return nil
}

func (l *LogPublisher) Close() error { return nil }
