package cmd

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/orchestrator"
	"github.com/thirdweb-dev/ledgersync/internal/publisher"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
)

var (
	syncCmd = &cobra.Command{
		Use:   "sync",
		Short: "Run ingestion, tiering, aggregation and retention for every enabled network",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			store := mustOpenStorage(ctx)
			defer store.Close()
			RunSync(ctx, store)
		},
	}
)

// RunSync blocks until ctx is done or a shutdown signal arrives
func RunSync(ctx context.Context, store storage.IStorage) {
	log.Info().Msg("Starting ledgersync")

	pub, err := publisher.New(&config.Cfg.Publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create publishers")
	}
	defer func() {
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close publishers")
		}
	}()

	orchestrator.NewOrchestrator(store, pub).Start(ctx)
}

func mustOpenStorage(ctx context.Context) storage.IStorage {
	store, err := storage.NewStorageConnector(ctx, &config.Cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	return store
}
