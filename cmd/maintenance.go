package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/aggregation"
	"github.com/thirdweb-dev/ledgersync/internal/retention"
	"github.com/thirdweb-dev/ledgersync/internal/storage"
	"github.com/thirdweb-dev/ledgersync/internal/tiering"
)

var networkFlag string

var (
	tierCmd = &cobra.Command{
		Use:   "tier",
		Short: "Run one tiering sweep",
		Run: func(cmd *cobra.Command, args []string) {
			runForNetworks(cmd.Context(), func(ctx context.Context, store storage.IStorage, network config.NetworkConfig) error {
				res, err := tiering.NewManager(store, config.Cfg.Tiering).Sweep(ctx, network)
				if err != nil {
					return err
				}
				log.Info().Str("network", network.Name).Int("migrated", res.Migrated).Int("reclaimed", res.Reclaimed).Int("failed", res.Failed).Msg("Tiering sweep finished")
				return nil
			})
		},
	}

	aggregateCmd = &cobra.Command{
		Use:   "aggregate",
		Short: "Refresh aggregates until they catch up with the checkpoint",
		Run: func(cmd *cobra.Command, args []string) {
			runForNetworks(cmd.Context(), func(ctx context.Context, store storage.IStorage, network config.NetworkConfig) error {
				engine := aggregation.NewEngine(store)
				for {
					res, err := engine.Refresh(ctx, network)
					if err != nil {
						return err
					}
					if res.UpToDate {
						log.Info().Str("network", network.Name).Uint64("watermark", res.Watermark).Msg("Aggregates up to date")
						return nil
					}
					log.Info().Str("network", network.Name).Uint64("from", res.From).Uint64("to", res.To).Int("recomputed", res.Recomputed).Int("closed", res.Closed).Msg("Aggregates refreshed")
				}
			})
		},
	}

	reapCmd = &cobra.Command{
		Use:   "reap",
		Short: "Run one retention pass",
		Run: func(cmd *cobra.Command, args []string) {
			runForNetworks(cmd.Context(), func(ctx context.Context, store storage.IStorage, network config.NetworkConfig) error {
				res, err := retention.NewReaper(store, config.Cfg.Retention).Reap(ctx, network)
				if err != nil {
					return err
				}
				log.Info().Str("network", network.Name).
					Int64("blocks", res.Hot.Blocks).
					Int64("transactions", res.Hot.Transactions).
					Int64("events", res.Hot.Events).
					Int("extents", res.ExtentsDeleted).
					Int64("buckets", res.Buckets).
					Msg("Retention pass finished")
				return nil
			})
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{tierCmd, aggregateCmd, reapCmd} {
		c.Flags().StringVar(&networkFlag, "network", "", "Only run for this network (default all enabled networks)")
	}
}

func runForNetworks(ctx context.Context, fn func(ctx context.Context, store storage.IStorage, network config.NetworkConfig) error) {
	networks, err := selectNetworks(networkFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid network selection")
	}

	store := mustOpenStorage(ctx)
	defer store.Close()

	failed := false
	for _, network := range networks {
		if err := fn(ctx, store, network); err != nil {
			log.Error().Err(err).Str("network", network.Name).Msg("Run failed")
			failed = true
		}
	}
	if failed {
		log.Fatal().Msg("At least one network failed")
	}
}

func selectNetworks(name string) ([]config.NetworkConfig, error) {
	if name != "" {
		network, ok := config.Cfg.Network(name)
		if !ok {
			return nil, fmt.Errorf("unknown network %q", name)
		}
		return []config.NetworkConfig{network}, nil
	}
	var networks []config.NetworkConfig
	for _, n := range config.Cfg.Networks {
		if n.Enabled {
			networks = append(networks, n)
		}
	}
	return networks, nil
}
