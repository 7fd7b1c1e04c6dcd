package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	configs "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/env"
	"github.com/thirdweb-dev/ledgersync/internal/handlers"
	customLogger "github.com/thirdweb-dev/ledgersync/internal/log"
)

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "ledgersync",
		Short: "Multi-network ledger ingestion and sync engine",
		Long:  "Ingests blocks, transactions and events from several networks into a shared ledger, tiers old data to cold storage, rolls up hourly and daily aggregates and enforces retention.",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store := mustOpenStorage(ctx)
			defer store.Close()
			handlers.UseStorage(store)

			go func() {
				RunSync(ctx, store)
				stop()
			}()
			if err := RunApi(ctx); err != nil {
				log.Error().Err(err).Msg("API server failed")
			}
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level to use for the application")
	rootCmd.PersistentFlags().Bool("log-prettify", false, "Whether to prettify the log output")
	rootCmd.PersistentFlags().Int("ingester-backoff-base", 0, "Base of the exponential retry backoff in milliseconds")
	rootCmd.PersistentFlags().Int("ingester-backoff-cap", 0, "Cap of the exponential retry backoff in milliseconds")
	rootCmd.PersistentFlags().Bool("ingester-publish-blocks", false, "Publish block summaries of every committed batch")
	rootCmd.PersistentFlags().String("storage-ledger-driver", "", "Ledger storage driver (postgres, memory)")
	rootCmd.PersistentFlags().String("storage-checkpoint-driver", "", "Checkpoint storage driver (postgres, badger, memory)")
	rootCmd.PersistentFlags().String("storage-aggregates-driver", "", "Aggregate storage driver (postgres, clickhouse, memory)")
	rootCmd.PersistentFlags().String("storage-cold-driver", "", "Cold storage driver (s3, pebble, memory)")
	rootCmd.PersistentFlags().Bool("tiering-enabled", false, "Toggle hot to cold tiering")
	rootCmd.PersistentFlags().Uint64("tiering-hot-window", 0, "Heights kept in the hot tier behind the checkpoint")
	rootCmd.PersistentFlags().Bool("aggregation-enabled", false, "Toggle aggregate rollups")
	rootCmd.PersistentFlags().Bool("retention-enabled", false, "Toggle the retention reaper")
	rootCmd.PersistentFlags().String("api-host", "", "Address the operational API listens on")
	rootCmd.PersistentFlags().Int("api-port", 3000, "Port the operational API listens on")
	rootCmd.PersistentFlags().String("api-basic-auth-username", "", "Basic auth username for the operational API")
	rootCmd.PersistentFlags().String("api-basic-auth-password", "", "Basic auth password for the operational API")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.prettify", rootCmd.PersistentFlags().Lookup("log-prettify"))
	viper.BindPFlag("ingester.backoffBase", rootCmd.PersistentFlags().Lookup("ingester-backoff-base"))
	viper.BindPFlag("ingester.backoffCap", rootCmd.PersistentFlags().Lookup("ingester-backoff-cap"))
	viper.BindPFlag("ingester.publishBlocks", rootCmd.PersistentFlags().Lookup("ingester-publish-blocks"))
	viper.BindPFlag("storage.ledger.driver", rootCmd.PersistentFlags().Lookup("storage-ledger-driver"))
	viper.BindPFlag("storage.checkpoint.driver", rootCmd.PersistentFlags().Lookup("storage-checkpoint-driver"))
	viper.BindPFlag("storage.aggregates.driver", rootCmd.PersistentFlags().Lookup("storage-aggregates-driver"))
	viper.BindPFlag("storage.cold.driver", rootCmd.PersistentFlags().Lookup("storage-cold-driver"))
	viper.BindPFlag("tiering.enabled", rootCmd.PersistentFlags().Lookup("tiering-enabled"))
	viper.BindPFlag("tiering.hotWindow", rootCmd.PersistentFlags().Lookup("tiering-hot-window"))
	viper.BindPFlag("aggregation.enabled", rootCmd.PersistentFlags().Lookup("aggregation-enabled"))
	viper.BindPFlag("retention.enabled", rootCmd.PersistentFlags().Lookup("retention-enabled"))
	viper.BindPFlag("api.host", rootCmd.PersistentFlags().Lookup("api-host"))
	viper.BindPFlag("api.port", rootCmd.PersistentFlags().Lookup("api-port"))
	viper.BindPFlag("api.basicAuth.username", rootCmd.PersistentFlags().Lookup("api-basic-auth-username"))
	viper.BindPFlag("api.basicAuth.password", rootCmd.PersistentFlags().Lookup("api-basic-auth-password"))
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(tierCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(reapCmd)
}

func initConfig() {
	env.Load()
	if err := configs.LoadConfig(cfgFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	customLogger.InitLogger()
}
