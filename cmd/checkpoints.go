package cmd

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	checkpointsCmd = &cobra.Command{
		Use:   "checkpoints",
		Short: "Print the checkpoint of every network as JSON",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			store := mustOpenStorage(ctx)
			defer store.Close()

			snapshots, err := store.Checkpoints.ListCheckpoints(ctx)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to list checkpoints")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(snapshots); err != nil {
				log.Fatal().Err(err).Msg("Failed to encode checkpoints")
			}
		},
	}
)
