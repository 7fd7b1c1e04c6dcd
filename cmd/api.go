package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	config "github.com/thirdweb-dev/ledgersync/configs"
	"github.com/thirdweb-dev/ledgersync/internal/handlers"
)

var (
	apiCmd = &cobra.Command{
		Use:   "api",
		Short: "Serve the read-only operational API",
		Run: func(cmd *cobra.Command, args []string) {
			if err := RunApi(cmd.Context()); err != nil {
				log.Fatal().Err(err).Msg("API server failed")
			}
		},
	}
)

func RunApi(ctx context.Context) error {
	port := config.Cfg.API.Port
	if port == 0 {
		port = 3000
	}
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Cfg.API.Host, port),
		Handler: handlers.NewRouter(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
	}()

	log.Info().Msgf("API listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
