package hlsvod

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/hls-vod-too/internal/api"
	"github.com/m1k1o/hls-vod-too/internal/config"
	"github.com/m1k1o/hls-vod-too/internal/metrics"
	"github.com/m1k1o/hls-vod-too/internal/server"
)

var Service *Main

func init() {
	Service = &Main{
		ServerConfig: &config.Server{},
	}
}

type Main struct {
	ServerConfig *config.Server

	logger     zerolog.Logger
	metrics    *metrics.Metrics
	apiManager *api.ApiManagerCtx
	server     *server.ServerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()

	if main.ServerConfig.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func (main *Main) Start() {
	main.metrics = metrics.New()
	main.apiManager = api.New(main.ServerConfig, main.metrics)

	main.server = server.New(main.ServerConfig, main.apiManager.Mount)
	main.server.Start()
}

func (main *Main) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := main.server.Shutdown(ctx); err != nil {
		main.logger.Err(err).Msg("server shutdown with an error")
	} else {
		main.logger.Debug().Msg("server shutdown")
	}

	// kills every encoder and removes the cache root
	main.apiManager.Shutdown()
}

func (main *Main) ServeCommand(cmd *cobra.Command, args []string) {
	main.logger.Info().Msg("starting main server")
	main.Start()
	main.logger.Info().Msg("main ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	sig := <-quit

	main.logger.Warn().Msgf("received %s, attempting graceful shutdown", sig)
	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
