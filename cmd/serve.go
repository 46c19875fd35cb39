package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	hlsvod "github.com/m1k1o/hls-vod-too"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "start the HLS VOD server",

		// the root preflight has read every source by now, the values just
		// need to land in the service configuration
		PreRun: func(cmd *cobra.Command, args []string) {
			hlsvod.Service.ServerConfig.Set()
			hlsvod.Service.Preflight()
		},
		Run: hlsvod.Service.ServeCommand,
	}

	if err := hlsvod.Service.ServerConfig.Init(serveCmd); err != nil {
		log.Panic().Err(err).Msg("unable to set up serve command flags")
	}

	rootCmd.AddCommand(serveCmd)
}
