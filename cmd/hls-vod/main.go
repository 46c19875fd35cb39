package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/m1k1o/hls-vod-too/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
