package cmd

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "hls-vod",
	Short:   "HLS VOD server CLI.",
	Long:    `On-demand HLS transcoding server for media files on disk.`,
	Version: "1.0.0",

	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		preflight()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func Execute() error {
	return rootCmd.Execute()
}

// preflight layers the configuration sources, oldest first: an optional .env
// file, the config file, HLS_VOD_* environment variables and flags. Logging is
// set up as soon as the sources are read, everything afterwards goes through
// zerolog.
func preflight() {
	_ = godotenv.Load()

	viper.SetEnvPrefix("HLS_VOD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			panic(fmt.Errorf("unable to read config file: %w", err))
		}
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath("/etc/hls-vod/")
		viper.AddConfigPath(".")
		// the config file is optional when not named explicitly
		_ = viper.ReadInConfig()
	}

	logs := logging{}
	logs.load()
	logs.apply()

	if file := viper.ConfigFileUsed(); file != "" {
		// most options need a restart, only the log level follows the file
		viper.OnConfigChange(func(e fsnotify.Event) {
			logs.load()
			if level, err := zerolog.ParseLevel(logs.Level); err == nil && logs.Level != "" {
				zerolog.SetGlobalLevel(level)
			}
			log.Info().Msg("config file reloaded")
		})
		viper.WatchConfig()

		log.Info().Str("config", file).Msg("configuration loaded")
	} else {
		log.Warn().Msg("no config file found, using defaults")
	}
}
