package config

import (
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Server struct {
	RootPath  string `mapstructure:"root-path"`
	Port      int    `mapstructure:"port"`
	CachePath string `mapstructure:"cache-path"`

	FFmpegBinaryDir string `mapstructure:"ffmpeg-binary-dir"`

	BufferLength    float64 `mapstructure:"buffer-length"`
	MaxClientNumber int     `mapstructure:"max-client-number"`

	Debug          bool `mapstructure:"debug"`
	NoShortCircuit bool `mapstructure:"no-short-circuit"`

	Bind   string `mapstructure:"bind"`
	Static string `mapstructure:"static"`
	Cert   string `mapstructure:"cert"`
	Key    string `mapstructure:"key"`
	Proxy  bool   `mapstructure:"proxy"`
	PProf  bool   `mapstructure:"pprof"`
}

func (Server) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("root-path", "", "root directory of served media")
	if err := viper.BindPFlag("root-path", cmd.PersistentFlags().Lookup("root-path")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("port", 4040, "port to serve on")
	if err := viper.BindPFlag("port", cmd.PersistentFlags().Lookup("port")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cache-path", "", "directory for transcoded segments, defaults to hls-vod-cache in the temp dir")
	if err := viper.BindPFlag("cache-path", cmd.PersistentFlags().Lookup("cache-path")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("ffmpeg-binary-dir", "", "directory containing the ffmpeg and ffprobe binaries, searches PATH when empty")
	if err := viper.BindPFlag("ffmpeg-binary-dir", cmd.PersistentFlags().Lookup("ffmpeg-binary-dir")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("buffer-length", 30, "seconds of lookahead kept encoded ahead of every client")
	if err := viper.BindPFlag("buffer-length", cmd.PersistentFlags().Lookup("buffer-length")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("max-client-number", 5, "maximum number of tracked clients")
	if err := viper.BindPFlag("max-client-number", cmd.PersistentFlags().Lookup("max-client-number")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("debug", false, "force debug logging")
	if err := viper.BindPFlag("debug", cmd.PersistentFlags().Lookup("debug")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("no-short-circuit", false, "never hint that a file may play natively")
	if err := viper.BindPFlag("no-short-circuit", cmd.PersistentFlags().Lookup("no-short-circuit")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("bind", "", "address/port to serve on, overrides port")
	if err := viper.BindPFlag("bind", cmd.PersistentFlags().Lookup("bind")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("static", "", "path to the web UI files to serve")
	if err := viper.BindPFlag("static", cmd.PersistentFlags().Lookup("static")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("cert", "", "path to the SSL cert")
	if err := viper.BindPFlag("cert", cmd.PersistentFlags().Lookup("cert")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("key", "", "path to the SSL key")
	if err := viper.BindPFlag("key", cmd.PersistentFlags().Lookup("key")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("proxy", false, "allow reverse proxies")
	if err := viper.BindPFlag("proxy", cmd.PersistentFlags().Lookup("proxy")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("pprof", false, "enable pprof endpoint available at /debug/pprof")
	if err := viper.BindPFlag("pprof", cmd.PersistentFlags().Lookup("pprof")); err != nil {
		return err
	}

	return nil
}

func (s *Server) Set() {
	if err := viper.Unmarshal(s); err != nil {
		panic(err)
	}

	if s.RootPath == "" {
		panic("root-path must be specified")
	}

	rootPath, err := filepath.Abs(s.RootPath)
	if err != nil {
		panic(err)
	}
	s.RootPath = rootPath

	if s.CachePath == "" {
		s.CachePath = path.Join(os.TempDir(), "hls-vod-cache")
	}
	if err := os.MkdirAll(s.CachePath, 0755); err != nil {
		panic(err)
	}

	if s.Bind == "" {
		s.Bind = ":" + strconv.Itoa(s.Port)
	}
}

// FFmpegBinary is the path of the ffmpeg binary to run.
func (s *Server) FFmpegBinary() string {
	if s.FFmpegBinaryDir == "" {
		return "ffmpeg"
	}
	return path.Join(s.FFmpegBinaryDir, "ffmpeg")
}

// FFprobeBinary is the path of the ffprobe binary to run.
func (s *Server) FFprobeBinary() string {
	if s.FFmpegBinaryDir == "" {
		return "ffprobe"
	}
	return path.Join(s.FFmpegBinaryDir, "ffprobe")
}

// MinBufferLength is how much lookahead every client should have encoded.
func (s *Server) MinBufferLength() float64 {
	return s.BufferLength
}

// MaxBufferLength is where encoders stop producing ahead of their clients.
func (s *Server) MaxBufferLength() float64 {
	return s.BufferLength * 2
}
