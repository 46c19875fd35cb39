package vod

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// sources this short cannot be segmented meaningfully
const minMediaDuration = 500 * time.Millisecond

type MediaConfig struct {
	Type MediaType
	Path string // absolute path of the source file

	CacheDir string // root under which the output directory is created

	FFmpegBinary  string
	FFprobeBinary string

	MinBufferLength float64
	MaxBufferLength float64
}

// MediaCtx is the descriptor of one source file: its probed metadata, the
// segmentation plan derived from it, and one lazily built backend per
// applicable profile. All backends of a media share its output directory.
type MediaCtx struct {
	logger zerolog.Logger
	config MediaConfig

	metadata    *ProbeMediaData
	breakpoints []float64
	profiles    []Profile
	width       int
	height      int
	outDir      string

	mu       sync.Mutex
	backends map[string]*BackendCtx
}

// NewMedia probes the source and prepares the segmentation plan. It blocks for
// the duration of the probe.
func NewMedia(ctx context.Context, config MediaConfig) (*MediaCtx, error) {
	m := &MediaCtx{
		logger: log.With().
			Str("module", "vod").
			Str("submodule", "media").
			Str("path", config.Path).
			Logger(),
		config:   config,
		backends: map[string]*BackendCtx{},
	}

	start := time.Now()
	m.logger.Info().Msg("fetching metadata")

	metadata, err := ProbeMedia(ctx, config.FFprobeBinary, config.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to probe media: %w", err)
	}
	m.metadata = metadata

	keyframes := []float64{}
	if config.Type == MediaVideo {
		if metadata.Video == nil {
			return nil, fmt.Errorf("media has no video stream")
		}

		// a second probe lists the keyframes the plan aligns to
		videoData, err := ProbeVideo(ctx, config.FFprobeBinary, config.Path)
		if err != nil {
			return nil, fmt.Errorf("unable to probe video for keyframes: %w", err)
		}

		keyframes = videoData.PktPtsTime
		m.width = videoData.Width
		m.height = videoData.Height
	} else if len(metadata.Audio) == 0 {
		return nil, fmt.Errorf("media has no audio stream")
	}

	if metadata.Duration <= minMediaDuration {
		return nil, fmt.Errorf("media duration is too short: %v", metadata.Duration)
	}

	m.breakpoints = convertToSegments(keyframes, metadata.Duration, segmentLength, segmentOffset)
	m.profiles = profilesFor(config.Type, m.width, m.height)

	hash := md5.Sum([]byte(config.Path))
	m.outDir = path.Join(config.CacheDir, hex.EncodeToString(hash[:]))
	if err := os.MkdirAll(m.outDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	m.logger.Info().
		Int("segments", len(m.breakpoints)-1).
		Int("profiles", len(m.profiles)).
		Str("duration", fmt.Sprintf("%v", metadata.Duration)).
		Interface("elapsed", time.Since(start)).
		Msg("media initialized")

	return m, nil
}

func (m *MediaCtx) Metadata() *ProbeMediaData {
	return m.metadata
}

// MasterPlaylist lists every applicable variant. For audio sources there is
// only one variant, so its playlist is returned verbatim.
func (m *MediaCtx) MasterPlaylist() string {
	if m.config.Type == MediaAudio {
		return variantPlaylist(audioProfile.Name, m.breakpoints)
	}

	return masterPlaylist(m.profiles, m.width, m.height)
}

// Backend returns the backend for one profile, constructing it on first use.
func (m *MediaCtx) Backend(profileName string) (*BackendCtx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backends == nil {
		return nil, fmt.Errorf("media already destructed")
	}

	if backend, ok := m.backends[profileName]; ok {
		return backend, nil
	}

	var profile *Profile
	for i := range m.profiles {
		if m.profiles[i].Name == profileName {
			profile = &m.profiles[i]
			break
		}
	}
	if profile == nil {
		return nil, fmt.Errorf("unknown profile %q", profileName)
	}

	backend := newBackend(BackendConfig{
		MediaPath: m.config.Path,
		OutDir:    m.outDir,

		Profile:  *profile,
		IsVideo:  m.config.Type == MediaVideo,
		Portrait: m.width > 0 && m.width < m.height,

		Breakpoints: m.breakpoints,

		FFmpegBinary:    m.config.FFmpegBinary,
		MinBufferLength: m.config.MinBufferLength,
		MaxBufferLength: m.config.MaxBufferLength,
	})

	m.backends[profileName] = backend
	return backend, nil
}

// Stats sums up the live clients and encoders across all backends.
func (m *MediaCtx) Stats() (clients int, encoders int) {
	m.mu.Lock()
	backends := make([]*BackendCtx, 0, len(m.backends))
	for _, backend := range m.backends {
		backends = append(backends, backend)
	}
	m.mu.Unlock()

	for _, backend := range backends {
		clients += backend.ClientCount()
		encoders += backend.EncoderCount()
	}
	return
}

// Destruct tears down every backend and removes the output directory.
func (m *MediaCtx) Destruct() {
	m.mu.Lock()
	backends := m.backends
	m.backends = nil
	m.mu.Unlock()

	for _, backend := range backends {
		backend.destruct()
	}

	if err := os.RemoveAll(m.outDir); err != nil {
		m.logger.Err(err).Str("path", m.outDir).Msg("error while removing output directory")
	}

	m.logger.Info().Msg("media destructed")
}
