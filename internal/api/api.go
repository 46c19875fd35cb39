package api

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/hls-vod-too/internal/config"
	"github.com/m1k1o/hls-vod-too/internal/metrics"
	"github.com/m1k1o/hls-vod-too/internal/utils"
	"github.com/m1k1o/hls-vod-too/vod"
)

// how many media descriptors stay cached; must exceed max-client-number so a
// media is never evicted while one of its clients is still tracked
const mediaCacheSize = 20

type mediaKey struct {
	mediaType vod.MediaType
	file      string
}

type ApiManagerCtx struct {
	logger  zerolog.Logger
	config  *config.Server
	metrics *metrics.Metrics

	media    *utils.LRU[mediaKey, *vod.MediaCtx]
	sessions *SessionManagerCtx
}

func New(config *config.Server, metrics *metrics.Metrics) *ApiManagerCtx {
	a := &ApiManagerCtx{
		logger:  log.With().Str("module", "api").Logger(),
		config:  config,
		metrics: metrics,
	}

	a.media = utils.NewLRU(mediaCacheSize, a.constructMedia, a.destructMedia)
	a.sessions = newSessionManager(config.MaxClientNumber)

	return a
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Group(func(r chi.Router) {
		r.Use(a.metrics.Middleware)

		a.MediaInfo(r)
		a.Browse(r)
		a.HLS(r)
	})

	r.Get("/metrics", a.metrics.Handler(a.updateGauges).ServeHTTP)
}

// Shutdown destructs every cached media, killing all encoders and removing
// their output directories, then drops the cache root entirely.
func (a *ApiManagerCtx) Shutdown() {
	a.media.Flush()

	if err := os.RemoveAll(a.config.CachePath); err != nil {
		a.logger.Err(err).Str("path", a.config.CachePath).Msg("error while removing cache root")
	}
}

func (a *ApiManagerCtx) constructMedia(key mediaKey) (*vod.MediaCtx, error) {
	mediaPath, err := a.absPath(key.file)
	if err != nil {
		return nil, err
	}

	return vod.NewMedia(context.Background(), vod.MediaConfig{
		Type: key.mediaType,
		Path: mediaPath,

		CacheDir: a.config.CachePath,

		FFmpegBinary:  a.config.FFmpegBinary(),
		FFprobeBinary: a.config.FFprobeBinary(),

		MinBufferLength: a.config.MinBufferLength(),
		MaxBufferLength: a.config.MaxBufferLength(),
	})
}

func (a *ApiManagerCtx) destructMedia(key mediaKey, media *vod.MediaCtx) {
	media.Destruct()
}

// absPath resolves a request path against the media root, refusing to escape
// it.
func (a *ApiManagerCtx) absPath(file string) (string, error) {
	mediaPath := filepath.Join(a.config.RootPath, filepath.Clean("/"+file))

	if !strings.HasPrefix(mediaPath, a.config.RootPath) {
		return "", fmt.Errorf("path outside of media root")
	}

	if _, err := os.Stat(mediaPath); err != nil {
		return "", err
	}

	return mediaPath, nil
}

// unescapePath decodes the wildcard remainder of a route.
func unescapePath(raw string) (string, error) {
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	return unescaped, nil
}

func (a *ApiManagerCtx) updateGauges() {
	clients := a.sessions.Count()

	encoders := 0
	for _, media := range a.media.Values() {
		_, e := media.Stats()
		encoders += e
	}

	a.metrics.SetActive(clients, a.media.Len(), encoders)
}
