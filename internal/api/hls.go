package api

import (
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi"

	"github.com/m1k1o/hls-vod-too/vod"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// segment URIs carry the profile name and a one-based hexadecimal index
var segmentRegex = regexp.MustCompile(`^([0-9A-Za-z]+)\.([0-9a-f]+)\.ts$`)

func (a *ApiManagerCtx) HLS(r chi.Router) {
	r.Get("/{stream}/*", a.serveHLS)
	r.Delete("/{stream}", a.unregister)
	r.Delete("/{stream}/*", a.unregister)
}

// parseStream splits the "<type>.<client>" prefix of HLS routes.
func parseStream(stream string) (mediaType, clientID string, ok bool) {
	mediaType, clientID, ok = strings.Cut(stream, ".")
	if !ok || mediaType == "" || clientID == "" {
		return "", "", false
	}
	return
}

// splitResource separates the media path from the trailing HLS resource.
func splitResource(urlPath string) (file, resource string, ok bool) {
	lastSlashIndex := strings.LastIndex(urlPath, "/")
	if lastSlashIndex == -1 {
		return "", "", false
	}

	resource = urlPath[lastSlashIndex+1:]
	file = filepath.Clean(urlPath[:lastSlashIndex])
	return file, resource, resource != "" && file != ""
}

func (a *ApiManagerCtx) serveHLS(w http.ResponseWriter, r *http.Request) {
	typ, clientID, ok := parseStream(chi.URLParam(r, "stream"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	mediaType := vod.MediaType(typ)
	if mediaType != vod.MediaVideo && mediaType != vod.MediaAudio {
		http.NotFound(w, r)
		return
	}

	urlPath, err := unescapePath(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "400 bad media path", http.StatusBadRequest)
		return
	}

	file, resource, ok := splitResource(urlPath)
	if !ok {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	logger := a.logger.With().
		Str("client", clientID).
		Str("file", file).
		Str("resource", resource).
		Logger()

	// the master playlist needs no client routing, only the media
	if resource == "master.m3u8" {
		media, err := a.media.Get(mediaKey{mediaType, file})
		if err != nil {
			logger.Warn().Err(err).Msg("unable to load media")
			http.Error(w, "500 unable to load media", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", playlistContentType)
		_, _ = w.Write([]byte(media.MasterPlaylist()))
		return
	}

	// variant playlists route the client onto the chosen backend
	if strings.HasPrefix(resource, "quality-") && strings.HasSuffix(resource, ".m3u8") {
		quality := strings.TrimSuffix(strings.TrimPrefix(resource, "quality-"), ".m3u8")

		backend, err := a.getBackend(clientID, mediaType, file, quality)
		if err != nil {
			logger.Warn().Err(err).Str("quality", quality).Msg("unable to route client to backend")
			http.Error(w, "500 unable to load quality", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", playlistContentType)
		_, _ = w.Write([]byte(backend.Playlist()))
		return
	}

	// everything else is a segment request
	matches := segmentRegex.FindStringSubmatch(resource)
	if len(matches) != 3 {
		http.Error(w, "400 bad segment path", http.StatusBadRequest)
		return
	}

	quality := matches[1]
	index, err := strconv.ParseInt(matches[2], 16, 64)
	if err != nil || index < 1 {
		http.Error(w, "400 bad segment index", http.StatusBadRequest)
		return
	}

	backend, err := a.getBackend(clientID, mediaType, file, quality)
	if err != nil {
		a.metrics.IncSegmentErrors("routing")
		logger.Warn().Err(err).Str("quality", quality).Msg("unable to route client to backend")
		http.Error(w, "500 unable to load quality", http.StatusInternalServerError)
		return
	}

	a.metrics.IncSegmentsServed()
	backend.ServeSegment(w, r, clientID, int(index)-1)
}

// getBackend routes a client to the backend for one (media, quality) pair.
// Switching file or quality detaches the client from its previous backend, a
// brand new client may evict the oldest tracked one.
func (a *ApiManagerCtx) getBackend(clientID string, mediaType vod.MediaType, file, quality string) (*vod.BackendCtx, error) {
	if session := a.sessions.Lookup(clientID); session != nil {
		if session.mediaType == mediaType && session.file == file && session.quality == quality {
			a.sessions.Put(session)
			return session.backend, nil
		}

		a.sessions.Remove(clientID)
		session.backend.RemoveClient(clientID)
	} else if evicted := a.sessions.EvictIfFull(); evicted != nil {
		evicted.backend.RemoveClient(evicted.clientID)
		a.metrics.IncClientsEvicted()
	}

	media, err := a.media.Get(mediaKey{mediaType, file})
	if err != nil {
		return nil, err
	}

	backend, err := media.Backend(quality)
	if err != nil {
		return nil, err
	}

	a.sessions.Put(&sessionCtx{
		clientID:  clientID,
		mediaType: mediaType,
		file:      file,
		quality:   quality,
		backend:   backend,
	})

	return backend, nil
}

// unregister detaches a client from whatever backend it currently plays from.
func (a *ApiManagerCtx) unregister(w http.ResponseWriter, r *http.Request) {
	typ, clientID, ok := parseStream(chi.URLParam(r, "stream"))
	if !ok || typ != "hls" {
		http.Error(w, "400 invalid parameters", http.StatusBadRequest)
		return
	}

	if session := a.sessions.Remove(clientID); session != nil {
		session.backend.RemoveClient(clientID)
		a.logger.Info().Str("client", clientID).Msg("client unregistered")
	}

	w.WriteHeader(http.StatusOK)
}
