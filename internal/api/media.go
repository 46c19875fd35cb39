package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/m1k1o/hls-vod-too/vod"
)

type mediaInfo struct {
	Type                   vod.MediaType `json:"type"`
	MaybeNativelySupported bool          `json:"maybeNativelySupported"`
	BufferLength           float64       `json:"bufferLength"`
}

type mediaError struct {
	Error string `json:"error"`
}

// MediaInfo probes a file and tells the client how to play it.
func (a *ApiManagerCtx) MediaInfo(r chi.Router) {
	r.Get("/media/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		writeError := func(err error) {
			_ = json.NewEncoder(w).Encode(mediaError{Error: err.Error()})
		}

		file, err := unescapePath(chi.URLParam(r, "*"))
		if err != nil {
			writeError(err)
			return
		}

		mediaPath, err := a.absPath(file)
		if err != nil {
			writeError(err)
			return
		}

		data, err := vod.ProbeMedia(r.Context(), a.config.FFprobeBinary(), mediaPath)
		if err != nil {
			a.logger.Warn().Err(err).Str("path", mediaPath).Msg("unable to probe media")
			writeError(err)
			return
		}

		info := mediaInfo{
			BufferLength: a.config.BufferLength,
		}

		switch {
		case data.Video != nil:
			info.Type = vod.MediaVideo
		case len(data.Audio) > 0:
			info.Type = vod.MediaAudio
		default:
			writeError(errNoPlayableStreams)
			return
		}

		if !a.config.NoShortCircuit {
			info.MaybeNativelySupported = data.MaybeNativelySupported()
		}

		_ = json.NewEncoder(w).Encode(info)
	})
}
