package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strconv"

	"github.com/go-chi/chi"
)

var errNoPlayableStreams = errors.New("no playable streams found")

type browseEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size,omitempty"`
}

type browseListing struct {
	Folders []browseEntry `json:"folders"`
	Files   []browseEntry `json:"files"`
}

// Browse mounts the collaborators around the streaming core: directory
// listing, raw file access and thumbnails.
func (a *ApiManagerCtx) Browse(r chi.Router) {
	r.Get("/browse", a.browse)
	r.Get("/browse/*", a.browse)
	r.Get("/raw/*", a.raw)
	r.Get("/thumbnail/*", a.thumbnail)
}

func (a *ApiManagerCtx) browse(w http.ResponseWriter, r *http.Request) {
	file, err := unescapePath(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "400 bad path", http.StatusBadRequest)
		return
	}

	dirPath, err := a.absPath(file)
	if err != nil {
		http.Error(w, "404 not found", http.StatusNotFound)
		return
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		http.Error(w, "500 unable to read directory", http.StatusInternalServerError)
		return
	}

	listing := browseListing{
		Folders: []browseEntry{},
		Files:   []browseEntry{},
	}

	for _, entry := range entries {
		if entry.IsDir() {
			listing.Folders = append(listing.Folders, browseEntry{Name: entry.Name()})
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		listing.Files = append(listing.Files, browseEntry{Name: entry.Name(), Size: info.Size()})
	}

	sort.Slice(listing.Folders, func(i, j int) bool { return listing.Folders[i].Name < listing.Folders[j].Name })
	sort.Slice(listing.Files, func(i, j int) bool { return listing.Files[i].Name < listing.Files[j].Name })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(listing)
}

func (a *ApiManagerCtx) raw(w http.ResponseWriter, r *http.Request) {
	file, err := unescapePath(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "400 bad path", http.StatusBadRequest)
		return
	}

	mediaPath, err := a.absPath(file)
	if err != nil {
		http.Error(w, "404 not found", http.StatusNotFound)
		return
	}

	http.ServeFile(w, r, mediaPath)
}

// thumbnail renders a single frame of the source as JPEG. The x query
// parameter picks the timestamp, width the output size.
func (a *ApiManagerCtx) thumbnail(w http.ResponseWriter, r *http.Request) {
	file, err := unescapePath(chi.URLParam(r, "*"))
	if err != nil {
		http.Error(w, "400 bad path", http.StatusBadRequest)
		return
	}

	mediaPath, err := a.absPath(file)
	if err != nil {
		http.Error(w, "404 not found", http.StatusNotFound)
		return
	}

	at := 0.0
	if x := r.URL.Query().Get("x"); x != "" {
		if at, err = strconv.ParseFloat(x, 64); err != nil || at < 0 {
			http.Error(w, "400 bad timestamp", http.StatusBadRequest)
			return
		}
	}

	width := 160
	if raw := r.URL.Query().Get("width"); raw != "" {
		if width, err = strconv.Atoi(raw); err != nil || width < 16 || width > 1920 {
			http.Error(w, "400 bad width", http.StatusBadRequest)
			return
		}
	}

	args := []string{
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", mediaPath,
		"-frames:v", "1",
		"-vf", "scale=" + strconv.Itoa(width) + ":-2",
		"-f", "image2",
		"-c:v", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(r.Context(), a.config.FFmpegBinary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		http.Error(w, "500 unable to render thumbnail", http.StatusInternalServerError)
		return
	}

	if err := cmd.Start(); err != nil {
		http.Error(w, "500 unable to render thumbnail", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "max-age=3600")
	_, _ = io.Copy(w, stdout)
	_ = cmd.Wait()
}
