package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/hls-vod-too/internal/config"
)

// ServerCtx owns the HTTP endpoint of the service: the router with its
// middleware chain, the web UI fallback and the listener lifecycle.
type ServerCtx struct {
	logger zerolog.Logger
	config *config.Server
	server *http.Server
}

// New builds the router and hands it to mount for the API routes. Anything no
// route claims falls back to the web UI, when one is configured.
func New(config *config.Server, mount func(r *chi.Mux)) *ServerCtx {
	logger := log.With().Str("module", "server").Logger()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	if config.Proxy {
		router.Use(middleware.RealIP)
	}
	router.Use(middleware.RequestLogger(&logformatter{logger}))
	router.Use(middleware.Recoverer)

	mount(router)

	if config.PProf {
		router.Mount("/debug", middleware.Profiler())
		logger.Info().Msg("pprof endpoint mounted at /debug/pprof")
	}

	if config.Static != "" {
		router.NotFound(staticHandler(config.Static))
	} else {
		router.NotFound(func(w http.ResponseWriter, r *http.Request) {
			//nolint
			_, _ = w.Write([]byte("404"))
		})
	}

	return &ServerCtx{
		logger: logger,
		config: config,
		server: &http.Server{
			Addr:    config.Bind,
			Handler: router,
		},
	}
}

// staticHandler serves the web UI files, answering any unknown path with the
// index so client-side routing keeps working.
func staticHandler(dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}

		filePath := filepath.Join(dir, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
			http.ServeFile(w, r, filePath)
			return
		}

		http.ServeFile(w, r, filepath.Join(dir, "index.html"))
	}
}

// Start begins listening in the background. TLS is only used when both a cert
// and a key are configured; a reverse proxy is the better place for it.
func (s *ServerCtx) Start() {
	useTLS := s.config.Cert != "" && s.config.Key != ""

	listenAndServe := s.server.ListenAndServe
	if useTLS {
		s.logger.Warn().Msg("serving TLS directly, consider terminating it in a reverse proxy instead")
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.config.Cert, s.config.Key)
		}
	}

	go func() {
		if err := listenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Panic().Err(err).Msg("http server failed")
		}
	}()

	s.logger.Info().Str("bind", s.server.Addr).Bool("tls", useTLS).Msg("listening")
}

// Shutdown stops accepting connections and drains in-flight requests until the
// context expires.
func (s *ServerCtx) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
