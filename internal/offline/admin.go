package offline

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"gamenotes/internal/bootstrap"
)

// Handler serves the admin endpoints under the admin prefix and intercepts
// everything else.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(s.log))
	r.Use(requestIDLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route(s.cfg.Proxy.AdminPrefix, func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/activate", s.handleActivate)
		r.Get("/bootstrap", s.handleBootstrap)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	})

	r.Handle("/*", http.HandlerFunc(s.handle))
	return r
}

func requestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			hlog.FromRequest(r).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("req_id", id)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Status()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("status")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.Activate(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNotInstalled) {
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	s.handleStatus(w, r)
}

func (s *Service) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	rep, err := s.BootstrapLoader().Load(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !rep.Failed() {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		bootstrap.RenderErrorPanel(w, http.StatusServiceUnavailable,
			"The application could not be loaded. Check the connection and reload the page.",
			rep.FirstError())
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, rep)
}

// BootstrapLoader loads the configured modules through the proxy itself,
// in-process, the way a page would right after registering it.
func (s *Service) BootstrapLoader() *bootstrap.Loader {
	return &bootstrap.Loader{
		Client:     &http.Client{Transport: bootstrap.HandlerTransport{Handler: http.HandlerFunc(s.handle)}},
		BaseURL:    s.cfg.Server.Origin,
		BasePrefix: s.cfg.basePrefix,
		Modules:    s.cfg.Bootstrap.Modules,
		Mode:       s.cfg.bootstrapMode,
		Logger:     s.log.With().Str("component", "bootstrap").Logger(),
		Degraded: func(resp *http.Response) bool {
			return resp.Header.Get(HeaderOutcome) == OutcomeFallback
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
