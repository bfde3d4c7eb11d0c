// Package httpapi serves regime classifications over HTTP. It wires the
// detector factory, the prediction cache, and Prometheus telemetry behind
// a gorilla/mux router; the detector core itself knows nothing about any
// of this.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/tradesys/regime/internal/cache"
	"github.com/tradesys/regime/internal/config"
	"github.com/tradesys/regime/internal/regime"
	"github.com/tradesys/regime/internal/telemetry"
)

// Server is the read-only serving surface for the regime detector.
type Server struct {
	router    *mux.Router
	server    *http.Server
	factory   *regime.Factory
	cache     *cache.PredictionCache
	telemetry *telemetry.Registry
	limiter   *rate.Limiter
	cfg       config.ServerConfig
}

// NewServer assembles the router and middleware. cache may be nil when
// caching is disabled.
func NewServer(cfg config.ServerConfig, factory *regime.Factory, predCache *cache.PredictionCache) *Server {
	promReg := prometheus.NewRegistry()

	s := &Server{
		router:    mux.NewRouter(),
		factory:   factory,
		cache:     predCache,
		telemetry: telemetry.NewRegistry(promReg),
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cfg:       cfg,
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	api.HandleFunc("/model", s.handleModel).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving HTTP until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	log.Info().Str("listen", s.cfg.Listen).Msg("regime HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type contextKey string

const requestIDKey contextKey = "request_id"

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
