// Package server exposes conversation sessions and the interaction log over HTTP.
package server

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"researchbuddy/internal/config"
	"researchbuddy/internal/conversation"
)

const shutdownTimeout = 5 * time.Second

// AdminSecret supplies the shared admin password. credentials.SecretFile satisfies it.
type AdminSecret interface {
	AdminPassword() (string, bool)
}

type Server struct {
	orch     *conversation.Orchestrator
	defaults conversation.Settings
	db       *sql.DB
	admin    AdminSecret
	logger   zerolog.Logger

	registry *prometheus.Registry
	metrics  *metrics
	limiter  *rate.Limiter

	mu       sync.RWMutex
	sessions map[string]*conversation.Session
}

type Option func(*Server)

// WithDB enables session logging and the admin endpoints.
func WithDB(db *sql.DB) Option {
	return func(s *Server) { s.db = db }
}

func WithAdminSecret(a AdminSecret) Option {
	return func(s *Server) { s.admin = a }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithRegistry replaces the metrics registry. Process and Go collectors are
// only added to the default one.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

func New(orch *conversation.Orchestrator, defaults conversation.Settings, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		orch:     orch,
		defaults: defaults,
		logger:   zerolog.Nop(),
		sessions: make(map[string]*conversation.Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = newMetrics(s.registry)

	limit := rate.Limit(cfg.AdminRate)
	if cfg.AdminRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.AdminBurst
	if burst <= 0 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(limit, burst)
	return s
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/models", s.handleModels)
		r.Get("/routes", s.handleRoutes)
		r.Get("/credential", s.handleCredentialStatus)

		r.Post("/sessions", s.handleCreateSession)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Delete("/", s.handleDeleteSession)
			r.Post("/reset", s.handleReset)
			r.Put("/settings", s.handleSettings)
			r.Put("/credential", s.handleSetCredential)
			r.Post("/attachments", s.handleAttach)
			r.Delete("/attachments", s.handleDetach)
			r.Post("/turns", s.handleTurn)
			r.Post("/images", s.handleImage)
			r.Get("/export", s.handleExport)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Get("/stats", s.handleAdminStats)
			r.Get("/sessions", s.handleAdminSessions)
			r.Get("/sessions/{sessionID}", s.handleAdminSession)
			r.Get("/sessions/{sessionID}/export", s.handleAdminExport)
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// Run listens on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln and shuts down gracefully when ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("serving http api")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
