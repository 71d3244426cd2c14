// Package server exposes the gateway pipeline and the audit log over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/run-bigpig/nova-gateway/pkg/audit"
	"github.com/run-bigpig/nova-gateway/pkg/gateway"
	"github.com/run-bigpig/nova-gateway/pkg/identity"
	"github.com/run-bigpig/nova-gateway/pkg/llm"
	"github.com/run-bigpig/nova-gateway/pkg/logging"
	"github.com/run-bigpig/nova-gateway/pkg/metrics"
)

// DefaultBodyLimit caps request bodies
const DefaultBodyLimit = 1 << 20

// DefaultCORSOrigins are the origins allowed when none are configured
var DefaultCORSOrigins = []string{"http://localhost", "http://localhost:3000", "http://localhost:8000"}

// ChatRoutes all run the pipeline. The unversioned and demo paths are kept
// for existing frontends.
var ChatRoutes = []string{"/nova-chat", "/demo-chat", "/v1/nova-chat", "/v1/demo-chat", "/api/v1/demo-chat"}

// Gateway is the pipeline as seen by the HTTP layer
type Gateway interface {
	Run(ctx context.Context, req gateway.Request) (*gateway.Result, error)
	Backend() llm.Backend
}

// Server wires HTTP endpoints to the gateway and the audit log.
type Server struct {
	gateway      Gateway
	reader       audit.Reader
	logger       logging.Logger
	metrics      *metrics.Metrics
	validator    identity.Validator
	authRequired bool
	corsOrigins  []string
	bodyLimit    int64
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records request counts and mounts /metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAuth validates bearer tokens on the chat and log routes. When required
// is false, anonymous requests pass but invalid tokens are still rejected.
func WithAuth(validator identity.Validator, required bool) Option {
	return func(s *Server) {
		s.validator = validator
		s.authRequired = required
	}
}

// WithCORSOrigins replaces DefaultCORSOrigins
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithBodyLimit sets the maximum request body size in bytes
func WithBodyLimit(limit int64) Option {
	return func(s *Server) {
		if limit > 0 {
			s.bodyLimit = limit
		}
	}
}

// New creates a Server. The log endpoints are served only when sink, or a
// sink it wraps, implements audit.Reader.
func New(gw Gateway, sink audit.Sink, options ...Option) *Server {
	s := &Server{
		gateway:     gw,
		corsOrigins: DefaultCORSOrigins,
		bodyLimit:   DefaultBodyLimit,
	}
	if reader, ok := audit.AsReader(sink); ok {
		s.reader = reader
	}
	for _, option := range options {
		option(s)
	}
	if s.logger == nil {
		s.logger = logging.New()
	}
	return s
}

// Routes builds the router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Authenticate(s.validator, s.authRequired, s.logger))

		for _, route := range ChatRoutes {
			r.Post(route, s.handleChat)
		}

		r.Get("/v1/logs", s.handleListLogs)
		r.Get("/v1/logs/verify", s.handleVerifyLogs)
		r.Get("/v1/logs/{id}", s.handleGetLog)
	})

	return r
}

// NewHTTPServer builds an http.Server with the gateway's timeouts.
func NewHTTPServer(addr string, handler http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
	}
}
