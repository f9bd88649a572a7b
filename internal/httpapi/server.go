// Package httpapi is the reference HTTP surface over the token issuance core.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/oauth2core/internal/grant"
	"github.com/example/oauth2core/internal/storage"
)

// Backend is the storage the HTTP layer reads directly.
type Backend interface {
	storage.AccessTokenStore
	storage.ClaimsStore
	Ping(ctx context.Context) error
}

type Server struct {
	controller *grant.Controller
	backend    Backend
	limiter    *RateLimiter
	metrics    *Metrics
}

type Option func(*Server)

// WithRateLimit caps token requests per client and minute. 0 disables it.
func WithRateLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute > 0 {
			s.limiter = NewRateLimiter(perMinute)
		} else {
			s.limiter = nil
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(controller *grant.Controller, backend Backend, opts ...Option) *Server {
	s := &Server{controller: controller, backend: backend}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(controller.GrantTypes())
	}
	return s
}

// Handler returns the routed handler with the global middleware applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(RecoverMiddleware)
	r.Use(SecurityHeaders)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	var token http.Handler = http.HandlerFunc(s.handleToken)
	if s.limiter != nil {
		token = s.limiter.Middleware(token)
	}
	r.Handle("/token", token).Methods(http.MethodPost)

	r.HandleFunc("/userinfo", s.handleUserInfo).Methods(http.MethodGet, http.MethodPost)
	return r
}
