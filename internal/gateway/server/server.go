// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package server wires the gateway's request lifecycle: URL sanitization,
// CORS, session/CSRF validation, routing, response cache, and the
// streaming proxy, in the order the client request actually flows
// through them.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/airmesh/edge/internal/cors"
	"github.com/airmesh/edge/internal/docs"
	"github.com/airmesh/edge/internal/gateway/proxy"
	"github.com/airmesh/edge/internal/gateway/respcache"
	"github.com/airmesh/edge/internal/gateway/router"
	"github.com/airmesh/edge/internal/health"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/session"
	"github.com/airmesh/edge/internal/urlsafe"
)

// Config wires together the already-constructed components a Server
// needs. Each is built and owned by the caller (cmd/gateway).
type Config struct {
	Router        *router.Router
	Cache         *respcache.Cache
	RadioProxy    *proxy.Proxy
	TerminalProxy *proxy.Proxy
	Sessions      *session.Manager
	CORS          *cors.Policy
	Health        *health.Manager
	Docs          *docs.Handler // optional

	ResponseCacheTTL  time.Duration
	SessionRateLimit  int // requests per window for /session and admin endpoints
	SessionRateWindow time.Duration
}

// Server is the gateway's HTTP entry point.
type Server struct {
	cfg Config
	mux *chi.Mux
}

// New builds the Server and its routing tree.
func New(cfg Config) *Server {
	if cfg.ResponseCacheTTL <= 0 {
		cfg.ResponseCacheTTL = 5 * time.Minute
	}
	if cfg.SessionRateLimit <= 0 {
		cfg.SessionRateLimit = 20
	}
	if cfg.SessionRateWindow <= 0 {
		cfg.SessionRateWindow = time.Minute
	}

	s := &Server{cfg: cfg}
	s.mux = s.buildRouter()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "gateway")
	})
	r.Use(s.cfg.CORS.Middleware)

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	if s.cfg.Docs != nil {
		r.Get("/docs", s.cfg.Docs.ServeYAML)
		r.Get("/api/docs/json", s.cfg.Docs.ServeJSON)
	}

	r.With(httprate.LimitByIP(s.cfg.SessionRateLimit, s.cfg.SessionRateWindow)).
		Post("/session", s.handleIssueSession)

	protected := chi.NewRouter()
	protected.Use(s.requireSession)
	protected.With(httprate.LimitByIP(s.cfg.SessionRateLimit, s.cfg.SessionRateWindow)).
		Post("/radio/stations/refresh", s.handleProxy)
	protected.HandleFunc("/radio/*", s.handleProxy)
	protected.HandleFunc("/radio", s.handleProxy)
	protected.HandleFunc("/terminal/*", s.handleProxy)
	protected.HandleFunc("/terminal", s.handleProxy)
	r.Mount("/", protected)

	return r
}

func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.cfg.Sessions.Issue(r.Context(), w)
	if err != nil {
		log.L().Error().Err(err).Msg("gateway: failed to issue session")
		http.Error(w, "failed to issue session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"id":"` + info.ID + `","csrfToken":"` + info.Nonce + `","csrfProof":"` + info.CSRFProof +
		`","expiresAt":"` + info.ExpiresAt.UTC().Format(time.RFC3339) + `"}`))
}

type sessionCtxKey struct{}

// requireSession enforces session/CSRF validation (C3) ahead of routing.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := s.cfg.Sessions.Validate(r.Context(), r)
		if result.StatusCode != 0 {
			http.Error(w, result.Err.Error(), result.StatusCode)
			return
		}
		ctx := context.WithValue(r.Context(), sessionCtxKey{}, result.Info.Nonce)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionNonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(sessionCtxKey{}).(string)
	return nonce
}

// handleProxy implements C1 (already-parsed path from chi) → C4 → C5 → C6.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	parsed, err := urlsafe.ParseRequestURL(r.URL.RequestURI())
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	target, suffix, ok := s.cfg.Router.Match(parsed.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	cleanSuffix, err := urlsafe.SanitizePathSuffix(suffix)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	upstream, err := s.cfg.Router.Resolve(target, suffix, r.URL.RawQuery)
	if err != nil {
		http.Error(w, "bad gateway target", http.StatusBadGateway)
		return
	}

	nonce := sessionNonceFromContext(r.Context())
	p := s.proxyFor(target.Service)

	if !router.Cacheable(r.Method, target.Service, cleanSuffix) {
		_, _ = p.Forward(w, r, upstream, nonce, false)
		return
	}

	cacheKey := router.CacheKey(target.Service, cleanSuffix, r.URL.Query())
	if entry, hit := s.cfg.Cache.Get(r.Context(), cacheKey); hit {
		for k, v := range entry.Headers {
			w.Header()[k] = v
		}
		w.Header().Set("X-Cache", "HIT")
		w.WriteHeader(entry.Status)
		_, _ = w.Write(entry.Body)
		return
	}

	w.Header().Set("X-Cache", "MISS")
	result, err := p.Forward(w, r, upstream, nonce, true)
	if err != nil {
		return
	}
	if respcache.Storable(result.Status, result.Header) {
		s.cfg.Cache.Store(r.Context(), cacheKey, respcache.Entry{
			Status:  result.Status,
			Headers: result.Header,
			Body:    result.Body,
		}, s.cfg.ResponseCacheTTL)
	}
}

func (s *Server) proxyFor(service router.Service) *proxy.Proxy {
	if service == router.ServiceTerminal {
		return s.cfg.TerminalProxy
	}
	return s.cfg.RadioProxy
}
