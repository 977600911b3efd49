// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package server implements the radio service's own HTTP surface: the
// stations catalog query/refresh endpoints, the HLS stream proxy,
// favorites, and click-through notification. It sits behind the gateway,
// which forwards already-authenticated traffic to it.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/airmesh/edge/internal/auth"
	"github.com/airmesh/edge/internal/health"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/radio/click"
	"github.com/airmesh/edge/internal/radio/favorites"
	"github.com/airmesh/edge/internal/radio/hls"
	"github.com/airmesh/edge/internal/radio/model"
	"github.com/airmesh/edge/internal/radio/query"
	"github.com/airmesh/edge/internal/radio/refresh"
	"github.com/airmesh/edge/internal/ratelimit"
)

// Config wires together the already-constructed components a Server
// needs. Each is built and owned by the caller (cmd/radio).
type Config struct {
	Pipeline  *refresh.Pipeline
	Favorites *favorites.Store
	HLS       *hls.Proxy
	Click     *click.Notifier
	Health    *health.Manager

	RefreshToken       string
	DefaultPageSize    int
	MaxPageSize        int
	AllowQueryToken    bool
}

// Server is the radio service's HTTP entry point.
type Server struct {
	cfg     Config
	mux     *chi.Mux
	limiter *ratelimit.Limiter
}

// New builds the Server and its routing tree.
func New(cfg Config) *Server {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 250
	}

	s := &Server{cfg: cfg, limiter: ratelimit.New(ratelimit.DefaultConfig())}
	s.mux = s.buildRouter()
	return s
}

// throttle applies a soft, internal per-IP+per-mode token-bucket limit
// ahead of the edge gateway's own sliding-window limiter, so a single
// abusive client can't monopolize this service's outbound fetch/validate
// capacity even if the gateway's rate limit is more permissive.
func (s *Server) throttle(mode string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(ratelimit.GetClientIP(r), mode) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Get("/healthz", s.cfg.Health.ServeHealth)
	r.Get("/readyz", s.cfg.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stations", s.throttle("api", s.handleListStations))
	r.Post("/stations/refresh", s.throttle("refresh", s.handleRefresh))
	r.Post("/stations/{id}/click", s.throttle("api", s.handleClick))
	r.Get("/stations/{id}/stream", s.throttle("stream", s.handleStream))
	r.Get("/stations/{id}/stream/segment", s.throttle("stream", s.handleSegment))

	favs := chi.NewRouter()
	favs.Use(s.requireSessionKey)
	favs.Get("/", s.handleListFavorites)
	favs.Put("/{id}", s.handlePutFavorite)
	favs.Delete("/{id}", s.handleDeleteFavorite)
	r.Mount("/favorites", favs)

	return r
}

type sessionKeyCtxKey struct{}

// requireSessionKey resolves the caller's favorites identity from either
// the gateway-forwarded session header or an explicit client-session
// header, rejecting requests that present neither.
func (s *Server) requireSessionKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := favorites.ResolveSessionKey(
			r.Header.Get("X-Gateway-Session"),
			r.Header.Get(favorites.HeaderClientSession),
		)
		if !ok {
			http.Error(w, "session identity required", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKeyCtxKey{}, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(sessionKeyCtxKey{}).(string)
	return key
}

func (s *Server) handleListStations(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseParams(r.URL.Query(), s.cfg.DefaultPageSize, s.cfg.MaxPageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	cacheSource := "index"
	if params.Refresh {
		if _, err := s.cfg.Pipeline.Refresh(r.Context()); err != nil {
			log.L().Error().Err(err).Msg("radio: on-demand refresh failed")
			http.Error(w, "refresh failed", http.StatusBadGateway)
			return
		}
		cacheSource = "refresh"
	}

	payload, idx, ok := s.cfg.Pipeline.Current()
	if !ok {
		http.Error(w, "catalog not yet populated", http.StatusServiceUnavailable)
		return
	}

	result := query.Run(idx, payload, params, s.cfg.MaxPageSize, cacheSource, "radio-browser")
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !auth.AuthorizeRequest(r, s.cfg.RefreshToken, s.cfg.AllowQueryToken) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	payload, err := s.cfg.Pipeline.Refresh(r.Context())
	if err != nil {
		log.L().Error().Err(err).Msg("radio: admin refresh failed")
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":       payload.Total,
		"fingerprint": payload.Fingerprint,
		"updatedAt":   payload.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.lookupStation(id); !ok {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}

	go s.cfg.Click.Notify(context.Background(), id)

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	station, ok := s.lookupStation(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	s.cfg.HLS.ServeStream(w, r, station)
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	station, ok := s.lookupStation(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "station not found", http.StatusNotFound)
		return
	}
	s.cfg.HLS.ServeSegment(w, r, station)
}

func (s *Server) handleListFavorites(w http.ResponseWriter, r *http.Request) {
	payload, _, ok := s.cfg.Pipeline.Current()
	if !ok {
		payload = model.StationsPayload{}
	}

	rec, err := s.cfg.Favorites.List(r.Context(), sessionKeyFromContext(r.Context()), payload)
	if err != nil {
		log.L().Error().Err(err).Msg("radio: favorites list failed")
		http.Error(w, "failed to load favorites", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, map[string]any{"items": rec.Items()})
}

func (s *Server) handlePutFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var slot *int
	if raw := r.URL.Query().Get("slot"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid slot", http.StatusBadRequest)
			return
		}
		slot = &n
	}

	payload, _, ok := s.cfg.Pipeline.Current()
	if !ok {
		http.Error(w, "catalog not yet populated", http.StatusServiceUnavailable)
		return
	}

	rec, err := s.cfg.Favorites.Put(r.Context(), sessionKeyFromContext(r.Context()), id, slot, payload)
	switch {
	case err == favorites.ErrStationNotFound:
		http.Error(w, "station not found", http.StatusNotFound)
		return
	case err == favorites.ErrSlotsFull:
		http.Error(w, "favorites full", http.StatusConflict)
		return
	case err != nil:
		log.L().Error().Err(err).Msg("radio: favorites put failed")
		http.Error(w, "failed to save favorite", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, map[string]any{"items": rec.Items()})
}

func (s *Server) handleDeleteFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := s.cfg.Favorites.Delete(r.Context(), sessionKeyFromContext(r.Context()), id)
	if err != nil {
		log.L().Error().Err(err).Msg("radio: favorites delete failed")
		http.Error(w, "failed to delete favorite", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, map[string]any{"items": rec.Items()})
}

func (s *Server) lookupStation(id string) (model.Station, bool) {
	payload, _, ok := s.cfg.Pipeline.Current()
	if !ok {
		return model.Station{}, false
	}
	for _, st := range payload.Stations {
		if st.ID == id {
			return st, true
		}
	}
	return model.Station{}, false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
