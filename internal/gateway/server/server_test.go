// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/airmesh/edge/internal/cache"
	"github.com/airmesh/edge/internal/cors"
	"github.com/airmesh/edge/internal/gateway/proxy"
	"github.com/airmesh/edge/internal/gateway/respcache"
	"github.com/airmesh/edge/internal/gateway/router"
	"github.com/airmesh/edge/internal/health"
	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type testHarness struct {
	srv      *Server
	upstream *httptest.Server
	sessions *session.Manager
	hits     int
}

func newTestHarness(t *testing.T, upstream http.HandlerFunc) *testHarness {
	t.Helper()

	up := httptest.NewServer(upstream)
	t.Cleanup(up.Close)

	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(kv.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions, err := session.NewManager(t.Context(), session.Config{TTL: time.Hour}, store)
	require.NoError(t, err)

	rt, err := router.New(up.URL, up.URL)
	require.NoError(t, err)

	c := respcache.New(cache.NewMemoryCache(time.Minute), nil)

	radioProxy := proxy.New(proxy.Config{ServiceToken: "radio-secret", Deadline: 2 * time.Second})
	terminalProxy := proxy.New(proxy.Config{ServiceToken: "terminal-secret", Deadline: 2 * time.Second})

	h := health.NewManager("test")

	srv := New(Config{
		Router:            rt,
		Cache:             c,
		RadioProxy:        radioProxy,
		TerminalProxy:     terminalProxy,
		Sessions:          sessions,
		CORS:              cors.NewPolicy([]string{"https://app.example.com"}),
		Health:            h,
		ResponseCacheTTL:  time.Minute,
		SessionRateLimit:  1000,
		SessionRateWindow: time.Minute,
	})

	return &testHarness{srv: srv, upstream: up, sessions: sessions}
}

// issueSession drives the real /session endpoint and returns credentials
// for use on subsequent protected requests.
func issueSession(t *testing.T, srv *Server) (csrfProof, csrfToken string) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ID        string `json:"id"`
		CSRFToken string `json:"csrfToken"`
		CSRFProof string `json:"csrfProof"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.CSRFProof)

	// Validate once to learn the nonce (CSRFProof resolves a record with the
	// nonce populated by signature verification; the csrfToken from the
	// response satisfies the CSRF check a GET still requires).
	probe := httptest.NewRequest(http.MethodGet, "/radio/stations", nil)
	probe.Header.Set("X-Gateway-CSRF-Proof", body.CSRFProof)
	probe.Header.Set("X-Gateway-CSRF", body.CSRFToken)
	result := srv.cfg.Sessions.Validate(probe.Context(), probe)
	require.Equal(t, 0, result.StatusCode)

	return body.CSRFProof, result.Info.Nonce
}

func authedRequest(method, path, proof, token string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set("X-Gateway-CSRF-Proof", proof)
	r.Header.Set("X-Gateway-CSRF", token)
	return r
}

func TestIssueSession_ReturnsCSRFProof(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	proof, token := issueSession(t, h.srv)
	require.NotEmpty(t, proof)
	require.NotEmpty(t, token)
}

func TestProtectedRoute_WithoutSessionReturns401(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/radio/stations", nil)
	h.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_WrongCSRFTokenReturns403(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	proof, _ := issueSession(t, h.srv)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/radio/stations", proof, "wrong-token")
	h.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProtectedRoute_CacheMissThenHit(t *testing.T) {
	calls := 0
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"items":[]}`))
	})
	proof, token := issueSession(t, h.srv)

	rec1 := httptest.NewRecorder()
	h.srv.ServeHTTP(rec1, authedRequest(http.MethodGet, "/radio/stations", proof, token))
	require.Equal(t, http.StatusOK, rec1.Code)
	require.Equal(t, "MISS", rec1.Header().Get("X-Cache"))
	require.Equal(t, `{"items":[]}`, rec1.Body.String())

	rec2 := httptest.NewRecorder()
	h.srv.ServeHTTP(rec2, authedRequest(http.MethodGet, "/radio/stations", proof, token))
	require.Equal(t, http.StatusOK, rec2.Code)
	require.Equal(t, "HIT", rec2.Header().Get("X-Cache"))
	require.Equal(t, `{"items":[]}`, rec2.Body.String())

	require.Equal(t, 1, calls, "second request should be served from cache, not forwarded upstream")
}

func TestProtectedRoute_NonCacheableRouteAlwaysForwards(t *testing.T) {
	calls := 0
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	proof, token := issueSession(t, h.srv)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/radio/favorites", proof, token))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Header().Get("X-Cache"))
	}
	require.Equal(t, 2, calls)
}

func TestUnknownPrefix_Returns404(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	proof, token := issueSession(t, h.srv)

	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, authedRequest(http.MethodGet, "/unknown/path", proof, token))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz_IsUnauthenticated(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_PreflightFromAllowedOrigin(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/radio/stations", nil)
	req.Header.Set("Origin", "https://app.example.com")
	h.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_RejectsDisallowedOriginOnStateChangingRequest(t *testing.T) {
	h := newTestHarness(t, func(w http.ResponseWriter, r *http.Request) {})
	proof, token := issueSession(t, h.srv)

	rec := httptest.NewRecorder()
	req := authedRequest(http.MethodPost, "/radio/admin/refresh", proof, token)
	req.Header.Set("Origin", "https://evil.example.com")
	h.srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}
