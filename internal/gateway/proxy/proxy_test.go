// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/airmesh/edge/internal/resilience"
	"github.com/stretchr/testify/require"
)

func TestClientIP_PrefersCFConnectingIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.9")
	r.Header.Set("X-Forwarded-For", "10.0.0.1")
	r.RemoteAddr = "192.168.1.1:5555"
	require.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIP_FallsBackToXFFFirstHop(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	require.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestClientIP_FallsBackToSocketPeerAndNormalizesV6(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::1]:5555"
	require.Equal(t, "127.0.0.1", ClientIP(r))
}

func TestClientIP_NormalizesV4MappedV6(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "[::ffff:203.0.113.9]:443"
	require.Equal(t, "203.0.113.9", ClientIP(r))
}

func TestForward_StripsHopByHopAndForcesAuth(t *testing.T) {
	var gotAuth, gotSession, gotConn string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotSession = r.Header.Get("X-Gateway-Session")
		gotConn = r.Header.Get("Connection")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	p := New(Config{ServiceToken: "svc-secret", Deadline: 2 * time.Second})
	target, err := url.Parse(upstream.URL + "/stations")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/radio/stations", nil)
	r.Header.Set("Connection", "keep-alive")
	r.Header.Set("Authorization", "Bearer client-supplied")
	rec := httptest.NewRecorder()

	result, err := p.Forward(rec, r, target, "nonce-123", true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.Status)
	require.Equal(t, `{"ok":true}`, string(result.Body))
	require.Equal(t, "Bearer svc-secret", gotAuth)
	require.Equal(t, "nonce-123", gotSession)
	require.Empty(t, gotConn)
	require.Equal(t, `{"ok":true}`, rec.Body.String())
}

func TestForward_DeadlineExceededReturns504(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(Config{ServiceToken: "t", Deadline: 5 * time.Millisecond})
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/radio/stations", nil)
	rec := httptest.NewRecorder()

	_, err = p.Forward(rec, r, target, "", false)
	require.Error(t, err)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestForward_NetworkErrorReturns502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close() // connection refused for any subsequent request

	p := New(Config{ServiceToken: "t", Deadline: time.Second})
	r := httptest.NewRequest("GET", "/radio/stations", nil)
	rec := httptest.NewRecorder()

	_, err = p.Forward(rec, r, target, "", false)
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestForward_OpenBreakerShortCircuitsWith503(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	upstream.Close()

	breaker := resilience.NewCircuitBreaker("radio-upstream", 1, 1, time.Minute, time.Minute)
	p := New(Config{ServiceToken: "t", Deadline: time.Second, Breaker: breaker})

	r := httptest.NewRequest("GET", "/radio/stations", nil)
	rec := httptest.NewRecorder()
	_, err = p.Forward(rec, r, target, "", false)
	require.Error(t, err)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	r2 := httptest.NewRequest("GET", "/radio/stations", nil)
	rec2 := httptest.NewRecorder()
	_, err = p.Forward(rec2, r2, target, "", false)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, http.StatusServiceUnavailable, rec2.Code)
}

func TestForward_AppendsToExistingXFFWithoutDuplicating(t *testing.T) {
	var gotXFF string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotXFF = r.Header.Get("X-Forwarded-For")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := New(Config{ServiceToken: "t", Deadline: time.Second})
	target, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/radio/stations", nil)
	r.Header.Set("X-Forwarded-For", "198.51.100.2")
	r.RemoteAddr = "198.51.100.2:4444"
	rec := httptest.NewRecorder()

	_, err = p.Forward(rec, r, target, "", false)
	require.NoError(t, err)
	require.Equal(t, "198.51.100.2", gotXFF)
}
