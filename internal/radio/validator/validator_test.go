// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/radio/model"
	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) kv.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := kv.NewRedisStore(kv.RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestValidateMany_AcceptsAudioStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x01, 0x02, 0x03})
	}))
	defer srv.Close()

	v := New(DefaultConfig(), srv.Client(), newTestStore(t))
	stations := []model.Station{{ID: "1", StreamURL: srv.URL}}

	result := v.ValidateMany(context.Background(), stations)
	require.Len(t, result.Accepted, 1)
	require.Equal(t, 0, result.Dropped)
}

func TestValidateMany_DropsOnBadContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html/>"))
	}))
	defer srv.Close()

	v := New(DefaultConfig(), srv.Client(), newTestStore(t))
	stations := []model.Station{{ID: "1", StreamURL: srv.URL}}

	result := v.ValidateMany(context.Background(), stations)
	require.Empty(t, result.Accepted)
	require.Equal(t, 1, result.Dropped)
	require.Equal(t, 1, result.Reasons[ReasonUnexpectedContentType])
}

func TestValidateMany_DropsEmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := New(DefaultConfig(), srv.Client(), newTestStore(t))
	stations := []model.Station{{ID: "1", StreamURL: srv.URL}}

	result := v.ValidateMany(context.Background(), stations)
	require.Empty(t, result.Accepted)
	require.Equal(t, 1, result.Reasons[ReasonEmptyResponse])
}

func TestValidateMany_BlockedDomainSkipsProbe(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IsBlocked = func(host string) bool { return host == "blocked.example" }
	v := New(cfg, http.DefaultClient, newTestStore(t))

	stations := []model.Station{{ID: "1", StreamURL: "https://blocked.example/stream"}}
	result := v.ValidateMany(context.Background(), stations)
	require.Empty(t, result.Accepted)
	require.Equal(t, 1, result.Reasons[ReasonBlockedDomain])
}

func TestValidateMany_PreservesInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x01})
	}))
	defer srv.Close()

	v := New(DefaultConfig(), srv.Client(), newTestStore(t))
	stations := []model.Station{
		{ID: "a", StreamURL: srv.URL + "/a"},
		{ID: "b", StreamURL: srv.URL + "/b"},
		{ID: "c", StreamURL: srv.URL + "/c"},
	}

	result := v.ValidateMany(context.Background(), stations)
	require.Len(t, result.Accepted, 3)
	require.Equal(t, "a", result.Accepted[0].ID)
	require.Equal(t, "b", result.Accepted[1].ID)
	require.Equal(t, "c", result.Accepted[2].ID)
}

func TestValidateMany_UsesFreshCacheWithoutReprobe(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "audio/mpeg")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x01})
	}))
	defer srv.Close()

	store := newTestStore(t)
	v := New(DefaultConfig(), srv.Client(), store)
	stations := []model.Station{{ID: "1", StreamURL: srv.URL}}

	v.ValidateMany(context.Background(), stations)
	require.Equal(t, 1, hits)

	v2 := New(DefaultConfig(), srv.Client(), store)
	v2.ValidateMany(context.Background(), stations)
	require.Equal(t, 1, hits, "second validator should reuse cached fresh entry")
}
