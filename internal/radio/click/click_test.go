// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package click

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestNotify_HitsDirectoryClickEndpoint(t *testing.T) {
	var gotPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, srv.Client())
	n.Notify(t.Context(), "station-123")

	path, _ := gotPath.Load().(string)
	if path != "/json/url/station-123" {
		t.Fatalf("expected /json/url/station-123, got %q", path)
	}
}

func TestNotify_DoesNotPanicOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(srv.URL, srv.Client())
	n.Notify(t.Context(), "station-123")
}

func TestNotify_DoesNotPanicOnUnreachableHost(t *testing.T) {
	n := New("http://127.0.0.1:1", nil)
	n.Notify(t.Context(), "station-123")
}
