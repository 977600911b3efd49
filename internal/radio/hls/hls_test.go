// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package hls

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/airmesh/edge/internal/radio/model"
	"github.com/stretchr/testify/require"
)

func TestServeStream_RewritesPlaylistSegments(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:10,\nseg-001.ts\n#EXTINF:10,\nhttps://other.example/seg-002.ts\n"))
	}))
	defer upstream.Close()

	station := model.Station{ID: "s1", StreamURL: upstream.URL + "/live/index.m3u8"}
	p := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/stations/s1/stream", nil)
	rec := httptest.NewRecorder()
	p.ServeStream(rec, req, station)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, ContentTypePlaylist, rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	base, _ := url.Parse(station.StreamURL)
	resolved := base.ResolveReference(&url.URL{Path: "/live/seg-001.ts"}).String()
	require.Contains(t, body, "stream/segment?source="+url.QueryEscape(resolved))
	require.Contains(t, body, "stream/segment?source="+url.QueryEscape("https://other.example/seg-002.ts"))
}

func TestServeStream_PassesThroughNonPlaylist(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("raw-audio-bytes"))
	}))
	defer upstream.Close()

	station := model.Station{ID: "s1", StreamURL: upstream.URL + "/stream.mp3"}
	p := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/stations/s1/stream", nil)
	rec := httptest.NewRecorder()
	p.ServeStream(rec, req, station)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "raw-audio-bytes", rec.Body.String())
}

func TestServeSegment_RejectsCrossOriginSource(t *testing.T) {
	station := model.Station{ID: "s1", StreamURL: "https://cdn.example/live/index.m3u8"}
	p := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/stream/segment?source="+url.QueryEscape("https://evil.example/seg.ts"), nil)
	rec := httptest.NewRecorder()
	p.ServeSegment(rec, req, station)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServeSegment_RejectsMissingSource(t *testing.T) {
	station := model.Station{ID: "s1", StreamURL: "https://cdn.example/live/index.m3u8"}
	p := New(Config{})

	req := httptest.NewRequest(http.MethodGet, "/stream/segment", nil)
	rec := httptest.NewRecorder()
	p.ServeSegment(rec, req, station)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeSegment_ForwardsSameOriginSource(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "bytes=0-10", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("segment-bytes"))
	}))
	defer upstream.Close()

	upstreamURL, _ := url.Parse(upstream.URL)
	station := model.Station{ID: "s1", StreamURL: "https://" + upstreamURL.Host + "/live/index.m3u8"}

	req := httptest.NewRequest(http.MethodGet, "/stream/segment?source="+url.QueryEscape("https://"+upstreamURL.Host+"/live/seg-001.ts"), nil)
	req.Header.Set("Range", "bytes=0-10")
	rec := httptest.NewRecorder()

	p := New(Config{Client: upstream.Client()})
	p.ServeSegment(rec, req, station)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "segment-bytes", rec.Body.String())
}
