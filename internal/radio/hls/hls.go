// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package hls proxies a station's live stream: when the upstream response
// is an HLS media playlist, segment URIs are rewritten to route back
// through this service so every byte a client fetches is origin-pinned to
// the station's own stream host.
package hls

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/platform/httpx"
	pnet "github.com/airmesh/edge/internal/platform/net"
	"github.com/airmesh/edge/internal/radio/model"
)

// ContentTypePlaylist is always emitted for a rewritten playlist response,
// regardless of what the upstream server sent.
const ContentTypePlaylist = "application/vnd.apple.mpegurl"

const (
	defaultDeadline = 10 * time.Second
	maxPlaylistSize = 2 << 20 // 2 MiB; a media playlist is a small text file
)

var hopByHop = []string{
	"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding",
	"Upgrade", "Te", "Trailer", "Content-Length",
}

// Config configures a Proxy.
type Config struct {
	// Client performs the upstream fetch. Defaults to an
	// httpx.NewClient(Deadline) instance.
	Client *http.Client
	// Deadline bounds each playlist and segment fetch in full, including
	// body streaming, matching the source station's stream behavior.
	Deadline time.Duration
}

// Proxy implements the playlist rewrite and segment passthrough described
// for a station's live stream.
type Proxy struct {
	cfg Config
}

// New builds a Proxy.
func New(cfg Config) *Proxy {
	if cfg.Deadline <= 0 {
		cfg.Deadline = defaultDeadline
	}
	if cfg.Client == nil {
		cfg.Client = httpx.NewClient(cfg.Deadline)
	}
	return &Proxy{cfg: cfg}
}

// ServeStream fetches station's stream URL; a playlist response is
// rewritten so every segment URI routes through ServeSegment, anything
// else is passed through verbatim.
func (p *Proxy) ServeStream(w http.ResponseWriter, r *http.Request, station model.Station) {
	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, station.StreamURL, nil)
	if err != nil {
		http.Error(w, "bad stream url", http.StatusBadGateway)
		return
	}
	req.Header.Set("User-Agent", "edge-radio-hls/1.0")
	req.Header.Set("Accept", "*/*")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		writeUpstreamError(w, ctx, err, station.StreamURL)
		return
	}
	defer resp.Body.Close()

	base, berr := url.Parse(station.StreamURL)
	if berr != nil {
		http.Error(w, "bad stream url", http.StatusBadGateway)
		return
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	if isPlaylist(resp.Header.Get("Content-Type"), base.Path) {
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistSize+1))
		if err != nil {
			log.L().Warn().Err(err).Str("streamUrl", station.StreamURL).Msg("hls: read playlist body failed")
			http.Error(w, "upstream read failed", http.StatusBadGateway)
			return
		}
		if len(body) > maxPlaylistSize {
			http.Error(w, "playlist too large", http.StatusBadGateway)
			return
		}

		rewritten, err := rewritePlaylist(body, base)
		if err != nil {
			log.L().Warn().Err(err).Str("streamUrl", station.StreamURL).Msg("hls: rewrite playlist failed")
			http.Error(w, "invalid playlist", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", ContentTypePlaylist)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, rewritten)
		return
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.L().Warn().Err(err).Str("streamUrl", station.StreamURL).Msg("hls: error streaming passthrough body")
	}
}

// ServeSegment forwards a single segment fetch, requiring that the
// caller-supplied source URL shares the station's stream origin and uses
// https, so the playlist rewrite can never be abused to proxy arbitrary
// hosts.
func (p *Proxy) ServeSegment(w http.ResponseWriter, r *http.Request, station model.Station) {
	source := r.URL.Query().Get("source")
	if source == "" {
		http.Error(w, "missing source parameter", http.StatusBadRequest)
		return
	}

	target, ok := pnet.ParseDirectHTTPURL(source)
	if !ok {
		http.Error(w, "invalid source parameter", http.StatusBadRequest)
		return
	}

	streamURL, err := url.Parse(station.StreamURL)
	if err != nil {
		http.Error(w, "station stream url invalid", http.StatusBadGateway)
		return
	}

	if !strings.EqualFold(target.Scheme, "https") || !sameOrigin(target, streamURL) {
		http.Error(w, "source origin not allowed", http.StatusForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.cfg.Deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "bad segment url", http.StatusBadGateway)
		return
	}
	forwardHeader(req.Header, r.Header, "Range", "Accept", "User-Agent")

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		writeUpstreamError(w, ctx, err, target.String())
		return
	}
	defer resp.Body.Close()

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.L().Warn().Err(err).Str("segment", pnet.SanitizeURL(target.String())).Msg("hls: error streaming segment body")
	}
}

func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && strings.EqualFold(a.Host, b.Host)
}

func isPlaylist(contentType, path string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(path), ".m3u8")
}

// rewritePlaylist scans body line by line, passing comments and blank
// lines through verbatim and rewriting every other line into a
// same-origin segment-proxy reference.
func rewritePlaylist(body []byte, base *url.URL) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 4096), maxPlaylistSize)

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}

		abs, err := resolveSegment(base, trimmed)
		if err != nil {
			return "", fmt.Errorf("hls: resolve segment uri %q: %w", trimmed, err)
		}

		out.WriteString("stream/segment?source=")
		out.WriteString(url.QueryEscape(abs))
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("hls: scan playlist: %w", err)
	}
	return out.String(), nil
}

func resolveSegment(base *url.URL, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		if isHopByHop(k) {
			continue
		}
		dst[k] = append([]string(nil), v...)
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHop {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func forwardHeader(dst, src http.Header, names ...string) {
	for _, name := range names {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}

func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error, target string) {
	status := http.StatusBadGateway
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	log.L().Warn().Err(err).Str("url", pnet.SanitizeURL(target)).Int("status", status).Msg("hls: upstream request failed")
	http.Error(w, http.StatusText(status), status)
}
