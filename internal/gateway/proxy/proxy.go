// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package proxy forwards a matched gateway request to its upstream
// service: it sanitizes the outbound header set, pins client identity
// headers to a single derived value, forces service-to-service bearer
// auth, and enforces one deadline per request.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/metrics"
	"github.com/airmesh/edge/internal/resilience"
)

// hopByHop lists headers that are connection-scoped and must never be
// forwarded to the upstream service.
var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Transfer-Encoding",
	"Upgrade",
	"Te",
	"Trailer",
	"Proxy-Authorization",
	"Proxy-Authenticate",
	"Host",
	"Content-Length",
	"Expect",
}

// Config configures a Proxy.
type Config struct {
	// ServiceToken is forced into the Authorization header of every
	// outbound request, overwriting any client-supplied value.
	ServiceToken string
	// Deadline bounds the entire outbound round trip (connect, headers,
	// and body streaming). Zero disables the deadline.
	Deadline time.Duration
	// Transport is the outbound RoundTripper. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
	// Breaker, when set, guards upstream calls: an open breaker short
	// circuits Forward with 503 instead of attempting the call.
	Breaker *resilience.CircuitBreaker
}

// Proxy forwards requests to an upstream URL that the caller has already
// resolved and SSRF-pinned (see the router package).
type Proxy struct {
	cfg    Config
	client *http.Client
}

// New builds a Proxy.
func New(cfg Config) *Proxy {
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Proxy{cfg: cfg, client: &http.Client{Transport: transport}}
}

// ErrCircuitOpen is returned when the configured breaker is open.
var ErrCircuitOpen = resilience.ErrCircuitOpen

// Result describes the response the upstream actually produced, captured
// for a caller that wants to store it in the response cache.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Forward sends a request to upstream on behalf of r, streaming the
// response body to w chunk-wise. When capture is true, a side buffer
// accumulates the body and is returned in Result.Body; the client still
// receives the stream regardless of capture. sessionNonce, when
// non-empty, is forwarded as X-Gateway-Session.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, upstream *url.URL, sessionNonce string, capture bool) (Result, error) {
	if p.cfg.Breaker != nil && !p.cfg.Breaker.AllowRequest() {
		http.Error(w, "upstream temporarily unavailable", http.StatusServiceUnavailable)
		return Result{}, ErrCircuitOpen
	}
	if p.cfg.Breaker != nil {
		p.cfg.Breaker.RecordAttempt()
	}

	ctx := r.Context()
	var cancel context.CancelFunc
	if p.cfg.Deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Deadline)
		defer cancel()
	}

	outReq, err := http.NewRequestWithContext(ctx, r.Method, upstream.String(), r.Body)
	if err != nil {
		return Result{}, err
	}
	outReq.Header = cloneHeader(r.Header)
	stripHopByHop(outReq.Header)
	applyClientIdentity(outReq.Header, r)
	outReq.Header.Set("Authorization", "Bearer "+p.cfg.ServiceToken)
	if sessionNonce != "" {
		outReq.Header.Set("X-Gateway-Session", sessionNonce)
	}

	resp, err := p.client.Do(outReq)
	if err != nil {
		status := http.StatusBadGateway
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		log.L().Warn().Err(err).Str("upstream", upstream.String()).Int("status", status).Msg("proxy: upstream request failed")
		http.Error(w, http.StatusText(status), status)
		if p.cfg.Breaker != nil {
			p.cfg.Breaker.RecordTechnicalFailure()
		}
		return Result{}, err
	}
	defer resp.Body.Close()
	metrics.RecordProxyStatus(upstream.Host, resp.StatusCode)

	stripHopByHop(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	result := Result{Status: resp.StatusCode, Header: resp.Header.Clone()}

	var buf bytes.Buffer
	dst := io.Writer(w)
	if capture {
		dst = io.MultiWriter(w, &buf)
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.L().Warn().Str("upstream", upstream.String()).Msg("proxy: deadline exceeded while streaming body")
		} else {
			log.L().Warn().Err(err).Str("upstream", upstream.String()).Msg("proxy: error streaming body to client")
		}
		if p.cfg.Breaker != nil {
			p.cfg.Breaker.RecordTechnicalFailure()
		}
		return result, err
	}

	if p.cfg.Breaker != nil {
		p.cfg.Breaker.RecordSuccess()
	}
	if capture {
		result.Body = buf.Bytes()
	}
	return result, nil
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

func copyHeader(dst, src http.Header) {
	for k, v := range src {
		dst[k] = append([]string(nil), v...)
	}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// applyClientIdentity derives the real client IP and pins every identity
// header upstream relies on to that single value, then appends it to
// X-Forwarded-For without duplicating an entry already present.
func applyClientIdentity(h http.Header, r *http.Request) {
	ip := ClientIP(r)
	h.Set("CF-Connecting-IP", ip)
	h.Set("CF-Connection-IP", ip)
	h.Set("X-Real-IP", ip)

	existing := h.Get("X-Forwarded-For")
	if existing == "" {
		h.Set("X-Forwarded-For", ip)
		return
	}
	for _, hop := range strings.Split(existing, ",") {
		if strings.TrimSpace(hop) == ip {
			return
		}
	}
	h.Set("X-Forwarded-For", existing+", "+ip)
}

// ClientIP derives the originating client address, preferring
// Cloudflare's connecting-IP headers, then the first hop of
// X-Forwarded-For, falling back to the socket peer. IPv4-mapped IPv6
// addresses and the IPv6 loopback are normalized to their canonical
// forms.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); v != "" {
		return normalizeIP(v)
	}
	if v := strings.TrimSpace(r.Header.Get("CF-Connection-IP")); v != "" {
		return normalizeIP(v)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return normalizeIP(first)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

func normalizeIP(raw string) string {
	if raw == "::1" {
		return "127.0.0.1"
	}
	if strings.HasPrefix(raw, "::ffff:") {
		return strings.TrimPrefix(raw, "::ffff:")
	}
	return raw
}
