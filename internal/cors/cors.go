// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cors implements the gateway's origin policy: a configured
// allowlist, with an explicit "*" wildcard opt-in for non-credentialed
// broad access. It always emits Vary: Origin, and denies state-mutating
// cross-origin requests with a JSON 403 rather than silently dropping CORS
// headers.
package cors

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Policy holds the configured allowed origins.
type Policy struct {
	AllowedOrigins []string
	wildcard       bool
}

// NewPolicy builds a Policy from a configured origin list. A single "*"
// entry opts into wildcard mode: any origin is allowed, but credentials are
// never permitted.
func NewPolicy(allowedOrigins []string) *Policy {
	p := &Policy{AllowedOrigins: allowedOrigins}
	for _, o := range allowedOrigins {
		if o == "*" {
			p.wildcard = true
		}
	}
	return p
}

func (p *Policy) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if p.wildcard {
		return true
	}
	for _, o := range p.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

const (
	allowedMethods = "GET,POST,PUT,DELETE,PATCH,OPTIONS"
	allowedHeaders = "authorization,content-type,x-gateway-csrf,x-gateway-csrf-proof"
	maxAge         = "600"
)

// Middleware enforces the origin policy on every request. Preflight
// (OPTIONS) requests from an allowed origin get a 204 with the allowed
// methods/headers; other requests from a disallowed origin that are not
// safe/idempotent (i.e. anything but GET/HEAD/OPTIONS) are rejected with a
// 403 JSON body. Safe requests from a disallowed/absent origin fall through
// without CORS headers so same-origin and non-browser clients are
// unaffected.
func (p *Policy) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Origin")

		origin := r.Header.Get("Origin")
		allowed := p.allowed(origin)

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if !p.wildcard {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Max-Age", maxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if origin != "" && !allowed && !isSafeMethod(r.Method) {
			writeForbidden(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "origin not allowed"})
}
