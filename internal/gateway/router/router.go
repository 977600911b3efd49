// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package router maps the gateway's two fixed prefixes to their upstream
// services, pins resolved URLs to the configured upstream host (an SSRF
// guard), and decides which requests are eligible for the response cache.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/airmesh/edge/internal/urlsafe"
)

// Service names the two fixed upstream prefixes.
type Service string

const (
	ServiceRadio    Service = "radio"
	ServiceTerminal Service = "terminal"
)

// ErrUnknownPrefix is returned when a request path matches neither
// configured prefix.
var ErrUnknownPrefix = errors.New("router: no matching prefix")

// ErrSSRFPin is returned when the resolved upstream URL's scheme or host
// does not match the configured base for that service.
var ErrSSRFPin = errors.New("router: resolved upstream does not match configured host")

// Target describes one fixed prefix's upstream binding.
type Target struct {
	Prefix  string
	Service Service
	BaseURL *url.URL
}

// Router holds the fixed prefix table.
type Router struct {
	targets []Target
}

// New builds a Router from the two configured upstream base URLs.
func New(radioBaseURL, terminalBaseURL string) (*Router, error) {
	radio, err := url.Parse(radioBaseURL)
	if err != nil {
		return nil, fmt.Errorf("router: parse radio base url: %w", err)
	}
	terminal, err := url.Parse(terminalBaseURL)
	if err != nil {
		return nil, fmt.Errorf("router: parse terminal base url: %w", err)
	}

	return &Router{targets: []Target{
		{Prefix: "/radio", Service: ServiceRadio, BaseURL: radio},
		{Prefix: "/terminal", Service: ServiceTerminal, BaseURL: terminal},
	}}, nil
}

// Match finds the target whose prefix matches path, returning the target
// and the unconsumed suffix (always starting with "/", possibly empty).
func (rt *Router) Match(path string) (Target, string, bool) {
	for _, t := range rt.targets {
		if path == t.Prefix {
			return t, "", true
		}
		if strings.HasPrefix(path, t.Prefix+"/") {
			return t, path[len(t.Prefix):], true
		}
	}
	return Target{}, "", false
}

// Resolve sanitizes rawSuffix and builds the full upstream URL, pinning the
// result to the target's configured scheme and host so a crafted suffix or
// query can never redirect the proxy to an arbitrary origin.
func (rt *Router) Resolve(t Target, rawSuffix, rawQuery string) (*url.URL, error) {
	cleanSuffix, err := urlsafe.SanitizePathSuffix(rawSuffix)
	if err != nil {
		return nil, fmt.Errorf("router: %w", err)
	}

	resolved := *t.BaseURL
	resolved.Path = strings.TrimSuffix(t.BaseURL.Path, "/") + cleanSuffix
	resolved.RawQuery = rawQuery
	resolved.Fragment = ""

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, ErrSSRFPin
	}
	if !strings.EqualFold(resolved.Host, t.BaseURL.Host) {
		return nil, ErrSSRFPin
	}

	return &resolved, nil
}

// Cacheable reports whether a request is eligible for the response cache:
// GET on the radio service, with a sanitized suffix under /stations.
func Cacheable(method string, service Service, cleanSuffix string) bool {
	return method == "GET" && service == ServiceRadio && strings.HasPrefix(cleanSuffix, "/stations")
}

// CacheKey builds the canonical cache key: service:path?sortedQuery, with
// query parameters sorted by key and percent-encoded.
func CacheKey(service Service, cleanSuffix string, query url.Values) string {
	var b strings.Builder
	b.WriteString(string(service))
	b.WriteByte(':')
	b.WriteString(cleanSuffix)

	if len(query) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sorted := url.Values{}
	for _, k := range keys {
		vs := append([]string(nil), query[k]...)
		sort.Strings(vs)
		for _, v := range vs {
			sorted.Add(k, v)
		}
	}

	b.WriteByte('?')
	b.WriteString(sorted.Encode())
	return b.String()
}
