// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package refresh fetches the upstream stations directory, validates and
// normalizes entries, fingerprints the result, and persists it atomically.
package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airmesh/edge/internal/log"
	pnet "github.com/airmesh/edge/internal/platform/net"
)

// catalogFetchPolicy pins every directory fetch to https:443 against a
// publicly-routable address, so a poisoned or hostile SRV record can never
// redirect a refresh into internal infrastructure. allowInsecure relaxes
// scheme/port to also accept plain http on 80, and allows loopback
// addresses through the resolved-IP check, for local development and
// tests exercising the fetch against an httptest.Server.
func catalogFetchPolicy(allowInsecure bool) pnet.OutboundPolicy {
	if !allowInsecure {
		return pnet.OutboundPolicy{
			Enabled: true,
			Allow: pnet.OutboundAllowlist{
				Schemes: []string{"https"},
				Ports:   []int{443},
			},
		}
	}
	return pnet.OutboundPolicy{
		Enabled: true,
		Allow: pnet.OutboundAllowlist{
			Schemes: []string{"http", "https"},
			Ports:   []int{80, 443},
			CIDRs:   []string{"127.0.0.0/8", "::1/128"},
		},
	}
}

const srvService = "_api._tcp.radio-browser.info"

// HostRotator resolves and rotates across the upstream directory's SRV
// hosts, falling back to a single default host when SRV lookup fails or
// returns nothing.
type HostRotator struct {
	defaultHost string
	resolver    *net.Resolver
	mu          sync.Mutex
	hosts       []string
	index       uint64
	lastResolve time.Time
	resolveTTL  time.Duration
}

// NewHostRotator builds a rotator seeded with a default host.
func NewHostRotator(defaultHost string) *HostRotator {
	return &HostRotator{
		defaultHost: defaultHost,
		resolver:    net.DefaultResolver,
		resolveTTL:  10 * time.Minute,
	}
}

// Hosts returns the union of SRV-resolved hosts and the default host,
// re-resolving at most once per resolveTTL.
func (h *HostRotator) Hosts(ctx context.Context) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastResolve) < h.resolveTTL && len(h.hosts) > 0 {
		return h.hosts
	}

	hosts := []string{h.defaultHost}
	_, srvs, err := h.resolver.LookupSRV(ctx, "", "", srvService)
	if err != nil {
		log.L().Debug().Err(err).Msg("srv lookup failed, using default host only")
	} else {
		seen := map[string]struct{}{h.defaultHost: {}}
		for _, rec := range srvs {
			name := strings.TrimSuffix(rec.Target, ".")
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			hosts = append(hosts, name)
		}
	}

	h.hosts = hosts
	h.lastResolve = time.Now()
	return hosts
}

// Next returns a deterministic next host by modular index, advancing the
// rotation counter.
func (h *HostRotator) Next(ctx context.Context) string {
	hosts := h.Hosts(ctx)
	idx := atomic.AddUint64(&h.index, 1)
	return hosts[int(idx)%len(hosts)]
}

// rawStation is the loose JSON shape the upstream directory returns; numeric
// fields sometimes arrive as strings and are coerced rather than trusted.
type rawStation struct {
	StationUUID   string          `json:"stationuuid"`
	Name          string          `json:"name"`
	URLResolved   string          `json:"url_resolved"`
	URL           string          `json:"url"`
	Homepage      string          `json:"homepage"`
	Favicon       string          `json:"favicon"`
	Country       string          `json:"country"`
	CountryCode   string          `json:"countrycode"`
	State         string          `json:"state"`
	Language      string          `json:"language"`
	Tags          string          `json:"tags"`
	Codec         string          `json:"codec"`
	Bitrate       json.RawMessage `json:"bitrate"`
	GeoLat        json.RawMessage `json:"geo_lat"`
	GeoLong       json.RawMessage `json:"geo_long"`
	LastCheckOK   json.RawMessage `json:"lastcheckok"`
	LastCheckTime string          `json:"lastchecktime_iso8601"`
	ClickCount    json.RawMessage `json:"clickcount"`
	ClickTrend    json.RawMessage `json:"clicktrend"`
	Votes         json.RawMessage `json:"votes"`
}

func coerceInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func coerceBool(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	n, ok := coerceInt(raw)
	return ok && n != 0
}

// FetchCatalog issues a single request to /json/stations on host, applying
// the documented filters, and returns the raw decoded rows. allowInsecure
// permits plain http against loopback addresses, for local/test use only.
func FetchCatalog(ctx context.Context, client *http.Client, host string, limit int, allowInsecure bool) ([]rawStation, error) {
	q := url.Values{
		"hidebroken":  {"true"},
		"order":       {"clickcount"},
		"reverse":     {"true"},
		"lastcheckok": {"1"},
		"ssl_error":   {"0"},
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	scheme := "https"
	if allowInsecure {
		scheme = "http"
	}
	target := (&url.URL{Scheme: scheme, Host: host, Path: "/json/stations", RawQuery: q.Encode()}).String()

	policy := catalogFetchPolicy(allowInsecure)
	policy.Allow.Hosts = []string{host}
	validated, err := pnet.ValidateOutboundURL(ctx, target, policy)
	if err != nil {
		return nil, fmt.Errorf("refresh: host %s rejected by outbound policy: %w", host, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validated, nil)
	if err != nil {
		return nil, fmt.Errorf("refresh: build request: %w", err)
	}
	req.Header.Set("User-Agent", "edge-radio-refresh/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh: fetch %s: %w", host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("refresh: %s returned status %d", host, resp.StatusCode)
	}

	var rows []rawStation
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("refresh: decode %s: %w", host, err)
	}
	return rows, nil
}

// FetchCatalogRotating tries each rotated host in turn, returning the first
// successful response. It fails only when every host fails.
func FetchCatalogRotating(ctx context.Context, client *http.Client, rotator *HostRotator, limit int, allowInsecure bool) ([]rawStation, error) {
	hosts := rotator.Hosts(ctx)
	start := int(atomic.AddUint64(&rotator.index, 1)) % len(hosts)

	var lastErr error
	for i := 0; i < len(hosts); i++ {
		host := hosts[(start+i)%len(hosts)]
		rows, err := FetchCatalog(ctx, client, host, limit, allowInsecure)
		if err == nil {
			return rows, nil
		}
		log.L().Warn().Err(err).Str("host", host).Msg("directory fetch failed, rotating host")
		lastErr = err
	}
	return nil, fmt.Errorf("refresh: all hosts failed: %w", lastErr)
}
