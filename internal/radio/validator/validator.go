// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package validator probes candidate station stream URLs and decides which
// ones are acceptable to publish, backed by a TTL'd validation cache so
// repeated refreshes don't re-probe unchanged streams.
package validator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/metrics"
	"github.com/airmesh/edge/internal/radio/model"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Reason taxonomy for dropped stations.
const (
	ReasonNetwork               = "network"
	ReasonTimeout               = "timeout"
	ReasonBlockedDomain         = "blocked-domain"
	ReasonInsecureRedirect      = "insecure-redirect"
	ReasonUnexpectedContentType = "unexpected-content-type"
	ReasonEmptyResponse         = "empty-response"
)

// cacheEntry is the persisted validation result for one streamUrl.
type cacheEntry struct {
	OK          bool      `json:"ok"`
	ValidatedAt time.Time `json:"validatedAt"`
	Signature   string    `json:"signature"`
	TTLSeconds  int       `json:"ttlSeconds"`
	FinalURL    string    `json:"finalUrl,omitempty"`
	ForceHLS    bool      `json:"forceHls,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}

func (e cacheEntry) fresh(now time.Time, signature string) bool {
	if e.Signature != signature {
		return false
	}
	age := now.Sub(e.ValidatedAt)
	return age <= time.Duration(e.TTLSeconds)*time.Second
}

func signature(streamURL string, lastChangedAt *time.Time) string {
	stamp := ""
	if lastChangedAt != nil {
		stamp = lastChangedAt.UTC().Format(time.RFC3339Nano)
	}
	return streamURL + "|" + stamp
}

// Config controls probe and caching behavior.
type Config struct {
	Concurrency int
	Timeout     time.Duration
	SuccessTTL  time.Duration
	FailureTTL  time.Duration
	UserAgent   string
	IsBlocked   func(host string) bool
}

// DefaultConfig returns sane probing defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 16,
		Timeout:     4 * time.Second,
		SuccessTTL:  6 * time.Hour,
		FailureTTL:  30 * time.Minute,
		UserAgent:   "edge-radio-validator/1.0",
		IsBlocked:   func(string) bool { return false },
	}
}

// Validator probes station stream URLs concurrently.
type Validator struct {
	cfg    Config
	client *http.Client
	store  kv.Store
	sfg    singleflight.Group
}

// New constructs a Validator. client should be a shared keep-alive client;
// store backs the cross-restart validation cache.
func New(cfg Config, client *http.Client, store kv.Store) *Validator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.IsBlocked == nil {
		cfg.IsBlocked = func(string) bool { return false }
	}
	return &Validator{cfg: cfg, client: client, store: store}
}

// Outcome records the per-station validation decision.
type Outcome struct {
	Station  model.Station
	Accepted bool
	Reason   string
}

// Result is the aggregate outcome of ValidateMany, preserving input order.
type Result struct {
	Accepted []model.Station
	Dropped  int
	Reasons  map[string]int
}

// ValidateMany probes every station concurrently with a bounded worker pool
// and returns the accepted subset in original input order.
func (v *Validator) ValidateMany(ctx context.Context, stations []model.Station) Result {
	outcomes := make([]Outcome, len(stations))

	sem := semaphore.NewWeighted(int64(v.cfg.Concurrency))
	var wg sync.WaitGroup
	for i, s := range stations {
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = Outcome{Station: s, Accepted: false, Reason: "context-canceled"}
			continue
		}
		wg.Add(1)
		go func(i int, s model.Station) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = v.validateOne(ctx, s)
		}(i, s)
	}
	wg.Wait()

	result := Result{Reasons: make(map[string]int)}
	for _, o := range outcomes {
		if o.Accepted {
			result.Accepted = append(result.Accepted, o.Station)
		} else {
			result.Dropped++
			result.Reasons[o.Reason]++
		}
	}
	return result
}

func (v *Validator) validateOne(ctx context.Context, s model.Station) Outcome {
	host := hostOf(s.StreamURL)
	if host == "" || v.cfg.IsBlocked(host) {
		metrics.RecordValidationOutcome("blocked")
		return Outcome{Station: s, Accepted: false, Reason: ReasonBlockedDomain}
	}

	sig := signature(s.StreamURL, s.LastChangedAt)
	if entry, ok := v.lookupFresh(ctx, s.StreamURL, sig); ok {
		metrics.RecordValidationOutcome("cached")
		if entry.OK {
			applied := s
			if entry.FinalURL != "" {
				applied.StreamURL = entry.FinalURL
			}
			if entry.ForceHLS {
				applied.HLS = true
			}
			return Outcome{Station: applied, Accepted: true}
		}
		return Outcome{Station: s, Accepted: false, Reason: entry.Reason}
	}

	entry, _, _ := v.sfg.Do(s.StreamURL, func() (interface{}, error) {
		return v.probe(ctx, s.StreamURL), nil
	})
	probed := entry.(cacheEntry)
	if err := v.store.Set(ctx, validationKey(s.StreamURL), mustMarshal(probed), 0); err != nil {
		log.L().Warn().Err(err).Str("streamUrl", s.StreamURL).Msg("validation cache write failed")
	}

	if probed.OK {
		metrics.RecordValidationOutcome("online")
		applied := s
		if probed.FinalURL != "" {
			applied.StreamURL = probed.FinalURL
		}
		if probed.ForceHLS {
			applied.HLS = true
		}
		return Outcome{Station: applied, Accepted: true}
	}
	metrics.RecordValidationOutcome("offline")
	return Outcome{Station: s, Accepted: false, Reason: probed.Reason}
}

func (v *Validator) lookupFresh(ctx context.Context, streamURL, sig string) (cacheEntry, bool) {
	raw, err := v.store.Get(ctx, validationKey(streamURL))
	if err != nil {
		return cacheEntry{}, false
	}
	var entry cacheEntry
	if jsonErr := json.Unmarshal(raw, &entry); jsonErr != nil {
		return cacheEntry{}, false
	}
	if !entry.fresh(time.Now(), sig) {
		return cacheEntry{}, false
	}
	if entry.OK && !strings.HasPrefix(finalOrOriginal(entry, streamURL), "https://") {
		return cacheEntry{}, false
	}
	return entry, true
}

func finalOrOriginal(e cacheEntry, original string) string {
	if e.FinalURL != "" {
		return e.FinalURL
	}
	return original
}

// probe issues a bounded ranged GET and classifies the response.
func (v *Validator) probe(ctx context.Context, streamURL string) cacheEntry {
	now := time.Now()
	sig := signature(streamURL, nil)

	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return v.fail(now, sig, ReasonNetwork)
	}
	req.Header.Set("Range", "bytes=0-4095")
	req.Header.Set("User-Agent", v.cfg.UserAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := v.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return v.fail(now, sig, ReasonTimeout)
		}
		return v.fail(now, sig, ReasonNetwork)
	}
	defer resp.Body.Close()

	finalURL := streamURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if !strings.HasPrefix(finalURL, "https://") || v.cfg.IsBlocked(hostOf(finalURL)) {
		return v.fail(now, sig, ReasonInsecureRedirect)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return v.fail(now, sig, fmt.Sprintf("status-%d", resp.StatusCode))
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	forceHLS := false
	switch {
	case strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"):
	case strings.Contains(ct, "mpegurl"):
		forceHLS = true
	case ct == "application/octet-stream", strings.HasPrefix(ct, "application/octet-stream;"):
	default:
		return v.fail(now, sig, ReasonUnexpectedContentType)
	}

	buf := make([]byte, 1)
	n, _ := io.ReadFull(resp.Body, buf)
	if n == 0 {
		return v.fail(now, sig, ReasonEmptyResponse)
	}

	return cacheEntry{
		OK:          true,
		ValidatedAt: now,
		Signature:   sig,
		TTLSeconds:  int(v.cfg.SuccessTTL.Seconds()),
		FinalURL:    finalURL,
		ForceHLS:    forceHLS,
	}
}

func (v *Validator) fail(now time.Time, sig, reason string) cacheEntry {
	return cacheEntry{
		OK:          false,
		ValidatedAt: now,
		Signature:   sig,
		TTLSeconds:  int(v.cfg.FailureTTL.Seconds()),
		Reason:      reason,
	}
}

func validationKey(streamURL string) string {
	return "validation:" + streamURL
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func mustMarshal(v cacheEntry) []byte {
	b, _ := json.Marshal(v)
	return bytes.Clone(b)
}
