// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/metrics"
	"github.com/airmesh/edge/internal/radio/model"
	"github.com/airmesh/edge/internal/radio/query"
	"github.com/airmesh/edge/internal/radio/validator"
	"golang.org/x/sync/singleflight"
)

// snapshot bundles a stations payload with its derived query index so
// readers always see a payload and its index together.
type snapshot struct {
	payload model.StationsPayload
	index   *query.Index
}

// Pipeline orchestrates one refresh generation: fetch the upstream
// directory, normalize and validate entries, fingerprint the result,
// persist it idempotently, publish blobs, and swap the in-process
// snapshot served to query callers. Concurrent Refresh calls share a
// single in-flight run.
type Pipeline struct {
	rotator   *HostRotator
	client    *http.Client
	validator *validator.Validator
	store     *Store
	blobs     BlobStore
	blobPrefix string

	normalizeCfg      NormalizeConfig
	fetchLimit        int
	blobConcurrency   int
	allowInsecureFetch bool

	sfg     singleflight.Group
	current atomic.Pointer[snapshot]
}

// Config wires a Pipeline's dependencies and tunables.
type Config struct {
	Rotator         *HostRotator
	Client          *http.Client
	Validator       *validator.Validator
	Store           *Store
	Blobs           BlobStore
	BlobPrefix      string
	Normalize       NormalizeConfig
	FetchLimit      int
	BlobConcurrency int
	// AllowInsecureDirectoryFetch relaxes the directory fetch's outbound
	// policy to permit plain http against loopback addresses. Intended
	// only for local development and tests driving the pipeline against
	// an httptest.Server.
	AllowInsecureDirectoryFetch bool
}

// NewPipeline constructs a Pipeline and loads whatever generation is
// currently persisted (if any) as the initial snapshot, so the radio
// service can serve queries immediately after startup, before the first
// refresh completes.
func NewPipeline(ctx context.Context, cfg Config) (*Pipeline, error) {
	p := &Pipeline{
		rotator:         cfg.Rotator,
		client:          cfg.Client,
		validator:       cfg.Validator,
		store:           cfg.Store,
		blobs:           cfg.Blobs,
		blobPrefix:      cfg.BlobPrefix,
		normalizeCfg:    cfg.Normalize,
		fetchLimit:      cfg.FetchLimit,
		blobConcurrency: cfg.BlobConcurrency,
		allowInsecureFetch: cfg.AllowInsecureDirectoryFetch,
	}

	payload, ok, err := p.store.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: load initial snapshot: %w", err)
	}
	if ok {
		p.publishSnapshot(payload)
	}
	return p, nil
}

// Current returns the most recently published payload and index, and
// whether a snapshot has ever been published.
func (p *Pipeline) Current() (model.StationsPayload, *query.Index, bool) {
	snap := p.current.Load()
	if snap == nil {
		return model.StationsPayload{}, nil, false
	}
	return snap.payload, snap.index, true
}

func (p *Pipeline) publishSnapshot(payload model.StationsPayload) {
	p.current.Store(&snapshot{payload: payload, index: query.Build(payload.Stations)})
}

// Refresh runs one refresh generation, deduplicating concurrent callers
// onto a single in-flight fetch/validate/persist/publish sequence.
func (p *Pipeline) Refresh(ctx context.Context) (model.StationsPayload, error) {
	v, err, _ := p.sfg.Do("refresh", func() (interface{}, error) {
		return p.run(ctx)
	})
	if err != nil {
		return model.StationsPayload{}, err
	}
	return v.(model.StationsPayload), nil
}

func (p *Pipeline) run(ctx context.Context) (model.StationsPayload, error) {
	start := time.Now()

	rows, err := FetchCatalogRotating(ctx, p.client, p.rotator, p.fetchLimit, p.allowInsecureFetch)
	if err != nil {
		metrics.ObserveRefreshDuration("failure", time.Since(start).Seconds())
		return model.StationsPayload{}, fmt.Errorf("refresh: fetch catalog: %w", err)
	}

	normalized := Normalize(rows, p.normalizeCfg)
	log.L().Info().Int("raw", len(rows)).Int("normalized", len(normalized)).Msg("refresh: normalized catalog")

	result := p.validator.ValidateMany(ctx, normalized)
	log.L().Info().
		Int("accepted", len(result.Accepted)).
		Int("dropped", result.Dropped).
		Interface("reasons", result.Reasons).
		Msg("refresh: validated streams")

	payload := model.NewPayload("radio-browser", []string{"GET /json/stations"}, result.Accepted)

	if err := p.store.Swap(ctx, payload); err != nil {
		metrics.ObserveRefreshDuration("failure", time.Since(start).Seconds())
		return model.StationsPayload{}, fmt.Errorf("refresh: persist: %w", err)
	}

	if p.blobs != nil {
		if err := PublishBlobs(ctx, p.blobs, p.blobPrefix, payload, p.blobConcurrency); err != nil {
			log.L().Warn().Err(err).Msg("refresh: blob publish failed, snapshot still updated")
		}
	}

	p.publishSnapshot(payload)
	metrics.ObserveRefreshDuration("success", time.Since(start).Seconds())

	log.L().Info().
		Dur("elapsed", time.Since(start)).
		Int("total", payload.Total).
		Str("fingerprint", payload.Fingerprint).
		Msg("refresh: generation published")

	return payload, nil
}

// DefaultIsBlocked reports whether host resolves to a private, loopback,
// link-local, or otherwise non-routable address, so neither normalization
// nor validation ever probes internal infrastructure.
func DefaultIsBlocked(host string) bool {
	ips, err := net.LookupIP(host)
	if err != nil {
		return true
	}
	for _, ip := range ips {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return true
		}
	}
	return false
}
