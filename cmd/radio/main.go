// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command radio runs the internal Radio Service: the stations directory
// refresh pipeline, stream validation, the HLS stream proxy, favorites,
// and click-through notification.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/airmesh/edge/internal/config"
	"github.com/airmesh/edge/internal/health"
	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/persistence/sqlite"
	"github.com/airmesh/edge/internal/platform/httpx"
	"github.com/airmesh/edge/internal/radio/click"
	"github.com/airmesh/edge/internal/radio/favorites"
	"github.com/airmesh/edge/internal/radio/hls"
	"github.com/airmesh/edge/internal/radio/refresh"
	"github.com/airmesh/edge/internal/radio/server"
	"github.com/airmesh/edge/internal/radio/validator"
	"github.com/airmesh/edge/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.L().Error().Err(err).Msg("radio: fatal startup error")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadRadio()
	log.Configure(log.Config{Service: "edge-radio", Version: version.Version})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("radio: invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("radio: create data directory: %w", err)
	}

	kvStore, err := openKVStore(cfg)
	if err != nil {
		return fmt.Errorf("radio: open kv store: %w", err)
	}
	defer func() {
		if err := kvStore.Close(); err != nil {
			log.L().Warn().Err(err).Msg("radio: error closing kv store")
		}
	}()

	db, err := sqlite.Open(filepath.Join(cfg.DataDir, "stations.db"), sqlite.DefaultConfig())
	if err != nil {
		return fmt.Errorf("radio: open sqlite catalog store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.L().Warn().Err(err).Msg("radio: error closing sqlite catalog store")
		}
	}()

	store, err := refresh.NewStore(db)
	if err != nil {
		return fmt.Errorf("radio: init catalog store: %w", err)
	}

	blobs, err := refresh.NewFileBlobStore(filepath.Join(cfg.DataDir, "blobs"))
	if err != nil {
		return fmt.Errorf("radio: init blob store: %w", err)
	}

	fetchClient := httpx.NewClient(15 * time.Second)
	probeClient := httpx.NewClient(cfg.StreamValidationTimeout)

	isBlocked := refresh.DefaultIsBlocked
	if !cfg.StreamValidationEnabled {
		isBlocked = func(string) bool { return false }
	}

	v := validator.New(validator.Config{
		Concurrency: cfg.StreamValidationConcurrency,
		Timeout:     cfg.StreamValidationTimeout,
		SuccessTTL:  cfg.StreamValidationSuccessTTL,
		FailureTTL:  cfg.StreamValidationFailureTTL,
		UserAgent:   "edge-radio-validator/1.0",
		IsBlocked:   isBlocked,
	}, probeClient, kvStore)

	pipeline, err := refresh.NewPipeline(ctx, refresh.Config{
		Rotator:   refresh.NewHostRotator(cfg.DirectoryDefaultHost),
		Client:    fetchClient,
		Validator: v,
		Store:     store,
		Blobs:     blobs,
		BlobPrefix: "stations",
		Normalize: refresh.NormalizeConfig{
			UpgradeInsecure: cfg.DirectoryUpgradeHTTP,
			IsBlocked:       isBlocked,
		},
		FetchLimit:                  cfg.RadioBrowserLimit,
		BlobConcurrency:             cfg.BlobConcurrency,
		AllowInsecureDirectoryFetch: cfg.AllowInsecureTransport,
	})
	if err != nil {
		return fmt.Errorf("radio: build refresh pipeline: %w", err)
	}

	go runPeriodicRefresh(ctx, pipeline, cfg.RefreshInterval)

	favStore := favorites.New(kvStore)
	hlsProxy := hls.New(hls.Config{Deadline: 10 * time.Second})
	clickNotifier := click.New("https://"+cfg.DirectoryDefaultHost, httpx.NewClient(5*time.Second))

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewStationsChecker(func() int {
		payload, _, ok := pipeline.Current()
		if !ok {
			return 0
		}
		return payload.Total
	}))
	healthMgr.RegisterChecker(health.NewRefreshChecker(func() time.Time {
		payload, _, ok := pipeline.Current()
		if !ok {
			return time.Time{}
		}
		return payload.UpdatedAt
	}, cfg.RefreshInterval*2))
	healthMgr.RegisterChecker(health.NewUpstreamChecker("stations_directory", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+cfg.DirectoryDefaultHost+"/json/stats", nil)
		if err != nil {
			return err
		}
		resp, err := fetchClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("directory returned status %d", resp.StatusCode)
		}
		return nil
	}))

	srv := server.New(server.Config{
		Pipeline:        pipeline,
		Favorites:       favStore,
		HLS:             hlsProxy,
		Click:           clickNotifier,
		Health:          healthMgr,
		RefreshToken:    cfg.StationsRefreshToken,
		DefaultPageSize: cfg.APIDefaultPageSize,
		MaxPageSize:     cfg.APIMaxPageSize,
		AllowQueryToken: false,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.L().Info().Int("port", cfg.Port).Msg("radio: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("radio: listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.L().Info().Msg("radio: shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.L().Error().Err(err).Msg("radio: forced shutdown")
		return err
	}

	log.L().Info().Msg("radio: shutdown complete")
	return nil
}

func openKVStore(cfg config.Radio) (kv.Store, error) {
	if cfg.RedisURL != "" {
		return kv.NewRedisStore(kv.RedisConfig{Addr: cfg.RedisURL}, log.Base())
	}
	badgerDir := filepath.Join(cfg.DataDir, "kv")
	if err := os.MkdirAll(badgerDir, 0o755); err != nil {
		return nil, fmt.Errorf("radio: create badger directory: %w", err)
	}
	return kv.NewBadgerStore(badgerDir, log.Base())
}

// runPeriodicRefresh drives the background refresh cadence until ctx is
// canceled. The first refresh runs immediately rather than waiting a full
// interval, so a cold-started service doesn't serve an empty catalog
// longer than necessary.
func runPeriodicRefresh(ctx context.Context, pipeline *refresh.Pipeline, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}

	if _, err := pipeline.Refresh(ctx); err != nil {
		log.L().Warn().Err(err).Msg("radio: initial refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := pipeline.Refresh(ctx); err != nil {
				log.L().Warn().Err(err).Msg("radio: periodic refresh failed")
			}
		}
	}
}
