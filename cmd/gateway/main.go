// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command gateway runs the public API Gateway: session issuance, CORS,
// request routing, response caching, and the streaming proxy in front of
// the radio and terminal services.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airmesh/edge/internal/cache"
	"github.com/airmesh/edge/internal/config"
	"github.com/airmesh/edge/internal/cors"
	"github.com/airmesh/edge/internal/docs"
	"github.com/airmesh/edge/internal/gateway/proxy"
	"github.com/airmesh/edge/internal/gateway/respcache"
	"github.com/airmesh/edge/internal/gateway/router"
	"github.com/airmesh/edge/internal/gateway/server"
	"github.com/airmesh/edge/internal/health"
	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/platform/httpx"
	"github.com/airmesh/edge/internal/resilience"
	"github.com/airmesh/edge/internal/session"
	"github.com/airmesh/edge/internal/version"
)

func main() {
	if err := run(); err != nil {
		log.L().Error().Err(err).Msg("gateway: fatal startup error")
		os.Exit(1)
	}
}

func run() error {
	cfg := config.LoadGateway()
	log.Configure(log.Config{Service: "edge-gateway", Version: version.Version})

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("gateway: invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("gateway: open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.L().Warn().Err(err).Msg("gateway: error closing session store")
		}
	}()

	sessions, err := session.NewManager(ctx, session.Config{
		CookieName: cfg.SessionCookieName,
		Secret:     cfg.SessionSecret,
		TTL:        time.Duration(cfg.SessionMaxAgeSeconds) * time.Second,
		Secure:     !cfg.AllowInsecureTransport,
	}, store)
	if err != nil {
		return fmt.Errorf("gateway: build session manager: %w", err)
	}

	rt, err := router.New(cfg.RadioServiceURL, cfg.TerminalServiceURL)
	if err != nil {
		return fmt.Errorf("gateway: build router: %w", err)
	}

	var cacheTierB kv.Store
	if cfg.RedisURL != "" {
		redisStore, err := kv.NewRedisStore(kv.RedisConfig{Addr: cfg.RedisURL}, log.Base())
		if err != nil {
			return fmt.Errorf("gateway: open response-cache redis: %w", err)
		}
		cacheTierB = redisStore
	}
	respCache := respcache.New(cache.NewBoundedMemoryCache(time.Minute, 10000), cacheTierB)

	radioBreaker := resilience.NewCircuitBreaker("radio-upstream", 5, 10, time.Minute, 30*time.Second)
	terminalBreaker := resilience.NewCircuitBreaker("terminal-upstream", 5, 10, time.Minute, 30*time.Second)

	radioProxy := proxy.New(proxy.Config{
		ServiceToken: cfg.ServiceAuthToken,
		Deadline:     cfg.StreamProxyTimeout,
		Breaker:      radioBreaker,
	})
	terminalProxy := proxy.New(proxy.Config{
		ServiceToken: cfg.ServiceAuthToken,
		Deadline:     cfg.UpstreamTimeout,
		Breaker:      terminalBreaker,
	})

	healthMgr := health.NewManager(version.Version)
	healthMgr.RegisterChecker(health.NewUpstreamChecker("radio_service", func(ctx context.Context) error {
		return probeUpstream(ctx, cfg.RadioServiceURL)
	}))
	healthMgr.RegisterChecker(health.NewUpstreamChecker("terminal_service", func(ctx context.Context) error {
		return probeUpstream(ctx, cfg.TerminalServiceURL)
	}))

	var docsHandler *docs.Handler
	if d, err := docs.Load("api/openapi.yaml"); err != nil {
		log.L().Warn().Err(err).Msg("gateway: openapi document not loaded, /docs disabled")
	} else {
		docsHandler = d
	}

	srv := server.New(server.Config{
		Router:            rt,
		Cache:             respCache,
		RadioProxy:        radioProxy,
		TerminalProxy:     terminalProxy,
		Sessions:          sessions,
		CORS:              cors.NewPolicy(cfg.CORSAllowOrigins),
		Health:            healthMgr,
		Docs:              docsHandler,
		ResponseCacheTTL:  cfg.StationsCacheTTL,
		SessionRateLimit:  60,
		SessionRateWindow: time.Minute,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.L().Info().Int("port", cfg.Port).Msg("gateway: listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("gateway: listen failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.L().Info().Msg("gateway: shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.L().Error().Err(err).Msg("gateway: forced shutdown")
		return err
	}

	log.L().Info().Msg("gateway: shutdown complete")
	return nil
}

func openSessionStore(cfg config.Gateway) (kv.Store, error) {
	url := cfg.SessionRedisURL
	if url == "" {
		url = cfg.RedisURL
	}
	if url == "" {
		return nil, fmt.Errorf("gateway: no SESSION_REDIS_URL or REDIS_URL configured")
	}
	return kv.NewRedisStore(kv.RedisConfig{Addr: url}, log.Base())
}

func probeUpstream(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := httpx.NewClient(5 * time.Second).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	return nil
}
