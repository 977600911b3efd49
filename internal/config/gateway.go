// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"
)

// Gateway holds the API Gateway's startup configuration, sourced from the
// process environment.
type Gateway struct {
	Port int

	UpstreamTimeout time.Duration

	CORSAllowOrigins       []string
	AllowedServiceHostnames []string

	RadioServiceURL    string
	TerminalServiceURL string
	ServiceAuthToken   string

	SessionCookieName     string
	SessionSecret         string
	SessionMaxAgeSeconds  int
	SessionRedisURL       string

	TrustProxy bool
	RedisURL   string

	StationsCacheKey string
	StationsCacheTTL time.Duration

	StreamProxyTimeout time.Duration

	AllowInsecureTransport bool
}

// LoadGateway reads gateway configuration from the process environment,
// applying documented defaults for anything unset.
func LoadGateway() Gateway {
	return Gateway{
		Port:            Int("PORT", 8080),
		UpstreamTimeout: DurationMS("UPSTREAM_TIMEOUT_MS", 10*time.Second),

		CORSAllowOrigins:        StringList("CORS_ALLOW_ORIGINS", nil),
		AllowedServiceHostnames: StringList("ALLOWED_SERVICE_HOSTNAMES", nil),

		RadioServiceURL:    String("RADIO_SERVICE_URL", ""),
		TerminalServiceURL: String("TERMINAL_SERVICE_URL", ""),
		ServiceAuthToken:   String("SERVICE_AUTH_TOKEN", ""),

		SessionCookieName:    String("SESSION_COOKIE_NAME", "gw_session"),
		SessionSecret:        String("SESSION_SECRET", ""),
		SessionMaxAgeSeconds: Int("SESSION_MAX_AGE_SECONDS", 12*3600),
		SessionRedisURL:      String("SESSION_REDIS_URL", ""),

		TrustProxy: Bool("TRUST_PROXY", false),
		RedisURL:   String("REDIS_URL", ""),

		StationsCacheKey: String("STATIONS_CACHE_KEY", "stations:current"),
		StationsCacheTTL: DurationMS("STATIONS_CACHE_TTL", 5*time.Minute),

		StreamProxyTimeout: DurationMS("STREAM_PROXY_TIMEOUT_MS", 15*time.Second),

		AllowInsecureTransport: Bool("ALLOW_INSECURE_TRANSPORT", false),
	}
}

// Validate enforces the startup invariants from the lifecycle design: required
// secrets present, HTTPS-only upstreams unless insecure transport is
// explicitly allowed.
func (g Gateway) Validate() error {
	if g.RadioServiceURL == "" {
		return fmt.Errorf("config: RADIO_SERVICE_URL is required")
	}
	if g.TerminalServiceURL == "" {
		return fmt.Errorf("config: TERMINAL_SERVICE_URL is required")
	}
	if g.ServiceAuthToken == "" {
		return fmt.Errorf("config: SERVICE_AUTH_TOKEN is required")
	}
	if !g.AllowInsecureTransport {
		for _, u := range []string{g.RadioServiceURL, g.TerminalServiceURL} {
			if !strings.HasPrefix(u, "https://") {
				return fmt.Errorf("config: %q must use https (set ALLOW_INSECURE_TRANSPORT=true to override)", u)
			}
		}
	}
	return nil
}
