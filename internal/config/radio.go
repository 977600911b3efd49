// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	pnet "github.com/airmesh/edge/internal/platform/net"
)

// Radio holds the Radio Service's startup configuration.
type Radio struct {
	Port int

	RedisURL string
	DataDir  string

	StationsRefreshToken  string
	RadioBrowserLimit     int
	DirectoryDefaultHost  string
	DirectoryUpgradeHTTP  bool
	BlobConcurrency       int
	RefreshInterval       time.Duration

	StreamValidationEnabled     bool
	StreamValidationTimeout     time.Duration
	StreamValidationConcurrency int
	StreamValidationSuccessTTL  time.Duration
	StreamValidationFailureTTL  time.Duration

	APIDefaultPageSize int
	APIMaxPageSize     int

	AllowInsecureTransport bool
}

// LoadRadio reads radio service configuration from the process environment.
func LoadRadio() Radio {
	return Radio{
		Port: Int("PORT", 8081),

		RedisURL: String("REDIS_URL", ""),
		DataDir:  String("DATA_DIR", "./data"),

		StationsRefreshToken: String("STATIONS_REFRESH_TOKEN", ""),
		RadioBrowserLimit:    Int("RADIO_BROWSER_LIMIT", 0),
		DirectoryDefaultHost: String("DIRECTORY_DEFAULT_HOST", "de1.api.radio-browser.info"),
		DirectoryUpgradeHTTP: Bool("DIRECTORY_UPGRADE_HTTP", true),
		BlobConcurrency:      Int("BLOB_PUBLISH_CONCURRENCY", 8),
		RefreshInterval:      DurationMS("STATIONS_REFRESH_INTERVAL_MS", 6*time.Hour),

		StreamValidationEnabled:     Bool("STREAM_VALIDATION_ENABLED", true),
		StreamValidationTimeout:     DurationMS("STREAM_VALIDATION_TIMEOUT_MS", 4*time.Second),
		StreamValidationConcurrency: Int("STREAM_VALIDATION_CONCURRENCY", 16),
		StreamValidationSuccessTTL:  DurationMS("STREAM_VALIDATION_SUCCESS_TTL_MS", 6*time.Hour),
		StreamValidationFailureTTL:  DurationMS("STREAM_VALIDATION_FAILURE_TTL_MS", 30*time.Minute),

		APIDefaultPageSize: Int("API_DEFAULT_PAGE_SIZE", 20),
		APIMaxPageSize:     Int("API_MAX_PAGE_SIZE", 250),

		AllowInsecureTransport: Bool("ALLOW_INSECURE_TRANSPORT", false),
	}
}

// Validate enforces startup invariants for the radio service, normalizing
// DirectoryDefaultHost in place so downstream callers never see a stray
// scheme, path, userinfo, or mixed-case hostname; an explicit port is kept.
func (r *Radio) Validate() error {
	if r.StationsRefreshToken == "" {
		return fmt.Errorf("config: STATIONS_REFRESH_TOKEN is required")
	}
	if r.APIDefaultPageSize <= 0 || r.APIMaxPageSize <= 0 || r.APIDefaultPageSize > r.APIMaxPageSize {
		return fmt.Errorf("config: invalid page size bounds (default=%d max=%d)", r.APIDefaultPageSize, r.APIMaxPageSize)
	}
	if r.StreamValidationConcurrency <= 0 {
		return fmt.Errorf("config: STREAM_VALIDATION_CONCURRENCY must be positive")
	}

	host, port, err := pnet.NormalizeAuthority(r.DirectoryDefaultHost, "https")
	if err != nil {
		return fmt.Errorf("config: invalid DIRECTORY_DEFAULT_HOST: %w", err)
	}
	if port != "" {
		host = host + ":" + port
	}
	r.DirectoryDefaultHost = host

	return nil
}
