// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config reads and validates process environment configuration for
// the gateway and radio binaries.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/log"
)

// String reads a string from the environment or returns defaultValue.
func String(key, defaultValue string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	return v
}

// StringList reads a comma-separated list from the environment.
func StringList(key string, defaultValue []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Int reads an integer from the environment, falling back to defaultValue on
// parse failure or absence.
func Int(key string, defaultValue int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.L().Warn().Str("key", key).Str("value", v).Msg("invalid integer env var, using default")
		return defaultValue
	}
	return n
}

// DurationMS reads a millisecond count from the environment and returns it as
// a time.Duration.
func DurationMS(key string, defaultValue time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.L().Warn().Str("key", key).Str("value", v).Msg("invalid duration ms env var, using default")
		return defaultValue
	}
	return time.Duration(n) * time.Millisecond
}

// Bool reads a boolean from the environment, accepting true/false/1/0/yes/no.
func Bool(key string, defaultValue bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		log.L().Warn().Str("key", key).Str("value", v).Msg("invalid boolean env var, using default")
		return defaultValue
	}
}
