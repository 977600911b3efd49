// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package kv provides the shared key-value abstraction used by the session
// manager, stream validation cache, and favorites store. A Redis-backed
// implementation is primary; a Badger-backed implementation is used when no
// Redis URL is configured, so a single-node deployment still gets durable,
// restart-surviving storage without external dependencies.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal shared-storage contract the gateway and radio
// service depend on. All operations are safe for concurrent use.
type Store interface {
	// Get returns the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX writes value at key only if it does not already exist, returning
	// whether the write happened. Used for secret bootstrap convergence
	// across replicas.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Expire refreshes the TTL of an existing key without rewriting its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping verifies connectivity for health checks.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
