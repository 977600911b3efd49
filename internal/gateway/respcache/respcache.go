// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package respcache implements the gateway's two-tier response cache for
// safe, cacheable GET requests: an in-process bounded Tier A and an
// optional shared Tier B. Tier B is authoritative across replicas; Tier A
// absorbs load when Tier B is unset or momentarily unavailable.
package respcache

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/cache"
	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/metrics"
)

// Entry is the stored representation of a cacheable upstream response.
type Entry struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// Cache is the tiered response cache.
type Cache struct {
	tierA cache.Cache
	tierB kv.Store // may be nil
}

// New builds a Cache. tierB may be nil, in which case only the in-process
// tier is used.
func New(tierA cache.Cache, tierB kv.Store) *Cache {
	return &Cache{tierA: tierA, tierB: tierB}
}

// Get tries Tier B first, falling back to Tier A on miss or Tier B error.
// A Tier B hit is also written to Tier A, with a zero TTL, so the copy is
// already expired; every read still goes to Tier B first when it is set.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	if c.tierB != nil {
		raw, err := c.tierB.Get(ctx, key)
		if err == nil {
			var e Entry
			if jsonErr := json.Unmarshal(raw, &e); jsonErr == nil {
				c.tierA.Set(key, e, 0)
				metrics.RecordResponseCacheResult("b", "hit")
				return e, true
			}
		} else if err != kv.ErrNotFound {
			log.L().Warn().Err(err).Str("key", key).Msg("respcache: tier B read failed, falling back to tier A")
		}
	}

	if v, ok := c.tierA.Get(key); ok {
		if e, ok := v.(Entry); ok {
			metrics.RecordResponseCacheResult("a", "hit")
			return e, true
		}
	}
	metrics.RecordResponseCacheResult("a", "miss")
	return Entry{}, false
}

// Storable reports whether a response is eligible for caching: status in
// {200,204}, content-type includes application/json, and the response
// carries no Set-Cookie header (an Open Question from the design notes:
// never cache a response that sets cookies, regardless of status).
func Storable(status int, header http.Header) bool {
	if status != http.StatusOK && status != http.StatusNoContent {
		return false
	}
	if header.Get("Set-Cookie") != "" {
		return false
	}
	return strings.Contains(header.Get("Content-Type"), "application/json")
}

// Store persists an entry to both tiers. Tier A is written synchronously
// (in-process, effectively free); Tier B is written asynchronously since it
// may involve network I/O and must never add latency to the response path.
// Failures on either tier are logged and otherwise ignored.
func (c *Cache) Store(ctx context.Context, key string, entry Entry, ttl time.Duration) {
	c.tierA.Set(key, entry, ttl)
	metrics.RecordResponseCacheResult("a", "store")

	if c.tierB == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.L().Warn().Err(err).Str("key", key).Msg("respcache: failed to marshal entry for tier B")
		return
	}

	go func() {
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := c.tierB.Set(storeCtx, key, data, ttl); err != nil {
			log.L().Warn().Err(err).Str("key", key).Msg("respcache: tier B write failed")
		}
	}()
}

// BufferedResponseWriter accumulates a copy of everything written to it
// while still forwarding to the wrapped ResponseWriter, so a cacheable
// upstream response can be streamed to the client and captured for storage
// in one pass.
type BufferedResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	buf         bytes.Buffer
}

// NewBufferedResponseWriter wraps w.
func NewBufferedResponseWriter(w http.ResponseWriter) *BufferedResponseWriter {
	return &BufferedResponseWriter{ResponseWriter: w}
}

func (b *BufferedResponseWriter) WriteHeader(status int) {
	b.status = status
	b.wroteHeader = true
	b.ResponseWriter.WriteHeader(status)
}

func (b *BufferedResponseWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	b.buf.Write(p)
	return b.ResponseWriter.Write(p)
}

// Flush forwards to the underlying writer's Flusher, if any.
func (b *BufferedResponseWriter) Flush() {
	if f, ok := b.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Status returns the status code written, or 200 if WriteHeader was never
// called explicitly.
func (b *BufferedResponseWriter) Status() int {
	if !b.wroteHeader {
		return http.StatusOK
	}
	return b.status
}

// Body returns the accumulated response body.
func (b *BufferedResponseWriter) Body() []byte {
	return b.buf.Bytes()
}
