// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airmesh/edge/internal/platform/paths"
	"github.com/airmesh/edge/internal/radio/model"
	"github.com/google/renameio/v2"
	"golang.org/x/sync/semaphore"
)

// BlobStore is the abstract object store the refresh pipeline publishes
// aggregate and per-country catalogs to. The choice of backing technology
// (filesystem, S3-compatible object storage, etc.) is left to the deployer;
// FileBlobStore below is the default, dependency-free implementation.
type BlobStore interface {
	PutJSON(ctx context.Context, key string, value any) error
	GetJSON(ctx context.Context, key string, out any) error
}

// FileBlobStore persists blobs as JSON files under a root directory, using
// atomic rename-based writes so a reader never observes a partial object.
type FileBlobStore struct {
	root string
	mu   sync.Mutex
}

// NewFileBlobStore creates a blob store rooted at dir, creating it if needed.
func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &FileBlobStore{root: dir}, nil
}

func (f *FileBlobStore) PutJSON(ctx context.Context, key string, value any) error {
	_ = ctx
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("blob: marshal %s: %w", key, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path, err := paths.ResolveDataFilePath(f.root, key, true)
	if err != nil {
		return fmt.Errorf("blob: resolve %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("blob: mkdir for %s: %w", key, err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

func (f *FileBlobStore) GetJSON(ctx context.Context, key string, out any) error {
	_ = ctx
	path, err := paths.ResolveDataFilePath(f.root, key, false)
	if err != nil {
		return fmt.Errorf("blob: resolve %s: %w", key, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("blob: read %s: %w", key, err)
	}
	return json.Unmarshal(data, out)
}

// CountrySlug turns a country name into a filename-safe slug for the
// per-country blob key.
func CountrySlug(country string) string {
	if country == "" {
		return "unknown"
	}
	slug := strings.ToLower(strings.TrimSpace(country))
	slug = strings.ReplaceAll(slug, " ", "-")
	var b strings.Builder
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// PublishBlobs writes one aggregate payload object and one per-country
// object, bounding concurrency the way a fan-out of blob writes should.
func PublishBlobs(ctx context.Context, store BlobStore, prefix string, payload model.StationsPayload, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 8
	}

	byCountry := make(map[string][]model.Station)
	for _, s := range payload.Stations {
		key := s.CountryCode
		if key == "" {
			key = s.Country
		}
		byCountry[key] = append(byCountry[key], s)
	}

	if err := store.PutJSON(ctx, prefix+"/all.json", payload); err != nil {
		return fmt.Errorf("blob: publish aggregate: %w", err)
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	errCh := make(chan error, len(byCountry))
	var wg sync.WaitGroup
	for country, stations := range byCountry {
		if err := sem.Acquire(ctx, 1); err != nil {
			errCh <- fmt.Errorf("blob: acquire concurrency slot: %w", err)
			continue
		}
		wg.Add(1)
		go func(country string, stations []model.Station) {
			defer wg.Done()
			defer sem.Release(1)

			key := fmt.Sprintf("%s/%s.json", prefix, CountrySlug(country))
			sub := model.NewPayload(payload.Source, payload.Requests, stations)
			if err := store.PutJSON(ctx, key, sub); err != nil {
				errCh <- fmt.Errorf("blob: publish %s: %w", key, err)
			}
		}(country, stations)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}
