// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package model defines the radio service's persisted and in-memory record
// shapes: stations, the payload that bundles them for a single refresh
// generation, and the fingerprint used to detect no-op refreshes.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

const SchemaVersion = 1

// Coordinates is an optional lat/lon pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Station is a single radio station record. Only stations that pass
// ingest validation (HTTPS stream, not blocklisted, reachable) are ever
// persisted; isOnline is always true for a stored Station.
type Station struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	StreamURL     string       `json:"streamUrl"`
	Homepage      string       `json:"homepage,omitempty"`
	Favicon       string       `json:"favicon,omitempty"`
	Country       string       `json:"country,omitempty"`
	CountryCode   string       `json:"countryCode,omitempty"`
	State         string       `json:"state,omitempty"`
	Languages     []string     `json:"languages"`
	Tags          []string     `json:"tags"`
	Coordinates   *Coordinates `json:"coordinates,omitempty"`
	Bitrate       int          `json:"bitrate,omitempty"`
	Codec         string       `json:"codec,omitempty"`
	HLS           bool         `json:"hls"`
	IsOnline      bool         `json:"isOnline"`
	LastCheckedAt *time.Time   `json:"lastCheckedAt,omitempty"`
	LastChangedAt *time.Time   `json:"lastChangedAt,omitempty"`
	ClickCount    int64        `json:"clickCount"`
	ClickTrend    int64        `json:"clickTrend"`
	Votes         int64        `json:"votes"`
}

// NormalizeListFields trims Languages/Tags, drops empty values, and removes
// case-insensitive duplicates in place, keeping the first occurrence in its
// original case and order.
func (s *Station) NormalizeListFields() {
	s.Languages = dedupPreserveOrder(s.Languages)
	s.Tags = dedupPreserveOrder(s.Tags)
}

func dedupPreserveOrder(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Projected is the client-facing view of a Station: server-only fields
// (votes, click trend, coordinates) are dropped and tags are capped at 12.
type Projected struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	StreamURL     string     `json:"streamUrl"`
	Homepage      string     `json:"homepage,omitempty"`
	Favicon       string     `json:"favicon,omitempty"`
	Country       string     `json:"country,omitempty"`
	CountryCode   string     `json:"countryCode,omitempty"`
	State         string     `json:"state,omitempty"`
	Languages     []string   `json:"languages"`
	Tags          []string   `json:"tags"`
	Bitrate       int        `json:"bitrate,omitempty"`
	Codec         string     `json:"codec,omitempty"`
	HLS           bool       `json:"hls"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
}

const maxProjectedTags = 12

// Project drops server-only fields and caps tags for client responses.
func Project(s Station) Projected {
	tags := s.Tags
	if len(tags) > maxProjectedTags {
		tags = tags[:maxProjectedTags]
	}
	return Projected{
		ID:            s.ID,
		Name:          s.Name,
		StreamURL:     s.StreamURL,
		Homepage:      s.Homepage,
		Favicon:       s.Favicon,
		Country:       s.Country,
		CountryCode:   s.CountryCode,
		State:         s.State,
		Languages:     s.Languages,
		Tags:          tags,
		Bitrate:       s.Bitrate,
		Codec:         s.Codec,
		HLS:           s.HLS,
		LastCheckedAt: s.LastCheckedAt,
	}
}

// StationsPayload bundles one refresh generation's worth of stations.
type StationsPayload struct {
	SchemaVersion int       `json:"schemaVersion"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Source        string    `json:"source"`
	Requests      []string  `json:"requests"`
	Total         int       `json:"total"`
	Fingerprint   string    `json:"fingerprint"`
	Stations      []Station `json:"stations"`
}

// NewPayload builds a payload with Total and Fingerprint derived from
// stations, enforcing the invariant that both are always consistent with
// the stations slice.
func NewPayload(source string, requests []string, stations []Station) StationsPayload {
	return StationsPayload{
		SchemaVersion: SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Source:        source,
		Requests:      requests,
		Total:         len(stations),
		Fingerprint:   Fingerprint(stations),
		Stations:      stations,
	}
}

// Fingerprint is a SHA-256 over the newline-separated JSON serialization of
// stations, in the given order. Equal fingerprints imply byte-equal
// station lists (other payload fields are not hashed); this is used to detect refreshes that yield no new data so
// persistence can become a no-op touch rather than a rewrite.
func Fingerprint(stations []Station) string {
	h := sha256.New()
	for i, s := range stations {
		if i > 0 {
			h.Write([]byte("\n"))
		}
		// Marshal errors are not possible for this struct shape (no
		// channels/funcs/cyclic pointers), so the error is ignored the
		// same way json.Marshal is treated elsewhere for this type.
		b, _ := json.Marshal(s)
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SortedUniqueCountries returns the distinct, sorted country names present
// in stations.
func SortedUniqueCountries(stations []Station) []string {
	seen := make(map[string]struct{})
	for _, s := range stations {
		if s.Country == "" {
			continue
		}
		seen[s.Country] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
