// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package query builds the derived, in-memory acceleration structure for a
// stations payload (the "processed index") and answers filtered,
// paginated station queries against it.
package query

import (
	"sort"
	"strings"

	"github.com/airmesh/edge/internal/radio/model"
)

const topGenreCount = 24

// Index is the processed index for one StationsPayload generation. It is
// built when the payload is published as the current snapshot and
// discarded when the payload is replaced by a new refresh.
type Index struct {
	Stations    []model.Station
	Countries   []string
	Genres      []string
	ByCountry   map[string][]int
	ByLanguage  map[string][]int
	ByTag       map[string][]int
	SearchTexts []string
}

// Build constructs the processed index for stations. Callers should hold
// the index alongside the payload it was derived from and rebuild whenever
// the payload is replaced.
func Build(stations []model.Station) *Index {
	idx := &Index{
		Stations:   stations,
		Countries:  model.SortedUniqueCountries(stations),
		ByCountry:  make(map[string][]int),
		ByLanguage: make(map[string][]int),
		ByTag:      make(map[string][]int),
	}

	tagCounts := make(map[string]int)
	idx.SearchTexts = make([]string, len(stations))

	for i, s := range stations {
		if s.Country != "" {
			key := strings.ToLower(s.Country)
			idx.ByCountry[key] = append(idx.ByCountry[key], i)
		}
		if s.CountryCode != "" {
			key := strings.ToLower(s.CountryCode)
			idx.ByCountry[key] = append(idx.ByCountry[key], i)
		}
		for _, lang := range s.Languages {
			key := strings.ToLower(lang)
			idx.ByLanguage[key] = append(idx.ByLanguage[key], i)
		}
		for _, tag := range s.Tags {
			key := strings.ToLower(tag)
			idx.ByTag[key] = append(idx.ByTag[key], i)
			tagCounts[key]++
		}

		var sb strings.Builder
		sb.WriteString(strings.ToLower(s.Name))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(s.Country))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(strings.Join(s.Tags, " ")))
		idx.SearchTexts[i] = sb.String()
	}

	idx.Genres = topGenres(tagCounts, topGenreCount)
	return idx
}

// topGenres returns the top-N tags by count, ties broken lexically.
func topGenres(counts map[string]int, n int) []string {
	type entry struct {
		tag   string
		count int
	}
	entries := make([]entry, 0, len(counts))
	for tag, count := range counts {
		entries = append(entries, entry{tag, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].tag < entries[j].tag
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.tag
	}
	return out
}
