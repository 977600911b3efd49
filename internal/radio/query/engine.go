// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/airmesh/edge/internal/radio/model"
)

var knownParams = map[string]struct{}{
	"refresh": {}, "limit": {}, "offset": {}, "page": {},
	"country": {}, "language": {}, "tag": {}, "genre": {}, "search": {},
}

// ErrUnknownParam is returned when the query string contains a key outside
// the recognized schema.
type ErrUnknownParam struct{ Key string }

func (e ErrUnknownParam) Error() string { return fmt.Sprintf("unknown query parameter: %s", e.Key) }

// Params is the parsed, validated query.
type Params struct {
	Refresh  bool
	Limit    int
	Offset   int
	Page     int
	Country  string
	Language string
	Tag      string
	Genre    string
	Search   string
}

// ParseParams validates a raw query string against the strict schema and
// clamps limit/offset/page per the documented boundary behaviors:
// limit=0 falls back to defaultLimit; limit="all" maps to maxLimit;
// page=0 is treated as 1; offset, if present, wins over page.
func ParseParams(values url.Values, defaultLimit, maxLimit int) (Params, error) {
	for key := range values {
		if _, ok := knownParams[key]; !ok {
			return Params{}, ErrUnknownParam{Key: key}
		}
	}

	p := Params{
		Country:  values.Get("country"),
		Language: values.Get("language"),
		Tag:      values.Get("tag"),
		Genre:    values.Get("genre"),
		Search:   strings.ToLower(strings.TrimSpace(values.Get("search"))),
	}
	p.Refresh = values.Get("refresh") == "true"

	limitRaw := values.Get("limit")
	switch {
	case limitRaw == "":
		p.Limit = defaultLimit
	case limitRaw == "all":
		p.Limit = maxLimit
	default:
		n, err := strconv.Atoi(limitRaw)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit: %s", limitRaw)
		}
		if n == 0 {
			n = defaultLimit
		}
		p.Limit = clamp(n, 1, maxLimit)
	}

	page := 1
	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("invalid page: %s", raw)
		}
		if n > 0 {
			page = n
		}
	}
	p.Page = page

	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset: %s", raw)
		}
		if n < 0 {
			n = 0
		}
		p.Offset = n
	} else {
		p.Offset = (page - 1) * p.Limit
	}

	return p, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Meta carries the response envelope's metadata block.
type Meta struct {
	Total          int      `json:"total"`
	Filtered       int      `json:"filtered"`
	Matches        int      `json:"matches"`
	HasMore        bool     `json:"hasMore"`
	Page           int      `json:"page"`
	Limit          int      `json:"limit"`
	MaxLimit       int      `json:"maxLimit"`
	RequestedLimit int      `json:"requestedLimit"`
	Offset         int      `json:"offset"`
	CacheSource    string   `json:"cacheSource"`
	Origin         string   `json:"origin"`
	UpdatedAt      string   `json:"updatedAt"`
	Countries      []string `json:"countries"`
	Genres         []string `json:"genres"`
}

// Result is the full response payload for a stations query.
type Result struct {
	Meta  Meta               `json:"meta"`
	Items []model.Projected `json:"items"`
}

// Run evaluates params against idx and the owning payload's metadata,
// returning the paginated, projected result.
func Run(idx *Index, payload model.StationsPayload, params Params, maxLimit int, cacheSource, origin string) Result {
	candidates := candidateIndices(idx, params)

	if params.Search != "" {
		filtered := candidates[:0:0]
		for _, i := range candidates {
			if strings.Contains(idx.SearchTexts[i], params.Search) {
				filtered = append(filtered, i)
			}
		}
		candidates = filtered
	}

	total := len(candidates)
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}

	items := make([]model.Projected, 0, end-start)
	for _, i := range candidates[start:end] {
		items = append(items, model.Project(idx.Stations[i]))
	}

	return Result{
		Meta: Meta{
			Total:          payload.Total,
			Filtered:       total,
			Matches:        total,
			HasMore:        end < total,
			Page:           params.Page,
			Limit:          params.Limit,
			MaxLimit:       maxLimit,
			RequestedLimit: params.Limit,
			Offset:         params.Offset,
			CacheSource:    cacheSource,
			Origin:         origin,
			UpdatedAt:      payload.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
			Countries:      idx.Countries,
			Genres:         idx.Genres,
		},
		Items: items,
	}
}

// candidateIndices intersects the set filters (country, language, tag,
// genre) that are present, scanning the smallest list against hash sets of
// the others. Any configured-but-empty list short-circuits to no matches.
func candidateIndices(idx *Index, params Params) []int {
	var lists [][]int
	if params.Country != "" {
		lists = append(lists, idx.ByCountry[strings.ToLower(params.Country)])
	}
	if params.Language != "" {
		lists = append(lists, idx.ByLanguage[strings.ToLower(params.Language)])
	}
	if params.Tag != "" {
		lists = append(lists, idx.ByTag[strings.ToLower(params.Tag)])
	}
	if params.Genre != "" {
		lists = append(lists, idx.ByTag[strings.ToLower(params.Genre)])
	}

	if len(lists) == 0 {
		all := make([]int, len(idx.Stations))
		for i := range all {
			all[i] = i
		}
		return all
	}

	for _, l := range lists {
		if len(l) == 0 {
			return nil
		}
	}

	sortSmallestFirst(lists)
	result := lists[0]
	for _, l := range lists[1:] {
		set := toSet(l)
		next := result[:0:0]
		for _, i := range result {
			if _, ok := set[i]; ok {
				next = append(next, i)
			}
		}
		result = next
	}
	return result
}

func sortSmallestFirst(lists [][]int) {
	for i := 1; i < len(lists); i++ {
		if len(lists[i]) < len(lists[0]) {
			lists[0], lists[i] = lists[i], lists[0]
		}
	}
}

func toSet(in []int) map[int]struct{} {
	set := make(map[int]struct{}, len(in))
	for _, i := range in {
		set[i] = struct{}{}
	}
	return set
}
