// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package query

import (
	"net/url"
	"testing"

	"github.com/airmesh/edge/internal/radio/model"
	"github.com/stretchr/testify/require"
)

func sampleStations() []model.Station {
	return []model.Station{
		{ID: "1", Name: "Alpha FM", Country: "Germany", CountryCode: "DE", Languages: []string{"German"}, Tags: []string{"pop", "news"}},
		{ID: "2", Name: "Beta Radio", Country: "Germany", CountryCode: "DE", Languages: []string{"English"}, Tags: []string{"rock"}},
		{ID: "3", Name: "Gamma Waves", Country: "France", CountryCode: "FR", Languages: []string{"French"}, Tags: []string{"pop", "jazz"}},
		{ID: "4", Name: "Delta Sound", Country: "France", CountryCode: "FR", Languages: []string{"English"}, Tags: []string{"news"}},
	}
}

func TestParseParams_RejectsUnknownKey(t *testing.T) {
	_, err := ParseParams(url.Values{"bogus": {"1"}}, 20, 100)
	require.Error(t, err)
	var unknown ErrUnknownParam
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "bogus", unknown.Key)
}

func TestParseParams_LimitAllMapsToMax(t *testing.T) {
	p, err := ParseParams(url.Values{"limit": {"all"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 100, p.Limit)
}

func TestParseParams_LimitZeroFallsBackToDefault(t *testing.T) {
	p, err := ParseParams(url.Values{"limit": {"0"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 20, p.Limit)
}

func TestParseParams_LimitClampedToMax(t *testing.T) {
	p, err := ParseParams(url.Values{"limit": {"999999"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 100, p.Limit)
}

func TestParseParams_OffsetWinsOverPage(t *testing.T) {
	p, err := ParseParams(url.Values{"page": {"3"}, "offset": {"5"}, "limit": {"10"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 5, p.Offset)
	require.Equal(t, 3, p.Page)
}

func TestParseParams_PageDerivesOffset(t *testing.T) {
	p, err := ParseParams(url.Values{"page": {"2"}, "limit": {"10"}}, 20, 100)
	require.NoError(t, err)
	require.Equal(t, 10, p.Offset)
}

func TestParseParams_InvalidLimitRejected(t *testing.T) {
	_, err := ParseParams(url.Values{"limit": {"nope"}}, 20, 100)
	require.Error(t, err)
}

func TestBuild_IndexesCountryLanguageTagAndGenres(t *testing.T) {
	idx := Build(sampleStations())
	require.ElementsMatch(t, []string{"France", "Germany"}, idx.Countries)
	require.ElementsMatch(t, []int{0, 1}, idx.ByCountry["germany"])
	require.ElementsMatch(t, []int{0, 1}, idx.ByCountry["de"])
	require.ElementsMatch(t, []int{1, 3}, idx.ByLanguage["english"])
	require.ElementsMatch(t, []int{0, 2}, idx.ByTag["pop"])
	require.Contains(t, idx.Genres, "pop")
}

func TestRun_FiltersByCountry(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"country": {"Germany"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Len(t, result.Items, 2)
	require.Equal(t, 2, result.Meta.Filtered)
	require.Equal(t, 4, result.Meta.Total)
}

func TestRun_FiltersByCountryAndTag(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"country": {"France"}, "tag": {"news"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Len(t, result.Items, 1)
	require.Equal(t, "4", result.Items[0].ID)
}

func TestRun_NoMatchOnEmptyFilterCombo(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"country": {"Germany"}, "tag": {"jazz"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Empty(t, result.Items)
	require.Equal(t, 0, result.Meta.Filtered)
}

func TestRun_SearchMatchesNameSubstring(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"search": {"gamma"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Len(t, result.Items, 1)
	require.Equal(t, "3", result.Items[0].ID)
}

func TestRun_PaginationHasMore(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"limit": {"2"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Len(t, result.Items, 2)
	require.True(t, result.Meta.HasMore)

	params2, err := ParseParams(url.Values{"limit": {"2"}, "offset": {"2"}}, 20, 100)
	require.NoError(t, err)
	result2 := Run(idx, payload, params2, 100, "memory", "origin")
	require.Len(t, result2.Items, 2)
	require.False(t, result2.Meta.HasMore)
}

func TestRun_OffsetBeyondTotalReturnsEmpty(t *testing.T) {
	idx := Build(sampleStations())
	payload := model.NewPayload("test", nil, idx.Stations)
	params, err := ParseParams(url.Values{"offset": {"1000"}}, 20, 100)
	require.NoError(t, err)

	result := Run(idx, payload, params, 100, "memory", "origin")
	require.Empty(t, result.Items)
}
