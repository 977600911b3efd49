// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package router

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	rt, err := New("https://radio.internal:8443", "https://terminal.internal:8443")
	require.NoError(t, err)
	return rt
}

func TestMatch_RadioPrefix(t *testing.T) {
	rt := newTestRouter(t)
	target, suffix, ok := rt.Match("/radio/stations")
	require.True(t, ok)
	require.Equal(t, ServiceRadio, target.Service)
	require.Equal(t, "/stations", suffix)
}

func TestMatch_ExactPrefixNoSuffix(t *testing.T) {
	rt := newTestRouter(t)
	target, suffix, ok := rt.Match("/terminal")
	require.True(t, ok)
	require.Equal(t, ServiceTerminal, target.Service)
	require.Equal(t, "", suffix)
}

func TestMatch_UnknownPrefixRejected(t *testing.T) {
	rt := newTestRouter(t)
	_, _, ok := rt.Match("/internal/status")
	require.False(t, ok)
}

func TestResolve_BuildsPinnedURL(t *testing.T) {
	rt := newTestRouter(t)
	target, _, _ := rt.Match("/radio/stations")

	resolved, err := rt.Resolve(target, "/stations", "country=DE")
	require.NoError(t, err)
	require.Equal(t, "radio.internal:8443", resolved.Host)
	require.Equal(t, "/stations", resolved.Path)
	require.Equal(t, "country=DE", resolved.RawQuery)
}

func TestResolve_RejectsTraversalSuffix(t *testing.T) {
	rt := newTestRouter(t)
	target, _, _ := rt.Match("/radio/../internal")

	_, err := rt.Resolve(target, "/../internal", "")
	require.Error(t, err)
}

func TestCacheable_OnlyGETRadioStations(t *testing.T) {
	require.True(t, Cacheable("GET", ServiceRadio, "/stations"))
	require.False(t, Cacheable("POST", ServiceRadio, "/stations"))
	require.False(t, Cacheable("GET", ServiceTerminal, "/stations"))
	require.False(t, Cacheable("GET", ServiceRadio, "/favorites"))
}

func TestCacheKey_SortsQueryByKey(t *testing.T) {
	q := url.Values{"country": {"DE"}, "limit": {"5"}}
	key := CacheKey(ServiceRadio, "/stations", q)
	require.Equal(t, "radio:/stations?country=DE&limit=5", key)
}

func TestCacheKey_NoQuery(t *testing.T) {
	key := CacheKey(ServiceRadio, "/stations", url.Values{})
	require.Equal(t, "radio:/stations", key)
}
