// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"context"
	"testing"

	"github.com/airmesh/edge/internal/radio/model"
	"github.com/stretchr/testify/require"
)

func TestCountrySlug(t *testing.T) {
	cases := map[string]string{
		"Germany":        "germany",
		"United States":  "united-states",
		"Côte d'Ivoire!": "cte-divoire",
		"":               "unknown",
		"   ":            "unknown",
	}
	for in, want := range cases {
		require.Equal(t, want, CountrySlug(in), "input %q", in)
	}
}

func TestFileBlobStore_RoundTrip(t *testing.T) {
	store, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)

	type doc struct {
		Value string `json:"value"`
	}
	ctx := context.Background()
	require.NoError(t, store.PutJSON(ctx, "nested/key.json", doc{Value: "hello"}))

	var out doc
	require.NoError(t, store.GetJSON(ctx, "nested/key.json", &out))
	require.Equal(t, "hello", out.Value)
}

func TestFileBlobStore_RejectsTraversal(t *testing.T) {
	store, err := NewFileBlobStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	err = store.PutJSON(ctx, "../../etc/passwd", map[string]string{"value": "x"})
	require.Error(t, err)

	var out map[string]string
	err = store.GetJSON(ctx, "../../etc/passwd", &out)
	require.Error(t, err)
}

func TestPublishBlobs_WritesAggregateAndPerCountry(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileBlobStore(dir)
	require.NoError(t, err)

	payload := model.NewPayload("radio-browser", nil, []model.Station{
		{ID: "1", Name: "Alpha", CountryCode: "DE"},
		{ID: "2", Name: "Beta", CountryCode: "FR"},
		{ID: "3", Name: "Gamma", CountryCode: "DE"},
	})

	ctx := context.Background()
	require.NoError(t, PublishBlobs(ctx, store, "stations", payload, 4))

	var all model.StationsPayload
	require.NoError(t, store.GetJSON(ctx, "stations/all.json", &all))
	require.Len(t, all.Stations, 3)

	var de model.StationsPayload
	require.NoError(t, store.GetJSON(ctx, "stations/de.json", &de))
	require.Len(t, de.Stations, 2)

	var fr model.StationsPayload
	require.NoError(t, store.GetJSON(ctx, "stations/fr.json", &fr))
	require.Len(t, fr.Stations, 1)
}
