// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/airmesh/edge/internal/persistence/sqlite"
	"github.com/airmesh/edge/internal/radio/model"
	"github.com/stretchr/testify/require"
)

func newTestSQLStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "stations.db")
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(db)
	require.NoError(t, err)
	return store
}

func TestStore_CurrentEmptyBeforeFirstSwap(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	_, ok, err := store.Current(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	fp, err := store.CurrentFingerprint(ctx)
	require.NoError(t, err)
	require.Empty(t, fp)
}

func TestStore_SwapPersistsAndReturnsPayload(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	payload := model.NewPayload("radio-browser", []string{"GET /json/stations"}, []model.Station{
		{ID: "1", Name: "Alpha", StreamURL: "https://alpha.example/stream"},
		{ID: "2", Name: "Beta", StreamURL: "https://beta.example/stream"},
	})

	require.NoError(t, store.Swap(ctx, payload))

	got, ok, err := store.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, payload.Fingerprint, got.Fingerprint)
	require.Len(t, got.Stations, 2)
}

func TestStore_SwapWithUnchangedFingerprintTouchesOnly(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	payload := model.NewPayload("radio-browser", nil, []model.Station{
		{ID: "1", Name: "Alpha", StreamURL: "https://alpha.example/stream"},
	})
	require.NoError(t, store.Swap(ctx, payload))

	first, _, err := store.Current(ctx)
	require.NoError(t, err)

	// Same stations, same fingerprint, just re-run.
	require.NoError(t, store.Swap(ctx, payload))

	second, _, err := store.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, second.Stations, 1)
}

func TestStore_SwapReplacesStationsOnNewFingerprint(t *testing.T) {
	store := newTestSQLStore(t)
	ctx := context.Background()

	first := model.NewPayload("radio-browser", nil, []model.Station{
		{ID: "1", Name: "Alpha", StreamURL: "https://alpha.example/stream"},
	})
	require.NoError(t, store.Swap(ctx, first))

	second := model.NewPayload("radio-browser", nil, []model.Station{
		{ID: "2", Name: "Beta", StreamURL: "https://beta.example/stream"},
		{ID: "3", Name: "Gamma", StreamURL: "https://gamma.example/stream"},
	})
	require.NoError(t, store.Swap(ctx, second))

	got, ok, err := store.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.Fingerprint, got.Fingerprint)
	require.Len(t, got.Stations, 2)

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM station_payloads`).Scan(&count))
	require.Equal(t, 1, count, "orphaned payload should have been deleted")
}
