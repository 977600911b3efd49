// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func rawJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func TestNormalize_DropsFailedLastCheck(t *testing.T) {
	rows := []rawStation{
		{StationUUID: "1", Name: "Alpha", URLResolved: "https://alpha.example/stream", LastCheckOK: rawJSON(false)},
	}
	out := Normalize(rows, NormalizeConfig{})
	require.Empty(t, out)
}

func TestNormalize_UpgradesInsecureWhenAllowed(t *testing.T) {
	rows := []rawStation{
		{StationUUID: "1", Name: "Alpha", URLResolved: "http://alpha.example/stream", LastCheckOK: rawJSON(true)},
	}
	out := Normalize(rows, NormalizeConfig{UpgradeInsecure: true})
	require.Len(t, out, 1)
	require.Equal(t, "https://alpha.example/stream", out[0].StreamURL)
}

func TestNormalize_RejectsInsecureWhenUpgradeDisabled(t *testing.T) {
	rows := []rawStation{
		{StationUUID: "1", Name: "Alpha", URLResolved: "http://alpha.example/stream", LastCheckOK: rawJSON(true)},
	}
	out := Normalize(rows, NormalizeConfig{UpgradeInsecure: false})
	require.Empty(t, out)
}

func TestNormalize_DropsBlockedHost(t *testing.T) {
	rows := []rawStation{
		{StationUUID: "1", Name: "Alpha", URLResolved: "https://internal.example/stream", LastCheckOK: rawJSON(true)},
	}
	out := Normalize(rows, NormalizeConfig{IsBlocked: func(host string) bool { return host == "internal.example" }})
	require.Empty(t, out)
}

func TestNormalize_CoercesStringNumerics(t *testing.T) {
	rows := []rawStation{
		{
			StationUUID: "1",
			Name:        "Alpha",
			URLResolved: "https://alpha.example/stream",
			LastCheckOK: rawJSON(true),
			Bitrate:     rawJSON("128"),
			Votes:       rawJSON("42"),
			GeoLat:      rawJSON("52.5"),
			GeoLong:     rawJSON("13.4"),
		},
	}
	out := Normalize(rows, NormalizeConfig{})
	require.Len(t, out, 1)
	require.Equal(t, 128, out[0].Bitrate)
	require.Equal(t, int64(42), out[0].Votes)
	require.NotNil(t, out[0].Coordinates)
	require.InDelta(t, 52.5, out[0].Coordinates.Lat, 0.001)
}

func TestNormalize_DropsMissingIDOrName(t *testing.T) {
	rows := []rawStation{
		{StationUUID: "", Name: "Alpha", URLResolved: "https://alpha.example/stream", LastCheckOK: rawJSON(true)},
		{StationUUID: "1", Name: "", URLResolved: "https://alpha.example/stream", LastCheckOK: rawJSON(true)},
	}
	out := Normalize(rows, NormalizeConfig{})
	require.Empty(t, out)
}

func TestNormalize_SplitsLanguagesAndTags(t *testing.T) {
	rows := []rawStation{
		{
			StationUUID: "1", Name: "Alpha", URLResolved: "https://alpha.example/stream",
			LastCheckOK: rawJSON(true), Language: "german, english", Tags: "pop,rock, pop",
		},
	}
	out := Normalize(rows, NormalizeConfig{})
	require.Len(t, out, 1)
	require.Equal(t, []string{"german", "english"}, out[0].Languages)
	require.Equal(t, []string{"pop", "rock"}, out[0].Tags)
}
