// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"net/url"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/radio/model"
	unorm "golang.org/x/text/unicode/norm"
)

// NormalizeConfig controls how raw upstream rows are coerced into Stations.
type NormalizeConfig struct {
	UpgradeInsecure bool
	IsBlocked       func(host string) bool
}

// Normalize applies the Station schema to raw upstream rows, dropping rows
// with unusable streams, blocklisted hosts, or a failed last-check.
func Normalize(rows []rawStation, cfg NormalizeConfig) []model.Station {
	if cfg.IsBlocked == nil {
		cfg.IsBlocked = func(string) bool { return false }
	}

	out := make([]model.Station, 0, len(rows))
	for _, row := range rows {
		if !coerceBool(row.LastCheckOK) {
			continue
		}

		streamURL := row.URLResolved
		if streamURL == "" {
			streamURL = row.URL
		}
		streamURL, ok := sanitizeStreamURL(streamURL, cfg)
		if !ok {
			continue
		}

		s := model.Station{
			ID:          row.StationUUID,
			Name:        nfc(strings.TrimSpace(row.Name)),
			StreamURL:   streamURL,
			Homepage:    row.Homepage,
			Favicon:     row.Favicon,
			Country:     nfc(row.Country),
			CountryCode: strings.ToUpper(row.CountryCode),
			State:       nfc(row.State),
			Languages:   splitCSV(row.Language),
			Tags:        nfcAll(splitCSV(row.Tags)),
			Codec:       row.Codec,
			IsOnline:    true,
		}

		if bitrate, ok := coerceInt(row.Bitrate); ok {
			s.Bitrate = int(bitrate)
		}
		if lat, ok := coerceFloat(row.GeoLat); ok {
			if lon, ok := coerceFloat(row.GeoLong); ok {
				s.Coordinates = &model.Coordinates{Lat: lat, Lon: lon}
			}
		}
		if clickCount, ok := coerceInt(row.ClickCount); ok {
			s.ClickCount = clickCount
		}
		if clickTrend, ok := coerceInt(row.ClickTrend); ok {
			s.ClickTrend = clickTrend
		}
		if votes, ok := coerceInt(row.Votes); ok {
			s.Votes = votes
		}
		if row.LastCheckTime != "" {
			if t, err := time.Parse(time.RFC3339, row.LastCheckTime); err == nil {
				s.LastCheckedAt = &t
			}
		}

		s.NormalizeListFields()
		if s.ID == "" || s.Name == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

// sanitizeStreamURL enforces the HTTPS invariant (upgrading http when
// allowed) and rejects blocklisted hosts.
func sanitizeStreamURL(raw string, cfg NormalizeConfig) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}

	switch strings.ToLower(u.Scheme) {
	case "https":
	case "http":
		if !cfg.UpgradeInsecure {
			return "", false
		}
		u.Scheme = "https"
	default:
		return "", false
	}

	if cfg.IsBlocked(u.Hostname()) {
		return "", false
	}

	return u.String(), true
}

// nfc normalizes a human-facing string to NFC so stations submitted with
// decomposed Unicode (combining diacritics) compare and sort consistently
// with ones submitted precomposed.
func nfc(s string) string {
	if s == "" {
		return s
	}
	return unorm.NFC.String(s)
}

func nfcAll(ss []string) []string {
	for i, s := range ss {
		ss[i] = nfc(s)
	}
	return ss
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
