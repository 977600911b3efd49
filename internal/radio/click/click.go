// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package click records a station click-through against the upstream
// directory without making the caller wait on it.
package click

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/platform/httpx"
)

const defaultDeadline = 5 * time.Second

// Notifier fires click-through pings at the station directory's click
// endpoint.
type Notifier struct {
	client *http.Client
	host   string
}

// New builds a Notifier against host (scheme+authority, e.g.
// "https://de1.api.radio-browser.info").
func New(host string, client *http.Client) *Notifier {
	if client == nil {
		client = httpx.NewClient(defaultDeadline)
	}
	return &Notifier{client: client, host: host}
}

// Notify pings the directory's click endpoint for stationID. Errors are
// logged, never returned, since callers treat this as fire-and-forget:
// the HTTP response to the original click request has typically already
// been written by the time Notify runs.
func (n *Notifier) Notify(ctx context.Context, stationID string) {
	target := fmt.Sprintf("%s/json/url/%s", n.host, url.PathEscape(stationID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.L().Warn().Err(err).Str("stationId", stationID).Msg("click: build request failed")
		return
	}
	req.Header.Set("User-Agent", "edge-radio-click/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		log.L().Warn().Err(err).Str("stationId", stationID).Msg("click: notify failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.L().Warn().Str("stationId", stationID).Int("status", resp.StatusCode).Msg("click: directory rejected click")
	}
}
