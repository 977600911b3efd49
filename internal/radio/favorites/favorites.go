// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package favorites persists a caller's favorite stations as a small,
// slot-addressed record keyed by session identity rather than a user
// account, backed by the same shared key-value store the session manager
// and validation cache use.
package favorites

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/radio/model"
)

// MaxSlots bounds how many stations a single session may favorite.
const MaxSlots = 6

// HeaderClientSession lets a caller that bypasses the gateway (direct
// integration tests, trusted tooling) supply its own session identity
// instead of deriving one from a gateway-issued token.
const HeaderClientSession = "X-Client-Session"

const ttl = 30 * 24 * time.Hour

var clientSessionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// ErrStationNotFound is returned by Put when the station is absent from
// the current catalog.
var ErrStationNotFound = errors.New("favorites: station not found")

// ErrSlotsFull is returned by Put when appending a new favorite would
// exceed MaxSlots.
var ErrSlotsFull = errors.New("favorites: all slots are full")

// Entry is one favorited station, with its last-known projected view
// cached alongside it so List can detect drift without a second catalog
// lookup per session.
type Entry struct {
	StationID string          `json:"stationId"`
	Slot      int             `json:"slot"`
	Snapshot  model.Projected `json:"snapshot"`
}

// Record is the full per-session favorites list, JSON-serialized as the
// store value.
type Record struct {
	Entries []Entry `json:"entries"`
}

// Items returns the record's projections in slot order.
func (r Record) Items() []model.Projected {
	sorted := append([]Entry(nil), r.Entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Slot < sorted[j].Slot })
	items := make([]model.Projected, 0, len(sorted))
	for _, e := range sorted {
		items = append(items, e.Snapshot)
	}
	return items
}

// ResolveSessionKey derives the favorites store key for a request: an
// explicit client-session header wins when present and well-formed,
// otherwise the gateway-forwarded session token is hashed. Returns
// ok=false when neither source yields a usable identity.
func ResolveSessionKey(gatewaySessionToken, explicitClientSession string) (string, bool) {
	if explicit := strings.TrimSpace(explicitClientSession); explicit != "" {
		if !clientSessionPattern.MatchString(explicit) {
			return "", false
		}
		return "client:" + explicit, true
	}
	if token := strings.TrimSpace(gatewaySessionToken); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:]), true
	}
	return "", false
}

// Store is the favorites persistence layer.
type Store struct {
	kv kv.Store
}

// New builds a Store over the shared key-value backend.
func New(store kv.Store) *Store {
	return &Store{kv: store}
}

func recordKey(sessionKey string) string {
	return "favorites:" + sessionKey
}

func (s *Store) load(ctx context.Context, sessionKey string) (Record, bool, error) {
	raw, err := s.kv.Get(ctx, recordKey(sessionKey))
	if errors.Is(err, kv.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *Store) save(ctx context.Context, sessionKey string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, recordKey(sessionKey), data, ttl)
}

func (s *Store) touch(ctx context.Context, sessionKey string) error {
	return s.kv.Expire(ctx, recordKey(sessionKey), ttl)
}

// List returns the session's favorites, re-projecting each entry against
// the current catalog. A record is rewritten only when a snapshot
// actually changed; otherwise only its TTL is refreshed, so two
// successive calls against an unchanged catalog return byte-identical
// items.
func (s *Store) List(ctx context.Context, sessionKey string, payload model.StationsPayload) (Record, error) {
	rec, ok, err := s.load(ctx, sessionKey)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{Entries: []Entry{}}, nil
	}

	byID := indexStations(payload)
	changed := false
	for i, e := range rec.Entries {
		st, found := byID[e.StationID]
		if !found {
			continue
		}
		fresh := model.Project(st)
		if !reflect.DeepEqual(fresh, e.Snapshot) {
			rec.Entries[i].Snapshot = fresh
			changed = true
		}
	}

	if changed {
		if err := s.save(ctx, sessionKey, rec); err != nil {
			return Record{}, err
		}
	} else if err := s.touch(ctx, sessionKey); err != nil {
		log.L().Warn().Err(err).Msg("favorites: ttl refresh failed")
	}
	return rec, nil
}

// Put adds or updates a favorite. With no slot given, an existing entry is
// refreshed in place and a new one is appended to the first free slot,
// failing with ErrSlotsFull once MaxSlots are occupied. With a slot given,
// the entry is placed at that (clamped) slot directly, evicting whatever
// previously occupied it.
func (s *Store) Put(ctx context.Context, sessionKey, stationID string, slot *int, payload model.StationsPayload) (Record, error) {
	station, found := indexStations(payload)[stationID]
	if !found {
		return Record{}, ErrStationNotFound
	}
	snapshot := model.Project(station)

	rec, _, err := s.load(ctx, sessionKey)
	if err != nil {
		return Record{}, err
	}

	existing := indexOfStation(rec.Entries, stationID)
	switch {
	case existing >= 0 && slot == nil:
		rec.Entries[existing].Snapshot = snapshot
	case slot != nil:
		clamped := clampSlot(*slot)
		rec.Entries = placeAtSlot(rec.Entries, clamped, Entry{StationID: stationID, Slot: clamped, Snapshot: snapshot})
	default:
		if len(rec.Entries) >= MaxSlots {
			return Record{}, ErrSlotsFull
		}
		rec.Entries = append(rec.Entries, Entry{StationID: stationID, Slot: nextFreeSlot(rec.Entries), Snapshot: snapshot})
	}

	if err := s.save(ctx, sessionKey, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Delete removes a favorite by station id. Removing an absent station is
// not an error; the record's TTL is still refreshed.
func (s *Store) Delete(ctx context.Context, sessionKey, stationID string) (Record, error) {
	rec, ok, err := s.load(ctx, sessionKey)
	if err != nil {
		return Record{}, err
	}
	if !ok {
		return Record{Entries: []Entry{}}, nil
	}

	idx := indexOfStation(rec.Entries, stationID)
	if idx < 0 {
		if err := s.touch(ctx, sessionKey); err != nil {
			log.L().Warn().Err(err).Msg("favorites: ttl refresh failed")
		}
		return rec, nil
	}

	rec.Entries = append(rec.Entries[:idx], rec.Entries[idx+1:]...)
	if err := s.save(ctx, sessionKey, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func indexStations(payload model.StationsPayload) map[string]model.Station {
	byID := make(map[string]model.Station, len(payload.Stations))
	for _, st := range payload.Stations {
		byID[st.ID] = st
	}
	return byID
}

func indexOfStation(entries []Entry, stationID string) int {
	for i, e := range entries {
		if e.StationID == stationID {
			return i
		}
	}
	return -1
}

func placeAtSlot(entries []Entry, slot int, e Entry) []Entry {
	out := entries[:0:0]
	for _, existing := range entries {
		if existing.Slot == slot || existing.StationID == e.StationID {
			continue
		}
		out = append(out, existing)
	}
	return append(out, e)
}

func clampSlot(slot int) int {
	if slot < 0 {
		return 0
	}
	if slot > MaxSlots-1 {
		return MaxSlots - 1
	}
	return slot
}

func nextFreeSlot(entries []Entry) int {
	used := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		used[e.Slot] = struct{}{}
	}
	for i := 0; i < MaxSlots; i++ {
		if _, ok := used[i]; !ok {
			return i
		}
	}
	return MaxSlots - 1
}
