// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package refresh

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/airmesh/edge/internal/radio/model"
	"github.com/google/uuid"
)

// Store is the relational persistence layer for stations payloads. Exactly
// one payload is "current" at a time, tracked by the singleton
// station_state row.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened *sql.DB (see internal/persistence/sqlite.Open)
// and ensures the schema exists.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS station_payloads (
	id TEXT PRIMARY KEY,
	schema_version INTEGER NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	source TEXT NOT NULL,
	requests TEXT NOT NULL,
	total INTEGER NOT NULL,
	fingerprint TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stations (
	id TEXT NOT NULL,
	payload_id TEXT NOT NULL REFERENCES station_payloads(id),
	data TEXT NOT NULL,
	PRIMARY KEY (id, payload_id)
);
CREATE TABLE IF NOT EXISTS station_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload_id TEXT NOT NULL REFERENCES station_payloads(id),
	updated_at TIMESTAMP NOT NULL
);
`)
	if err != nil {
		return fmt.Errorf("refresh: migrate schema: %w", err)
	}
	return nil
}

// CurrentFingerprint returns the fingerprint of the current payload, or ""
// if none has been persisted yet.
func (s *Store) CurrentFingerprint(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT p.fingerprint FROM station_payloads p
JOIN station_state st ON st.payload_id = p.id
WHERE st.id = 1`)
	var fp string
	if err := row.Scan(&fp); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("refresh: read current fingerprint: %w", err)
	}
	return fp, nil
}

// Current loads the full current payload, or ok=false if none exists yet.
func (s *Store) Current(ctx context.Context) (model.StationsPayload, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT p.id, p.schema_version, p.updated_at, p.source, p.requests, p.total, p.fingerprint
FROM station_payloads p
JOIN station_state st ON st.payload_id = p.id
WHERE st.id = 1`)

	var id, source, requestsJSON, fingerprint string
	var schemaVersion, total int
	var updatedAt time.Time
	if err := row.Scan(&id, &schemaVersion, &updatedAt, &source, &requestsJSON, &total, &fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return model.StationsPayload{}, false, nil
		}
		return model.StationsPayload{}, false, fmt.Errorf("refresh: read current payload: %w", err)
	}

	var requests []string
	if err := json.Unmarshal([]byte(requestsJSON), &requests); err != nil {
		return model.StationsPayload{}, false, fmt.Errorf("refresh: decode requests: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM stations WHERE payload_id = ?`, id)
	if err != nil {
		return model.StationsPayload{}, false, fmt.Errorf("refresh: read stations: %w", err)
	}
	defer rows.Close()

	stations := make([]model.Station, 0, total)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return model.StationsPayload{}, false, fmt.Errorf("refresh: scan station: %w", err)
		}
		var st model.Station
		if err := json.Unmarshal([]byte(data), &st); err != nil {
			return model.StationsPayload{}, false, fmt.Errorf("refresh: decode station: %w", err)
		}
		stations = append(stations, st)
	}
	if err := rows.Err(); err != nil {
		return model.StationsPayload{}, false, err
	}

	return model.StationsPayload{
		SchemaVersion: schemaVersion,
		UpdatedAt:     updatedAt,
		Source:        source,
		Requests:      requests,
		Total:         total,
		Fingerprint:   fingerprint,
		Stations:      stations,
	}, true, nil
}

const batchSize = 500

// Swap persists payload as the new current generation inside a single
// transaction: insert payload + stations in batches, point station_state at
// it, delete orphan payload rows. If payload.Fingerprint equals the current
// one, only the updated_at columns of the state row and the current payload
// row are touched and no rows are inserted/deleted.
func (s *Store) Swap(ctx context.Context, payload model.StationsPayload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("refresh: begin swap tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var currentPayloadID string
	var currentFingerprint string
	err = tx.QueryRowContext(ctx, `
SELECT p.id, p.fingerprint FROM station_payloads p
JOIN station_state st ON st.payload_id = p.id
WHERE st.id = 1`).Scan(&currentPayloadID, &currentFingerprint)
	hasCurrent := err == nil
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("refresh: lock current state: %w", err)
	}

	now := time.Now().UTC()
	if hasCurrent && currentFingerprint == payload.Fingerprint {
		if _, err := tx.ExecContext(ctx, `UPDATE station_state SET updated_at = ? WHERE id = 1`, now); err != nil {
			return fmt.Errorf("refresh: touch state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE station_payloads SET updated_at = ? WHERE id = ?`, now, currentPayloadID); err != nil {
			return fmt.Errorf("refresh: touch payload: %w", err)
		}
		return tx.Commit()
	}

	newID := uuid.NewString()
	requestsJSON, err := json.Marshal(payload.Requests)
	if err != nil {
		return fmt.Errorf("refresh: encode requests: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO station_payloads (id, schema_version, updated_at, source, requests, total, fingerprint)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID, payload.SchemaVersion, now, payload.Source, string(requestsJSON), payload.Total, payload.Fingerprint); err != nil {
		return fmt.Errorf("refresh: insert payload: %w", err)
	}

	for start := 0; start < len(payload.Stations); start += batchSize {
		end := start + batchSize
		if end > len(payload.Stations) {
			end = len(payload.Stations)
		}
		if err := insertStationBatch(ctx, tx, newID, payload.Stations[start:end]); err != nil {
			return err
		}
	}

	if hasCurrent {
		if _, err := tx.ExecContext(ctx, `UPDATE station_state SET payload_id = ?, updated_at = ? WHERE id = 1`, newID, now); err != nil {
			return fmt.Errorf("refresh: update state: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM stations WHERE payload_id = ?`, currentPayloadID); err != nil {
			return fmt.Errorf("refresh: delete orphan stations: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM station_payloads WHERE id = ?`, currentPayloadID); err != nil {
			return fmt.Errorf("refresh: delete orphan payload: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `INSERT INTO station_state (id, payload_id, updated_at) VALUES (1, ?, ?)`, newID, now); err != nil {
			return fmt.Errorf("refresh: insert state: %w", err)
		}
	}

	return tx.Commit()
}

func insertStationBatch(ctx context.Context, tx *sql.Tx, payloadID string, stations []model.Station) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO stations (id, payload_id, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("refresh: prepare station insert: %w", err)
	}
	defer stmt.Close()

	for _, st := range stations {
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("refresh: encode station %s: %w", st.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, st.ID, payloadID, string(data)); err != nil {
			return fmt.Errorf("refresh: insert station %s: %w", st.ID, err)
		}
	}
	return nil
}
