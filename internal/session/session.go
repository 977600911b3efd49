// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package session implements the gateway's anonymous session and
// stateless CSRF proof. A session anchors rate limiting and cross-site
// request forgery protection; it never identifies a human user.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
)

const secretBootstrapKey = "session:secret"

// Info is the public, client-facing view of a session.
type Info struct {
	ID        string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	CSRFProof string
}

// record is the storage representation. The nonce index stores the same
// shape so a proof-only client can recover session state without the
// session id cookie (see Manager.Validate).
type record struct {
	ID        string    `json:"id"`
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

var (
	// ErrMissingSession is returned when no cookie, proof, or nonce token
	// resolves to a live session.
	ErrMissingSession = errors.New("session: missing or expired session")
	// ErrExpired is returned when a resolved session has passed its TTL.
	ErrExpired = errors.New("session: expired")
	// ErrInvalidProof is returned when a presented CSRF proof fails signature
	// verification.
	ErrInvalidProof = errors.New("session: invalid csrf proof")
	// ErrCSRFMismatch is returned when the CSRF token header does not match
	// the session's nonce.
	ErrCSRFMismatch = errors.New("session: csrf token mismatch")
)

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// bootstrapSecret resolves the HMAC secret. A configured secret of at least
// 32 bytes is used as-is. Otherwise an ephemeral 32-byte secret is
// generated and, when a shared store is available, published via
// set-if-absent so that replicas converge on the same value rather than
// each minting their own (which would make every other replica's proofs
// unverifiable).
func bootstrapSecret(ctx context.Context, store kv.Store, configured string) ([]byte, error) {
	if len(configured) >= 32 {
		return []byte(configured), nil
	}

	logger := log.WithComponent("session")
	logger.Warn().Msg("SESSION_SECRET unset or shorter than 32 bytes; generating an ephemeral secret")

	generated, err := randomHex(32)
	if err != nil {
		return nil, err
	}

	if store == nil {
		return []byte(generated), nil
	}

	ok, err := store.SetNX(ctx, secretBootstrapKey, []byte(generated), 0)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to publish bootstrap secret to shared store; using local ephemeral secret")
		return []byte(generated), nil
	}
	if ok {
		return []byte(generated), nil
	}

	// Another replica already published a secret; adopt it.
	shared, err := store.Get(ctx, secretBootstrapKey)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch shared bootstrap secret; using local ephemeral secret")
		return []byte(generated), nil
	}
	return shared, nil
}

func marshalRecord(r record) ([]byte, error) {
	return json.Marshal(r)
}

func unmarshalRecord(data []byte) (record, error) {
	var r record
	err := json.Unmarshal(data, &r)
	return r, err
}
