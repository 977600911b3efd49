// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"net/http"
	"time"

	"github.com/airmesh/edge/internal/kv"
	"github.com/airmesh/edge/internal/log"
	"github.com/airmesh/edge/internal/metrics"
)

const (
	headerCSRFToken = "X-Gateway-CSRF"
	headerCSRFProof = "X-Gateway-CSRF-Proof"
	queryCSRFToken  = "csrfToken"
	queryCSRFProof  = "csrfProof"

	sessionKeyPrefix = "session:id:"
	nonceKeyPrefix   = "session:nonce:"
)

// Config configures the session manager.
type Config struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
}

// Manager issues and validates sessions and their CSRF proofs.
type Manager struct {
	store  kv.Store
	secret []byte
	cfg    Config
}

// NewManager resolves the HMAC secret (bootstrapping one if needed) and
// returns a ready-to-use Manager. store may be nil, in which case no
// session survives process restart or is shared across replicas.
func NewManager(ctx context.Context, cfg Config, store kv.Store) (*Manager, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "gateway_session"
	}

	secret, err := bootstrapSecret(ctx, store, cfg.Secret)
	if err != nil {
		return nil, err
	}

	return &Manager{store: store, secret: secret, cfg: cfg}, nil
}

// Issue creates a new session, persists it, and sets the session cookie.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter) (*Info, error) {
	id, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	nonce, err := randomHex(16)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	exp := now.Add(m.cfg.TTL)
	rec := record{ID: id, Nonce: nonce, IssuedAt: now, ExpiresAt: exp}

	if err := m.persist(ctx, rec); err != nil {
		metrics.RecordSessionOutcome("issue", "failure")
		return nil, err
	}
	metrics.RecordSessionOutcome("issue", "success")

	m.setCookie(w, id, exp)

	return &Info{
		ID:        id,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: exp,
		CSRFProof: signProof(m.secret, nonce, exp),
	}, nil
}

func (m *Manager) persist(ctx context.Context, rec record) error {
	if m.store == nil {
		return nil
	}
	data, err := marshalRecord(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if err := m.store.Set(ctx, sessionKeyPrefix+rec.ID, data, ttl); err != nil {
		return err
	}
	return m.store.Set(ctx, nonceKeyPrefix+rec.Nonce, data, ttl)
}

func (m *Manager) setCookie(w http.ResponseWriter, id string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(m.cfg.TTL.Seconds()),
	})
}

// Result is the outcome of validating a request's session and CSRF state.
type Result struct {
	Info       *Info
	StatusCode int // 0 on success
	Err        error
}

// Validate resolves the caller's session (by cookie, by CSRF proof, or by
// nonce index) and, for non-OPTIONS methods, requires a matching CSRF
// token. On success it refreshes the session TTL and re-signs the proof.
func (m *Manager) Validate(ctx context.Context, r *http.Request) Result {
	rec, proofInvalid, err := m.resolveRecord(ctx, r)
	if proofInvalid {
		metrics.RecordSessionOutcome("validate", "invalid_proof")
		return Result{StatusCode: http.StatusForbidden, Err: ErrInvalidProof}
	}
	if err != nil || rec == nil {
		metrics.RecordSessionOutcome("validate", "missing")
		return Result{StatusCode: http.StatusUnauthorized, Err: ErrMissingSession}
	}

	if time.Now().After(rec.ExpiresAt) {
		if m.store != nil {
			_ = m.store.Delete(ctx, nonceKeyPrefix+rec.Nonce)
			_ = m.store.Delete(ctx, sessionKeyPrefix+rec.ID)
		}
		metrics.RecordSessionOutcome("validate", "expired")
		return Result{StatusCode: http.StatusUnauthorized, Err: ErrExpired}
	}

	if r.Method != http.MethodOptions {
		token := r.Header.Get(headerCSRFToken)
		if token == "" {
			token = r.URL.Query().Get(queryCSRFToken)
		}
		if !constantTimeEqual(token, rec.Nonce) {
			metrics.RecordSessionOutcome("validate", "csrf_mismatch")
			return Result{StatusCode: http.StatusForbidden, Err: ErrCSRFMismatch}
		}
	}

	now := time.Now()
	newExp := now.Add(m.cfg.TTL)
	refreshed := record{ID: rec.ID, Nonce: rec.Nonce, IssuedAt: rec.IssuedAt, ExpiresAt: newExp}
	if m.store != nil {
		if err := m.persist(ctx, refreshed); err != nil {
			log.WithComponent("session").Warn().Err(err).Msg("failed to refresh session TTL")
		}
	}

	metrics.RecordSessionOutcome("validate", "success")
	return Result{
		StatusCode: 0,
		Info: &Info{
			ID:        refreshed.ID,
			Nonce:     refreshed.Nonce,
			IssuedAt:  refreshed.IssuedAt,
			ExpiresAt: refreshed.ExpiresAt,
			CSRFProof: signProof(m.secret, refreshed.Nonce, refreshed.ExpiresAt),
		},
	}
}

// resolveRecord tries, in order: session cookie, CSRF proof header/query
// (signature-verified; proofInvalid=true short-circuits to 403 on a
// tampered proof), then CSRF token via the nonce index.
func (m *Manager) resolveRecord(ctx context.Context, r *http.Request) (rec *record, proofInvalid bool, err error) {
	if cookie, cookieErr := r.Cookie(m.cfg.CookieName); cookieErr == nil && cookie.Value != "" {
		if got, getErr := m.loadByKey(ctx, sessionKeyPrefix+cookie.Value); getErr == nil {
			return got, false, nil
		}
	}

	proof := r.Header.Get(headerCSRFProof)
	if proof == "" {
		proof = r.URL.Query().Get(queryCSRFProof)
	}
	if proof != "" {
		nonce, exp, verr := verifyProof(m.secret, proof)
		if verr != nil {
			return nil, true, verr
		}
		return &record{Nonce: nonce, ExpiresAt: exp}, false, nil
	}

	token := r.Header.Get(headerCSRFToken)
	if token == "" {
		token = r.URL.Query().Get(queryCSRFToken)
	}
	if token != "" {
		if got, getErr := m.loadByKey(ctx, nonceKeyPrefix+token); getErr == nil {
			return got, false, nil
		}
	}

	return nil, false, ErrMissingSession
}

func (m *Manager) loadByKey(ctx context.Context, key string) (*record, error) {
	if m.store == nil {
		return nil, ErrMissingSession
	}
	data, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	rec, err := unmarshalRecord(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
