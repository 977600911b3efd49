// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const proofVersion = "v1"

// signProof builds the stateless CSRF proof: v1.<base36 exp>.<nonce>.<hmac-hex>.
func signProof(secret []byte, nonce string, expiresAt time.Time) string {
	expStr := strconv.FormatInt(expiresAt.Unix(), 36)
	sig := macFor(secret, nonce, expStr)
	return strings.Join([]string{proofVersion, expStr, nonce, sig}, ".")
}

func macFor(secret []byte, nonce, expStr string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(nonce + ":" + expStr))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifyProof validates a CSRF proof's signature in constant time and
// returns the embedded nonce and expiry on success.
func verifyProof(secret []byte, proof string) (nonce string, expiresAt time.Time, err error) {
	parts := strings.Split(proof, ".")
	if len(parts) != 4 || parts[0] != proofVersion {
		return "", time.Time{}, fmt.Errorf("malformed csrf proof")
	}
	expStr, nonceStr, sig := parts[1], parts[2], parts[3]

	expUnix, err := strconv.ParseInt(expStr, 36, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed csrf proof expiry: %w", err)
	}

	expected := macFor(secret, nonceStr, expStr)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return "", time.Time{}, fmt.Errorf("csrf proof signature mismatch")
	}

	return nonceStr, time.Unix(expUnix, 0), nil
}

// constantTimeEqual compares two tokens without leaking timing information.
func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
