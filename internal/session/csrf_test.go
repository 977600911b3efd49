// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"testing"
	"time"
)

func TestSignAndVerifyProof_RoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	nonce := "deadbeefdeadbeefdeadbeefdeadbeef"
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	proof := signProof(secret, nonce, exp)

	gotNonce, gotExp, err := verifyProof(secret, proof)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotNonce != nonce {
		t.Fatalf("nonce mismatch: got %q want %q", gotNonce, nonce)
	}
	if !gotExp.Equal(exp) {
		t.Fatalf("exp mismatch: got %v want %v", gotExp, exp)
	}
}

func TestVerifyProof_TamperedByteRejected(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	proof := signProof(secret, "deadbeefdeadbeefdeadbeefdeadbeef", time.Now().Add(time.Hour))

	for i := range proof {
		tampered := []byte(proof)
		tampered[i] ^= 0x01
		if _, _, err := verifyProof(secret, string(tampered)); err == nil {
			t.Fatalf("expected tampering at byte %d to be rejected", i)
		}
	}
}

func TestVerifyProof_WrongSecretRejected(t *testing.T) {
	proof := signProof([]byte("0123456789abcdef0123456789abcdef"), "deadbeefdeadbeefdeadbeefdeadbeef", time.Now().Add(time.Hour))
	if _, _, err := verifyProof([]byte("ffffffffffffffffffffffffffffffff"), proof); err == nil {
		t.Fatal("expected wrong secret to be rejected")
	}
}

func TestVerifyProof_MalformedRejected(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	cases := []string{"", "v1.only.two", "v2.x.y.z", "v1.notbase36.nonce.sig"}
	for _, c := range cases {
		if _, _, err := verifyProof(secret, c); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}
