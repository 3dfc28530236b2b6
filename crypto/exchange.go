// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/m2m/lib/secret"
)

// exchangeSessionInfo is the fixed HKDF info label for the cross-org
// X25519 key exchange, per the wire contract — not a slash-separated
// hierarchy label like the agent/session derivations, since no org or
// agent context is available at the raw ECDH stage.
const exchangeSessionInfo = "m2m-session-v1"

// PublicKeySize is the size of an X25519 public key.
const PublicKeySize = 32

// GenerateExchangeKeypair produces a fresh X25519 private scalar and its
// corresponding public key. The private scalar is held in a zeroized
// Buffer for the lifetime of the exchange.
func GenerateExchangeKeypair() (private *secret.Buffer, public [PublicKeySize]byte, err error) {
	var scalar [PublicKeySize]byte
	if _, err := rand.Read(scalar[:]); err != nil {
		return nil, public, newError(KindExchange, ReasonExchangeGenerationFailed, err)
	}

	pub, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return nil, public, newError(KindExchange, ReasonExchangeGenerationFailed, err)
	}
	copy(public[:], pub)

	buffer, err := secret.NewFromBytes(scalar[:])
	if err != nil {
		return nil, public, newError(KindExchange, ReasonExchangeGenerationFailed, err)
	}
	return buffer, public, nil
}

// DeriveSharedSessionKey performs the X25519 Diffie-Hellman exchange
// between the local private scalar and a peer's public key, then feeds
// the resulting 32-byte shared secret through HKDF-SHA256 (empty salt,
// info "m2m-session-v1") to produce a 32-byte session key. The
// intermediate shared secret is zeroized before returning.
func DeriveSharedSessionKey(private *secret.Buffer, peerPublic []byte) (*secret.Buffer, error) {
	if len(peerPublic) != PublicKeySize {
		return nil, newError(KindExchange, ReasonExchangeInvalidPublicKey, nil)
	}

	shared, err := curve25519.X25519(private.Bytes(), peerPublic)
	if err != nil {
		return nil, newError(KindExchange, ReasonExchangeInvalidPublicKey, err)
	}
	defer secret.Zero(shared)

	// curve25519.X25519 already rejects known low-order inputs on
	// recent x/crypto releases; check for an all-zero result as a
	// defense against a peer that supplied an otherwise well-formed but
	// degenerate public key.
	var zero [PublicKeySize]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, newError(KindExchange, ReasonExchangeInvalidPublicKey, nil)
	}

	reader := hkdf.New(sha256.New, shared, nil, []byte(exchangeSessionInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, newError(KindExchange, ReasonExchangeGenerationFailed, err)
	}

	sessionKey, err := secret.NewFromBytes(out)
	if err != nil {
		return nil, newError(KindExchange, ReasonExchangeGenerationFailed, err)
	}
	return sessionKey, nil
}
