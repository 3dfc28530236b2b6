// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bureau-foundation/m2m/lib/secret"
)

// MinKeyLength is the minimum key size accepted by both HMAC-SHA256 and
// ChaCha20-Poly1305 in this protocol.
const MinKeyLength = 32

// NonceSize is the AEAD nonce length used on the wire.
const NonceSize = chacha20poly1305.NonceSize // 12

// TagSize is the AEAD authentication tag length appended by Seal.
const TagSize = chacha20poly1305.Overhead // 16

// HMACSize is the HMAC-SHA256 tag length.
const HMACSize = sha256.Size

// ValidateKey checks that key meets the minimum length required by the
// security layer. ComputeHMAC, VerifyHMAC, SealAEAD and OpenAEAD call it
// before any cryptographic work, so a caller cannot silently seal with a
// degenerate key. There is no separate key-construction step that
// validates earlier: a short key is reported by the seal or verify call
// itself.
func ValidateKey(key *secret.Buffer) error {
	if key.Len() == 0 {
		return newError(KindKey, ReasonKeyEmpty, nil)
	}
	if key.Len() < MinKeyLength {
		return newError(KindKey, ReasonKeyTooShort, nil)
	}
	return nil
}

// NonceSource supplies AEAD nonces. The production implementation reads
// from a cryptographic RNG; a deterministic counter-based source exists
// only in test files so that release builds cannot link against a
// predictable nonce generator.
type NonceSource interface {
	// Generate returns size fresh nonce bytes, or an error if the
	// underlying RNG failed.
	Generate(size int) ([]byte, error)
}

// RandomNonceSource draws nonces from crypto/rand.
type RandomNonceSource struct{}

// Generate implements NonceSource.
func (RandomNonceSource) Generate(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := rand.Read(nonce); err != nil {
		return nil, newError(KindNonce, ReasonNonceRngFailure, err)
	}
	return nonce, nil
}

// ComputeHMAC computes the HMAC-SHA256 tag over fixedHeader ||
// routingHeader || payloadSection, in that order, using key.
func ComputeHMAC(key *secret.Buffer, fixedHeader, routingHeader, payloadSection []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, key.Bytes())
	mac.Write(fixedHeader)
	mac.Write(routingHeader)
	mac.Write(payloadSection)
	return mac.Sum(nil), nil
}

// VerifyHMAC recomputes the HMAC-SHA256 tag and compares it to tag in
// constant time. It returns an identical error regardless of whether
// the payload was corrupted or the wrong key was used, so a caller
// cannot distinguish the two failure modes from the error alone.
func VerifyHMAC(key *secret.Buffer, fixedHeader, routingHeader, payloadSection, tag []byte) error {
	expected, err := ComputeHMAC(key, fixedHeader, routingHeader, payloadSection)
	if err != nil {
		return err
	}
	if len(tag) != len(expected) {
		return newError(KindHmac, ReasonHmacVerificationFailed, nil)
	}
	if !hmac.Equal(expected, tag) {
		return newError(KindHmac, ReasonHmacVerificationFailed, nil)
	}
	return nil
}

// SealAEAD seals plaintext (the assembled payload section) under key,
// using fixedHeader || routingHeader as associated data. It returns a
// fresh 12-byte nonce and the ciphertext with its 16-byte Poly1305 tag
// appended, per the wire layout fixed_header || routing_header ||
// nonce(12) || ciphertext || tag(16).
func SealAEAD(nonceSource NonceSource, key *secret.Buffer, fixedHeader, routingHeader, plaintext []byte) (nonce, sealed []byte, err error) {
	if err := ValidateKey(key); err != nil {
		return nil, nil, err
	}

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, nil, newError(KindAead, ReasonAeadInvalidKey, err)
	}

	nonce, err = nonceSource.Generate(NonceSize)
	if err != nil {
		return nil, nil, err
	}

	associatedData := make([]byte, 0, len(fixedHeader)+len(routingHeader))
	associatedData = append(associatedData, fixedHeader...)
	associatedData = append(associatedData, routingHeader...)

	sealed = aead.Seal(nil, nonce, plaintext, associatedData)
	return nonce, sealed, nil
}

// OpenAEAD reverses SealAEAD: it verifies and decrypts sealed under key,
// nonce, and associated data fixedHeader || routingHeader. A key that
// fails ValidateKey yields a Key error, and a nonce of the wrong size or
// input shorter than the tag yields Aead::DataTooShort. Once
// authentication is attempted, any failure returns a single
// Aead::DecryptionFailed error that does not distinguish a wrong key
// from tampered ciphertext.
func OpenAEAD(key *secret.Buffer, fixedHeader, routingHeader, nonce, sealed []byte) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, newError(KindAead, ReasonAeadDataTooShort, nil)
	}
	if len(sealed) < TagSize {
		return nil, newError(KindAead, ReasonAeadDataTooShort, nil)
	}

	aead, err := chacha20poly1305.New(key.Bytes())
	if err != nil {
		return nil, newError(KindAead, ReasonAeadInvalidKey, err)
	}

	associatedData := make([]byte, 0, len(fixedHeader)+len(routingHeader))
	associatedData = append(associatedData, fixedHeader...)
	associatedData = append(associatedData, routingHeader...)

	plaintext, err := aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, newError(KindAead, ReasonAeadDecryptionFailed, nil)
	}
	return plaintext, nil
}
