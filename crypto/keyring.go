// Copyright 2026 The M2M Authors
// SPDX-License-Identifier: Apache-2.0

package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/crypto/hkdf"

	"github.com/bureau-foundation/m2m/lib/secret"
	"github.com/zeebo/blake3"
)

// MaxDerivedKeyLength is HKDF-SHA256's output ceiling: 255 * hash size.
const MaxDerivedKeyLength = 255 * sha256.Size

// ValidateID checks an Agent or Organization identifier against the
// wire's character-class and length constraints. Validation runs before
// any derivation step that interpolates the id into an HKDF label, since
// an unchecked id could otherwise smuggle a "/" into the label and
// collide with a different derivation path.
func ValidateID(id string) error {
	if len(id) == 0 {
		return newError(KindID, ReasonIDEmpty, nil)
	}
	if len(id) > 128 {
		return newError(KindID, ReasonIDTooLong, nil)
	}
	for _, r := range id {
		if !isIDChar(r) {
			return newError(KindID, ReasonIDInvalidChars, nil)
		}
	}
	return nil
}

func isIDChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= 'a' && r <= 'z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	default:
		return false
	}
}

// deriveHKDF runs HKDF-SHA256 with an empty salt over master and the
// given info label, returning length bytes wrapped in a zeroized Buffer.
func deriveHKDF(master *secret.Buffer, info string, length int) (*secret.Buffer, error) {
	if length <= 0 || length > MaxDerivedKeyLength {
		return nil, newError(KindKeyring, ReasonKeyringDerivationFailed,
			fmt.Errorf("crypto: requested derived key length %d out of range", length))
	}

	reader := hkdf.New(sha256.New, master.Bytes(), nil, []byte(info))
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, newError(KindKeyring, ReasonKeyringDerivationFailed, err)
	}

	buffer, err := secret.NewFromBytes(out)
	if err != nil {
		return nil, newError(KindKeyring, ReasonKeyringDerivationFailed, err)
	}
	return buffer, nil
}

// DeriveAgentKey derives the purpose-agnostic per-agent key under label
// "m2m/v1/<org>/<agent>".
func DeriveAgentKey(master *secret.Buffer, org, agent string, length int) (*secret.Buffer, error) {
	if err := ValidateID(org); err != nil {
		return nil, err
	}
	if err := ValidateID(agent); err != nil {
		return nil, err
	}
	info := fmt.Sprintf("m2m/v1/%s/%s", org, agent)
	return deriveHKDF(master, info, length)
}

// DerivePurposeKey derives a purpose-scoped key under label
// "m2m/v1/<org>/<agent>/<purpose>".
func DerivePurposeKey(master *secret.Buffer, org, agent, purpose string, length int) (*secret.Buffer, error) {
	if err := ValidateID(org); err != nil {
		return nil, err
	}
	if err := ValidateID(agent); err != nil {
		return nil, err
	}
	if purpose == "" {
		return nil, newError(KindID, ReasonIDEmpty, fmt.Errorf("crypto: purpose must not be empty"))
	}
	info := fmt.Sprintf("m2m/v1/%s/%s/%s", org, agent, purpose)
	return deriveHKDF(master, info, length)
}

// DeriveSessionKey derives the symmetric session key shared by two
// agents a and b under label "m2m/v1/<org>/session/<a>:<b>/<sid>". a and
// b are sorted lexicographically before interpolation so both peers
// derive an identical key regardless of which one initiated.
func DeriveSessionKey(master *secret.Buffer, org, a, b, sid string, length int) (*secret.Buffer, error) {
	if err := ValidateID(org); err != nil {
		return nil, err
	}
	if err := ValidateID(a); err != nil {
		return nil, err
	}
	if err := ValidateID(b); err != nil {
		return nil, err
	}
	if sid == "" {
		return nil, newError(KindID, ReasonIDEmpty, fmt.Errorf("crypto: session id must not be empty"))
	}

	pair := []string{a, b}
	sort.Strings(pair)

	info := fmt.Sprintf("m2m/v1/%s/session/%s:%s/%s", org, pair[0], pair[1], sid)
	return deriveHKDF(master, info, length)
}

// Keyring is a caller-owned, keyed mapping from key id to key material.
// Lookups are read-only and safe for concurrent use; mutation (Put,
// Delete) takes an exclusive lock, matching the "updates happen out of
// band" contract: the keyring itself does not refresh or rotate keys.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]*secret.Buffer

	// fingerprintKey scopes KeyID's BLAKE3 hash to this keyring instance
	// so a fingerprint logged by one process cannot be correlated with
	// the same key's fingerprint in another process or keyring.
	fingerprintKey [32]byte
}

// NewKeyring returns an empty keyring with a fresh random fingerprint
// key.
func NewKeyring() (*Keyring, error) {
	k := &Keyring{keys: make(map[string]*secret.Buffer)}
	if _, err := rand.Read(k.fingerprintKey[:]); err != nil {
		return nil, newError(KindNonce, ReasonNonceRngFailure, err)
	}
	return k, nil
}

// Get looks up the key material stored under id.
func (k *Keyring) Get(id string) (*secret.Buffer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	key, ok := k.keys[id]
	if !ok {
		return nil, newError(KindKeyring, ReasonKeyringKeyNotFound, fmt.Errorf("crypto: no key registered for id %q", id))
	}
	return key, nil
}

// Put stores key material under id, taking ownership of buffer. Any
// buffer previously stored under id is closed first.
func (k *Keyring) Put(id string, buffer *secret.Buffer) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.keys[id]; ok {
		existing.Close()
	}
	k.keys[id] = buffer
}

// Delete removes and closes the key material stored under id, if any.
func (k *Keyring) Delete(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.keys[id]; ok {
		existing.Close()
		delete(k.keys, id)
	}
}

// KeyID fingerprints key material for logging: a keyed BLAKE3 hash that
// is stable across calls within this keyring (so log lines can be
// correlated) but reveals nothing about the key to a party without the
// keyring's fingerprint key.
func (k *Keyring) KeyID(key *secret.Buffer) (string, error) {
	hasher, err := blake3.NewKeyed(k.fingerprintKey[:])
	if err != nil {
		return "", newError(KindKeyring, ReasonKeyringDerivationFailed, err)
	}
	if _, err := key.WriteTo(hasher); err != nil {
		return "", newError(KindKeyring, ReasonKeyringDerivationFailed, err)
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16]), nil
}
